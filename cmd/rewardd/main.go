package main

import (
	"log"

	"finova/services/rewardd"
)

func main() {
	if err := rewardd.Main(); err != nil {
		log.Fatalf("rewardd failed: %v", err)
	}
}

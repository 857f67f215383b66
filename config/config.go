// Package config loads network parameter files (TOML) and process
// environment files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"finova/core/params"
)

// EnvKey names the deployment environment variable.
const EnvKey = "FINOVA_ENV"

// LoadParams loads a parameter file. A missing file is created with the
// default parameter set. Unknown keys are rejected.
func LoadParams(path string) (*params.NetworkParameters, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Params{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	p, err := cfg.ToParameters()
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return p, nil
}

// SaveParams writes p to path, creating parent directories as needed.
func SaveParams(path string, p *params.NetworkParameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return persist(path, FromParameters(p))
}

// createDefault creates and saves the default parameter file.
func createDefault(path string) (*params.NetworkParameters, error) {
	p := params.DefaultParameters()
	if err := persist(path, FromParameters(p)); err != nil {
		return nil, err
	}
	return p, nil
}

func persist(path string, cfg *Params) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// LoadEnv loads the given .env files into the process environment. Missing
// files are skipped; variables already set win.
func LoadEnv(paths ...string) error {
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// ReadEnv parses a .env file without touching the process environment.
func ReadEnv(path string) (map[string]string, error) {
	return godotenv.Read(path)
}

// Environment returns FINOVA_ENV, defaulting to "dev".
func Environment() string {
	if env := strings.TrimSpace(os.Getenv(EnvKey)); env != "" {
		return env
	}
	return "dev"
}

// Command finova evaluates the reward engines offline: rates, XP, levels,
// tiers, integrity scores and the published test vectors.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"finova/config"
	"finova/core/params"
)

type rootOptions struct {
	paramsPath string
	format     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "finova",
		Short:        "Inspect and evaluate the Finova reward engines",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.paramsPath, "params", "", "parameter TOML file (defaults when empty)")
	root.PersistentFlags().StringVar(&opts.format, "format", "auto", "output format: auto, json or pretty")

	root.AddCommand(
		newRateCmd(opts),
		newXPCmd(opts),
		newLevelCmd(opts),
		newTierCmd(opts),
		newScoreCmd(opts),
		newVectorsCmd(opts),
		newParamsCmd(opts),
		newExportCmd(opts),
	)
	return root
}

// load returns the parameter snapshot selected by --params.
func (o *rootOptions) load() (*params.NetworkParameters, error) {
	if o.paramsPath == "" {
		return params.DefaultParameters(), nil
	}
	return config.LoadParams(o.paramsPath)
}

// print writes v as JSON. Terminals get indented output unless --format json
// is given.
func (o *rootOptions) print(cmd *cobra.Command, v any) error {
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	switch o.format {
	case "json":
	case "pretty":
		enc.SetIndent("", "  ")
	case "auto":
		if isTerminal(out) {
			enc.SetIndent("", "  ")
		}
	default:
		return fmt.Errorf("unknown format %q", o.format)
	}
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

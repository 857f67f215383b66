package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"finova/config"
	"finova/core/ledger"
	"finova/core/params"
	"finova/core/vectors"
	"finova/services/rewardd/export"
	"finova/storage"
)

func newVectorsCmd(opts *rootOptions) *cobra.Command {
	var (
		file string
		raw  bool
	)
	cmd := &cobra.Command{
		Use:   "vectors",
		Short: "Evaluate the reference test vectors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if raw {
				_, err := cmd.OutOrStdout().Write(vectors.Raw())
				return err
			}
			var (
				set *vectors.Set
				err error
			)
			if file == "" {
				set, err = vectors.Load()
			} else {
				var data []byte
				if data, err = os.ReadFile(file); err == nil {
					set, err = vectors.Parse(data)
				}
			}
			if err != nil {
				return err
			}
			results, err := vectors.Run(cmd.Context(), set)
			if err != nil {
				return err
			}
			type row struct {
				Suite string `json:"suite"`
				Name  string `json:"name"`
				Got   string `json:"got,omitempty"`
				Want  string `json:"want"`
				Error string `json:"error,omitempty"`
			}
			var failures []row
			for _, r := range results {
				if r.Passed() {
					continue
				}
				f := row{Suite: r.Suite, Name: r.Name, Got: r.Got, Want: r.Want}
				if r.Err != nil {
					f.Error = r.Err.Error()
				}
				failures = append(failures, f)
			}
			if err := opts.print(cmd, map[string]any{
				"total":    len(results),
				"passed":   len(results) - len(failures),
				"failures": failures,
			}); err != nil {
				return err
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d of %d vectors failed", len(failures), len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "vector YAML file (embedded set when empty)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the published vector YAML and exit")
	return cmd
}

func newParamsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Show, create or validate parameter files",
	}
	describe := func(cmd *cobra.Command, p *params.NetworkParameters) error {
		fingerprint, err := p.Fingerprint()
		if err != nil {
			return err
		}
		return opts.print(cmd, map[string]any{
			"fingerprint": fingerprint,
			"epoch":       p.Epoch,
			"version":     p.Version,
			"phase":       p.Phase,
			"params":      config.FromParameters(p),
		})
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the active parameters",
			RunE: func(cmd *cobra.Command, _ []string) error {
				p, err := opts.load()
				if err != nil {
					return err
				}
				return describe(cmd, p)
			},
		},
		&cobra.Command{
			Use:   "init <path>",
			Short: "Write the default parameters as TOML",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := os.Stat(args[0]); err == nil {
					return fmt.Errorf("%s already exists", args[0])
				}
				p := params.DefaultParameters()
				if err := config.SaveParams(args[0], p); err != nil {
					return err
				}
				return describe(cmd, p)
			},
		},
		&cobra.Command{
			Use:   "validate <path>",
			Short: "Load and validate a TOML parameter file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := os.Stat(args[0]); err != nil {
					return err
				}
				p, err := config.LoadParams(args[0])
				if err != nil {
					return err
				}
				return describe(cmd, p)
			},
		},
	)
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		backend string
		path    string
		epoch   uint64
		dir     string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one epoch of the reward ledger to parquet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				db  storage.Database
				err error
			)
			switch backend {
			case "leveldb":
				db, err = storage.NewLevelDB(path)
			case "badger":
				db, err = storage.NewBadgerDB(path)
			default:
				return fmt.Errorf("ledger backend %q not supported", backend)
			}
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer db.Close()
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			file, n, err := export.Epoch(ledger.New(db), epoch, dir)
			if err != nil {
				return err
			}
			return opts.print(cmd, map[string]any{"epoch": epoch, "records": n, "path": file})
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "leveldb", "ledger backend: leveldb or badger")
	cmd.Flags().StringVar(&path, "ledger", "./finova-data/ledger", "ledger directory")
	cmd.Flags().Uint64Var(&epoch, "epoch", 0, "epoch to export")
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	_ = cmd.MarkFlagRequired("epoch")
	return cmd
}

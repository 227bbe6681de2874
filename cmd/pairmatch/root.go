package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imaddar/pair-match/internal/config"
)

// app carries what every subcommand shares. cfg and logger are filled in by
// the root command's PersistentPreRunE.
type app struct {
	v   *viper.Viper
	in  io.Reader
	out io.Writer
	err io.Writer

	cfg    config.Config
	logger *slog.Logger
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{v: viper.New(), in: in, out: out, err: errOut}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "pairmatch",
		Short:         "Pair-matching card game engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = config.NewLogger(cfg, a.err)
			return nil
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.err)

	flags := root.PersistentFlags()
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("db-driver", config.DriverMemory, "session ledger backend: memory, postgres or sqlite")
	flags.String("db-url", "", "ledger database DSN or SQLite file path")
	flags.Uint64("mismatch-delay-ms", 1000, "how long a mismatched pair stays face up")
	bindFlags(a.v, root, map[string]string{
		"log-level":         config.KeyLogLevel,
		"log-format":        config.KeyLogFormat,
		"db-driver":         config.KeyDBDriver,
		"db-url":            config.KeyDBURL,
		"mismatch-delay-ms": config.KeyMismatchDelayMS,
	})

	root.AddCommand(
		newPlayCmd(a),
		newSimulateCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
	)

	return root
}

// bindFlags binds persistent flags on cmd to viper keys. A flag only wins
// over the environment when it was set on the command line.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		f := cmd.PersistentFlags().Lookup(flag)
		if f == nil {
			f = cmd.Flags().Lookup(flag)
		}
		if f == nil {
			panic(fmt.Sprintf("unknown flag %q", flag))
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	}
}

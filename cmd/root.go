package cmd

import (
	"context"
	"runtime/pprof"

	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

func Execute(ctx context.Context) error {
	return RootCmd().ExecuteContext(ctx)
}

func RootCmd() *cobra.Command {
	opts := struct {
		Profile bool
		Debug   bool
	}{
		false,
		false,
	}

	rootCmd := &cobra.Command{
		Use:   "wct",
		Short: "Tools for Wii and GameCube code files: static linking, ALF conversion, symbol hashes, address maps",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
					AddSource: false,
					Level:     slog.LevelDebug,
				})))
			}

			if opts.Profile {
				file, err := os.Create("cpu.pprof")
				if err != nil {
					return err
				}

				pprof.StartCPUProfile(file)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Profile {
				pprof.StopCPUProfile()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.Profile, "profile", "p", false, "enable profiling")
	rootCmd.PersistentFlags().BoolVarP(&opts.Debug, "debug", "d", false, "enable debugging")

	rootCmd.AddCommand(linkCmd())
	rootCmd.AddCommand(alfToDolCmd())
	rootCmd.AddCommand(symbolsCmd())
	rootCmd.AddCommand(hashCmd())
	rootCmd.AddCommand(unhashCmd())
	rootCmd.AddCommand(mapAddressCmd())

	return rootCmd
}

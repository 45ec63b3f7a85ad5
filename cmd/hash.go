package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/RoadrunnerWMC/wii-code-tools/pkg/codefile"
)

func hashCmd() *cobra.Command {
	opts := struct {
		Seed string
	}{}

	cmd := &cobra.Command{
		Use:   "hash [STRING]",
		Short: "Hash a string with the symbol-name hash function",
		Long: "Hash a string with the symbol-name hash function. It's a good idea to " +
			"surround it in quotes (preferably single-quotes) so the shell doesn't eat " +
			"special characters. With no string, read lines from stdin.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed := codefile.HashSeed
			if opts.Seed != "" {
				var err error
				if seed, err = parseHex32(opts.Seed); err != nil {
					return err
				}
			}

			if len(args) == 1 {
				fmt.Printf("%08x\n", codefile.HashFrom(seed, args[0]))
				return nil
			}

			fmt.Println("(Use Ctrl+C or Ctrl+D to exit)")
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("> ")
			for scanner.Scan() {
				fmt.Printf("%08x\n", codefile.HashFrom(seed, scanner.Text()))
				fmt.Print("> ")
			}
			fmt.Println()
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "initial hash state to start with (hex, default 1505)")
	return cmd
}

func unhashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unhash HASH SUFFIX",
		Short: "Remove a known suffix from a symbol-name hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseHex32(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%08x\n", codefile.Unhash(h, args[1]))
			return nil
		},
	}
}

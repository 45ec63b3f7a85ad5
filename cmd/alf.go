package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RoadrunnerWMC/wii-code-tools/pkg/codefile"
)

func alfToDolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alf2dol ALF DOL",
		Short: "Convert an ALF executable to a DOL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			alf, err := codefile.ParseALF(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			image, err := codefile.WriteDOL(alf.Sections(), alf.EntryPoint())
			if err != nil {
				return err
			}
			return os.WriteFile(args[1], image, 0644)
		},
	}
}

func symbolsCmd() *cobra.Command {
	opts := struct {
		Output string
		Names  string
	}{}

	cmd := &cobra.Command{
		Use:   "symbols ALF",
		Short: "Export the symbol table of an ALF file",
		Long: "Write one line per symbol: address, size, raw name, display name, and " +
			"whether it's code or data. Hashed names are resolved through the " +
			"known-names file when one is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSymbols(args[0], opts.Output, opts.Names)
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "text file to write output to (default stdout)")
	cmd.Flags().StringVar(&opts.Names, "names", "", "file with one known symbol name per line, used to resolve hashed names")
	return cmd
}

func runSymbols(path, outPath, namesPath string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	alf, err := codefile.ParseALF(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var nr *codefile.NameResolver
	if namesPath != "" {
		if nr, err = loadNames(namesPath); err != nil {
			return err
		}
	}

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	for i := range alf.Sections() {
		for _, sym := range alf.SectionSymbols(i + 1) {
			raw, display := sym.Name, sym.DemangledName
			if nr != nil {
				raw, display = nr.Resolve(raw), nr.Resolve(display)
			}
			kind := "code"
			if sym.IsData {
				kind = "data"
			}
			fmt.Fprintf(w, "0x%08x 0x%08x %s %s %s\n", sym.Addr, sym.Size, raw, display, kind)
		}
	}
	return w.Flush()
}

func loadNames(path string) (*codefile.NameResolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	nr := codefile.NewNameResolver()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		nr.AddName(name)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nr, nil
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RoadrunnerWMC/wii-code-tools/pkg/codefile"
	"github.com/RoadrunnerWMC/wii-code-tools/pkg/linker"
)

type linkOptions struct {
	Rels         []string
	Placements   string
	Format       string
	Output       string
	OnUnresolved string
	OnOutOfRange string
}

func linkCmd() *cobra.Command {
	opts := linkOptions{}

	cmd := &cobra.Command{
		Use:   "link BASE",
		Short: "Statically link relocatable modules into a base executable",
		Long: "Given a base executable (DOL or ALF) and some relocatable modules, " +
			"assign every module section a load address, apply all relocations, " +
			"and write the merged result.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLink(args[0], opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Rels, "rel", nil,
		"relocatable module to link, as PATH or PATH:addr,addr,... with one hex address per non-null section")
	cmd.Flags().StringVar(&opts.Placements, "placements", "",
		"YAML file assigning load addresses per module id")
	cmd.Flags().StringVarP(&opts.Format, "output-format", "f", "",
		"whether to save output as a merged DOL file (dol), or as a folder of bin files (binfolder)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "",
		"the output DOL file, or folder to save bin files to (will be created if nonexistent)")
	cmd.Flags().StringVar(&opts.OnUnresolved, "on-unresolved", "fail",
		"what to do with references to modules that aren't part of the link: fail or poison")
	cmd.Flags().StringVar(&opts.OnOutOfRange, "on-out-of-range", "fail",
		"what to do with relocation values that don't fit their field: fail or truncate")
	_ = cmd.MarkFlagRequired("output-format")

	return cmd
}

// placementFile is the YAML placement configuration: module ids
// mapped to a packing base address or a full per-section address
// list.
type placementFile struct {
	Modules map[uint32]linker.Placement `yaml:"modules"`
}

func runLink(basePath string, opts linkOptions) error {
	raw, err := os.ReadFile(basePath)
	if err != nil {
		return err
	}
	cf, err := codefile.LoadByExtension(basePath, raw)
	if err != nil {
		return err
	}
	prog, ok := cf.(codefile.Program)
	if !ok {
		return fmt.Errorf("%s: the base executable must be a DOL or ALF file", basePath)
	}
	base := linker.BaseModule(moduleName(basePath), prog)

	policy := linker.LinkPolicy{Placements: map[uint32]linker.Placement{}}
	if policy.OnUnresolved, err = parseUnresolvedPolicy(opts.OnUnresolved); err != nil {
		return err
	}
	if policy.OnOutOfRange, err = parseOutOfRangePolicy(opts.OnOutOfRange); err != nil {
		return err
	}
	if opts.Placements != "" {
		raw, err := os.ReadFile(opts.Placements)
		if err != nil {
			return err
		}
		var pf placementFile
		if err := yaml.Unmarshal(raw, &pf); err != nil {
			return fmt.Errorf("%s: %w", opts.Placements, err)
		}
		for id, pl := range pf.Modules {
			policy.Placements[id] = pl
		}
	}

	var extras []*linker.Module
	for _, spec := range opts.Rels {
		path, addrSpec, hasAddrs := strings.Cut(spec, ":")
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := codefile.ParseREL(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		mod := linker.RELModule(moduleName(path), rel)
		extras = append(extras, mod)

		// Addresses given on the command line win over the
		// placements file.
		if hasAddrs && addrSpec != "" {
			addrs, err := parseAddrList(addrSpec)
			if err != nil {
				return fmt.Errorf("%s: %w", spec, err)
			}
			policy.Placements[mod.ID] = linker.Placement{Sections: addrs}
		}
	}

	res, err := linker.Link(base, extras, policy)
	if err != nil {
		return err
	}
	fmt.Print(res.Table())

	switch opts.Format {
	case "dol":
		out := opts.Output
		if out == "" {
			out = replaceExt(basePath, ".linked.dol")
		}
		image, err := res.WriteDOL()
		if err != nil {
			return err
		}
		return os.WriteFile(out, image, 0644)

	case "binfolder":
		out := opts.Output
		if out == "" {
			out = replaceExt(basePath, ".out")
		}
		if err := os.MkdirAll(out, 0755); err != nil {
			return err
		}
		for _, blob := range res.Blobs() {
			if err := os.WriteFile(filepath.Join(out, blob.Filename()), blob.Data, 0644); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown output format %q (want dol or binfolder)", opts.Format)
}

func parseUnresolvedPolicy(s string) (linker.UnresolvedPolicy, error) {
	switch s {
	case "fail":
		return linker.UnresolvedFail, nil
	case "poison":
		return linker.UnresolvedPoison, nil
	}
	return 0, fmt.Errorf("unknown unresolved policy %q (want fail or poison)", s)
}

func parseOutOfRangePolicy(s string) (linker.OutOfRangePolicy, error) {
	switch s {
	case "fail":
		return linker.OutOfRangeFail, nil
	case "truncate":
		return linker.OutOfRangeTruncate, nil
	}
	return 0, fmt.Errorf("unknown out-of-range policy %q (want fail or truncate)", s)
}

// moduleName is the file's base name without its extension.
func moduleName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func parseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("can't read %q as an address", s)
	}
	return uint32(v), nil
}

func parseAddrList(s string) ([]uint32, error) {
	parts := strings.Split(s, ",")
	addrs := make([]uint32, 0, len(parts))
	for _, part := range parts {
		addr, err := parseHex32(part)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

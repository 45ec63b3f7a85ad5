package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RoadrunnerWMC/wii-code-tools/pkg/addrmap"
)

func mapAddressCmd() *cobra.Command {
	opts := struct {
		Errors   string
		Behavior string
	}{}

	cmd := &cobra.Command{
		Use:   "map-address MAP FROM TO ADDRESS",
		Short: "Map an address from one program version to another",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMapAddress(args[0], args[1], args[2], args[3], opts.Errors, opts.Behavior)
		},
	}
	cmd.Flags().StringVar(&opts.Errors, "unmapped-errors", addrmap.VolumeWarning.String(),
		"how loudly to complain about unmapped addresses: error, warning or silent")
	cmd.Flags().StringVar(&opts.Behavior, "unmapped-behavior", addrmap.BehaviorPassthrough.String(),
		"what unmapped addresses turn into: drop, passthrough or prev_range")
	return cmd
}

func runMapAddress(mapPath, fromName, toName, addrStr, volumeStr, behaviorStr string) error {
	var h addrmap.UnmappedHandling
	var err error
	if h.Volume, err = addrmap.ParseVolume(volumeStr); err != nil {
		return err
	}
	if h.Behavior, err = addrmap.ParseBehavior(behaviorStr); err != nil {
		return err
	}

	f, err := os.Open(mapPath)
	if err != nil {
		return err
	}
	defer f.Close()
	mappers, err := addrmap.LoadAddressMap(f)
	if err != nil {
		return err
	}

	from, ok := mappers[fromName]
	if !ok {
		return fmt.Errorf("unknown version %q (available versions: %s)", fromName, strings.Join(versionNames(mappers), ", "))
	}
	to, ok := mappers[toName]
	if !ok {
		return fmt.Errorf("unknown version %q (available versions: %s)", toName, strings.Join(versionNames(mappers), ", "))
	}

	addr, err := parseHex32(addrStr)
	if err != nil {
		return err
	}

	mapped, ok, err := addrmap.MapAddrFromTo(from, to, addr, h)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("The address could not be mapped.")
		return nil
	}
	fmt.Printf("%08X\n", mapped)
	return nil
}

func versionNames(mappers map[string]*addrmap.Mapper) []string {
	names := make([]string, 0, len(mappers))
	for name := range mappers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package addrmap

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/RoadrunnerWMC/wii-code-tools/pkg/log"
)

var (
	commentRe = regexp.MustCompile(`^\s*#`)
	emptyRe   = regexp.MustCompile(`^\s*$`)
	sectionRe = regexp.MustCompile(`^\s*\[([a-zA-Z0-9_.]+)\]$`)
	extendRe  = regexp.MustCompile(`^\s*extend ([a-zA-Z0-9_.]+)\s*(#.*)?$`)
	mappingRe = regexp.MustCompile(`^\s*([a-fA-F0-9]{8})-((?:[a-fA-F0-9]{8})|\*)\s*:\s*([-+])0x([a-fA-F0-9]+)\s*(#.*)?$`)
)

// LoadAddressMap reads the text address map format: a [version]
// header per version, optionally "extend <other>", then inclusive
// ranges like "80004000-80004fff: +0x20" ("*" runs to the end of the
// address space). The identity root "default" is always present.
// Unrecognized lines are logged and skipped.
func LoadAddressMap(r io.Reader) (map[string]*Mapper, error) {
	mappers := map[string]*Mapper{"default": NewMapper("default", nil)}

	var current *Mapper
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if emptyRe.MatchString(line) || commentRe.MatchString(line) {
			continue
		}

		if match := sectionRe.FindStringSubmatch(line); match != nil {
			name := match[1]
			if _, dup := mappers[name]; dup {
				return nil, fmt.Errorf("address map contains duplicate version name %s", name)
			}
			current = NewMapper(name, nil)
			mappers[name] = current
			continue
		}

		if current != nil {
			if match := extendRe.FindStringSubmatch(line); match != nil {
				base, known := mappers[match[1]]
				if !known {
					return nil, fmt.Errorf("version %s extends unknown version %s", current.Name, match[1])
				}
				if current.Base != nil {
					return nil, fmt.Errorf("version %s already extends a version", current.Name)
				}
				current.Base = base
				continue
			}

			if match := mappingRe.FindStringSubmatch(line); match != nil {
				start, _ := strconv.ParseUint(match[1], 16, 32)
				end := uint64(0xFFFFFFFF)
				if match[2] != "*" {
					end, _ = strconv.ParseUint(match[2], 16, 32)
				}
				delta, err := strconv.ParseInt(match[4], 16, 64)
				if err != nil {
					return nil, fmt.Errorf("version %s: delta out of range in %q", current.Name, line)
				}
				if match[3] == "-" {
					delta = -delta
				}
				if err := current.AddMapping(uint32(start), uint32(end), delta); err != nil {
					return nil, fmt.Errorf("version %s: %w", current.Name, err)
				}
				continue
			}
		}

		log.Warnf("unrecognized line in address map: %s", line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return mappers, nil
}

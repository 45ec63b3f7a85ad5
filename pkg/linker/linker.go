// Package linker merges a base executable with relocatable modules
// into one coherent address space: it assigns load addresses to every
// module section, resolves cross-module references, patches them into
// the section bytes, and serializes the merged image.
package linker

import (
	"errors"
	"fmt"

	"github.com/RoadrunnerWMC/wii-code-tools/pkg/codefile"
	"github.com/RoadrunnerWMC/wii-code-tools/pkg/log"
)

// BaseModuleID is the reserved module id for the base executable.
// Relocation records targeting it carry absolute addresses.
const BaseModuleID uint32 = 0

// Section alignment assumed for modules that don't declare one.
const defaultAlign = 4

var (
	// ErrDuplicateModule reports two modules sharing one id.
	ErrDuplicateModule = errors.New("duplicate module id")

	// ErrUnresolvedReference reports a reference whose target module
	// or section has no address in this link.
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrRelocationOutOfRange reports a patch value that doesn't fit
	// the target field's width or alignment.
	ErrRelocationOutOfRange = errors.New("relocation out of range")

	// ErrLayoutConflict reports overlapping section address ranges.
	ErrLayoutConflict = errors.New("layout conflict")
)

// Module is one linking participant. The base module's sections come
// with fixed addresses; relocatable module sections get theirs from
// layout. Null sections are kept so that section indices keep the
// container's numbering.
type Module struct {
	ID       uint32
	Name     string
	Entry    uint32
	Sections []*codefile.Section
	Imports  []codefile.Import
	Align    uint32
	BSSAlign uint32
}

// BaseModule wraps a parsed base executable for linking.
func BaseModule(name string, prog codefile.Program) *Module {
	return &Module{
		ID:       BaseModuleID,
		Name:     name,
		Entry:    prog.EntryPoint(),
		Sections: prog.Sections(),
		Align:    defaultAlign,
		BSSAlign: defaultAlign,
	}
}

// RELModule wraps a parsed relocatable module for linking.
func RELModule(name string, r *codefile.REL) *Module {
	align, bssAlign := r.Align, r.BSSAlign
	if align == 0 {
		align = defaultAlign
	}
	if bssAlign == 0 {
		bssAlign = defaultAlign
	}
	return &Module{
		ID:       r.ID,
		Name:     name,
		Sections: r.Sections(),
		Imports:  r.Imports,
		Align:    align,
		BSSAlign: bssAlign,
	}
}

func cloneModule(m *Module) *Module {
	c := *m
	c.Sections = make([]*codefile.Section, len(m.Sections))
	for i, sec := range m.Sections {
		c.Sections[i] = sec.Clone()
	}
	return &c
}

// UnresolvedPolicy picks what happens when a reference cannot be
// resolved to an address.
type UnresolvedPolicy int

const (
	// UnresolvedFail aborts the link.
	UnresolvedFail UnresolvedPolicy = iota
	// UnresolvedPoison patches the site with PoisonValue and records
	// a warning.
	UnresolvedPoison
)

// OutOfRangePolicy picks what happens when a patch value doesn't fit
// its field. Misaligned branch targets are never truncated: under
// OutOfRangeTruncate they are skipped, with a warning.
type OutOfRangePolicy int

const (
	// OutOfRangeFail aborts the link.
	OutOfRangeFail OutOfRangePolicy = iota
	// OutOfRangeTruncate masks the value into the field and records
	// a warning.
	OutOfRangeTruncate
)

// Placement fixes where a module's sections go. With only Base set,
// sections are packed upward from that address. Sections, when
// non-empty, gives one explicit address per non-null section and
// takes precedence over Base.
type Placement struct {
	Base     uint32   `yaml:"base"`
	Sections []uint32 `yaml:"sections"`
}

// LinkPolicy configures one Link call. The zero value fails on both
// unresolved references and out-of-range values, with every module
// placed automatically.
type LinkPolicy struct {
	OnUnresolved UnresolvedPolicy
	OnOutOfRange OutOfRangePolicy

	// Placements maps module ids to explicit placements. Modules
	// without an entry are packed into the first address gap that
	// fits them.
	Placements map[uint32]Placement
}

// Warning is one recoverable condition the policy allowed the link
// to continue past.
type Warning struct {
	ModuleID uint32
	Message  string
}

func (w Warning) String() string {
	return fmt.Sprintf("module %d: %s", w.ModuleID, w.Message)
}

func warnf(warnings *[]Warning, moduleID uint32, format string, args ...any) {
	w := Warning{ModuleID: moduleID, Message: fmt.Sprintf(format, args...)}
	log.Warnf("module %d: %s", w.ModuleID, w.Message)
	*warnings = append(*warnings, w)
}

// LinkResult is the merged image: every module fully addressed and
// patched, base module first. Input modules are never mutated; the
// result holds its own copies.
type LinkResult struct {
	Modules  []*Module
	Entry    uint32
	Warnings []Warning
}

// Link lays out the relocatable modules around the base executable
// and applies every relocation. On error no result is produced;
// recoverable conditions the policy allows accumulate as warnings
// instead.
func Link(base *Module, extras []*Module, policy LinkPolicy) (*LinkResult, error) {
	if base.ID != BaseModuleID {
		return nil, fmt.Errorf("base module must have id %d, got %d", BaseModuleID, base.ID)
	}
	seen := map[uint32]bool{BaseModuleID: true}
	for _, mod := range extras {
		if seen[mod.ID] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateModule, mod.ID)
		}
		seen[mod.ID] = true
	}

	placed, err := layoutModules(base, extras, policy.Placements)
	if err != nil {
		return nil, err
	}

	idx, err := NewSymbolIndex(placed)
	if err != nil {
		return nil, err
	}

	var warnings []Warning
	for _, mod := range placed[1:] {
		log.Debugf("applying %d import streams for module %d (%s)", len(mod.Imports), mod.ID, mod.Name)
		if err := applyRelocations(mod, idx, policy, &warnings); err != nil {
			return nil, err
		}
	}

	return &LinkResult{Modules: placed, Entry: base.Entry, Warnings: warnings}, nil
}

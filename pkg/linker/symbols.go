package linker

import "fmt"

// SymbolIndex resolves structural (module id, section index, offset)
// references to absolute addresses. There is no name-based resolution
// at the binary level: relocatable modules address each other purely
// through these keys, and the base module contributes only its
// addressable sections.
type SymbolIndex struct {
	modules map[uint32]*Module
}

// NewSymbolIndex indexes the given modules by id.
func NewSymbolIndex(modules []*Module) (*SymbolIndex, error) {
	idx := &SymbolIndex{modules: make(map[uint32]*Module, len(modules))}
	for _, m := range modules {
		if _, dup := idx.modules[m.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateModule, m.ID)
		}
		idx.modules[m.ID] = m
	}
	return idx, nil
}

// Module returns the indexed module with the given id.
func (idx *SymbolIndex) Module(id uint32) (*Module, bool) {
	m, ok := idx.modules[id]
	return m, ok
}

// Resolve turns a structural reference into an absolute address.
// References into the base module are already absolute, so there the
// offset is the address and the section index is ignored. Resolution
// of a relocatable module reference only succeeds once layout has
// assigned the target section a load address.
func (idx *SymbolIndex) Resolve(moduleID uint32, section uint8, offset uint32) (uint32, error) {
	if moduleID == BaseModuleID {
		return offset, nil
	}
	mod, ok := idx.modules[moduleID]
	if !ok {
		return 0, fmt.Errorf("%w: module %d is not part of this link", ErrUnresolvedReference, moduleID)
	}
	if int(section) >= len(mod.Sections) {
		return 0, fmt.Errorf("%w: module %d has no section %d", ErrUnresolvedReference, moduleID, section)
	}
	sec := mod.Sections[section]
	if sec.Addr == 0 {
		return 0, fmt.Errorf("%w: module %d section %d has no load address", ErrUnresolvedReference, moduleID, section)
	}
	return sec.Addr + offset, nil
}

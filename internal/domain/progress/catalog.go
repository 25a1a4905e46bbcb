package progress

import (
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MODULES
// ══════════════════════════════════════════════════════════════════════════════

// ModuleName is the name of a single completable learning unit.
type ModuleName string

// String returns the module name.
func (m ModuleName) String() string {
	return string(m)
}

// Practice lab modules.
const (
	ModuleFaucet  ModuleName = "faucet"
	ModuleSend    ModuleName = "send"
	ModuleReceive ModuleName = "receive"
	ModuleMint    ModuleName = "mint"
	ModuleLaunch  ModuleName = "launch"
)

// Security lab modules.
const (
	ModuleLab1 ModuleName = "lab1"
	ModuleLab2 ModuleName = "lab2"
	ModuleLab3 ModuleName = "lab3"
	ModuleLab4 ModuleName = "lab4"
	ModuleLab5 ModuleName = "lab5"
)

// Theory modules.
const (
	ModuleTheory1 ModuleName = "theory1"
	ModuleTheory2 ModuleName = "theory2"
	ModuleTheory3 ModuleName = "theory3"
	ModuleTheory4 ModuleName = "theory4"
	ModuleTheory5 ModuleName = "theory5"
)

// ══════════════════════════════════════════════════════════════════════════════
// GROUPS
// ══════════════════════════════════════════════════════════════════════════════

// GroupName identifies a named subset of modules.
type GroupName string

// Group names.
const (
	GroupPractice GroupName = "practice"
	GroupSecurity GroupName = "security"
	GroupTheory   GroupName = "theory"
)

// Group is a fixed, non-empty set of modules rendered as one progress bar.
type Group struct {
	Name    GroupName
	Modules []ModuleName
}

// Size returns the number of modules in the group.
func (g Group) Size() int {
	return len(g.Modules)
}

// Contains reports whether the module belongs to the group.
func (g Group) Contains(m ModuleName) bool {
	for _, candidate := range g.Modules {
		if candidate == m {
			return true
		}
	}
	return false
}

// Catalog is the canonical membership of every group.
type Catalog struct {
	groups []Group
	index  map[ModuleName]GroupName
}

// DefaultCatalog is the single declaration of module groups.
var DefaultCatalog = NewCatalog(
	Group{Name: GroupPractice, Modules: []ModuleName{ModuleFaucet, ModuleSend, ModuleReceive, ModuleMint, ModuleLaunch}},
	Group{Name: GroupSecurity, Modules: []ModuleName{ModuleLab1, ModuleLab2, ModuleLab3, ModuleLab4, ModuleLab5}},
	Group{Name: GroupTheory, Modules: []ModuleName{ModuleTheory1, ModuleTheory2, ModuleTheory3, ModuleTheory4, ModuleTheory5}},
)

// NewCatalog builds a catalog. It panics on empty or overlapping groups,
// since group membership is static program data.
func NewCatalog(groups ...Group) *Catalog {
	c := &Catalog{
		groups: make([]Group, 0, len(groups)),
		index:  make(map[ModuleName]GroupName),
	}
	for _, g := range groups {
		if g.Size() == 0 {
			panic("progress: group " + string(g.Name) + " is empty")
		}
		for _, m := range g.Modules {
			if owner, dup := c.index[m]; dup {
				panic("progress: module " + string(m) + " already belongs to " + string(owner))
			}
			c.index[m] = g.Name
		}
		modules := make([]ModuleName, len(g.Modules))
		copy(modules, g.Modules)
		c.groups = append(c.groups, Group{Name: g.Name, Modules: modules})
	}
	return c
}

// Groups returns all groups in declaration order.
func (c *Catalog) Groups() []Group {
	out := make([]Group, len(c.groups))
	copy(out, c.groups)
	return out
}

// Lookup returns the group with the given name.
func (c *Catalog) Lookup(name GroupName) (Group, error) {
	for _, g := range c.groups {
		if g.Name == name {
			return g, nil
		}
	}
	return Group{}, shared.NewDomainError("progress", "Lookup", shared.ErrUnknownGroup, "unknown group "+string(name))
}

// GroupOf returns the group that owns the module.
func (c *Catalog) GroupOf(m ModuleName) (GroupName, bool) {
	g, ok := c.index[m]
	return g, ok
}

// Known reports whether the module exists in the catalog.
func (c *Catalog) Known(m ModuleName) bool {
	_, ok := c.index[m]
	return ok
}

// Modules returns every module in declaration order.
func (c *Catalog) Modules() []ModuleName {
	out := make([]ModuleName, 0, len(c.index))
	for _, g := range c.groups {
		out = append(out, g.Modules...)
	}
	return out
}

// ValidateModule returns ErrUnknownModule for names outside the catalog.
func (c *Catalog) ValidateModule(m ModuleName) error {
	if !c.Known(m) {
		return shared.NewDomainError("progress", "Validate", shared.ErrUnknownModule, "unknown module "+string(m))
	}
	return nil
}

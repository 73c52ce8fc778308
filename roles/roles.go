package roles

// Role is a node in the realm's role graph. A role either belongs to the
// realm (ContainerClientID empty) or to a client (resource roles). Composite
// roles implicitly grant every role listed in CompositeIDs; the graph may be
// cyclic, so traversals must carry a visited set.
type Role struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	ContainerClientID string   `json:"containerClientId,omitempty"` // empty for realm-level roles
	CompositeIDs      []string `json:"compositeIds,omitempty"`
}

// IsRealmRole reports whether the role lives at realm level rather than
// under a client container.
func (r *Role) IsRealmRole() bool {
	return r.ContainerClientID == ""
}

// IsComposite reports whether the role implicitly grants other roles.
func (r *Role) IsComposite() bool {
	return len(r.CompositeIDs) > 0
}

// Group is a node in the group hierarchy. Role mappings attached at any
// level of the parent chain are inherited by members of the group.
type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ParentID string   `json:"parentId,omitempty"` // empty at the root
	RoleIDs  []string `json:"roleIds,omitempty"`
}

// Registry is an id-indexed view of the role and group graphs for a single
// realm. It is a read snapshot: the resolver never mutates it.
type Registry struct {
	roles  map[string]*Role
	groups map[string]*Group
}

func NewRegistry() *Registry {
	return &Registry{
		roles:  make(map[string]*Role),
		groups: make(map[string]*Group),
	}
}

func (reg *Registry) AddRole(role *Role) {
	reg.roles[role.ID] = role
}

func (reg *Registry) AddGroup(group *Group) {
	reg.groups[group.ID] = group
}

// Role returns the role with the given id, or nil when absent.
func (reg *Registry) Role(id string) *Role {
	return reg.roles[id]
}

// Group returns the group with the given id, or nil when absent.
func (reg *Registry) Group(id string) *Group {
	return reg.groups[id]
}

// Composites returns the directly contained roles of a composite role,
// skipping dangling ids.
func (reg *Registry) Composites(role *Role) []*Role {
	composites := make([]*Role, 0, len(role.CompositeIDs))
	for _, id := range role.CompositeIDs {
		if contained := reg.roles[id]; contained != nil {
			composites = append(composites, contained)
		}
	}
	return composites
}

// HasRole reports whether role grants candidate, either directly or through
// its composite closure. The visited set guards against composite cycles.
func (reg *Registry) HasRole(role, candidate *Role) bool {
	if role.ID == candidate.ID {
		return true
	}
	if !role.IsComposite() {
		return false
	}
	visited := map[string]bool{role.ID: true}
	return reg.hasRole(role, candidate, visited)
}

func (reg *Registry) hasRole(role, candidate *Role, visited map[string]bool) bool {
	for _, contained := range reg.Composites(role) {
		if visited[contained.ID] {
			continue
		}
		visited[contained.ID] = true
		if contained.ID == candidate.ID {
			return true
		}
		if contained.IsComposite() && reg.hasRole(contained, candidate, visited) {
			return true
		}
	}
	return false
}

// GroupRoles unions the role mappings of a group and every ancestor up to
// the root. Traversal stops when the parent id is absent or dangling.
func (reg *Registry) GroupRoles(group *Group, mappings map[string]*Role) {
	for _, id := range group.RoleIDs {
		if role := reg.roles[id]; role != nil {
			mappings[role.ID] = role
		}
	}
	if group.ParentID == "" {
		return
	}
	parent := reg.groups[group.ParentID]
	if parent == nil {
		return
	}
	reg.GroupRoles(parent, mappings)
}

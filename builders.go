package guard

// Builders provide a fluent API for creating Roles, Policies and Subjects

// RoleBuilder builds a Role
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder(name string) *RoleBuilder {
	return &RoleBuilder{r: &Role{Name: name, Permissions: []Permission{}}}
}

func (b *RoleBuilder) Permission(resourceType string, action Action) *RoleBuilder {
	b.r.Permissions = append(b.r.Permissions, Permission{ResourceType: resourceType, Action: action})
	return b
}

func (b *RoleBuilder) PermissionPattern(resourceType string, action Action, pattern string) *RoleBuilder {
	b.r.Permissions = append(b.r.Permissions, Permission{ResourceType: resourceType, Action: action, ResourcePattern: pattern})
	return b
}

func (b *RoleBuilder) ConditionalPermission(resourceType string, action Action, conditions map[string]any) *RoleBuilder {
	b.r.Permissions = append(b.r.Permissions, Permission{ResourceType: resourceType, Action: action, Conditions: conditions})
	return b
}

func (b *RoleBuilder) Inherits(parents ...string) *RoleBuilder {
	b.r.Parents = append(b.r.Parents, parents...)
	return b
}

func (b *RoleBuilder) Build() *Role { return b.r }

// PolicyBuilder builds an AttributePolicy
type PolicyBuilder struct {
	p *AttributePolicy
}

func NewPolicyBuilder(id string) *PolicyBuilder {
	return &PolicyBuilder{p: &AttributePolicy{ID: id, Target: map[string]Criterion{}}}
}

func (b *PolicyBuilder) Effect(e Effect) *PolicyBuilder { b.p.Effect = e; return b }
func (b *PolicyBuilder) Permit() *PolicyBuilder         { b.p.Effect = EffectPermit; return b }
func (b *PolicyBuilder) Deny() *PolicyBuilder           { b.p.Effect = EffectDeny; return b }
func (b *PolicyBuilder) Priority(p int) *PolicyBuilder  { b.p.Priority = p; return b }

func (b *PolicyBuilder) TargetEquals(path string, value any) *PolicyBuilder {
	b.p.Target[path] = Criterion{Op: OpEquals, Value: value}
	return b
}

func (b *PolicyBuilder) TargetIn(path string, values ...any) *PolicyBuilder {
	b.p.Target[path] = Criterion{Op: OpIn, Values: values}
	return b
}

func (b *PolicyBuilder) TargetNotIn(path string, values ...any) *PolicyBuilder {
	b.p.Target[path] = Criterion{Op: OpNotIn, Values: values}
	return b
}

func (b *PolicyBuilder) Target(path string, crit Criterion) *PolicyBuilder {
	b.p.Target[path] = crit
	return b
}

func (b *PolicyBuilder) Condition(expr string) *PolicyBuilder { b.p.Condition = expr; return b }
func (b *PolicyBuilder) Disabled() *PolicyBuilder             { b.p.Disabled = true; return b }
func (b *PolicyBuilder) Build() *AttributePolicy              { return b.p }

// SubjectBuilder builds a Subject
type SubjectBuilder struct {
	s *Subject
}

func NewSubjectBuilder(id string) *SubjectBuilder {
	return &SubjectBuilder{s: &Subject{ID: id, Type: "user"}}
}

func (b *SubjectBuilder) Type(t string) *SubjectBuilder { b.s.Type = t; return b }

func (b *SubjectBuilder) Roles(roles ...string) *SubjectBuilder {
	b.s.Roles = append(b.s.Roles, roles...)
	return b
}

func (b *SubjectBuilder) Attr(key string, value any) *SubjectBuilder {
	if b.s.Attrs == nil {
		b.s.Attrs = map[string]any{}
	}
	b.s.Attrs[key] = value
	return b
}

func (b *SubjectBuilder) Build() *Subject { return b.s }

package guard

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// RoleStore manages role persistence
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, name string) error
	GetRole(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
}

// SubjectStore manages subject persistence
type SubjectStore interface {
	CreateSubject(ctx context.Context, s *Subject) error
	UpdateSubject(ctx context.Context, s *Subject) error
	DeleteSubject(ctx context.Context, id string) error
	GetSubject(ctx context.Context, id string) (*Subject, error)
}

// ResourceStore manages resource persistence
type ResourceStore interface {
	CreateResource(ctx context.Context, r *Resource) error
	DeleteResource(ctx context.Context, id string) error
	GetResource(ctx context.Context, id string) (*Resource, error)
}

// PolicyStore manages attribute policy persistence
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p *AttributePolicy) error
	UpdatePolicy(ctx context.Context, p *AttributePolicy) error
	DeletePolicy(ctx context.Context, id string) error
	GetPolicy(ctx context.Context, id string) (*AttributePolicy, error)
	ListPolicies(ctx context.Context) ([]*AttributePolicy, error)
}

// AuditStore persists decision records and answers audit queries.
type AuditStore interface {
	Append(ctx context.Context, rec *AuditRecord) error
	Query(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error)
}

// AuditFilter selects audit records for Query.
type AuditFilter struct {
	SubjectID  string
	ResourceID string
	Action     Action
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// ============================================================================
// IN-MEMORY STORES
// ============================================================================

type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]*Role
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]*Role)}
}

func (s *MemoryRoleStore) CreateRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.CreatedAt = time.Now()
	s.roles[r.Name] = r
	return nil
}

func (s *MemoryRoleStore) DeleteRole(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, name)
	return nil
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[name]
	if !ok {
		return nil, &NotFoundError{Kind: "role", ID: name}
	}
	return r, nil
}

func (s *MemoryRoleStore) ListRoles(ctx context.Context) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	return out, nil
}

type MemorySubjectStore struct {
	mu       sync.RWMutex
	subjects map[string]*Subject
}

func NewMemorySubjectStore() *MemorySubjectStore {
	return &MemorySubjectStore{subjects: make(map[string]*Subject)}
}

func (s *MemorySubjectStore) CreateSubject(ctx context.Context, sub *Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[sub.ID] = sub
	return nil
}

func (s *MemorySubjectStore) UpdateSubject(ctx context.Context, sub *Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects[sub.ID]; !ok {
		return &NotFoundError{Kind: "subject", ID: sub.ID}
	}
	s.subjects[sub.ID] = sub
	return nil
}

func (s *MemorySubjectStore) DeleteSubject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subjects, id)
	return nil
}

func (s *MemorySubjectStore) GetSubject(ctx context.Context, id string) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subjects[id]
	if !ok {
		return nil, &NotFoundError{Kind: "subject", ID: id}
	}
	return sub, nil
}

type MemoryResourceStore struct {
	mu        sync.RWMutex
	resources map[string]*Resource
}

func NewMemoryResourceStore() *MemoryResourceStore {
	return &MemoryResourceStore{resources: make(map[string]*Resource)}
}

func (s *MemoryResourceStore) CreateResource(ctx context.Context, r *Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.ID] = r
	return nil
}

func (s *MemoryResourceStore) DeleteResource(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, id)
	return nil
}

func (s *MemoryResourceStore) GetResource(ctx context.Context, id string) (*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, &NotFoundError{Kind: "resource", ID: id}
	}
	return r, nil
}

type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*AttributePolicy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]*AttributePolicy)}
}

func (s *MemoryPolicyStore) CreatePolicy(ctx context.Context, p *AttributePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.CreatedAt = time.Now()
	s.policies[p.ID] = p
	return nil
}

func (s *MemoryPolicyStore) UpdatePolicy(ctx context.Context, p *AttributePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return &NotFoundError{Kind: "policy", ID: p.ID}
	}
	s.policies[p.ID] = p
	return nil
}

func (s *MemoryPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, id)
	return nil
}

func (s *MemoryPolicyStore) GetPolicy(ctx context.Context, id string) (*AttributePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, &NotFoundError{Kind: "policy", ID: id}
	}
	return p, nil
}

func (s *MemoryPolicyStore) ListPolicies(ctx context.Context) ([]*AttributePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AttributePolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	return out, nil
}

type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []*AuditRecord
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{records: make([]*AuditRecord, 0)}
}

func (s *MemoryAuditStore) Append(ctx context.Context, rec *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryAuditStore) Query(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditRecord, 0)
	for _, rec := range s.records {
		if filter.SubjectID != "" && rec.SubjectID != filter.SubjectID {
			continue
		}
		if filter.ResourceID != "" && rec.ResourceID != filter.ResourceID {
			continue
		}
		if filter.Action != "" && rec.Action != filter.Action {
			continue
		}
		if !filter.StartTime.IsZero() && rec.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && rec.Timestamp.After(filter.EndTime) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

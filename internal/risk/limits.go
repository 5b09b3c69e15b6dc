// Package risk enforces configurable trading limits. The LimitStore holds
// the runtime-mutable limit records, the Gate evaluates order requests
// against them before submission, and the Monitor re-evaluates account and
// position limits on every portfolio refresh, dispatching remediation when
// a limit is breached.
package risk

import (
	"slices"
	"sync"
	"time"

	"callisto/internal/domain"
)

// LimitStore is the in-memory registry of risk limits. Limits are seeded
// from configuration at startup and mutable at runtime; they are never
// deleted automatically.
type LimitStore struct {
	mu       sync.RWMutex
	limits   map[string]*domain.RiskLimit
	sequence []string
}

// NewLimitStore creates an empty limit store.
func NewLimitStore() *LimitStore {
	return &LimitStore{limits: make(map[string]*domain.RiskLimit)}
}

// Seed adds every limit, returning the first error. Intended for startup
// configuration loading.
func (s *LimitStore) Seed(limits []*domain.RiskLimit) error {
	for _, l := range limits {
		if err := s.Add(l); err != nil {
			return err
		}
	}
	return nil
}

// Add registers a new limit. An empty ID is assigned one; a duplicate ID,
// missing type, or non-positive value is rejected.
func (s *LimitStore) Add(l *domain.RiskLimit) error {
	if l == nil {
		return domain.Validationf("limit", "limit is required")
	}
	if l.Type == "" {
		return domain.Validationf("type", "limit type is required")
	}
	if l.Value <= 0 {
		return domain.Validationf("value", "limit value must be positive, got %v", l.Value)
	}
	c := l.Clone()
	if c.ID == "" {
		c.ID = domain.NewID()
	}
	if c.Scope == "" {
		c.Scope = domain.RiskScopeGlobal
	}
	if c.Action == "" {
		c.Action = domain.RiskActionBlockOrder
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.limits[c.ID]; ok {
		return domain.Validationf("id", "limit %s already exists", c.ID)
	}
	s.limits[c.ID] = c
	s.sequence = append(s.sequence, c.ID)
	l.ID = c.ID
	return nil
}

// Update replaces the stored limit with the same ID, preserving its
// creation time and trigger history.
func (s *LimitStore) Update(l *domain.RiskLimit) error {
	if l == nil || l.ID == "" {
		return domain.Validationf("id", "limit id is required")
	}
	if l.Type == "" {
		return domain.Validationf("type", "limit type is required")
	}
	if l.Value <= 0 {
		return domain.Validationf("value", "limit value must be positive, got %v", l.Value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.limits[l.ID]
	if !ok {
		return &domain.NotFoundError{Kind: "risk limit", ID: l.ID}
	}
	c := l.Clone()
	c.CreatedAt = prev.CreatedAt
	c.TriggerCount = prev.TriggerCount
	c.LastTriggeredAt = prev.LastTriggeredAt
	c.UpdatedAt = time.Now()
	s.limits[l.ID] = c
	return nil
}

// Remove deletes a limit.
func (s *LimitStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.limits[id]; !ok {
		return &domain.NotFoundError{Kind: "risk limit", ID: id}
	}
	delete(s.limits, id)
	s.sequence = slices.DeleteFunc(s.sequence, func(x string) bool { return x == id })
	return nil
}

// Enable turns a limit on.
func (s *LimitStore) Enable(id string) error { return s.setEnabled(id, true) }

// Disable turns a limit off without removing it.
func (s *LimitStore) Disable(id string) error { return s.setEnabled(id, false) }

func (s *LimitStore) setEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limits[id]
	if !ok {
		return &domain.NotFoundError{Kind: "risk limit", ID: id}
	}
	if l.Enabled != enabled {
		l.Enabled = enabled
		l.UpdatedAt = time.Now()
	}
	return nil
}

// Get returns a copy of the limit.
func (s *LimitStore) Get(id string) (*domain.RiskLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.limits[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "risk limit", ID: id}
	}
	return l.Clone(), nil
}

// List returns copies of every limit in registration order.
func (s *LimitStore) List() []domain.RiskLimit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RiskLimit, 0, len(s.sequence))
	for _, id := range s.sequence {
		out = append(out, *s.limits[id].Clone())
	}
	return out
}

// applicable returns enabled limits of the given type that cover the
// symbol and strategy: global limits always apply, symbol and strategy
// scoped limits apply when their filter covers the order.
func (s *LimitStore) applicable(t domain.RiskLimitType, symbol, strategyID string) []domain.RiskLimit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RiskLimit
	for _, id := range s.sequence {
		l := s.limits[id]
		if l.Type != t || !l.Enabled {
			continue
		}
		switch l.Scope {
		case domain.RiskScopeGlobal:
			out = append(out, *l.Clone())
		case domain.RiskScopeSymbol:
			if l.AppliesToSymbol(symbol) {
				out = append(out, *l.Clone())
			}
		case domain.RiskScopeStrategy:
			if l.AppliesToStrategy(strategyID) {
				out = append(out, *l.Clone())
			}
		}
	}
	return out
}

// enabledByScope returns enabled limits with the given scope in
// registration order. The monitor walks these on every refresh.
func (s *LimitStore) enabledByScope(scope domain.RiskScope) []domain.RiskLimit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RiskLimit
	for _, id := range s.sequence {
		l := s.limits[id]
		if l.Enabled && l.Scope == scope {
			out = append(out, *l.Clone())
		}
	}
	return out
}

// markTriggered records a breach on the stored limit.
func (s *LimitStore) markTriggered(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limits[id]; ok {
		l.TriggerCount++
		l.LastTriggeredAt = &at
		l.UpdatedAt = at
	}
}

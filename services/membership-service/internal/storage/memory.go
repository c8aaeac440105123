package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/localbiz/membership/services/membership-service/internal/outbox"
)

// MemoryStore mirrors Repository in process memory. It backs
// STORE_DRIVER=memory and the service tests.
type MemoryStore struct {
	mu         sync.Mutex
	requests   map[string]MembershipRequest
	plans      map[string]Plan
	businesses map[string]Business
	events     []outbox.Event
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:   map[string]MembershipRequest{},
		plans:      map[string]Plan{},
		businesses: map[string]Business{},
		now:        time.Now,
	}
}

func (s *MemoryStore) PutRequest(req MembershipRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Status == "" {
		req.Status = StatusPending
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = s.now()
	}
	s.requests[req.ID] = req
}

func (s *MemoryStore) PutPlan(p Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p
}

func (s *MemoryStore) DeletePlan(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, id)
}

func (s *MemoryStore) PutBusiness(b Business) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = s.now()
	}
	s.businesses[b.ID] = b
}

// Events returns a copy of the outbox events recorded so far.
func (s *MemoryStore) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.events...)
}

func (s *MemoryStore) FindRequest(ctx context.Context, id string) (MembershipRequest, error) {
	if err := ctx.Err(); err != nil {
		return MembershipRequest{}, classify("find request", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return MembershipRequest{}, ErrNotFound
	}
	return req, nil
}

func (s *MemoryStore) UpdateRequest(ctx context.Context, id string, upd RequestUpdate) error {
	if err := ctx.Err(); err != nil {
		return classify("update request", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = upd.Status
	if upd.TransactionID != "" {
		req.TransactionID = upd.TransactionID
	}
	if upd.PaymentMethod != "" {
		req.PaymentMethod = upd.PaymentMethod
	}
	req.UpdatedAt = s.now()
	s.requests[id] = req
	return nil
}

func (s *MemoryStore) FindPlan(ctx context.Context, id string) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, classify("find plan", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return Plan{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) FindBusiness(ctx context.Context, id string) (Business, error) {
	if err := ctx.Err(); err != nil {
		return Business{}, classify("find business", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.businesses[id]
	if !ok {
		return Business{}, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) UpdateBusinessLevel(ctx context.Context, businessID, membershipID string, level int) (LevelChange, error) {
	if err := ctx.Err(); err != nil {
		return LevelChange{}, classify("update business", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.businesses[businessID]
	if !ok {
		return LevelChange{}, ErrNotFound
	}
	change := LevelChange{
		PreviousMembershipID: b.MembershipID,
		PreviousLevel:        b.Level,
		Changed:              b.MembershipID != membershipID || b.Level != level,
	}
	now := s.now()
	if change.Changed {
		evt, err := outbox.BusinessActivated(businessID, membershipID, level, b.MembershipID, b.Level, now)
		if err != nil {
			return LevelChange{}, err
		}
		evt.EventID = uuid.NewString()
		s.events = append(s.events, evt)
	}
	b.MembershipID = membershipID
	b.Level = level
	b.UpdatedAt = now
	s.businesses[businessID] = b
	return change, nil
}

func (s *MemoryStore) ListUnsyncedActivations(ctx context.Context, limit int) ([]PendingActivation, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("list unsynced activations", err)
	}
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := map[string]MembershipRequest{}
	for _, req := range s.requests {
		if req.BusinessID == "" {
			continue
		}
		cur, ok := latest[req.BusinessID]
		if !ok || req.UpdatedAt.After(cur.UpdatedAt) ||
			(req.UpdatedAt.Equal(cur.UpdatedAt) && req.ID > cur.ID) {
			latest[req.BusinessID] = req
		}
	}

	var out []PendingActivation
	for businessID, req := range latest {
		if req.Status != StatusCompleted {
			continue
		}
		plan, ok := s.plans[req.PlanID]
		if !ok {
			continue
		}
		b, ok := s.businesses[businessID]
		if !ok {
			continue
		}
		if b.MembershipID == plan.ID && b.Level == plan.Level {
			continue
		}
		out = append(out, PendingActivation{RequestID: req.ID, BusinessID: businessID, PlanID: plan.ID, Level: plan.Level})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessID < out[j].BusinessID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

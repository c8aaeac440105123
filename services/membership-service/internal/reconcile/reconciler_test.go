package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/localbiz/membership/services/membership-service/internal/membership"
	"github.com/localbiz/membership/services/membership-service/internal/plans"
	"github.com/localbiz/membership/services/membership-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func seededStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	s := storage.NewMemoryStore()
	s.PutPlan(storage.Plan{ID: "p1", Level: 2})
	s.PutBusiness(storage.Business{ID: "b1"})
	s.PutBusiness(storage.Business{ID: "b2", MembershipID: "p1", Level: 2})
	s.PutRequest(storage.MembershipRequest{ID: "r1", Status: storage.StatusCompleted, PlanID: "p1", BusinessID: "b1"})
	s.PutRequest(storage.MembershipRequest{ID: "r2", Status: storage.StatusCompleted, PlanID: "p1", BusinessID: "b2"})
	return s
}

func TestReconcileOnceRepairsBusiness(t *testing.T) {
	store := seededStore(t)
	svc := membership.NewService(store, plans.NewResolver(store), discardLogger, nil, membership.Config{})
	r := New(store, svc, nil, discardLogger, nil, Config{})

	assert.Equal(t, 1, r.ReconcileOnce(context.Background()))

	b, err := store.FindBusiness(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "p1", b.MembershipID)
	assert.Equal(t, 2, b.Level)

	// Nothing left to do.
	assert.Equal(t, 0, r.ReconcileOnce(context.Background()))
	assert.Len(t, store.Events(), 1)
}

type failingSource struct{}

func (failingSource) ListUnsyncedActivations(context.Context, int) ([]storage.PendingActivation, error) {
	return nil, storage.ErrUnavailable
}

type stubActivator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *stubActivator) Activate(context.Context, storage.PendingActivation) (membership.Activation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return membership.Activation{}, a.err
}

func TestReconcileOnceToleratesFailures(t *testing.T) {
	act := &stubActivator{}
	r := New(failingSource{}, act, nil, discardLogger, nil, Config{})
	assert.Equal(t, 0, r.ReconcileOnce(context.Background()))
	assert.Zero(t, act.calls)

	store := seededStore(t)
	store.PutBusiness(storage.Business{ID: "b2"})
	act = &stubActivator{err: plans.ErrPlanNotFound}
	r = New(store, act, nil, discardLogger, nil, Config{})
	assert.Equal(t, 0, r.ReconcileOnce(context.Background()))
	assert.Equal(t, 2, act.calls, "one failure does not stop the batch")
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, "plan_not_found", outcomeFor(plans.ErrPlanNotFound))
	assert.Equal(t, "business_not_found", outcomeFor(storage.ErrNotFound))
	assert.Equal(t, "failed", outcomeFor(errors.New("boom")))
}

type fakeLocker struct {
	mu       sync.Mutex
	free     bool
	attempts int
	released bool
}

func (l *fakeLocker) TryAcquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	return l.free, nil
}

func (l *fakeLocker) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

func (l *fakeLocker) snapshot() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts, l.released
}

func TestRunWaitsForLock(t *testing.T) {
	store := seededStore(t)
	act := &stubActivator{}
	locker := &fakeLocker{}
	r := New(store, act, locker, discardLogger, nil, Config{Interval: time.Hour})
	r.lockWait = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		attempts, _ := locker.snapshot()
		return attempts >= 3
	}, time.Second, 5*time.Millisecond)
	act.mu.Lock()
	assert.Zero(t, act.calls, "no work without the lock")
	act.mu.Unlock()

	locker.mu.Lock()
	locker.free = true
	locker.mu.Unlock()

	require.Eventually(t, func() bool {
		act.mu.Lock()
		defer act.mu.Unlock()
		return act.calls > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	_, released := locker.snapshot()
	assert.True(t, released)
}

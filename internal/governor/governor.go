// Package governor enforces the device's resource exclusivity: at most one
// local inference call and one external-agent process at any instant. The
// two lease kinds are independent of each other.
package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// LeaseKind names one of the two exclusive resource slots.
type LeaseKind string

const (
	// LeaseInference guards the local language-model call.
	LeaseInference LeaseKind = "inference"

	// LeaseExternalAgent guards the spawned external-agent process.
	LeaseExternalAgent LeaseKind = "external-agent"
)

// Lease records a held slot for observability.
type Lease struct {
	ID         string    `json:"id"`
	Kind       LeaseKind `json:"kind"`
	TaskID     int64     `json:"task_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ResourceTimeout reports that the context ended while waiting for a slot.
type ResourceTimeout struct {
	Kind LeaseKind
}

func (e *ResourceTimeout) Error() string {
	return fmt.Sprintf("timed out waiting for %s lease", e.Kind)
}

// Governor owns the two one-slot leases.
type Governor struct {
	inference *semaphore.Weighted
	external  *semaphore.Weighted

	mu     sync.Mutex
	active map[LeaseKind]Lease

	log *zap.Logger
}

// New creates a Governor with both slots free.
func New(log *zap.Logger) *Governor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Governor{
		inference: semaphore.NewWeighted(1),
		external:  semaphore.NewWeighted(1),
		active:    make(map[LeaseKind]Lease),
		log:       log,
	}
}

// Acquire blocks until the kind's slot is free, then returns a release
// function. Release is idempotent and must be called on every exit path;
// prefer With for scoped use. A context that ends while waiting surfaces
// as ResourceTimeout.
func (g *Governor) Acquire(ctx context.Context, kind LeaseKind, taskID int64) (func(), error) {
	sem := g.sem(kind)
	waitStart := time.Now()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, &ResourceTimeout{Kind: kind}
	}

	lease := Lease{
		ID:         uuid.NewString(),
		Kind:       kind,
		TaskID:     taskID,
		AcquiredAt: time.Now(),
	}
	g.mu.Lock()
	g.active[kind] = lease
	g.mu.Unlock()

	g.log.Debug("lease acquired",
		zap.String("kind", string(kind)),
		zap.Int64("task", taskID),
		zap.Duration("waited", time.Since(waitStart)))

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, kind)
			g.mu.Unlock()
			sem.Release(1)
			g.log.Debug("lease released",
				zap.String("kind", string(kind)),
				zap.Int64("task", taskID),
				zap.Duration("held", time.Since(lease.AcquiredAt)))
		})
	}
	return release, nil
}

// With runs fn while holding the kind's lease. The lease is released on
// success, error, and panic alike.
func (g *Governor) With(ctx context.Context, kind LeaseKind, taskID int64, fn func(ctx context.Context) error) error {
	release, err := g.Acquire(ctx, kind, taskID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Active returns a snapshot of currently held leases.
func (g *Governor) Active() []Lease {
	g.mu.Lock()
	defer g.mu.Unlock()

	leases := make([]Lease, 0, len(g.active))
	for _, l := range g.active {
		leases = append(leases, l)
	}
	return leases
}

func (g *Governor) sem(kind LeaseKind) *semaphore.Weighted {
	if kind == LeaseExternalAgent {
		return g.external
	}
	return g.inference
}

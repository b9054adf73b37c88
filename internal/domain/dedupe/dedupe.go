// Package dedupe defines the in-flight registry that enforces at most one
// running computation per request fingerprint.
package dedupe

import (
	"context"
	"sync"
)

// Registry maps a fingerprint to the task currently computing it. Claims
// never expire on their own; they end with Release, either by the owner on
// its terminal write or by whoever proves the owner stale.
type Registry interface {
	// Claim atomically records taskID as the owner of fp unless another task
	// already holds it. It returns the owner after the call and whether this
	// call made the claim.
	Claim(ctx context.Context, fp, taskID string) (owner string, claimed bool, err error)

	// Owner returns the task holding fp, if any.
	Owner(ctx context.Context, fp string) (string, bool, error)

	// Release removes the claim on fp only if taskID still holds it, so a
	// late release can never drop a newer owner.
	Release(ctx context.Context, fp, taskID string) error

	// Size returns the number of live claims.
	Size(ctx context.Context) (int64, error)
}

// inMemoryRegistry implements Registry with a mutex-guarded map of
// fingerprint to owning task id.
type inMemoryRegistry struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewInMemoryRegistry creates an in-process registry.
func NewInMemoryRegistry() Registry {
	return &inMemoryRegistry{owners: make(map[string]string)}
}

func (r *inMemoryRegistry) Claim(_ context.Context, fp, taskID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[fp]; ok {
		return owner, owner == taskID, nil
	}
	r.owners[fp] = taskID
	return taskID, true, nil
}

func (r *inMemoryRegistry) Owner(_ context.Context, fp string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[fp]
	return owner, ok, nil
}

func (r *inMemoryRegistry) Release(_ context.Context, fp, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[fp]; ok && owner == taskID {
		delete(r.owners, fp)
	}
	return nil
}

func (r *inMemoryRegistry) Size(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return int64(len(r.owners)), nil
}

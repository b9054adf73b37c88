package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/startsit/internal/domain/model"
)

type taskEntry struct {
	task      model.Task
	expiresAt time.Time
}

// MemoryStore implements Store in process memory. Expired entries are
// invisible to reads immediately and reclaimed by Evict.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]taskEntry
	byTask  map[string]model.StoredResult
	byFP    map[string]model.StoredResult
	cancels map[string]time.Time
	cfg     settings
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]taskEntry),
		byTask:  make(map[string]model.StoredResult),
		byFP:    make(map[string]model.StoredResult),
		cancels: make(map[string]time.Time),
		cfg:     newSettings(opts),
	}
}

func (s *MemoryStore) CreateTask(_ context.Context, t model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.now()
	if e, ok := s.tasks[t.ID]; ok && now.Before(e.expiresAt) {
		return ErrExists
	}
	s.tasks[t.ID] = taskEntry{task: t, expiresAt: now.Add(s.cfg.retention)}
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tasks[id]
	if !ok || !s.cfg.now().Before(e.expiresAt) {
		return model.Task{}, ErrNotFound
	}
	return e.task, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, t model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.now()
	e, ok := s.tasks[t.ID]
	if !ok || !now.Before(e.expiresAt) {
		return ErrNotFound
	}
	if err := checkTransition(e.task.State, t.State); err != nil {
		return err
	}
	s.tasks[t.ID] = taskEntry{task: t, expiresAt: now.Add(s.cfg.retention)}
	return nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, id)
	delete(s.cancels, id)
	return nil
}

func (s *MemoryStore) CompleteTask(_ context.Context, t model.Task, result *model.Result, ttl time.Duration) (bool, error) {
	if err := validateCompletion(t, result); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.now()
	e, ok := s.tasks[t.ID]
	if !ok || !now.Before(e.expiresAt) {
		return false, ErrNotFound
	}
	if e.task.State.IsTerminal() {
		return false, nil
	}
	s.tasks[t.ID] = taskEntry{task: t, expiresAt: now.Add(s.cfg.retention)}
	if result != nil {
		sr := storedResult(t, *result, now, ttl)
		s.byTask[t.ID] = sr
		s.byFP[t.Fingerprint] = sr
	}
	return true, nil
}

func (s *MemoryStore) lookup(index map[string]model.StoredResult, key string) (model.StoredResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := index[key]
	if !ok || !r.Fresh(s.cfg.now()) {
		return model.StoredResult{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ResultByTask(_ context.Context, id string) (model.StoredResult, error) {
	return s.lookup(s.byTask, id)
}

func (s *MemoryStore) ResultByFingerprint(_ context.Context, fp string) (model.StoredResult, error) {
	return s.lookup(s.byFP, fp)
}

func (s *MemoryStore) RequestCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancels[id] = s.cfg.now().Add(s.cfg.retention)
	return nil
}

func (s *MemoryStore) CancelRequested(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.cancels[id]
	return ok && s.cfg.now().Before(exp), nil
}

// Evict removes expired tasks, results and cancel flags and returns how many
// entries were dropped.
func (s *MemoryStore) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.now()
	n := 0
	for id, e := range s.tasks {
		if !now.Before(e.expiresAt) {
			delete(s.tasks, id)
			n++
		}
	}
	for id, r := range s.byTask {
		if !r.Fresh(now) {
			delete(s.byTask, id)
			n++
		}
	}
	for fp, r := range s.byFP {
		if !r.Fresh(now) {
			delete(s.byFP, fp)
			n++
		}
	}
	for id, exp := range s.cancels {
		if !now.Before(exp) {
			delete(s.cancels, id)
			n++
		}
	}
	return n
}

// EvictLoop calls Evict every interval until ctx is done.
func (s *MemoryStore) EvictLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultEvictEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evict()
		}
	}
}

// Counts returns the number of live tasks and cached results.
func (s *MemoryStore) Counts() (tasks, results int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.cfg.now()
	for _, e := range s.tasks {
		if now.Before(e.expiresAt) {
			tasks++
		}
	}
	for _, r := range s.byFP {
		if r.Fresh(now) {
			results++
		}
	}
	return tasks, results
}

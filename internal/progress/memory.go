package progress

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	job     Job
	expires time.Time
}

// MemoryStore keeps jobs in process memory. Suitable for a single node.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*memoryEntry
	now  func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*memoryEntry),
		now:  time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, job Job, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.jobs[job.ID]; ok && s.now().Before(e.expires) {
		return fmt.Errorf("create job %s: already exists", job.ID)
	}

	now := s.now().UTC()
	job = job.Clone()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Recompute()
	s.jobs[job.ID] = &memoryEntry{job: job, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(id)
	if err != nil {
		return Job{}, err
	}
	return e.job.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, ttl time.Duration, fn func(*Job) error) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(id)
	if err != nil {
		return Job{}, err
	}

	job := e.job.Clone()
	if err := fn(&job); err != nil {
		return e.job.Clone(), err
	}
	s.store(e, job, ttl)
	return job.Clone(), nil
}

func (s *MemoryStore) Increment(_ context.Context, id string, ttl time.Duration, d Delta, tail int) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(id)
	if err != nil {
		return Job{}, err
	}

	job := e.job.Clone()
	d.Apply(&job, tail)
	s.store(e, job, ttl)
	return job.Clone(), nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, e := range s.jobs {
		if !now.Before(e.expires) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// lookup must be called with mu held.
func (s *MemoryStore) lookup(id string) (*memoryEntry, error) {
	e, ok := s.jobs[id]
	if !ok || !s.now().Before(e.expires) {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) store(e *memoryEntry, job Job, ttl time.Duration) {
	now := s.now().UTC()
	job.UpdatedAt = now
	job.Recompute()
	e.job = job
	e.expires = now.Add(ttl)
}

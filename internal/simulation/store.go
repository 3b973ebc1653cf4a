package simulation

import (
	"simcontroller/internal/apperrors"
	"slices"
	"sync"
)

// jobStore maps job IDs to jobs with thread-safe access.
// It preserves creation order so listings are deterministic.
type jobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
}

func newJobStore() *jobStore {
	return &jobStore{
		jobs: make(map[string]*Job),
	}
}

// reserve claims an ID slot. The slot holds nil until commit, so a job whose
// inputs are still being prepared is invisible to lookups and listings.
func (s *jobStore) reserve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return apperrors.Conflict("simulation", id, "simulation id already in use")
	}
	s.jobs[id] = nil
	return nil
}

// commit fills a reserved slot and appends it to the listing order.
func (s *jobStore) commit(id string, j *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = j
	s.order = append(s.order, id)
}

// release drops a slot, reserved or committed.
func (s *jobStore) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(id)
}

func (s *jobStore) releaseLocked(id string) {
	if j, exists := s.jobs[id]; exists {
		delete(s.jobs, id)
		if j != nil {
			s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
		}
	}
}

// get returns a committed job.
func (s *jobStore) get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j := s.jobs[id]
	return j, j != nil
}

// snapshot returns committed jobs in creation order.
func (s *jobStore) snapshot() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id])
	}
	return out
}

// remove runs fn with the store write-locked and drops id if fn succeeds.
// Deleting the working directory and the entry is therefore a single step
// from the point of view of every other store operation.
func (s *jobStore) remove(id string, fn func(*Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.jobs[id]
	if j == nil {
		return apperrors.NotFound("simulation", id)
	}
	if err := fn(j); err != nil {
		return err
	}
	s.releaseLocked(id)
	return nil
}

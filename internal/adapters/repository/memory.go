package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

// MemoryStore keeps issues in a map. It is the default store and the one
// tests run against.
type MemoryStore struct {
	mu     sync.RWMutex
	issues map[string]*model.Issue
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{issues: make(map[string]*model.Issue)}
}

func (s *MemoryStore) Create(_ context.Context, issue model.Issue) error {
	defer observe("memory", "create", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[issue.ID]; ok {
		return ErrExists
	}
	c := issue.Clone()
	s.issues[issue.ID] = &c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	is, ok := s.issues[id]
	if !ok {
		return model.Issue{}, ErrNotFound
	}
	return is.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*model.Issue) error) (model.Issue, error) {
	defer observe("memory", "update", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.issues[id]
	if !ok {
		return model.Issue{}, ErrNotFound
	}
	next := is.Clone()
	if err := fn(&next); err != nil {
		return model.Issue{}, err
	}
	next.ID = id
	s.issues[id] = &next
	return next.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.Issue, error) {
	s.mu.RLock()
	out := make([]model.Issue, 0, len(s.issues))
	for _, is := range s.issues {
		out = append(out, is.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	open := 0
	for _, is := range s.issues {
		if is.Open() {
			open++
		}
	}
	return len(s.issues), open, nil
}

func (s *MemoryStore) Close() error { return nil }

func observe(store, op string, start time.Time) {
	metrics.RecordStoreLatency(store, op, float64(time.Since(start).Milliseconds()))
}

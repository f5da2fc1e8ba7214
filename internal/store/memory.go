package store

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory store with the same contract as PostgresStore,
// including single-record atomicity and the guest display-name uniqueness
// guarantee. Used by tests and by single-process deployments without a
// database.
type MemStore struct {
	mu       sync.Mutex
	requests map[string]Request
	// handles tracks every guest display name ever inserted; uniqueness is
	// across all time, so deletes do not remove entries.
	handles map[string]struct{}
	seq     uint64
}

func NewMemStore() *MemStore {
	return &MemStore{
		requests: make(map[string]Request),
		handles:  make(map[string]struct{}),
	}
}

func (s *MemStore) NextAnonymousSeq(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *MemStore) InsertRequest(ctx context.Context, item Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.OwnerID == "" {
		if _, taken := s.handles[item.DisplayName]; taken {
			return ErrDuplicateHandle
		}
		s.handles[item.DisplayName] = struct{}{}
	}
	s.requests[item.ID] = item
	return nil
}

func (s *MemStore) GetRequest(ctx context.Context, requestID string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.requests[requestID]
	if !ok {
		return Request{}, sql.ErrNoRows
	}
	return item, nil
}

func (s *MemStore) ListRequests(ctx context.Context) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Request, 0, len(s.requests))
	for _, item := range s.requests {
		items = append(items, item)
	}
	sortRequests(items)
	return items, nil
}

func (s *MemStore) ListRequestsByOwner(ctx context.Context, ownerID string) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Request, 0)
	for _, item := range s.requests {
		if item.OwnerID == ownerID {
			items = append(items, item)
		}
	}
	sortRequests(items)
	return items, nil
}

func sortRequests(items []Request) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].SubmittedAt.Equal(items[j].SubmittedAt) {
			return items[i].SubmittedAt.After(items[j].SubmittedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func (s *MemStore) SetStatus(ctx context.Context, requestID, status string) (bool, error) {
	return s.setField(requestID, func(item *Request) { item.Status = status })
}

func (s *MemStore) SetPriority(ctx context.Context, requestID, priority string) (bool, error) {
	return s.setField(requestID, func(item *Request) { item.Priority = priority })
}

func (s *MemStore) SetAdminNotes(ctx context.Context, requestID, notes string) (bool, error) {
	return s.setField(requestID, func(item *Request) { item.AdminNotes = notes })
}

func (s *MemStore) setField(requestID string, apply func(*Request)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.requests[requestID]
	if !ok {
		return false, nil
	}
	apply(&item)
	item.UpdatedAt = nowAfter(item.UpdatedAt)
	s.requests[requestID] = item
	return true, nil
}

// nowAfter keeps updated_at strictly advancing even when the clock has not
// ticked between two mutations of the same record.
func nowAfter(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func (s *MemStore) DeleteRequest(ctx context.Context, requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[requestID]; !ok {
		return false, nil
	}
	delete(s.requests, requestID)
	return true, nil
}

func (s *MemStore) Ping(ctx context.Context) error {
	return nil
}

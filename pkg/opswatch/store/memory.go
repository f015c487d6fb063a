package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/opswatch/pkg/opswatch/errtrack"
	"github.com/randalmurphal/opswatch/pkg/opswatch/notify"
)

// MemoryErrorStore is an in-memory errtrack.Repository.
// Suitable for tests and ephemeral execution contexts.
type MemoryErrorStore struct {
	mu      sync.RWMutex
	records []*errtrack.Record
}

// Compile-time interface check.
var _ errtrack.Repository = (*MemoryErrorStore)(nil)

// NewMemoryErrorStore creates an empty in-memory error store.
func NewMemoryErrorStore() *MemoryErrorStore {
	return &MemoryErrorStore{}
}

// Insert implements errtrack.Repository.
func (s *MemoryErrorStore) Insert(_ context.Context, rec *errtrack.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.records = append(s.records, &clone)
	return nil
}

// List implements errtrack.Repository.
func (s *MemoryErrorStore) List(_ context.Context, f errtrack.Filter) ([]*errtrack.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*errtrack.Record
	for _, rec := range s.records {
		if f.Matches(rec) {
			clone := *rec
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// DeleteBefore implements errtrack.Repository.
func (s *MemoryErrorStore) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	removed := 0
	for _, rec := range s.records {
		if rec.Time.Before(cutoff) {
			removed++
		} else {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	return removed, nil
}

// MemoryNotificationStore is an in-memory notify.Repository.
type MemoryNotificationStore struct {
	mu            sync.RWMutex
	notifications map[string]*notify.Notification
}

// Compile-time interface check.
var _ notify.Repository = (*MemoryNotificationStore)(nil)

// NewMemoryNotificationStore creates an empty in-memory notification store.
func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{
		notifications: make(map[string]*notify.Notification),
	}
}

func cloneNotification(n *notify.Notification) *notify.Notification {
	clone := *n
	clone.Receipts = make([]notify.Receipt, len(n.Receipts))
	copy(clone.Receipts, n.Receipts)
	return &clone
}

// Insert implements notify.Repository.
func (s *MemoryNotificationStore) Insert(_ context.Context, n *notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = cloneNotification(n)
	return nil
}

// Get implements notify.Repository.
func (s *MemoryNotificationStore) Get(_ context.Context, id string) (*notify.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, notify.ErrNotFound
	}
	return cloneNotification(n), nil
}

// MarkRead implements notify.Repository.
func (s *MemoryNotificationStore) MarkRead(_ context.Context, id, recipientID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return false, notify.ErrNotFound
	}
	for i := range n.Receipts {
		if n.Receipts[i].RecipientID != recipientID {
			continue
		}
		if n.Receipts[i].Read {
			return false, nil
		}
		n.Receipts[i].Read = true
		n.Receipts[i].ReadAt = &at
		return true, nil
	}
	return false, notify.ErrNotFound
}

// MarkAllRead implements notify.Repository.
func (s *MemoryNotificationStore) MarkAllRead(_ context.Context, recipientID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flipped := 0
	for _, n := range s.notifications {
		for i := range n.Receipts {
			if n.Receipts[i].RecipientID == recipientID && !n.Receipts[i].Read {
				n.Receipts[i].Read = true
				n.Receipts[i].ReadAt = &at
				flipped++
			}
		}
	}
	return flipped, nil
}

// UnreadCount implements notify.Repository.
func (s *MemoryNotificationStore) UnreadCount(_ context.Context, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.notifications {
		for _, r := range n.Receipts {
			if r.RecipientID == recipientID && !r.Read {
				count++
			}
		}
	}
	return count, nil
}

// ListByRecipient implements notify.Repository.
func (s *MemoryNotificationStore) ListByRecipient(_ context.Context, recipientID string, limit int) ([]*notify.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*notify.Notification
	for _, n := range s.notifications {
		if _, ok := n.Receipt(recipientID); ok {
			out = append(out, cloneNotification(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete implements notify.Repository.
func (s *MemoryNotificationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[id]; !ok {
		return notify.ErrNotFound
	}
	delete(s.notifications, id)
	return nil
}

// DeleteReadBefore implements notify.Repository.
func (s *MemoryNotificationStore) DeleteReadBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, n := range s.notifications {
		if !n.Time.Before(cutoff) {
			continue
		}
		allRead := true
		for _, r := range n.Receipts {
			if !r.Read {
				allRead = false
				break
			}
		}
		if allRead {
			delete(s.notifications, id)
			removed++
		}
	}
	return removed, nil
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"locker-service/internal/models"
)

// MemoryStore is a thread-safe map-backed store for development and tests.
// It offers the same single-key guarantees as the Postgres store.
type MemoryStore struct {
	mu        sync.RWMutex
	pending   map[string]models.PendingReservation
	occupancy map[string]models.ActiveOccupancy
	history   map[string]models.HistoryRecord
	users     map[string]models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending:   make(map[string]models.PendingReservation),
		occupancy: make(map[string]models.ActiveOccupancy),
		history:   make(map[string]models.HistoryRecord),
		users:     make(map[string]models.User),
	}
}

func slotKey(locationID, slotID string) string {
	return locationID + "/" + slotID
}

func (m *MemoryStore) GetPending(_ context.Context, orderID string) (*models.PendingReservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pending[orderID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) PutPending(_ context.Context, p *models.PendingReservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[p.OrderID] = *p
	return nil
}

func (m *MemoryStore) DeletePending(_ context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[orderID]; !ok {
		return false, nil
	}
	delete(m.pending, orderID)
	return true, nil
}

func (m *MemoryStore) MarkPendingAbandoned(_ context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[orderID]
	if !ok || p.State != models.RentalStatePending {
		return false, nil
	}
	p.State = models.RentalStateAbandoned
	m.pending[orderID] = p
	return true, nil
}

func (m *MemoryStore) ListStalePending(_ context.Context, before time.Time, limit int) ([]models.PendingReservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.PendingReservation, 0)
	for _, p := range m.pending {
		if p.State == models.RentalStatePending && p.CreatedAt.Before(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetOccupancy(_ context.Context, locationID, slotID string) (*models.ActiveOccupancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.occupancy[slotKey(locationID, slotID)]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *MemoryStore) PutOccupancy(_ context.Context, o *models.ActiveOccupancy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.occupancy[slotKey(o.LocationID, o.SlotID)] = *o
	return nil
}

func (m *MemoryStore) DeleteOccupancyIfExpired(_ context.Context, locationID, slotID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := slotKey(locationID, slotID)
	o, ok := m.occupancy[key]
	if !ok || !o.Expired(now) {
		return false, nil
	}
	delete(m.occupancy, key)
	return true, nil
}

func (m *MemoryStore) ListExpiredOccupancies(_ context.Context, now time.Time, limit int) ([]models.ActiveOccupancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ActiveOccupancy, 0)
	for _, o := range m.occupancy {
		if o.Expired(now) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetHistory(_ context.Context, orderID string) (*models.HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.history[orderID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (m *MemoryStore) CreateHistory(_ context.Context, h *models.HistoryRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.history[h.OrderID]; exists {
		return false, nil
	}
	m.history[h.OrderID] = *h
	return true, nil
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStore) UpsertUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = *user
	return nil
}

// Counts reports the size of each collection.
func (m *MemoryStore) Counts() (pending, occupancies, history int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending), len(m.occupancy), len(m.history)
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

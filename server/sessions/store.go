package sessions

import (
	"context"
	"sync"

	"github.com/PeladoCollado/cpuload/types"
)

const DefaultHistorySize = 100

// Store keeps reports of finished sessions.
//
// Callers treat Record as best effort: a failing store never fails a load request.
type Store interface {
	Record(ctx context.Context, report types.SessionReport) error
	// Recent returns up to limit reports, newest first. A limit <= 0 returns everything kept.
	Recent(ctx context.Context, limit int) ([]types.SessionReport, error)
}

// MemoryStore is a bounded in-process history.
type MemoryStore struct {
	lock    sync.Mutex
	reports []types.SessionReport
	next    int
	full    bool
}

func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &MemoryStore{reports: make([]types.SessionReport, size)}
}

func (m *MemoryStore) Record(_ context.Context, report types.SessionReport) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.reports[m.next] = report
	m.next = (m.next + 1) % len(m.reports)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]types.SessionReport, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	count := m.next
	if m.full {
		count = len(m.reports)
	}
	if limit > 0 && limit < count {
		count = limit
	}
	recent := make([]types.SessionReport, 0, count)
	idx := m.next
	for i := 0; i < count; i++ {
		idx = (idx - 1 + len(m.reports)) % len(m.reports)
		recent = append(recent, m.reports[idx])
	}
	return recent, nil
}

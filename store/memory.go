package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/paywatch/models"
)

// Memory is an in-process Store for local runs and tests.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	rows   []Record
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Save(ctx context.Context, r models.ParseResult) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.rows {
		if m.rows[i].SiteID == r.SiteID {
			m.rows[i].IsLatest = false
		}
	}
	m.nextID++
	r.PaymentMethods = slices.Clone(r.PaymentMethods)
	if r.PaymentMethods == nil {
		r.PaymentMethods = []models.PaymentMethod{}
	}
	m.rows = append(m.rows, Record{ID: m.nextID, IsLatest: true, ParseResult: r})
	return m.nextID, nil
}

func (m *Memory) LatestAll(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, rec := range m.rows {
		if rec.IsLatest {
			out = append(out, clone(rec))
		}
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.SiteID, b.SiteID) })
	return out, nil
}

func (m *Memory) LatestBySite(ctx context.Context, siteID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.rows {
		if rec.IsLatest && rec.SiteID == siteID {
			c := clone(rec)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.rows[:0]
	var removed int64
	for _, rec := range m.rows {
		if !rec.IsLatest && rec.ParsedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.rows = kept
	return removed, nil
}

// All returns every stored row in insertion order.
func (m *Memory) All() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.rows))
	for i, rec := range m.rows {
		out[i] = clone(rec)
	}
	return out
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

func clone(rec Record) Record {
	rec.PaymentMethods = slices.Clone(rec.PaymentMethods)
	return rec
}

package migration

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dukerupert/legacygrant/internal/model"
)

// memStore is an in-memory Store. A transaction works on a copy of the
// account and replaces the original only when fn succeeds and no failure
// is injected for that account.
type memStore struct {
	mu        sync.Mutex
	accounts  map[int64]*model.AccountRecord
	nextID    int64
	nextSubID int64
	failOn    map[int64]error
	txCount   int
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[int64]*model.AccountRecord),
		failOn:   make(map[int64]error),
	}
}

func cloneRecord(r *model.AccountRecord) *model.AccountRecord {
	c := *r
	c.Subscriptions = slices.Clone(r.Subscriptions)
	c.Categories = slices.Clone(r.Categories)
	c.Metadata = maps.Clone(r.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	return &c
}

func (m *memStore) add(rec model.AccountRecord) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.Account.ID = m.nextID
	if rec.Account.Status == "" {
		rec.Account.Status = model.AccountStatusActive
	}
	if rec.Account.Role == "" {
		rec.Account.Role = model.RoleUser
	}
	if rec.Account.Email == "" {
		rec.Account.Email = fmt.Sprintf("account%d@example.com", rec.Account.ID)
	}
	for i := range rec.Subscriptions {
		m.nextSubID++
		rec.Subscriptions[i].ID = m.nextSubID
		rec.Subscriptions[i].AccountID = rec.Account.ID
	}
	m.accounts[rec.Account.ID] = cloneRecord(&rec)
	return rec.Account.ID
}

func (m *memStore) get(id int64) *model.AccountRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRecord(m.accounts[id])
}

func (m *memStore) snapshot() map[int64]*model.AccountRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*model.AccountRecord, len(m.accounts))
	for id, r := range m.accounts {
		out[id] = cloneRecord(r)
	}
	return out
}

func (m *memStore) FindCandidates(_ context.Context, f model.CandidateFilter) ([]model.AccountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := slices.Sorted(maps.Keys(m.accounts))
	var out []model.AccountRecord
	for _, id := range ids {
		r := m.accounts[id]
		a := r.Account
		if a.StudioCreatedAt == nil {
			continue
		}
		if f.Tier != nil && a.Tier != *f.Tier {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if !f.StudioCreatedBefore.IsZero() && !a.StudioCreatedAt.Before(f.StudioCreatedBefore) {
			continue
		}
		out = append(out, *cloneRecord(r))
	}
	return out, nil
}

func (m *memStore) RunInTransaction(_ context.Context, accountID int64, fn func(model.AccountTx) error) error {
	m.mu.Lock()
	m.txCount++
	orig, ok := m.accounts[accountID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("account %d not found", accountID)
	}
	work := cloneRecord(orig)
	m.mu.Unlock()

	if err := fn(&memTx{store: m, rec: work}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[accountID]; err != nil {
		return err
	}
	m.accounts[accountID] = work
	return nil
}

type memTx struct {
	store *memStore
	rec   *model.AccountRecord
}

func (t *memTx) Record(context.Context) (*model.AccountRecord, error) {
	return cloneRecord(t.rec), nil
}

func (t *memTx) UpdateTier(_ context.Context, tier model.Tier) error {
	t.rec.Account.Tier = tier
	return nil
}

func (t *memTx) CreateSubscription(_ context.Context, sub model.Subscription) (int64, error) {
	t.store.mu.Lock()
	t.store.nextSubID++
	sub.ID = t.store.nextSubID
	t.store.mu.Unlock()
	sub.AccountID = t.rec.Account.ID
	if sub.PeriodStart != nil {
		sub.CreatedAt = *sub.PeriodStart
	}
	t.rec.Subscriptions = append([]model.Subscription{sub}, t.rec.Subscriptions...)
	return sub.ID, nil
}

func (t *memTx) ExtendSubscription(_ context.Context, id int64, status string, periodEnd time.Time) error {
	for i := range t.rec.Subscriptions {
		if t.rec.Subscriptions[i].ID == id {
			t.rec.Subscriptions[i].Status = status
			end := periodEnd
			t.rec.Subscriptions[i].PeriodEnd = &end
			return nil
		}
	}
	return fmt.Errorf("subscription %d not found", id)
}

func (t *memTx) UpsertMetadataFlag(_ context.Context, key, value string) error {
	t.rec.Metadata[key] = value
	return nil
}

func (t *memTx) SetCategories(_ context.Context, categories []model.Category) error {
	t.rec.Categories = slices.Clone(categories)
	return nil
}

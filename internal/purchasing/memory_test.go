package purchasing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/franchise-ops/franchise-console/internal/shared"
)

type memoryOrderRepo struct {
	mu         sync.Mutex
	orders     map[int64]PurchaseOrder
	nextOrder  int64
	nextLine   int64
	failInsert error
	outbox     []outboxEntry
}

type outboxEntry struct {
	event Event
	sent  bool
}

type memoryOrderTx struct {
	repo *memoryOrderRepo
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{orders: make(map[int64]PurchaseOrder)}
}

func (r *memoryOrderRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[int64]PurchaseOrder, len(r.orders))
	for id, o := range r.orders {
		snapshot[id] = o
	}
	outbox := len(r.outbox)
	if err := fn(ctx, &memoryOrderTx{repo: r}); err != nil {
		r.orders = snapshot
		r.outbox = r.outbox[:outbox]
		return err
	}
	return nil
}

func (r *memoryOrderRepo) MarkEventSent(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.outbox {
		if r.outbox[i].event.ID == id {
			r.outbox[i].sent = true
		}
	}
	return nil
}

func (r *memoryOrderRepo) pendingEvents() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, entry := range r.outbox {
		if !entry.sent {
			out = append(out, entry.event)
		}
	}
	return out
}

func (r *memoryOrderRepo) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return order.Clone(), nil
}

func (r *memoryOrderRepo) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []PurchaseOrder
	sum := decimal.Zero
	for _, o := range r.orders {
		if filter.BranchID != nil && o.BranchID != *filter.BranchID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		matched = append(matched, o.Clone())
		sum = sum.Add(o.TotalPrice)
	}
	sort.Slice(matched, func(i, j int) bool {
		less := matched[i].ID < matched[j].ID
		if filter.Sort == "total_price" && !matched[i].TotalPrice.Equal(matched[j].TotalPrice) {
			less = matched[i].TotalPrice.LessThan(matched[j].TotalPrice)
		}
		if filter.Desc {
			return !less
		}
		return less
	})
	total := len(matched)
	start := shared.NewPagination(filter.Page, filter.Size, total).Offset()
	if start > total {
		start = total
	}
	end := start + filter.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, sum, nil
}

func (r *memoryOrderRepo) Snapshot(ctx context.Context, filter StatsFilter) ([]PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PurchaseOrder
	for _, o := range r.orders {
		if filter.Match(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryOrderTx) InsertOrder(ctx context.Context, order *PurchaseOrder) error {
	if t.repo.failInsert != nil {
		return t.repo.failInsert
	}
	t.repo.nextOrder++
	order.ID = t.repo.nextOrder
	for i := range order.Lines {
		t.repo.nextLine++
		order.Lines[i].ID = t.repo.nextLine
	}
	t.repo.orders[order.ID] = order.Clone()
	return nil
}

func (t *memoryOrderTx) UpdateOrder(ctx context.Context, order PurchaseOrder, expectedVersion int64) error {
	current, ok := t.repo.orders[order.ID]
	if !ok || current.Version != expectedVersion {
		return ErrStaleVersion
	}
	t.repo.orders[order.ID] = order.Clone()
	return nil
}

func (t *memoryOrderTx) InsertEvent(ctx context.Context, evt Event) error {
	t.repo.outbox = append(t.repo.outbox, outboxEntry{event: evt})
	return nil
}

type memoryCatalog struct {
	items map[int64]CatalogItem
}

func newMemoryCatalog(items ...CatalogItem) *memoryCatalog {
	c := &memoryCatalog{items: make(map[int64]CatalogItem)}
	for _, item := range items {
		c.items[item.ProductID] = item
	}
	return c
}

func (c *memoryCatalog) BranchProducts(ctx context.Context, branchID int64, productIDs []int64) (map[int64]CatalogItem, error) {
	out := make(map[int64]CatalogItem)
	for _, id := range productIDs {
		if item, ok := c.items[id]; ok && item.BranchID == branchID {
			out[id] = item
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	fail   error
}

func (n *recordingNotifier) Notify(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.events = append(n.events, evt)
	return nil
}

func (n *recordingNotifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []shared.ApprovalLog
}

func (j *memoryJournal) Record(ctx context.Context, log shared.ApprovalLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	log.ID = int64(len(j.entries) + 1)
	j.entries = append(j.entries, log)
	return nil
}

func (j *memoryJournal) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := []shared.ApprovalLog{}
	for _, e := range j.entries {
		if e.Module == module && e.RefID == ref {
			out = append(out, e)
		}
	}
	return out, nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]int64
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]int64)}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[module+":"+key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+":"+key] = 0
	return nil
}

func (m *memoryIdempotency) Complete(ctx context.Context, key, module string, refID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[module+":"+key] = refID
	return nil
}

func (m *memoryIdempotency) Lookup(ctx context.Context, key, module string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.keys[module+":"+key]
	if !ok {
		return 0, shared.ErrIdempotencyMissing
	}
	return ref, nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+":"+key)
	return nil
}

var (
	hq       = shared.Principal{UserID: 1, Role: shared.RoleHeadquarters}
	branch2  = shared.Principal{UserID: 20, BranchID: 2, Role: shared.RoleBranch}
	branch3  = shared.Principal{UserID: 30, BranchID: 3, Role: shared.RoleBranch}
	fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

func sampleCatalog() *memoryCatalog {
	return newMemoryCatalog(
		CatalogItem{ProductID: 10, BranchID: 2, Name: "원두 1kg", UnitPrice: decimal.NewFromInt(1000)},
		CatalogItem{ProductID: 11, BranchID: 2, Name: "우유 1L", UnitPrice: decimal.NewFromInt(2000)},
		CatalogItem{ProductID: 12, BranchID: 3, Name: "컵 100개", UnitPrice: decimal.NewFromInt(500)},
	)
}

func newTestService() (*Service, *memoryOrderRepo, *recordingNotifier, *memoryJournal) {
	repo := newMemoryOrderRepo()
	svc := NewService(repo, sampleCatalog(), nil)
	tick := fixedNow
	var clockMu sync.Mutex
	svc.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	notifier := &recordingNotifier{}
	journal := &memoryJournal{}
	svc.SetNotifier(notifier)
	svc.SetJournal(journal)
	return svc, repo, notifier, journal
}

// sampleOrder builds the two-line pending order used across tests.
func sampleOrder() PurchaseOrder {
	order := PurchaseOrder{
		ID:       1,
		Number:   "PO-TEST",
		BranchID: 2,
		Status:   StatusPending,
		Lines: []OrderLine{
			{ID: 101, LineNo: 1, ProductID: 10, UnitPrice: decimal.NewFromInt(1000), RequestedQuantity: 5},
			{ID: 102, LineNo: 2, ProductID: 11, UnitPrice: decimal.NewFromInt(2000), RequestedQuantity: 3},
		},
		Version:   1,
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
	order.recalculate()
	return order
}

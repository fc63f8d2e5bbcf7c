package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	pkgmodels "github.com/athebyme/gomarket-sync/pkg/models"
	pkgutils "github.com/athebyme/gomarket-sync/pkg/utils"
)

// nopLogger логгер-заглушка для тестов
type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...interface{}) {}
func (nopLogger) Info(msg string, args ...interface{}) {}
func (nopLogger) Warn(msg string, args ...interface{}) {}
func (nopLogger) Error(msg string, args ...interface{}) {}
func (nopLogger) Fatal(msg string, args ...interface{}) {}
func (nopLogger) DebugWithContext(ctx context.Context, msg string, args ...interface{}) {}
func (nopLogger) InfoWithContext(ctx context.Context, msg string, args ...interface{}) {}
func (nopLogger) WarnWithContext(ctx context.Context, msg string, args ...interface{}) {}
func (nopLogger) ErrorWithContext(ctx context.Context, msg string, args ...interface{}) {}
func (l nopLogger) WithFields(fields ...interfaces.LogField) interfaces.LoggerPort { return l }
func (l nopLogger) WithField(key string, value interface{}) interfaces.LoggerPort { return l }
func (l nopLogger) WithTraceID(traceID string) interfaces.LoggerPort { return l }
func (nopLogger) Sync() error { return nil }

// fakeRepo потокобезопасное in-memory хранилище для тестов
type fakeRepo struct {
	mu       sync.Mutex
	products map[string]*models.Product
	mirrors  map[string]*models.OfferMirror // по product_id
	jobs     map[string]*models.SyncJob
	events   map[string]*models.WebhookEvent // по id
	byExtID  map[string]string               // external_event_id -> id

	// инъекция ошибок
	saveProductErr error
	saveMirrorErr  error
	updateJobErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		products: make(map[string]*models.Product),
		mirrors:  make(map[string]*models.OfferMirror),
		jobs:     make(map[string]*models.SyncJob),
		events:   make(map[string]*models.WebhookEvent),
		byExtID:  make(map[string]string),
	}
}

func (r *fakeRepo) SaveProduct(ctx context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveProductErr != nil {
		return r.saveProductErr
	}
	cp := *product
	r.products[product.ID] = &cp
	return nil
}

func (r *fakeRepo) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return nil, utils.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products {
		if p.SKU == sku {
			cp := *p
			return &cp, nil
		}
	}
	return nil, utils.ErrProductNotFound
}

func (r *fakeRepo) ListDirtyProducts(ctx context.Context, limit int) ([]*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Product
	for _, p := range r.products {
		if p.Dirty {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) ClearDirty(ctx context.Context, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return utils.ErrProductNotFound
	}
	p.Dirty = false
	return nil
}

func (r *fakeRepo) AdjustProductStock(ctx context.Context, productID string, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return 0, utils.ErrProductNotFound
	}
	p.Stock += delta
	return p.Stock, nil
}

func (r *fakeRepo) SaveMirror(ctx context.Context, mirror *models.OfferMirror) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveMirrorErr != nil {
		return r.saveMirrorErr
	}
	cp := *mirror
	if prev, ok := r.mirrors[mirror.ProductID]; ok {
		cp.Version = prev.Version + 1
	} else {
		cp.Version = 1
	}
	mirror.Version = cp.Version
	r.mirrors[mirror.ProductID] = &cp
	return nil
}

func (r *fakeRepo) GetMirror(ctx context.Context, productID string) (*models.OfferMirror, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mirrors[productID]
	if !ok {
		return nil, utils.ErrMirrorNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeRepo) GetMirrorByRemoteID(ctx context.Context, remoteOfferID string) (*models.OfferMirror, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mirrors {
		if m.RemoteOfferID == remoteOfferID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, utils.ErrMirrorNotFound
}

func (r *fakeRepo) ListMirrors(ctx context.Context, limit int) ([]*models.OfferMirror, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.OfferMirror
	for _, m := range r.mirrors {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) UpdateMirrorCAS(ctx context.Context, mirror *models.OfferMirror, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mirrors[mirror.ProductID]
	if !ok {
		return utils.ErrMirrorNotFound
	}
	if m.Version != expectedVersion {
		return utils.ErrVersionConflict
	}
	cp := *mirror
	cp.Version = expectedVersion + 1
	r.mirrors[mirror.ProductID] = &cp
	return nil
}

func (r *fakeRepo) AdjustMirrorStock(ctx context.Context, remoteOfferID string, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mirrors {
		if m.RemoteOfferID == remoteOfferID {
			m.Quantity += delta
			return m.Quantity, nil
		}
	}
	return 0, utils.ErrMirrorNotFound
}

func (r *fakeRepo) TouchMirrorSynced(ctx context.Context, productID string, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mirrors[productID]
	if !ok {
		return utils.ErrMirrorNotFound
	}
	m.LastSyncedAt = &syncedAt
	return nil
}

func (r *fakeRepo) CreateSyncJob(ctx context.Context, job *models.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeRepo) UpdateSyncJob(ctx context.Context, job *models.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateJobErr != nil {
		return r.updateJobErr
	}
	if _, ok := r.jobs[job.ID]; !ok {
		return utils.ErrJobNotFound
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeRepo) GetSyncJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, utils.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *fakeRepo) ListSyncJobs(ctx context.Context, filter models.SyncJobFilter, pagination *pkgutils.Pagination) ([]*models.SyncJob, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SyncJob
	for _, j := range r.jobs {
		if filter.Type != nil && j.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, int64(len(out)), nil
}

func (r *fakeRepo) CreateWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byExtID[event.ExternalEventID]; ok {
		return false, nil
	}
	cp := *event
	r.events[event.ID] = &cp
	r.byExtID[event.ExternalEventID] = event.ID
	return true, nil
}

func (r *fakeRepo) GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[eventID]
	if !ok {
		return nil, utils.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *fakeRepo) GetWebhookEventByExternalID(ctx context.Context, externalEventID string) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byExtID[externalEventID]
	if !ok {
		return nil, utils.ErrEventNotFound
	}
	cp := *r.events[id]
	return &cp, nil
}

func (r *fakeRepo) UpdateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.events[event.ID]
	if !ok {
		return utils.ErrEventNotFound
	}
	if stored.Processed {
		return utils.ErrEventAlreadyProcessed
	}
	cp := *event
	r.events[event.ID] = &cp
	return nil
}

// Транзакции в in-memory хранилище не нужны
func (r *fakeRepo) BeginTx(ctx context.Context) (context.Context, error) { return ctx, nil }
func (r *fakeRepo) CommitTx(ctx context.Context) error                   { return nil }
func (r *fakeRepo) RollbackTx(ctx context.Context) error                 { return nil }
func (r *fakeRepo) Close() error                                         { return nil }

// fakeCache минимальная реализация CachePort для тестов
type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte
	locks map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		store: make(map[string][]byte),
		locks: make(map[string]bool),
	}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[key]
	if !ok {
		return nil, interfaces.ErrCacheMiss
	}
	return v, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = value
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}

func (c *fakeCache) DeleteByPattern(ctx context.Context, pattern string) error { return nil }

func (c *fakeCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return delta, nil
}

func (c *fakeCache) Lock(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] {
		return false, nil
	}
	c.locks[key] = true
	return true, nil
}

func (c *fakeCache) Unlock(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
	return nil
}

func (c *fakeCache) Close() error { return nil }

// fakeMarketplace in-memory клиент маркетплейса с инъекцией ошибок
type fakeMarketplace struct {
	mu     sync.Mutex
	offers map[string]*pkgmodels.RemoteOffer
	nextID int

	createErr error
	updateErr error
	listErr   error
	getErr    error

	createCalls int
	updateCalls int
}

func newFakeMarketplace() *fakeMarketplace {
	return &fakeMarketplace{offers: make(map[string]*pkgmodels.RemoteOffer)}
}

func (m *fakeMarketplace) GetOffer(ctx context.Context, offerID string) (*pkgmodels.RemoteOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.offers[offerID]
	if !ok {
		return nil, interfaces.ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *fakeMarketplace) ListOffers(ctx context.Context, cursor string, limit int) (*pkgmodels.RemoteOfferPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}

	var all []*pkgmodels.RemoteOffer
	for _, o := range m.offers {
		cp := *o
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	start := 0
	if cursor != "" {
		for i, o := range all {
			if o.ID > cursor {
				start = i
				break
			}
		}
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := &pkgmodels.RemoteOfferPage{Offers: all[start:end]}
	if end < len(all) {
		page.NextCursor = all[end-1].ID
	}
	return page, nil
}

func (m *fakeMarketplace) CreateOffer(ctx context.Context, offer *pkgmodels.RemoteOffer) (*pkgmodels.RemoteOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.nextID++
	cp := *offer
	cp.ID = fmt.Sprintf("offer-%d", m.nextID)
	cp.UpdatedAt = time.Now().UTC()
	m.offers[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *fakeMarketplace) UpdateOffer(ctx context.Context, offerID string, offer *pkgmodels.RemoteOffer) (*pkgmodels.RemoteOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	if _, ok := m.offers[offerID]; !ok {
		return nil, interfaces.ErrOfferNotFound
	}
	cp := *offer
	cp.ID = offerID
	cp.UpdatedAt = time.Now().UTC()
	m.offers[offerID] = &cp
	out := cp
	return &out, nil
}

func (m *fakeMarketplace) GetOrder(ctx context.Context, orderID string) (*pkgmodels.RemoteOrder, error) {
	return nil, interfaces.ErrOrderNotFound
}

// fakeNotifier записывает отправленные уведомления
type fakeNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *fakeNotifier) Notify(ctx context.Context, kind string, payload map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
	return nil
}

// fakeTxManager выполняет функцию без реальной транзакции
type fakeTxManager struct{}

func (fakeTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

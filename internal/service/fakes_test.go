package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/autosend-engine/internal/document"
	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/lock"
	"github.com/kursadbilgin/autosend-engine/internal/mail"
	"github.com/kursadbilgin/autosend-engine/internal/queue"
)

// memBatchRepo mirrors the conditional updates of the Gorm repository in memory.
type memBatchRepo struct {
	mu      sync.Mutex
	seq     int64
	batches map[string]domain.Batch
	items   map[string]domain.BatchItem
	order   []string

	createPlannedFn  func(b *domain.Batch, items []*domain.BatchItem) error
	markItemSentFn   func(id string) error
	markItemFailedFn func(id string) error
}

func newMemBatchRepo() *memBatchRepo {
	return &memBatchRepo{
		batches: make(map[string]domain.Batch),
		items:   make(map[string]domain.BatchItem),
	}
}

func (r *memBatchRepo) CreatePlanned(ctx context.Context, b *domain.Batch, items []*domain.BatchItem) error {
	if r.createPlannedFn != nil {
		if err := r.createPlannedFn(b, items); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	b.Sequence = r.seq
	r.batches[b.ID] = *b
	for i, item := range items {
		item.BatchID = b.ID
		item.Sequence = i + 1
		r.items[item.ID] = *item
		r.order = append(r.order, item.ID)
	}
	return nil
}

// seed stores a batch and its items as they would look after planning.
func (r *memBatchRepo) seed(b domain.Batch, items ...domain.BatchItem) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.Sequence > r.seq {
		r.seq = b.Sequence
	}
	r.batches[b.ID] = b
	for i, item := range items {
		item.BatchID = b.ID
		if item.Sequence == 0 {
			item.Sequence = i + 1
		}
		if item.Status == "" {
			item.Status = domain.ItemStatusPending
		}
		r.items[item.ID] = item
		r.order = append(r.order, item.ID)
	}
}

func (r *memBatchRepo) item(id string) domain.BatchItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id]
}

func (r *memBatchRepo) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *memBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (r *memBatchRepo) List(ctx context.Context, limit int) ([]domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Batch, 0, len(r.batches))
	for _, b := range r.batches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence > out[j].Sequence })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memBatchRepo) ItemStatusCounts(ctx context.Context, batchIDs []string) (map[string][]domain.StatusCount, error) {
	out := make(map[string][]domain.StatusCount, len(batchIDs))
	for _, id := range batchIDs {
		items, _ := r.ListItems(ctx, id)
		out[id] = domain.CountItemStatuses(items)
	}
	return out, nil
}

func (r *memBatchRepo) HasPendingOverlap(ctx context.Context, dr domain.DateRange) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.Status != domain.ItemStatusPending {
			continue
		}
		b := r.batches[item.BatchID]
		if (domain.DateRange{From: b.DateFrom, To: b.DateTo}).Overlaps(dr) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memBatchRepo) ListItems(ctx context.Context, batchID string) ([]domain.BatchItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.BatchItem, 0)
	for _, id := range r.order {
		if item := r.items[id]; item.BatchID == batchID {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r *memBatchRepo) ListPendingItems(ctx context.Context, batchID string) ([]domain.BatchItem, error) {
	items, _ := r.ListItems(ctx, batchID)
	out := make([]domain.BatchItem, 0, len(items))
	for _, item := range items {
		if item.Status == domain.ItemStatusPending {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *memBatchRepo) GetItem(ctx context.Context, id string) (*domain.BatchItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *memBatchRepo) MarkItemSent(ctx context.Context, id string, sentAt time.Time) error {
	if r.markItemSentFn != nil {
		if err := r.markItemSentFn(id); err != nil {
			return err
		}
	}
	return r.finish(id, func(item *domain.BatchItem) {
		item.Status = domain.ItemStatusSent
		item.SentAt = &sentAt
	})
}

func (r *memBatchRepo) MarkItemFailed(ctx context.Context, id string, message string) error {
	if r.markItemFailedFn != nil {
		if err := r.markItemFailedFn(id); err != nil {
			return err
		}
	}
	return r.finish(id, func(item *domain.BatchItem) {
		item.Status = domain.ItemStatusFailed
		item.Error = &message
	})
}

func (r *memBatchRepo) finish(id string, apply func(item *domain.BatchItem)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok || item.Status != domain.ItemStatusPending {
		return domain.ErrConflict
	}
	apply(&item)
	r.items[id] = item
	return nil
}

func (r *memBatchRepo) ClaimItemArtifactKey(ctx context.Context, id string, previous *string, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	switch {
	case previous == nil && item.ArtifactKey != nil,
		previous != nil && (item.ArtifactKey == nil || *item.ArtifactKey != *previous):
		return domain.ErrConflict
	}
	item.ArtifactKey = &key
	r.items[id] = item
	return nil
}

type fakeRecipientRepo struct {
	listFn               func(ctx context.Context) ([]domain.Recipient, error)
	getByIDFn            func(ctx context.Context, id string) (*domain.Recipient, error)
	getByIDsFn           func(ctx context.Context, ids []string) ([]domain.Recipient, error)
	createSkipExistingFn func(ctx context.Context, recipients []*domain.Recipient) (int, error)
	updateFn             func(ctx context.Context, r *domain.Recipient) error
	deleteFn             func(ctx context.Context, id string) error
}

func (f *fakeRecipientRepo) List(ctx context.Context) ([]domain.Recipient, error) {
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	return nil, nil
}

func (f *fakeRecipientRepo) GetByID(ctx context.Context, id string) (*domain.Recipient, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRecipientRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	if f.getByIDsFn != nil {
		return f.getByIDsFn(ctx, ids)
	}
	return nil, nil
}

func (f *fakeRecipientRepo) CreateSkipExisting(ctx context.Context, recipients []*domain.Recipient) (int, error) {
	if f.createSkipExistingFn != nil {
		return f.createSkipExistingFn(ctx, recipients)
	}
	return len(recipients), nil
}

func (f *fakeRecipientRepo) Update(ctx context.Context, r *domain.Recipient) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, r)
	}
	return nil
}

func (f *fakeRecipientRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

// recipientsByID returns a GetByIDs func serving the given recipients in request order.
func recipientsByID(recipients ...domain.Recipient) func(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	byID := make(map[string]domain.Recipient, len(recipients))
	for _, r := range recipients {
		byID[r.ID] = r
	}
	return func(ctx context.Context, ids []string) ([]domain.Recipient, error) {
		out := make([]domain.Recipient, 0, len(ids))
		for _, id := range ids {
			if r, ok := byID[id]; ok {
				out = append(out, r)
			}
		}
		return out, nil
	}
}

type fakeSettingsRepo struct {
	mu          sync.Mutex
	settings    domain.Settings
	getErr      error
	updateErr   error
	updates     int
	getOrCreate int
}

func (f *fakeSettingsRepo) GetOrCreate(ctx context.Context) (*domain.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getOrCreate++
	if f.getErr != nil {
		return nil, f.getErr
	}
	s := f.settings
	s.SelectedRecipientIDs = append([]string(nil), f.settings.SelectedRecipientIDs...)
	return &s, nil
}

// Update applies the set fields in one step, as the row-level write does.
func (f *fakeSettingsRepo) Update(ctx context.Context, update domain.SettingsUpdate, at time.Time) (*domain.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates++
	update.Apply(&f.settings)
	f.settings.UpdatedAt = at
	s := f.settings
	s.SelectedRecipientIDs = append([]string(nil), f.settings.SelectedRecipientIDs...)
	return &s, nil
}

type fakeEntryRepo struct {
	listIDsInRangeFn func(ctx context.Context, r domain.DateRange) ([]string, error)
}

func (f *fakeEntryRepo) ListIDsInRange(ctx context.Context, r domain.DateRange) ([]string, error) {
	if f.listIDsInRangeFn != nil {
		return f.listIDsInRangeFn(ctx, r)
	}
	return nil, nil
}

func (f *fakeEntryRepo) GetByIDs(ctx context.Context, ids []string) (map[string]domain.FuelEntry, error) {
	return map[string]domain.FuelEntry{}, nil
}

// memLocker is an in-process Locker with the same exclusivity as the Redis one.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) Acquire(ctx context.Context, name string) (lock.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, lock.ErrNotAcquired
	}
	l.held[name] = true
	return &memLock{locker: l, name: name}, nil
}

func (l *memLocker) isHeld(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[name]
}

// expire drops name as if its TTL lapsed while the holder still believes it owns it.
func (l *memLocker) expire(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
}

type memLock struct {
	locker *memLocker
	name   string
}

func (h *memLock) Refresh(ctx context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	if !h.locker.held[h.name] {
		return lock.ErrNotAcquired
	}
	return nil
}

func (h *memLock) Release(ctx context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	delete(h.locker.held, h.name)
	return nil
}

type fakeComposer struct {
	composeFn func(ctx context.Context, entryIDs []string, includeCertificates bool) ([]byte, error)
}

func (f *fakeComposer) Compose(ctx context.Context, entryIDs []string, includeCertificates bool) ([]byte, error) {
	if f.composeFn != nil {
		return f.composeFn(ctx, entryIDs, includeCertificates)
	}
	return []byte("%PDF-1.7 fake"), nil
}

// memStore is an ObjectStore backed by a map.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	puts    int
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, document.ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *memStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []mail.Message
	sendFn func(ctx context.Context, msg mail.Message) error
}

func (f *fakeSender) Send(ctx context.Context, msg mail.Message) error {
	if f.sendFn != nil {
		if err := f.sendFn(ctx, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, msg := range f.sent {
		out = append(out, msg.To...)
	}
	sort.Strings(out)
	return out
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, scope string) (bool, error)
	waitFn  func(ctx context.Context, scope string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, scope)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

type fakeExecutor struct {
	executeFn func(ctx context.Context, batchID string, actorID string) (*ExecutionResult, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, batchID string, actorID string) (*ExecutionResult, error) {
	if f.executeFn != nil {
		return f.executeFn(ctx, batchID, actorID)
	}
	return &ExecutionResult{BatchID: batchID, Status: domain.BatchStatusCompleted}, nil
}

type fakePlanner struct {
	planFn func(ctx context.Context, req PlanRequest) (*PlanResult, error)
}

func (f *fakePlanner) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	if f.planFn != nil {
		return f.planFn(ctx, req)
	}
	return &PlanResult{Batch: &domain.Batch{ID: "b1", Sequence: 1, Trigger: req.Trigger}}, nil
}

type fakeRunner struct {
	mu       sync.Mutex
	messages []queue.BatchMessage
	submitFn func(ctx context.Context, msg queue.BatchMessage) error
}

func (f *fakeRunner) Submit(ctx context.Context, msg queue.BatchMessage) error {
	if f.submitFn != nil {
		if err := f.submitFn(ctx, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.BatchMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.BatchMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

func day(year int, month time.Month, d int) domain.DateRange {
	t := time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
	return domain.DayRange(t, t)
}

func boolPtr(v bool) *bool { return &v }

package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/autosend-engine/internal/document"
	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/lock"
	"github.com/kursadbilgin/autosend-engine/internal/mail"
	"github.com/kursadbilgin/autosend-engine/internal/ratelimit"
	"go.uber.org/zap"
)

func seedThreeItemBatch(repo *memBatchRepo) {
	dr := day(2026, 3, 10)
	batch := domain.Batch{ID: "b1", Sequence: 42, DateFrom: dr.From, DateTo: dr.To, Trigger: domain.TriggerManual}
	repo.seed(batch,
		domain.BatchItem{ID: "i1", RecipientEmail: "a@example.com", EntryIDs: []string{"e3", "e1", "e2"}},
		domain.BatchItem{ID: "i2", RecipientEmail: "b@example.com", EntryIDs: []string{"e3", "e1", "e2"}},
		domain.BatchItem{ID: "i3", RecipientEmail: "c@example.com", EntryIDs: []string{"e3", "e1", "e2"}},
	)
}

func newTestExecutor(t *testing.T, repo *memBatchRepo, composer Composer, store *memStore, sender mail.Sender, locker lock.Locker) *Executor {
	t.Helper()

	var artifacts document.ObjectStore
	if store != nil {
		artifacts = store
	}
	executor, err := NewExecutor(repo, composer, artifacts, sender, nil, locker, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	return executor
}

func TestExecutorExecuteIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	seedThreeItemBatch(repo)
	sender := &fakeSender{sendFn: func(ctx context.Context, msg mail.Message) error {
		if msg.To[0] == "b@example.com" {
			return errors.New("550 mailbox unavailable")
		}
		return nil
	}}
	executor := newTestExecutor(t, repo, &fakeComposer{}, newMemStore(), sender, newMemLocker())

	result, err := executor.Execute(context.Background(), "b1", "u1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.Attempted != 3 || result.Sent != 2 || result.Failed != 1 || result.Remaining != 0 {
		t.Fatalf("result = %+v, want attempted 3, sent 2, failed 1, remaining 0", result)
	}
	if result.Status != domain.BatchStatusPartialFailure {
		t.Fatalf("status = %s, want %s", result.Status, domain.BatchStatusPartialFailure)
	}

	for _, id := range []string{"i1", "i3"} {
		item := repo.item(id)
		if item.Status != domain.ItemStatusSent || item.SentAt == nil {
			t.Fatalf("item %s = %s (sentAt %v), want SENT with timestamp", id, item.Status, item.SentAt)
		}
	}
	failed := repo.item("i2")
	if failed.Status != domain.ItemStatusFailed {
		t.Fatalf("item i2 status = %s, want FAILED", failed.Status)
	}
	if failed.Error == nil || !strings.Contains(*failed.Error, "550 mailbox unavailable") {
		t.Fatalf("item i2 error = %v, want dispatch message", failed.Error)
	}

	if got := sender.recipients(); fmt.Sprint(got) != "[a@example.com c@example.com]" {
		t.Fatalf("delivered to %v, want a and c", got)
	}
}

func TestExecutorExecuteAttachesComposedPackage(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	dr := day(2026, 3, 10)
	repo.seed(domain.Batch{ID: "b1", Sequence: 42, DateFrom: dr.From, DateTo: dr.To},
		domain.BatchItem{ID: "i1", RecipientEmail: "a@example.com", EntryIDs: []string{"e3", "e1", "e2"}, IncludeCertificates: true})

	var gotIDs []string
	var gotCerts bool
	composer := &fakeComposer{composeFn: func(ctx context.Context, entryIDs []string, includeCertificates bool) ([]byte, error) {
		gotIDs = entryIDs
		gotCerts = includeCertificates
		return []byte("%PDF-package"), nil
	}}
	store := newMemStore()
	sender := &fakeSender{}
	executor := newTestExecutor(t, repo, composer, store, sender, newMemLocker())

	if _, err := executor.Execute(context.Background(), "b1", ""); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if fmt.Sprint(gotIDs) != "[e3 e1 e2]" || !gotCerts {
		t.Fatalf("compose args = %v/%v, want [e3 e1 e2]/true", gotIDs, gotCerts)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "fuel-deliveries-B00042-001.pdf" || att.ContentType != mail.ContentTypePDF {
		t.Fatalf("attachment = %s (%s)", att.Filename, att.ContentType)
	}
	if !bytes.Equal(att.Content, []byte("%PDF-package")) {
		t.Fatalf("attachment content = %q", att.Content)
	}
	if !strings.Contains(msg.Subject, "B00042-001") {
		t.Fatalf("subject = %q, want batch and item sequence", msg.Subject)
	}

	item := repo.item("i1")
	if item.ArtifactKey == nil || !strings.HasPrefix(*item.ArtifactKey, "auto-send/b1/") ||
		!strings.HasSuffix(*item.ArtifactKey, "-fuel-deliveries-B00042-001.pdf") {
		t.Fatalf("artifact key = %v", item.ArtifactKey)
	}
	stored, err := store.Get(context.Background(), *item.ArtifactKey)
	if err != nil || !bytes.Equal(stored, att.Content) {
		t.Fatalf("stored artifact = %q, %v; want emailed bytes", stored, err)
	}
}

func TestExecutorExecuteReusesStoredArtifact(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	key := "auto-send/b1/fuel-deliveries-B00001-001.pdf"
	if err := store.Put(context.Background(), key, []byte("%PDF-stored"), mail.ContentTypePDF); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	repo := newMemBatchRepo()
	dr := day(2026, 3, 10)
	repo.seed(domain.Batch{ID: "b1", Sequence: 1, DateFrom: dr.From, DateTo: dr.To},
		domain.BatchItem{ID: "i1", RecipientEmail: "a@example.com", EntryIDs: []string{"e1"}, ArtifactKey: &key})

	composer := &fakeComposer{composeFn: func(ctx context.Context, entryIDs []string, includeCertificates bool) ([]byte, error) {
		t.Error("Compose() called for an item with a stored artifact")
		return nil, errors.New("unexpected compose")
	}}
	sender := &fakeSender{}
	executor := newTestExecutor(t, repo, composer, store, sender, newMemLocker())

	if _, err := executor.Execute(context.Background(), "b1", ""); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := sender.sent[0].Attachments[0].Content; !bytes.Equal(got, []byte("%PDF-stored")) {
		t.Fatalf("attachment = %q, want stored bytes", got)
	}
}

func TestExecutorExecuteSendsPackageClaimedByConcurrentDownload(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	dr := day(2026, 3, 10)
	repo.seed(domain.Batch{ID: "b1", Sequence: 5, DateFrom: dr.From, DateTo: dr.To},
		domain.BatchItem{ID: "i1", RecipientEmail: "a@example.com", EntryIDs: []string{"e1"}})
	store := newMemStore()

	downloads, calls := countingComposer()
	svc := newTestBatchService(t, repo, downloads, store)

	var during *Artifact
	composer := &fakeComposer{composeFn: func(ctx context.Context, entryIDs []string, includeCertificates bool) ([]byte, error) {
		artifact, err := svc.Download(ctx, "i1")
		if err != nil {
			t.Errorf("Download() during compose error = %v", err)
			return nil, err
		}
		during = artifact
		return []byte("%PDF-executor"), nil
	}}
	sender := &fakeSender{}
	executor := newTestExecutor(t, repo, composer, store, sender, newMemLocker())

	if _, err := executor.Execute(context.Background(), "b1", ""); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	after, err := svc.Download(context.Background(), "i1")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	emailed := sender.sent[0].Attachments[0].Content
	if during == nil || !bytes.Equal(during.Content, emailed) || !bytes.Equal(after.Content, emailed) {
		t.Fatalf("download during = %v, after = %q, emailed = %q; want all equal", during, after.Content, emailed)
	}
	if calls.Load() != 1 {
		t.Fatalf("download compose calls = %d, want 1", calls.Load())
	}
	if repo.item("i1").Status != domain.ItemStatusSent {
		t.Fatalf("status = %s, want SENT", repo.item("i1").Status)
	}
}

func TestExecutorExecuteDispatchesWhenArtifactCannotBeStored(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	repo.seed(domain.Batch{ID: "b1", Sequence: 1},
		domain.BatchItem{ID: "i1", RecipientEmail: "a@example.com", EntryIDs: []string{"e1"}})
	store := newMemStore()
	store.putErr = errors.New("s3 unavailable")
	sender := &fakeSender{}
	executor := newTestExecutor(t, repo, &fakeComposer{}, store, sender, newMemLocker())

	result, err := executor.Execute(context.Background(), "b1", "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Sent != 1 || len(sender.sent) != 1 {
		t.Fatalf("result = %+v, sent = %d; want the composed copy dispatched", result, len(sender.sent))
	}
	if repo.item("i1").ArtifactKey != nil {
		t.Fatal("artifact key recorded although nothing was stored")
	}
}

func TestExecutorExecuteMarksFailedOnComposeErrorAndPanic(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	dr := day(2026, 3, 10)
	repo.seed(domain.Batch{ID: "b1", Sequence: 3, DateFrom: dr.From, DateTo: dr.To},
		domain.BatchItem{ID: "i1", RecipientEmail: "a@example.com", EntryIDs: []string{"ok"}},
		domain.BatchItem{ID: "i2", RecipientEmail: "b@example.com", EntryIDs: []string{"broken"}},
		domain.BatchItem{ID: "i3", RecipientEmail: "c@example.com", EntryIDs: []string{"panic"}},
	)
	composer := &fakeComposer{composeFn: func(ctx context.Context, entryIDs []string, includeCertificates bool) ([]byte, error) {
		switch entryIDs[0] {
		case "broken":
			return nil, errors.New("render service returned 500")
		case "panic":
			panic("nil entry")
		}
		return []byte("%PDF-ok"), nil
	}}
	executor := newTestExecutor(t, repo, composer, nil, &fakeSender{}, newMemLocker())

	result, err := executor.Execute(context.Background(), "b1", "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Sent != 1 || result.Failed != 2 {
		t.Fatalf("result = %+v, want sent 1, failed 2", result)
	}

	if item := repo.item("i2"); item.Status != domain.ItemStatusFailed || !strings.Contains(*item.Error, "render service returned 500") {
		t.Fatalf("item i2 = %s %v", item.Status, item.Error)
	}
	if item := repo.item("i3"); item.Status != domain.ItemStatusFailed || !strings.Contains(*item.Error, "nil entry") {
		t.Fatalf("item i3 = %s %v", item.Status, item.Error)
	}
}

func TestExecutorExecuteCancelledLeavesItemsPending(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	seedThreeItemBatch(repo)
	sender := &fakeSender{}
	executor := newTestExecutor(t, repo, &fakeComposer{}, nil, sender, newMemLocker())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := executor.Execute(ctx, "b1", "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Attempted != 0 || result.Remaining != 3 {
		t.Fatalf("result = %+v, want nothing attempted and 3 remaining", result)
	}
	if result.Status != domain.BatchStatusInProgress {
		t.Fatalf("status = %s, want %s", result.Status, domain.BatchStatusInProgress)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent = %d, want 0", len(sender.sent))
	}
}

func TestExecutorExecuteResumeSkipsFinishedItems(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	dr := day(2026, 3, 10)
	repo.seed(domain.Batch{ID: "b1", Sequence: 5, DateFrom: dr.From, DateTo: dr.To},
		domain.BatchItem{ID: "i1", RecipientEmail: "a@example.com", EntryIDs: []string{"e1"}, Status: domain.ItemStatusSent},
		domain.BatchItem{ID: "i2", RecipientEmail: "b@example.com", EntryIDs: []string{"e1"}, Status: domain.ItemStatusFailed},
		domain.BatchItem{ID: "i3", RecipientEmail: "c@example.com", EntryIDs: []string{"e1"}},
	)
	sender := &fakeSender{}
	executor := newTestExecutor(t, repo, &fakeComposer{}, nil, sender, newMemLocker())

	result, err := executor.Execute(context.Background(), "b1", "u1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := sender.recipients(); fmt.Sprint(got) != "[c@example.com]" {
		t.Fatalf("delivered to %v, want only c", got)
	}
	if result.Status != domain.BatchStatusPartialFailure {
		t.Fatalf("status = %s, want %s", result.Status, domain.BatchStatusPartialFailure)
	}
}

func TestExecutorExecuteReturnsStorageErrors(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	seedThreeItemBatch(repo)
	repo.markItemSentFn = func(id string) error {
		if id == "i2" {
			return errors.New("connection reset")
		}
		return nil
	}
	sender := &fakeSender{}
	executor := newTestExecutor(t, repo, &fakeComposer{}, nil, sender, newMemLocker())

	result, err := executor.Execute(context.Background(), "b1", "")
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("Execute() error = %v, want storage error", err)
	}
	if result == nil || result.Sent != 2 {
		t.Fatalf("result = %+v, want the other two items sent", result)
	}
	if len(sender.sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(sender.sent))
	}
}

func TestExecutorExecuteConflicts(t *testing.T) {
	t.Parallel()

	t.Run("already executing", func(t *testing.T) {
		t.Parallel()

		repo := newMemBatchRepo()
		seedThreeItemBatch(repo)
		locker := newMemLocker()
		if _, err := locker.Acquire(context.Background(), lock.Execution("b1")); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		executor := newTestExecutor(t, repo, &fakeComposer{}, nil, &fakeSender{}, locker)

		if _, err := executor.Execute(context.Background(), "b1", ""); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("Execute() error = %v, want conflict", err)
		}
	})

	t.Run("unknown batch", func(t *testing.T) {
		t.Parallel()

		locker := newMemLocker()
		executor := newTestExecutor(t, newMemBatchRepo(), &fakeComposer{}, nil, &fakeSender{}, locker)

		if _, err := executor.Execute(context.Background(), "missing", ""); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Execute() error = %v, want not found", err)
		}
		if locker.isHeld(lock.Execution("missing")) {
			t.Fatal("execution lock still held")
		}
	})
}

func TestExecutorExecuteStopsWhenExecutionLockIsLost(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	seedThreeItemBatch(repo)
	locker := newMemLocker()
	sender := &fakeSender{}

	var composed int
	composer := &fakeComposer{composeFn: func(ctx context.Context, entryIDs []string, includeCertificates bool) ([]byte, error) {
		composed++
		// The lock lapses while the first package is still being built.
		locker.expire(lock.Execution("b1"))
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			t.Error("run was not stopped after the lock was lost")
		}
		return []byte("%PDF-1.7 late"), nil
	}}
	executor, err := NewExecutor(repo, composer, nil, sender, nil, locker, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	executor.SetLockRefreshInterval(5 * time.Millisecond)

	result, err := executor.Execute(context.Background(), "b1", "")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Execute() error = %v, want conflict", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent = %d, want nothing dispatched without the lock", len(sender.sent))
	}
	if composed != 1 {
		t.Fatalf("composed = %d, want no item started after the loss", composed)
	}
	if result == nil || result.Attempted != 0 || result.Remaining != 3 {
		t.Fatalf("result = %+v, want nothing attempted and 3 remaining", result)
	}
	for _, id := range []string{"i1", "i2", "i3"} {
		if got := repo.item(id).Status; got != domain.ItemStatusPending {
			t.Fatalf("item %s status = %s, want PENDING", id, got)
		}
	}
}

func TestExecutorExecuteKeepsRefreshedLock(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	seedThreeItemBatch(repo)
	locker := newMemLocker()
	sender := &fakeSender{}
	composer := &fakeComposer{composeFn: func(ctx context.Context, entryIDs []string, includeCertificates bool) ([]byte, error) {
		// Several refresh ticks pass during each item.
		time.Sleep(20 * time.Millisecond)
		return []byte("%PDF-1.7 fake"), nil
	}}
	executor, err := NewExecutor(repo, composer, nil, sender, nil, locker, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	executor.SetLockRefreshInterval(5 * time.Millisecond)

	result, err := executor.Execute(context.Background(), "b1", "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Sent != 3 {
		t.Fatalf("sent = %d, want 3", result.Sent)
	}
	if locker.isHeld(lock.Execution("b1")) {
		t.Fatal("execution lock still held after the run")
	}
}

func TestExecutorExecuteWaitsOnEmailRateLimit(t *testing.T) {
	t.Parallel()

	repo := newMemBatchRepo()
	seedThreeItemBatch(repo)

	var (
		mu     sync.Mutex
		scopes []string
	)
	limiter := &fakeRateLimiter{waitFn: func(ctx context.Context, scope string) error {
		mu.Lock()
		defer mu.Unlock()
		scopes = append(scopes, scope)
		return nil
	}}
	executor, err := NewExecutor(repo, &fakeComposer{}, nil, &fakeSender{}, limiter, newMemLocker(), 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	executor.now = func() time.Time { return time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC) }

	if _, err := executor.Execute(context.Background(), "b1", ""); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(scopes) != 3 {
		t.Fatalf("rate limiter waits = %d, want 3", len(scopes))
	}
	for _, scope := range scopes {
		if scope != ratelimit.ScopeEmail {
			t.Fatalf("scope = %q, want %q", scope, ratelimit.ScopeEmail)
		}
	}
	if sentAt := repo.item("i1").SentAt; sentAt == nil || !sentAt.Equal(time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)) {
		t.Fatalf("sentAt = %v", sentAt)
	}
}

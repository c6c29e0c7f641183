package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"engagement-hub/internal/adapters/sqlitestore"
	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/db"
)

func shortTimeout() Option {
	policy := DefaultPolicy()
	policy.AdapterTimeout = 20 * time.Millisecond
	return WithPolicy(policy)
}

func TestAdapterTimeoutMapsToUnavailable(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		status domain.ItemStatus
		op     domain.Operation
		want   error
	}{
		{"analyze", domain.ItemStatusDiscovered, domain.OpAnalyze, domain.ErrAnalysisUnavailable},
		{"generate", domain.ItemStatusAnalyzing, domain.OpGenerateDraft, domain.ErrGenerationUnavailable},
		{"refine", domain.ItemStatusDraftReady, domain.OpRefine, domain.ErrGenerationUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemItems(withDraft(itemIn("X", tt.status), "Черновик."))
			drafter, pub, elig := okAdapters()
			drafter.hang = true
			svc := newTestService(store, drafter, pub, elig, shortTimeout())

			_, err := runOperation(ctx, svc, tt.op, "X")
			if !errors.Is(err, tt.want) {
				t.Fatalf("ожидали %v, получили %v", tt.want, err)
			}
			if store.writeCount() != 0 {
				t.Fatalf("таймаут адаптера не должен менять элемент")
			}
			stored, _ := svc.Get(ctx, "X")
			if stored.Status != tt.status {
				t.Fatalf("статус изменился: %s", stored.Status)
			}
		})
	}
}

func TestPublishTimeoutMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := newMemItems(withDraft(itemIn("X", domain.ItemStatusApproved), "Текст."))
	drafter, pub, elig := okAdapters()
	pub.hang = true
	svc := newTestService(store, drafter, pub, elig, shortTimeout())

	item, err := svc.Publish(ctx, "X")
	if !errors.Is(err, domain.ErrPublishUnavailable) {
		t.Fatalf("ожидали ErrPublishUnavailable, получили %v", err)
	}
	if item.Status != domain.ItemStatusFailed || !strings.Contains(item.LastError, "deadline") {
		t.Fatalf("ожидали failed с причиной таймаута: %+v", item)
	}
}

func TestCancelledBeforeLockChangesNothing(t *testing.T) {
	store := newMemItems(withDraft(itemIn("X", domain.ItemStatusApproved), "Текст."))
	drafter, pub, elig := okAdapters()
	svc := newTestService(store, drafter, pub, elig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Publish(ctx, "X"); !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидали context.Canceled, получили %v", err)
	}
	if pub.callCount() != 0 || store.writeCount() != 0 {
		t.Fatalf("отменённый запрос не должен доходить до адаптера")
	}
}

func TestCancelAfterSendStillPersists(t *testing.T) {
	store := newMemItems(withDraft(itemIn("X", domain.ItemStatusApproved), "Текст."))
	drafter, pub, elig := okAdapters()
	ctx, cancel := context.WithCancel(context.Background())
	pub.sent = cancel
	svc := newTestService(store, drafter, pub, elig)

	item, err := svc.Publish(ctx, "X")
	if err != nil {
		t.Fatalf("публикация: %v", err)
	}
	if item.Status != domain.ItemStatusPublished || item.PublishedReferenceID != "golang/42" {
		t.Fatalf("ожидали сохранённую публикацию: %+v", item)
	}
	if len(elig.recorded) != 1 {
		t.Fatalf("публикация должна учитываться в лимите даже после отмены запроса")
	}
}

func TestConcurrentPublishRespectsAccountLimit(t *testing.T) {
	ctx := context.Background()
	store := newMemItems(
		withDraft(itemIn("A", domain.ItemStatusApproved), "Первый."),
		withDraft(itemIn("B", domain.ItemStatusApproved), "Второй."),
	)
	drafter, pub, elig := okAdapters()
	elig.limit = 1
	pub.sent = func() { time.Sleep(20 * time.Millisecond) }
	svc := newTestService(store, drafter, pub, elig)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"A", "B"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Publish(ctx, id)
		}()
	}
	wg.Wait()

	if pub.callCount() != 1 {
		t.Fatalf("при лимите 1 ожидали одну отправку, получили %d", pub.callCount())
	}
	ineligible := 0
	for _, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrAccountIneligible):
			ineligible++
		default:
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}
	if ineligible != 1 {
		t.Fatalf("ожидали один отказ по лимиту: %v", errs)
	}
}

func openSQLiteItems(t *testing.T) *sqlitestore.Store {
	t.Helper()
	gdb, err := db.OpenSQLite(fmt.Sprintf("file:workflow_%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("открытие SQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store, err := sqlitestore.New(gdb)
	if err != nil {
		t.Fatalf("подготовка SQLite: %v", err)
	}
	return store
}

func TestPublishOnSQLiteSurvivesCallerCancel(t *testing.T) {
	bg := context.Background()
	store := openSQLiteItems(t)
	item := itemIn("01HX", domain.ItemStatusDiscovered)
	item.DiscoveredAt = fixedClock()()
	if _, err := store.UpsertDiscovered(bg, []domain.EngagementItem{item}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	drafter, pub, elig := okAdapters()
	svc := NewService(store, drafter, pub, elig, WithClock(fixedClock()))
	if _, err := svc.Analyze(bg, item.ID); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if _, err := svc.GenerateDraft(bg, item.ID, DraftRequest{AccountID: "acct-1"}); err != nil {
		t.Fatalf("draft: %v", err)
	}
	if _, err := svc.Approve(bg, item.ID, Review{ReviewerID: "rev-1"}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	ctx, cancel := context.WithCancel(bg)
	pub.sent = cancel
	if _, err := svc.Publish(ctx, item.ID); err != nil {
		t.Fatalf("публикация после отмены запроса: %v", err)
	}
	stored, err := store.GetItem(bg, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.ItemStatusPublished || stored.PublishedReferenceID != "golang/42" {
		t.Fatalf("публикация не сохранена: %+v", stored)
	}
	if _, err := svc.Publish(bg, item.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("повторная публикация: ожидали ErrInvalidTransition, получили %v", err)
	}
	if pub.callCount() != 1 {
		t.Fatalf("ожидали одну отправку, получили %d", pub.callCount())
	}
}

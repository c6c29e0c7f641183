package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"engagement-hub/internal/domain"
)

func newTestService(store *memItems, drafter *fakeDrafter, pub *fakePublisher, elig *fakeEligibility, opts ...Option) *Service {
	opts = append([]Option{WithClock(fixedClock())}, opts...)
	return NewService(store, drafter, pub, elig, opts...)
}

func okAdapters() (*fakeDrafter, *fakePublisher, *fakeEligibility) {
	return &fakeDrafter{
			analysis: domain.Analysis{Score: 8, Recommended: true, Rationale: "по теме"},
			draft:    "Попробуйте RabbitMQ.",
		},
		&fakePublisher{ref: "golang/42"},
		&fakeEligibility{eligible: true}
}

func runOperation(ctx context.Context, s *Service, op domain.Operation, id string) (domain.EngagementItem, error) {
	switch op {
	case domain.OpAnalyze:
		return s.Analyze(ctx, id)
	case domain.OpGenerateDraft:
		return s.GenerateDraft(ctx, id, DraftRequest{AccountID: "acct-1"})
	case domain.OpRefine:
		return s.Refine(ctx, id, RefineRequest{Action: domain.RefineShorten})
	case domain.OpSubmitForReview:
		return s.SubmitForReview(ctx, id, "rev-1")
	case domain.OpEditDraft:
		return s.EditDraft(ctx, id, "Ручная правка.")
	case domain.OpApprove:
		return s.Approve(ctx, id, Review{ReviewerID: "rev-1"})
	case domain.OpReject:
		return s.Reject(ctx, id, Review{ReviewerID: "rev-1", Notes: "не по теме"})
	case domain.OpPublish:
		return s.Publish(ctx, id)
	}
	panic("unknown operation " + op)
}

func TestTransitionMatrix(t *testing.T) {
	ctx := context.Background()
	for _, status := range domain.ItemStatuses {
		for _, op := range domain.Operations {
			item := withDraft(itemIn("x", status), "Черновик ответа.")
			store := newMemItems(item)
			drafter, pub, elig := okAdapters()
			svc := newTestService(store, drafter, pub, elig)

			updated, err := runOperation(ctx, svc, op, "x")
			if domain.Allowed(op, status) {
				if err != nil {
					t.Fatalf("%s из %s: не ожидали ошибку: %v", op, status, err)
				}
				if !containsStatus(domain.Targets(op, status), updated.Status) {
					t.Fatalf("%s из %s: неожиданный статус %s", op, status, updated.Status)
				}
				continue
			}
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Fatalf("%s из %s: ожидали ErrInvalidTransition, получили %v", op, status, err)
			}
			if store.writeCount() != 0 {
				t.Fatalf("%s из %s: недопустимая операция изменила элемент", op, status)
			}
		}
	}
}

func containsStatus(list []domain.ItemStatus, status domain.ItemStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func TestHappyPathScenario(t *testing.T) {
	ctx := context.Background()
	store := newMemItems(itemIn("X", domain.ItemStatusDiscovered))
	drafter, pub, elig := okAdapters()
	events := &recordedEvents{}
	svc := newTestService(store, drafter, pub, elig, WithEvents(events))

	item, err := svc.Analyze(ctx, "X")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if item.Status != domain.ItemStatusAnalyzing || item.RelevanceScore == nil || *item.RelevanceScore != 8 {
		t.Fatalf("analyze: неожиданный элемент %+v", item)
	}
	if !item.IsRecommended || item.LowRelevance {
		t.Fatalf("analyze: ожидали рекомендацию без флага низкой релевантности")
	}

	item, err = svc.GenerateDraft(ctx, "X", DraftRequest{AccountID: "acct1", Options: domain.DraftOptions{Length: "standard"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if item.Status != domain.ItemStatusDraftReady || item.GeneratedDraft == "" || item.EditedDraft != item.GeneratedDraft {
		t.Fatalf("generate: неожиданный элемент %+v", item)
	}
	if item.AssignedAccountID != "acct1" {
		t.Fatalf("generate: аккаунт не назначен")
	}

	item, err = svc.Approve(ctx, "X", Review{ReviewerID: "rev"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if item.Status != domain.ItemStatusApproved || item.ReviewedAt == nil {
		t.Fatalf("approve: неожиданный элемент %+v", item)
	}

	item, err = svc.Publish(ctx, "X")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if item.Status != domain.ItemStatusPublished || item.PublishedAt == nil || item.PublishedReferenceID != "golang/42" {
		t.Fatalf("publish: неожиданный элемент %+v", item)
	}
	if len(elig.recorded) != 1 || elig.recorded[0] != "acct1" {
		t.Fatalf("publish: ожидали учёт публикации, получили %v", elig.recorded)
	}

	if _, err := svc.Publish(ctx, "X"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("повторный publish: ожидали ErrInvalidTransition, получили %v", err)
	}
	stored, _ := svc.Get(ctx, "X")
	if stored.Status != domain.ItemStatusPublished {
		t.Fatalf("статус откатился: %s", stored.Status)
	}
	if pub.calls != 1 {
		t.Fatalf("ожидали один вызов публикации, получили %d", pub.calls)
	}

	want := []string{"item.analyze", "item.generate_draft", "item.approve", "item.publish"}
	if got := events.names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("события: ожидали %v, получили %v", want, got)
	}
}

func TestApproveContentTooLong(t *testing.T) {
	ctx := context.Background()
	store := newMemItems(itemIn("X", domain.ItemStatusAnalyzing))
	drafter, pub, elig := okAdapters()
	drafter.draft = strings.Repeat("я", 10001)
	svc := newTestService(store, drafter, pub, elig)

	if _, err := svc.GenerateDraft(ctx, "X", DraftRequest{}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.Approve(ctx, "X", Review{}); !errors.Is(err, domain.ErrContentTooLong) {
		t.Fatalf("ожидали ErrContentTooLong, получили %v", err)
	}
	item, _ := svc.Get(ctx, "X")
	if item.Status != domain.ItemStatusDraftReady || item.ReviewedAt != nil {
		t.Fatalf("элемент изменился: %+v", item)
	}
}

func TestApproveExactLimitAllowed(t *testing.T) {
	store := newMemItems(withDraft(itemIn("X", domain.ItemStatusDraftReady), strings.Repeat("я", 10000)))
	drafter, pub, elig := okAdapters()
	svc := newTestService(store, drafter, pub, elig)
	if _, err := svc.Approve(context.Background(), "X", Review{}); err != nil {
		t.Fatalf("не ожидали ошибку на границе лимита: %v", err)
	}
}

func TestApproveTwiceRejected(t *testing.T) {
	ctx := context.Background()
	store := newMemItems(withDraft(itemIn("X", domain.ItemStatusInReview), "Текст."))
	drafter, pub, elig := okAdapters()
	svc := newTestService(store, drafter, pub, elig)
	if _, err := svc.Approve(ctx, "X", Review{}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.Approve(ctx, "X", Review{}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("ожидали ErrInvalidTransition, получили %v", err)
	}
}

func TestRefineUsesGeneratedThenEdited(t *testing.T) {
	ctx := context.Background()
	item := itemIn("X", domain.ItemStatusDraftReady)
	item.GeneratedDraft = "исходный текст"
	store := newMemItems(item)
	drafter, pub, elig := okAdapters()
	svc := newTestService(store, drafter, pub, elig)

	first, err := svc.Refine(ctx, "X", RefineRequest{Action: domain.RefineShorten})
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if first.EditedDraft != "ИСХОДНЫЙ ТЕКСТ [shorten]" || first.GeneratedDraft != "исходный текст" {
		t.Fatalf("неожиданный результат первой доработки: %+v", first)
	}
	if first.Status != domain.ItemStatusDraftReady {
		t.Fatalf("refine не должен менять статус")
	}
	if _, err := svc.Refine(ctx, "X", RefineRequest{Action: domain.RefineShorten}); err != nil {
		t.Fatalf("refine: %v", err)
	}
	if got := drafter.refineInput; len(got) != 2 || got[0] != "исходный текст" || got[1] != first.EditedDraft {
		t.Fatalf("неожиданные входы доработки: %v", got)
	}
}

func TestRefineRejectsUnknownAction(t *testing.T) {
	store := newMemItems(withDraft(itemIn("X", domain.ItemStatusDraftReady), "Текст."))
	drafter, pub, elig := okAdapters()
	svc := newTestService(store, drafter, pub, elig)
	if _, err := svc.Refine(context.Background(), "X", RefineRequest{Action: "translate"}); !errors.Is(err, domain.ErrInvalidParams) {
		t.Fatalf("ожидали ErrInvalidParams, получили %v", err)
	}
}

func TestAdapterFailuresLeaveItemUnchanged(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		status domain.ItemStatus
		setup  func(*fakeDrafter)
		op     domain.Operation
		want   error
	}{
		{"analyze", domain.ItemStatusDiscovered, func(d *fakeDrafter) { d.analyzeErr = errAdapter }, domain.OpAnalyze, domain.ErrAnalysisUnavailable},
		{"generate", domain.ItemStatusAnalyzing, func(d *fakeDrafter) { d.generateErr = errAdapter }, domain.OpGenerateDraft, domain.ErrGenerationUnavailable},
		{"generate empty", domain.ItemStatusAnalyzing, func(d *fakeDrafter) { d.draft = "  " }, domain.OpGenerateDraft, domain.ErrGenerationUnavailable},
		{"refine", domain.ItemStatusInReview, func(d *fakeDrafter) { d.refineErr = errAdapter }, domain.OpRefine, domain.ErrGenerationUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := withDraft(itemIn("X", tt.status), "Черновик.")
			store := newMemItems(original)
			drafter, pub, elig := okAdapters()
			tt.setup(drafter)
			svc := newTestService(store, drafter, pub, elig)

			if _, err := runOperation(ctx, svc, tt.op, "X"); !errors.Is(err, tt.want) {
				t.Fatalf("ожидали %v, получили %v", tt.want, err)
			}
			stored, _ := svc.Get(ctx, "X")
			if stored.Version != original.Version || stored.Status != tt.status {
				t.Fatalf("элемент изменился после ошибки: %+v", stored)
			}
		})
	}
}

func TestLowRelevanceFlag(t *testing.T) {
	ctx := context.Background()
	store := newMemItems(itemIn("X", domain.ItemStatusDiscovered))
	drafter, pub, elig := okAdapters()
	drafter.analysis = domain.Analysis{Score: 3}
	svc := newTestService(store, drafter, pub, elig)

	item, err := svc.Analyze(ctx, "X")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !item.LowRelevance || item.IsRecommended {
		t.Fatalf("ожидали флаг низкой релевантности: %+v", item)
	}
	item, err = svc.GenerateDraft(ctx, "X", DraftRequest{})
	if err != nil {
		t.Fatalf("черновик должен создаваться и при низкой релевантности: %v", err)
	}
	if !item.LowRelevance || item.Status != domain.ItemStatusDraftReady {
		t.Fatalf("неожиданный элемент: %+v", item)
	}
}

func TestRegenerateKeepsEditAndReview(t *testing.T) {
	ctx := context.Background()
	item := withDraft(itemIn("X", domain.ItemStatusInReview), "старый")
	item.EditedDraft = "правка ревьюера"
	item.ReviewerNotes = "смягчить тон"
	store := newMemItems(item)
	drafter, pub, elig := okAdapters()
	svc := newTestService(store, drafter, pub, elig)

	updated, err := svc.GenerateDraft(ctx, "X", DraftRequest{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if updated.Status != domain.ItemStatusDraftReady || updated.EditedDraft != "правка ревьюера" || updated.ReviewerNotes != "смягчить тон" {
		t.Fatalf("неожиданный элемент: %+v", updated)
	}
	if updated.GeneratedDraft != drafter.draft {
		t.Fatalf("сгенерированный черновик не обновлён")
	}
}

func TestPublishPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("no account", func(t *testing.T) {
		item := itemIn("X", domain.ItemStatusApproved)
		item.GeneratedDraft = "Текст."
		store := newMemItems(item)
		drafter, pub, elig := okAdapters()
		svc := newTestService(store, drafter, pub, elig)
		if _, err := svc.Publish(ctx, "X"); !errors.Is(err, domain.ErrAccountIneligible) {
			t.Fatalf("ожидали ErrAccountIneligible, получили %v", err)
		}
		if pub.calls != 0 {
			t.Fatalf("публикация не должна вызываться")
		}
	})

	t.Run("ineligible", func(t *testing.T) {
		store := newMemItems(withDraft(itemIn("X", domain.ItemStatusApproved), "Текст."))
		drafter, pub, elig := okAdapters()
		elig.eligible = false
		svc := newTestService(store, drafter, pub, elig)
		if _, err := svc.Publish(ctx, "X"); !errors.Is(err, domain.ErrAccountIneligible) {
			t.Fatalf("ожидали ErrAccountIneligible, получили %v", err)
		}
		stored, _ := svc.Get(ctx, "X")
		if stored.Status != domain.ItemStatusApproved {
			t.Fatalf("статус не должен меняться: %s", stored.Status)
		}
	})

	t.Run("adapter failure is terminal", func(t *testing.T) {
		store := newMemItems(withDraft(itemIn("X", domain.ItemStatusApproved), "Текст."))
		drafter, pub, elig := okAdapters()
		pub.err = errAdapter
		svc := newTestService(store, drafter, pub, elig)
		item, err := svc.Publish(ctx, "X")
		if !errors.Is(err, domain.ErrPublishUnavailable) {
			t.Fatalf("ожидали ErrPublishUnavailable, получили %v", err)
		}
		if item.Status != domain.ItemStatusFailed || item.LastError == "" {
			t.Fatalf("ожидали статус failed с ошибкой: %+v", item)
		}
		if _, err := svc.Publish(ctx, "X"); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("повторная публикация: ожидали ErrInvalidTransition, получили %v", err)
		}
		if pub.calls != 1 {
			t.Fatalf("ожидали один вызов публикации, получили %d", pub.calls)
		}
	})
}

func TestNotFound(t *testing.T) {
	drafter, pub, elig := okAdapters()
	svc := newTestService(newMemItems(), drafter, pub, elig)
	if _, err := svc.Approve(context.Background(), "missing", Review{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func TestRefineAndApproveSerialized(t *testing.T) {
	ctx := context.Background()
	store := newMemItems(withDraft(itemIn("X", domain.ItemStatusInReview), "черновик"))
	drafter, pub, elig := okAdapters()
	drafter.block = make(chan struct{})
	drafter.entered = make(chan struct{})
	svc := newTestService(store, drafter, pub, elig)

	var wg sync.WaitGroup
	var refineErr, approveErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, refineErr = svc.Refine(ctx, "X", RefineRequest{Action: domain.RefineExpand})
	}()
	<-drafter.entered

	approved := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(approved)
		_, approveErr = svc.Approve(ctx, "X", Review{})
	}()

	select {
	case <-approved:
		t.Fatalf("approve выполнился, пока refine держит элемент")
	case <-time.After(50 * time.Millisecond):
	}
	close(drafter.block)
	wg.Wait()

	if refineErr != nil || approveErr != nil {
		t.Fatalf("не ожидали ошибок: refine=%v approve=%v", refineErr, approveErr)
	}
	item, _ := svc.Get(ctx, "X")
	if item.Status != domain.ItemStatusApproved || item.EditedDraft != "ЧЕРНОВИК [expand]" || item.Version != 3 {
		t.Fatalf("одобрение применилось к устаревшему чтению: %+v", item)
	}
}

func TestListValidatesStatuses(t *testing.T) {
	drafter, pub, elig := okAdapters()
	svc := newTestService(newMemItems(), drafter, pub, elig)
	_, err := svc.List(context.Background(), domain.ItemFilter{Statuses: []domain.ItemStatus{"archived"}})
	if !errors.Is(err, domain.ErrInvalidParams) {
		t.Fatalf("ожидали ErrInvalidParams, получили %v", err)
	}
}

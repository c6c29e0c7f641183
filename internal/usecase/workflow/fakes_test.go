package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"engagement-hub/internal/domain"
)

type memItems struct {
	mu     sync.Mutex
	items  map[string]domain.EngagementItem
	writes int
}

func newMemItems(items ...domain.EngagementItem) *memItems {
	m := &memItems{items: make(map[string]domain.EngagementItem)}
	for _, item := range items {
		if item.Version == 0 {
			item.Version = 1
		}
		m.items[item.ID] = item
	}
	return m
}

func (m *memItems) UpsertDiscovered(_ context.Context, items []domain.EngagementItem) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		item.Version = 1
		m.items[item.ID] = item
	}
	return len(items), nil
}

func (m *memItems) GetItem(ctx context.Context, id string) (domain.EngagementItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.EngagementItem{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return domain.EngagementItem{}, domain.ErrNotFound
	}
	return item, nil
}

func (m *memItems) ListItems(_ context.Context, filter domain.ItemFilter) ([]domain.EngagementItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.EngagementItem
	for _, item := range m.items {
		if filter.Scope != "" && item.Scope != filter.Scope {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (m *memItems) UpdateItem(ctx context.Context, item domain.EngagementItem, expected int64) (domain.EngagementItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.EngagementItem{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[item.ID]
	if !ok {
		return domain.EngagementItem{}, domain.ErrNotFound
	}
	if current.Version != expected {
		return domain.EngagementItem{}, domain.ErrVersionConflict
	}
	if !domain.ValidStatusChange(current.Status, item.Status) {
		return domain.EngagementItem{}, &domain.TransitionError{ItemID: item.ID, From: current.Status}
	}
	item.Version = expected + 1
	m.items[item.ID] = item
	m.writes++
	return item, nil
}

func (m *memItems) ListPublished(context.Context, string) ([]domain.EngagementItem, error) {
	return nil, nil
}

func (m *memItems) UpdatePublishedStats(context.Context, domain.PostStats, time.Time) error {
	return nil
}

func (m *memItems) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type fakeDrafter struct {
	analysis    domain.Analysis
	analyzeErr  error
	draft       string
	generateErr error
	refineErr   error
	// block, если задан, удерживает Refine до закрытия канала.
	block   chan struct{}
	entered chan struct{}
	// hang заставляет все вызовы ждать отмены контекста.
	hang bool

	mu          sync.Mutex
	refineInput []string
}

func (f *fakeDrafter) Analyze(ctx context.Context, _ domain.EngagementItem) (domain.Analysis, error) {
	if f.hang {
		<-ctx.Done()
		return domain.Analysis{}, ctx.Err()
	}
	return f.analysis, f.analyzeErr
}

func (f *fakeDrafter) Generate(ctx context.Context, _ domain.EngagementItem, _ domain.DraftOptions) (string, error) {
	if f.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.draft, f.generateErr
}

func (f *fakeDrafter) Refine(ctx context.Context, text string, action domain.RefineAction, _ string) (string, error) {
	if f.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	f.refineInput = append(f.refineInput, text)
	f.mu.Unlock()
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	if f.refineErr != nil {
		return "", f.refineErr
	}
	return strings.ToUpper(text) + " [" + string(action) + "]", nil
}

type fakePublisher struct {
	ref  string
	err  error
	hang bool
	// sent вызывается после отправки, до возврата из Publish.
	sent func()

	mu    sync.Mutex
	calls int
	text  string
}

func (f *fakePublisher) Publish(ctx context.Context, req domain.PublishRequest) (string, error) {
	if f.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	f.calls++
	f.text = req.Text
	f.mu.Unlock()
	if f.sent != nil {
		f.sent()
	}
	return f.ref, f.err
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEligibility при limit > 0 ведёт себя как дневной лимит: проверка и учёт раздельны.
type fakeEligibility struct {
	eligible bool
	err      error
	limit    int

	mu       sync.Mutex
	recorded []string
}

func (f *fakeEligibility) IsEligible(context.Context, string) (bool, error) {
	if f.err != nil || !f.eligible {
		return false, f.err
	}
	if f.limit <= 0 {
		return true, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded) < f.limit, nil
}

func (f *fakeEligibility) RecordPublish(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, accountID)
	return nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordedEvents) Publish(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordedEvents) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

var errAdapter = errors.New("adapter down")

func fixedClock() func() time.Time {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func itemIn(id string, status domain.ItemStatus) domain.EngagementItem {
	return domain.EngagementItem{
		ID:             id,
		Scope:          "acme",
		SourcePostID:   "p-" + id,
		Community:      "golang",
		Title:          "Как выбрать очередь?",
		Body:           "Подскажите брокер для фоновых задач",
		MatchedKeyword: "очередь",
		Status:         status,
		Version:        1,
	}
}

func withDraft(item domain.EngagementItem, draft string) domain.EngagementItem {
	item.GeneratedDraft = draft
	item.AssignedAccountID = "acct-1"
	return item
}

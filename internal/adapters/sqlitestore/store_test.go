package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-hub/internal/domain"
	"engagement-hub/internal/infra/db"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store, err := New(gdb)
	require.NoError(t, err)
	return store
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	job, err := store.CreateJob(ctx, domain.JobKindContentDiscovery, "acme", domain.JobParams{Keywords: []string{"go"}, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	_, err = store.CreateJob(ctx, domain.JobKindContentDiscovery, "acme", domain.JobParams{})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, job.ID, conflict.ActiveJobID)

	_, err = store.CreateJob(ctx, domain.JobKindChannelDiscovery, "acme", domain.JobParams{})
	require.NoError(t, err, "другой тип задачи не конфликтует")

	require.NoError(t, store.MarkRunning(ctx, job.ID))
	require.NoError(t, store.UpdateProgress(ctx, job.ID, 70, 5, 1))
	require.NoError(t, store.UpdateProgress(ctx, job.ID, 30, 6, 1))
	require.NoError(t, store.UpdateProgress(ctx, job.ID, 150, 7, 1))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, got.Status)
	assert.Equal(t, domain.MaxRunningProgress, got.Progress)
	assert.Equal(t, 7, got.ResultCount)
	assert.Equal(t, []string{"go"}, got.Params.Keywords)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, store.FailJob(ctx, job.ID, "flood wait"))
	require.NoError(t, store.CompleteJob(ctx, job.ID, 7, 1))
	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "flood wait", got.Error)

	_, err = store.CreateJob(ctx, domain.JobKindContentDiscovery, "acme", domain.JobParams{})
	require.NoError(t, err, "после завершения задача запускается снова")

	jobs, err := store.ListJobs(ctx, domain.JobFilter{Scope: "acme", Kind: domain.JobKindContentDiscovery})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	n, err := store.FailInterrupted(ctx, "interrupted by restart")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentCreateJob(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateJob(ctx, domain.JobKindAnalyticsSync, "race", domain.JobParams{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrJobConflict):
				conflicts++
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	assert.Equal(t, 9, conflicts)
}

func discovered(id, post string, at time.Time) domain.EngagementItem {
	return domain.EngagementItem{ID: id, Scope: "acme", SourcePostID: post, Community: "golang", Title: "t-" + id, DiscoveredAt: at}
}

func TestItemStore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	n, err := store.UpsertDiscovered(ctx, []domain.EngagementItem{
		discovered("a", "1", base),
		discovered("b", "2", base.Add(time.Minute)),
		discovered("c", "3", base.Add(2*time.Minute)),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	item, err := store.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusDiscovered, item.Status)
	assert.Equal(t, int64(1), item.Version)

	score := 8.0
	item.Status = domain.ItemStatusAnalyzing
	item.RelevanceScore = &score
	saved, err := store.UpdateItem(ctx, item, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)
	require.NotNil(t, saved.RelevanceScore)
	assert.InDelta(t, 8.0, *saved.RelevanceScore, 0.001)

	_, err = store.UpdateItem(ctx, item, 1)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	saved.Status = domain.ItemStatusApproved
	_, err = store.UpdateItem(ctx, saved, saved.Version)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// Повторное обнаружение обновляет контент, но не статус.
	dup := discovered("a-dup", "1", base)
	dup.Title = "обновлённый"
	_, err = store.UpsertDiscovered(ctx, []domain.EngagementItem{dup})
	require.NoError(t, err)
	item, err = store.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "обновлённый", item.Title)
	assert.Equal(t, domain.ItemStatusAnalyzing, item.Status)
	_, err = store.GetItem(ctx, "a-dup")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := store.ListItems(ctx, domain.ItemFilter{Scope: "acme", Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	list, err = store.ListItems(ctx, domain.ItemFilter{Scope: "acme", Before: "b"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)

	list, err = store.ListItems(ctx, domain.ItemFilter{Scope: "acme", Statuses: []domain.ItemStatus{domain.ItemStatusAnalyzing}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)
}

func TestPublishedStats(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	_, err := store.UpsertDiscovered(ctx, []domain.EngagementItem{discovered("p", "1", time.Now())})
	require.NoError(t, err)

	item, err := store.GetItem(ctx, "p")
	require.NoError(t, err)
	steps := []domain.ItemStatus{domain.ItemStatusDraftReady, domain.ItemStatusApproved, domain.ItemStatusPublished}
	for _, status := range steps {
		item.Status = status
		item.GeneratedDraft = "ответ"
		if status == domain.ItemStatusPublished {
			now := time.Now().UTC()
			item.PublishedAt = &now
			item.PublishedReferenceID = "golang/10"
		}
		item, err = store.UpdateItem(ctx, item, item.Version)
		require.NoError(t, err)
	}

	published, err := store.ListPublished(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, published, 1)

	require.NoError(t, store.UpdatePublishedStats(ctx, domain.PostStats{ItemID: "p", Score: 42, Replies: 3}, time.Now()))
	item, err = store.GetItem(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, item.PublishedScore)
	assert.Equal(t, 42, *item.PublishedScore)
	assert.Equal(t, domain.ItemStatusPublished, item.Status)

	assert.ErrorIs(t, store.UpdatePublishedStats(ctx, domain.PostStats{ItemID: "nope"}, time.Now()), domain.ErrNotFound)
}

func TestChannelsAndEvents(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.UpsertChannels(ctx, []domain.DiscoveredChannel{
		{Scope: "acme", ExternalID: 1, Alias: "gophers", Title: "Gophers"},
		{Scope: "acme", ExternalID: 2, Alias: "golang_ru", Title: "Go RU"},
	})
	require.NoError(t, err)
	_, err = store.UpsertChannels(ctx, []domain.DiscoveredChannel{{Scope: "acme", ExternalID: 1, Alias: "gophers", Title: "Gophers!", Participants: 10}})
	require.NoError(t, err)

	channels, err := store.ListChannels(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, channels, 2)

	require.NoError(t, store.Publish(ctx, domain.Event{Name: "item.approve", Scope: "acme", ItemID: "x", Metadata: map[string]any{"a": 1}}))
	var count int64
	require.NoError(t, store.db.Model(&eventRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

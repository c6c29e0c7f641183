package sqlitestore

import (
	"time"

	"engagement-hub/internal/domain"
)

type jobRecord struct {
	ID           string           `gorm:"primaryKey;type:varchar(36)"`
	Kind         string           `gorm:"type:varchar(32);not null"`
	Scope        string           `gorm:"type:varchar(128);not null;index:idx_jobs_scope_created,priority:1"`
	Status       string           `gorm:"type:varchar(16);not null"`
	Progress     int              `gorm:"not null;default:0"`
	ResultCount  int              `gorm:"not null;default:0"`
	SkippedCount int              `gorm:"not null;default:0"`
	Error        string           `gorm:"type:text;not null;default:''"`
	Params       domain.JobParams `gorm:"serializer:json"`
	CreatedAt    time.Time        `gorm:"index:idx_jobs_scope_created,priority:2"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

func (jobRecord) TableName() string { return "jobs" }

func (r jobRecord) toDomain() domain.Job {
	return domain.Job{
		ID:           r.ID,
		Kind:         domain.JobKind(r.Kind),
		Scope:        r.Scope,
		Status:       domain.JobStatus(r.Status),
		Progress:     r.Progress,
		ResultCount:  r.ResultCount,
		SkippedCount: r.SkippedCount,
		Error:        r.Error,
		Params:       r.Params,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
}

type itemRecord struct {
	ID           string `gorm:"primaryKey;type:varchar(32)"`
	Scope        string `gorm:"type:varchar(128);not null;uniqueIndex:uniq_items_source,priority:1;index:idx_items_scope_discovered,priority:1"`
	SourcePostID string `gorm:"type:varchar(128);not null;uniqueIndex:uniq_items_source,priority:3"`
	Community    string `gorm:"type:varchar(128);not null;uniqueIndex:uniq_items_source,priority:2"`
	SourceURL    string
	SourceJobID  string

	Title          string `gorm:"type:text"`
	Body           string `gorm:"type:text"`
	Author         string
	MatchedKeyword string

	RelevanceScore  *float64
	IsRecommended   bool
	AnalysisSummary string `gorm:"type:text"`
	LowRelevance    bool

	GeneratedDraft string `gorm:"type:text"`
	EditedDraft    string `gorm:"type:text"`

	Status               string `gorm:"type:varchar(16);not null;index"`
	AssignedAccountID    string
	ReviewerID           string
	ReviewerNotes        string `gorm:"type:text"`
	ReviewedAt           *time.Time
	PublishedAt          *time.Time
	PublishedReferenceID string
	PublishedScore       *int
	ReplyCount           *int
	StatsRefreshedAt     *time.Time
	LastError            string `gorm:"type:text"`

	DiscoveredAt time.Time `gorm:"index:idx_items_scope_discovered,priority:2"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
	Version      int64     `gorm:"not null;default:1"`
}

func (itemRecord) TableName() string { return "engagement_items" }

func itemFromDomain(i domain.EngagementItem) itemRecord {
	return itemRecord{
		ID:                   i.ID,
		Scope:                i.Scope,
		SourcePostID:         i.SourcePostID,
		Community:            i.Community,
		SourceURL:            i.SourceURL,
		SourceJobID:          i.SourceJobID,
		Title:                i.Title,
		Body:                 i.Body,
		Author:               i.Author,
		MatchedKeyword:       i.MatchedKeyword,
		RelevanceScore:       i.RelevanceScore,
		IsRecommended:        i.IsRecommended,
		AnalysisSummary:      i.AnalysisSummary,
		LowRelevance:         i.LowRelevance,
		GeneratedDraft:       i.GeneratedDraft,
		EditedDraft:          i.EditedDraft,
		Status:               string(i.Status),
		AssignedAccountID:    i.AssignedAccountID,
		ReviewerID:           i.ReviewerID,
		ReviewerNotes:        i.ReviewerNotes,
		ReviewedAt:           utcPtr(i.ReviewedAt),
		PublishedAt:          utcPtr(i.PublishedAt),
		PublishedReferenceID: i.PublishedReferenceID,
		PublishedScore:       i.PublishedScore,
		ReplyCount:           i.ReplyCount,
		StatsRefreshedAt:     utcPtr(i.StatsRefreshedAt),
		LastError:            i.LastError,
		DiscoveredAt:         i.DiscoveredAt.UTC(),
		UpdatedAt:            i.UpdatedAt.UTC(),
		Version:              i.Version,
	}
}

func (r itemRecord) toDomain() domain.EngagementItem {
	return domain.EngagementItem{
		ID:                   r.ID,
		Scope:                r.Scope,
		SourcePostID:         r.SourcePostID,
		Community:            r.Community,
		SourceURL:            r.SourceURL,
		SourceJobID:          r.SourceJobID,
		Title:                r.Title,
		Body:                 r.Body,
		Author:               r.Author,
		MatchedKeyword:       r.MatchedKeyword,
		RelevanceScore:       r.RelevanceScore,
		IsRecommended:        r.IsRecommended,
		AnalysisSummary:      r.AnalysisSummary,
		LowRelevance:         r.LowRelevance,
		GeneratedDraft:       r.GeneratedDraft,
		EditedDraft:          r.EditedDraft,
		Status:               domain.ItemStatus(r.Status),
		AssignedAccountID:    r.AssignedAccountID,
		ReviewerID:           r.ReviewerID,
		ReviewerNotes:        r.ReviewerNotes,
		ReviewedAt:           r.ReviewedAt,
		PublishedAt:          r.PublishedAt,
		PublishedReferenceID: r.PublishedReferenceID,
		PublishedScore:       r.PublishedScore,
		ReplyCount:           r.ReplyCount,
		StatsRefreshedAt:     r.StatsRefreshedAt,
		LastError:            r.LastError,
		DiscoveredAt:         r.DiscoveredAt,
		UpdatedAt:            r.UpdatedAt,
		Version:              r.Version,
	}
}

type channelRecord struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	Scope          string `gorm:"type:varchar(128);not null;uniqueIndex:uniq_channels_external,priority:1"`
	ExternalID     int64  `gorm:"not null;uniqueIndex:uniq_channels_external,priority:2"`
	Alias          string `gorm:"type:varchar(64);not null"`
	Title          string
	Participants   int
	MatchedKeyword string
	SourceJobID    string
	DiscoveredAt   time.Time
	UpdatedAt      time.Time
}

func (channelRecord) TableName() string { return "discovered_channels" }

func (r channelRecord) toDomain() domain.DiscoveredChannel {
	return domain.DiscoveredChannel{
		ID:             r.ID,
		Scope:          r.Scope,
		ExternalID:     r.ExternalID,
		Alias:          r.Alias,
		Title:          r.Title,
		Participants:   r.Participants,
		MatchedKeyword: r.MatchedKeyword,
		SourceJobID:    r.SourceJobID,
		DiscoveredAt:   r.DiscoveredAt,
	}
}

type eventRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Name       string `gorm:"type:varchar(64);not null"`
	Scope      string `gorm:"type:varchar(128);not null"`
	ItemID     string `gorm:"index"`
	JobID      string
	FromStatus string
	ToStatus   string
	Metadata   map[string]any `gorm:"serializer:json"`
	OccurredAt time.Time
}

func (eventRecord) TableName() string { return "item_events" }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

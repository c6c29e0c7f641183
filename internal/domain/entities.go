package domain

import "time"

// EngagementItem описывает найденную публикацию, которая проходит путь от обнаружения до ответа.
type EngagementItem struct {
	ID           string `json:"id"`
	Scope        string `json:"scope"`
	SourcePostID string `json:"source_post_id"`
	Community    string `json:"community"`
	SourceURL    string `json:"source_url,omitempty"`
	SourceJobID  string `json:"source_job_id,omitempty"`

	Title          string `json:"title"`
	Body           string `json:"body,omitempty"`
	Author         string `json:"author,omitempty"`
	MatchedKeyword string `json:"matched_keyword,omitempty"`

	RelevanceScore  *float64 `json:"relevance_score,omitempty"`
	IsRecommended   bool     `json:"is_recommended"`
	AnalysisSummary string   `json:"analysis_summary,omitempty"`
	LowRelevance    bool     `json:"low_relevance"`

	GeneratedDraft string `json:"generated_draft,omitempty"`
	EditedDraft    string `json:"edited_draft,omitempty"`

	Status               ItemStatus `json:"status"`
	AssignedAccountID    string     `json:"assigned_account_id,omitempty"`
	ReviewerID           string     `json:"reviewer_id,omitempty"`
	ReviewerNotes        string     `json:"reviewer_notes,omitempty"`
	ReviewedAt           *time.Time `json:"reviewed_at,omitempty"`
	PublishedAt          *time.Time `json:"published_at,omitempty"`
	PublishedReferenceID string     `json:"published_reference_id,omitempty"`
	PublishedScore       *int       `json:"published_score,omitempty"`
	ReplyCount           *int       `json:"reply_count,omitempty"`
	StatsRefreshedAt     *time.Time `json:"stats_refreshed_at,omitempty"`
	LastError            string     `json:"last_error,omitempty"`

	DiscoveredAt time.Time `json:"discovered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int64     `json:"version"`
}

// CurrentDraft возвращает актуальный текст ответа: правка важнее сгенерированного черновика.
func (i EngagementItem) CurrentDraft() string {
	if !isBlank(i.EditedDraft) {
		return i.EditedDraft
	}
	return i.GeneratedDraft
}

// ItemFilter ограничивает выборку элементов.
type ItemFilter struct {
	Scope       string
	Statuses    []ItemStatus
	Community   string
	Recommended *bool
	// Before — курсор: вернуть элементы, идущие после элемента с этим ID.
	Before string
	Limit  int
}

// RawContentRecord — сырая запись, полученная от источника контента.
type RawContentRecord struct {
	SourcePostID   string
	Community      string
	URL            string
	Title          string
	Body           string
	Author         string
	MatchedKeyword string
	PostedAt       time.Time
}

// Validate проверяет, что запись пригодна для сохранения.
func (r RawContentRecord) Validate() error {
	if isBlank(r.SourcePostID) || isBlank(r.Community) {
		return ErrCorruptRecord
	}
	if isBlank(r.Title) && isBlank(r.Body) {
		return ErrCorruptRecord
	}
	return nil
}

// DiscoveredChannel описывает канал, найденный при поиске сообществ.
type DiscoveredChannel struct {
	ID             int64     `json:"id"`
	Scope          string    `json:"scope"`
	ExternalID     int64     `json:"external_id"`
	Alias          string    `json:"alias"`
	Title          string    `json:"title"`
	Participants   int       `json:"participants"`
	MatchedKeyword string    `json:"matched_keyword,omitempty"`
	SourceJobID    string    `json:"source_job_id,omitempty"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}

// PublishedRef указывает на опубликованный ответ для сбора статистики.
type PublishedRef struct {
	ItemID      string
	Community   string
	ReferenceID string
}

// PostStats — статистика опубликованного ответа.
type PostStats struct {
	ItemID  string
	Score   int
	Replies int
}

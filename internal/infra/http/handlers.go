package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"engagement-hub/internal/domain"
	"engagement-hub/internal/usecase/workflow"
)

// ItemService — операции конечного автомата, доступные через API.
type ItemService interface {
	Get(ctx context.Context, id string) (domain.EngagementItem, error)
	List(ctx context.Context, filter domain.ItemFilter) ([]domain.EngagementItem, error)
	Analyze(ctx context.Context, id string) (domain.EngagementItem, error)
	GenerateDraft(ctx context.Context, id string, req workflow.DraftRequest) (domain.EngagementItem, error)
	Refine(ctx context.Context, id string, req workflow.RefineRequest) (domain.EngagementItem, error)
	EditDraft(ctx context.Context, id, text string) (domain.EngagementItem, error)
	SubmitForReview(ctx context.Context, id, reviewerID string) (domain.EngagementItem, error)
	Approve(ctx context.Context, id string, review workflow.Review) (domain.EngagementItem, error)
	Reject(ctx context.Context, id string, review workflow.Review) (domain.EngagementItem, error)
	Publish(ctx context.Context, id string) (domain.EngagementItem, error)
	Batch(ctx context.Context, action workflow.BatchAction, ids []string, review workflow.Review) ([]workflow.Outcome, error)
}

// JobService запускает задачи и отдаёт их состояние.
type JobService interface {
	Start(ctx context.Context, kind domain.JobKind, scope string, params domain.JobParams) (domain.Job, error)
	Get(ctx context.Context, id string) (domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
}

// ChannelService отдаёт найденные каналы.
type ChannelService interface {
	List(ctx context.Context, scope string, limit int) ([]domain.DiscoveredChannel, error)
}

// Handler обслуживает /api/v1.
type Handler struct {
	items    ItemService
	jobs     JobService
	channels ChannelService
	log      zerolog.Logger
}

// NewHandler создаёт обработчики API.
func NewHandler(items ItemService, jobs JobService, channels ChannelService, log zerolog.Logger) *Handler {
	return &Handler{items: items, jobs: jobs, channels: channels, log: log}
}

// Mount регистрирует маршруты API под /api/v1 с проверкой токена.
func (h *Handler) Mount(r chi.Router, jwtSecret string) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		read := r.With(RequirePermission(domain.PermRead))
		draft := r.With(RequirePermission(domain.PermDraft))
		review := r.With(RequirePermission(domain.PermReview))

		r.With(RequirePermission(domain.PermStartJob)).Post("/jobs", h.startJob)
		read.Get("/jobs", h.listJobs)
		read.Get("/jobs/{id}", h.getJob)

		read.Get("/items", h.listItems)
		review.Post("/items/batch/{action}", h.batch)
		read.Get("/items/{id}", h.getItem)
		draft.Post("/items/{id}/analyze", h.analyze)
		draft.Post("/items/{id}/draft", h.generateDraft)
		draft.Put("/items/{id}/draft", h.editDraft)
		draft.Post("/items/{id}/refine", h.refine)
		draft.Post("/items/{id}/submit", h.submit)
		review.Post("/items/{id}/approve", h.approve)
		review.Post("/items/{id}/reject", h.reject)
		r.With(RequirePermission(domain.PermPublish)).Post("/items/{id}/publish", h.publish)

		read.Get("/channels", h.listChannels)
	})
}

type startJobRequest struct {
	Kind   domain.JobKind `json:"kind"`
	Params struct {
		Keywords    []string   `json:"keywords"`
		Communities []string   `json:"communities"`
		Limit       int        `json:"limit"`
		Since       *time.Time `json:"since"`
	} `json:"params"`
}

// StartJobResponse — ответ на запуск задачи.
type StartJobResponse struct {
	JobID string     `json:"job_id"`
	Job   domain.Job `json:"job"`
}

func (h *Handler) startJob(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var req startJobRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	job, err := h.jobs.Start(r.Context(), req.Kind, p.Scope, domain.JobParams{
		Keywords:    req.Params.Keywords,
		Communities: req.Params.Communities,
		Limit:       req.Params.Limit,
		Since:       req.Params.Since,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StartJobResponse{JobID: job.ID, Job: job})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err == nil && job.Scope != principal(r).Scope {
		err = domain.ErrNotFound
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := domain.JobFilter{
		Scope:  principal(r).Scope,
		Kind:   domain.JobKind(q.Get("kind")),
		Status: domain.JobStatus(q.Get("status")),
		Limit:  limit,
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		h.fail(w, r, fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidParams, filter.Kind))
		return
	}
	jobs, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": nonNil(jobs)})
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := domain.ItemFilter{
		Scope:     principal(r).Scope,
		Community: strings.TrimSpace(q.Get("community")),
		Before:    strings.TrimSpace(q.Get("before")),
		Limit:     limit,
	}
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, domain.ItemStatus(s))
			}
		}
	}
	if raw := q.Get("recommended"); raw != "" {
		rec, err := strconv.ParseBool(raw)
		if err != nil {
			h.fail(w, r, fmt.Errorf("%w: recommended must be a boolean", domain.ErrInvalidParams))
			return
		}
		filter.Recommended = &rec
	}
	items, err := h.items.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := map[string]any{"items": nonNil(items)}
	if len(items) > 0 && len(items) == workflow.ListLimit(filter.Limit) {
		resp["next_before"] = items[len(items)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	h.itemOp(w, r, func(ctx context.Context, id string) (domain.EngagementItem, error) {
		return h.items.Get(ctx, id)
	})
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	h.itemOp(w, r, h.items.Analyze)
}

type draftRequest struct {
	AccountID    string `json:"account_id"`
	Length       string `json:"length"`
	Style        string `json:"style"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions"`
}

func (h *Handler) generateDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.itemOp(w, r, func(ctx context.Context, id string) (domain.EngagementItem, error) {
		return h.items.GenerateDraft(ctx, id, workflow.DraftRequest{
			AccountID: req.AccountID,
			Options: domain.DraftOptions{
				Length:       req.Length,
				Style:        req.Style,
				Voice:        req.Voice,
				Instructions: req.Instructions,
			},
		})
	})
}

type editDraftRequest struct {
	Text string `json:"text"`
}

func (h *Handler) editDraft(w http.ResponseWriter, r *http.Request) {
	var req editDraftRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.itemOp(w, r, func(ctx context.Context, id string) (domain.EngagementItem, error) {
		return h.items.EditDraft(ctx, id, req.Text)
	})
}

type refineRequest struct {
	Action      domain.RefineAction `json:"action"`
	TargetStyle string              `json:"target_style"`
}

func (h *Handler) refine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.itemOp(w, r, func(ctx context.Context, id string) (domain.EngagementItem, error) {
		return h.items.Refine(ctx, id, workflow.RefineRequest{Action: req.Action, TargetStyle: req.TargetStyle})
	})
}

type reviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Notes      string `json:"notes"`
}

func (req reviewRequest) review(p Principal) workflow.Review {
	reviewer := strings.TrimSpace(req.ReviewerID)
	if reviewer == "" {
		reviewer = p.Subject
	}
	return workflow.Review{ReviewerID: reviewer, Notes: req.Notes}
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	reviewer := req.ReviewerID
	h.itemOp(w, r, func(ctx context.Context, id string) (domain.EngagementItem, error) {
		return h.items.SubmitForReview(ctx, id, reviewer)
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	review := req.review(principal(r))
	h.itemOp(w, r, func(ctx context.Context, id string) (domain.EngagementItem, error) {
		return h.items.Approve(ctx, id, review)
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	review := req.review(principal(r))
	h.itemOp(w, r, func(ctx context.Context, id string) (domain.EngagementItem, error) {
		return h.items.Reject(ctx, id, review)
	})
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	h.itemOp(w, r, h.items.Publish)
}

type batchRequest struct {
	IDs []string `json:"ids"`
	reviewRequest
}

// BatchResponse — результаты пакетной операции в порядке входных идентификаторов.
type BatchResponse struct {
	Outcomes []workflow.Outcome `json:"outcomes"`
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	action := workflow.BatchAction(chi.URLParam(r, "action"))
	if !action.Valid() {
		h.fail(w, r, fmt.Errorf("%w: batch action %q", domain.ErrInvalidParams, action))
		return
	}
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p := principal(r)
	ids := workflow.UniqueIDs(req.IDs)
	if len(ids) == 0 {
		h.fail(w, r, fmt.Errorf("%w: empty id list", domain.ErrInvalidParams))
		return
	}

	// Элементы чужой области отвечают так же, как отсутствующие.
	outcomes := make([]workflow.Outcome, len(ids))
	var inScope []string
	for i, id := range ids {
		item, err := h.items.Get(r.Context(), id)
		if err == nil && item.Scope != p.Scope {
			err = fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
		}
		if err != nil && errors.Is(err, domain.ErrNotFound) {
			outcomes[i] = workflow.Outcome{ItemID: id, Result: workflow.OutcomeError, Detail: err.Error(), Code: domain.ErrorCode(err)}
			continue
		}
		inScope = append(inScope, id)
	}

	if len(inScope) > 0 {
		results, err := h.items.Batch(r.Context(), action, inScope, req.review(p))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		byID := make(map[string]workflow.Outcome, len(results))
		for _, o := range results {
			byID[o.ItemID] = o
		}
		for i, id := range ids {
			if o, ok := byID[id]; ok {
				outcomes[i] = o
			}
		}
	}
	writeJSON(w, http.StatusOK, BatchResponse{Outcomes: outcomes})
}

func (h *Handler) listChannels(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	channels, err := h.channels.List(r.Context(), principal(r).Scope, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": nonNil(channels)})
}

// itemOp проверяет область элемента и выполняет операцию.
func (h *Handler) itemOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (domain.EngagementItem, error)) {
	id := chi.URLParam(r, "id")
	current, err := h.items.Get(r.Context(), id)
	if err == nil && current.Scope != principal(r).Scope {
		err = fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	item, err := op(r.Context(), id)
	if err != nil {
		h.logFailure(r, err)
		writeErrorWithItem(w, err, item)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logFailure(r, err)
	WriteError(w, err)
}

func (h *Handler) logFailure(r *http.Request, err error) {
	if StatusFor(err) == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("request_id", RequestID(r)).Str("path", r.URL.Path).Msg("http: внутренняя ошибка")
		return
	}
	h.log.Debug().Err(err).Str("request_id", RequestID(r)).Str("path", r.URL.Path).Msg("http: запрос отклонён")
}

func principal(r *http.Request) Principal {
	p, _ := PrincipalFrom(r.Context())
	return p
}

// decodeBody разбирает JSON; пустое тело оставляет значения по умолчанию.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: body: %v", domain.ErrInvalidParams, err)
	}
	return nil
}

func queryInt(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidParams)
	}
	return n, nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

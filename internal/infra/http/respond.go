package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"engagement-hub/internal/domain"
)

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error       string                 `json:"error"`
	Code        string                 `json:"code"`
	ActiveJobID string                 `json:"active_job_id,omitempty"`
	Item        *domain.EngagementItem `json:"item,omitempty"`
}

// StatusFor возвращает HTTP-статус для ошибки домена.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrJobConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrContentTooLong),
		errors.Is(err, domain.ErrDraftEmpty),
		errors.Is(err, domain.ErrAccountIneligible),
		errors.Is(err, domain.ErrInvalidParams):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAnalysisUnavailable),
		errors.Is(err, domain.ErrGenerationUnavailable),
		errors.Is(err, domain.ErrPublishUnavailable),
		errors.Is(err, domain.ErrSourceDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError отправляет JSON с ошибкой и кодом домена.
func WriteError(w http.ResponseWriter, err error) {
	writeErrorWithItem(w, err, domain.EngagementItem{})
}

// writeErrorWithItem прикладывает элемент, если операция успела его изменить.
func writeErrorWithItem(w http.ResponseWriter, err error, item domain.EngagementItem) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: domain.ErrorCode(err)}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		resp.ActiveJobID = conflict.ActiveJobID
	}
	if item.ID != "" {
		resp.Item = &item
	}
	writeJSON(w, status, resp)
}

func writeStatus(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobConflict           = errors.New("job already running")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrContentTooLong        = errors.New("content too long")
	ErrDraftEmpty            = errors.New("draft is empty")
	ErrAnalysisUnavailable   = errors.New("analysis unavailable")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrPublishUnavailable    = errors.New("publish unavailable")
	ErrAccountIneligible     = errors.New("account ineligible")
	ErrNotFound              = errors.New("not found")
	ErrVersionConflict       = errors.New("version conflict")
	ErrInvalidParams         = errors.New("invalid params")
	ErrCorruptRecord         = errors.New("corrupt record")
	ErrSourceDisabled        = errors.New("source disabled")
)

// ConflictError возвращается при попытке запустить задачу, пока активна другая того же типа.
type ConflictError struct {
	Kind        JobKind
	Scope       string
	ActiveJobID string
}

func (e *ConflictError) Error() string {
	if e.ActiveJobID == "" {
		return fmt.Sprintf("job %s already running for scope %q", e.Kind, e.Scope)
	}
	return fmt.Sprintf("job %s already running for scope %q: %s", e.Kind, e.Scope, e.ActiveJobID)
}

func (e *ConflictError) Unwrap() error { return ErrJobConflict }

// TransitionError описывает операцию, недопустимую из текущего статуса.
type TransitionError struct {
	ItemID    string
	From      ItemStatus
	Operation Operation
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("item %s: %s is not allowed from %s", e.ItemID, e.Operation, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrJobConflict, "job_conflict"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrVersionConflict, "version_conflict"},
	{ErrContentTooLong, "content_too_long"},
	{ErrDraftEmpty, "draft_empty"},
	{ErrAccountIneligible, "account_ineligible"},
	{ErrInvalidParams, "invalid_params"},
	{ErrAnalysisUnavailable, "analysis_unavailable"},
	{ErrGenerationUnavailable, "generation_unavailable"},
	{ErrPublishUnavailable, "publish_unavailable"},
	{ErrSourceDisabled, "source_disabled"},
}

// ErrorCode возвращает стабильный машинный код ошибки.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// ErrorForCode возвращает sentinel по машинному коду или nil.
func ErrorForCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

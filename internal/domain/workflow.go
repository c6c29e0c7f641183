package domain

import "strings"

// ItemStatus описывает этап обработки элемента.
type ItemStatus string

const (
	ItemStatusDiscovered ItemStatus = "discovered"
	ItemStatusAnalyzing  ItemStatus = "analyzing"
	ItemStatusDraftReady ItemStatus = "draft_ready"
	ItemStatusInReview   ItemStatus = "in_review"
	ItemStatusApproved   ItemStatus = "approved"
	ItemStatusRejected   ItemStatus = "rejected"
	ItemStatusPublished  ItemStatus = "published"
	ItemStatusFailed     ItemStatus = "failed"
)

// ItemStatuses перечисляет все статусы в порядке продвижения.
var ItemStatuses = []ItemStatus{
	ItemStatusDiscovered,
	ItemStatusAnalyzing,
	ItemStatusDraftReady,
	ItemStatusInReview,
	ItemStatusApproved,
	ItemStatusRejected,
	ItemStatusPublished,
	ItemStatusFailed,
}

// Valid сообщает, известен ли статус.
func (s ItemStatus) Valid() bool {
	for _, known := range ItemStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusRejected || s == ItemStatusPublished || s == ItemStatusFailed
}

// EligibleForReviewAction сообщает, можно ли одобрить или отклонить элемент в этом статусе.
// Одиночные и пакетные операции используют только этот предикат.
func (s ItemStatus) EligibleForReviewAction() bool {
	return s == ItemStatusDraftReady || s == ItemStatusInReview
}

// Operation — операция конечного автомата над элементом.
type Operation string

const (
	OpAnalyze         Operation = "analyze"
	OpGenerateDraft   Operation = "generate_draft"
	OpRefine          Operation = "refine"
	OpSubmitForReview Operation = "submit_for_review"
	OpEditDraft       Operation = "edit_draft"
	OpApprove         Operation = "approve"
	OpReject          Operation = "reject"
	OpPublish         Operation = "publish"
)

// Operations перечисляет все операции автомата.
var Operations = []Operation{
	OpAnalyze,
	OpGenerateDraft,
	OpRefine,
	OpSubmitForReview,
	OpEditDraft,
	OpApprove,
	OpReject,
	OpPublish,
}

var transitions = map[Operation]map[ItemStatus][]ItemStatus{
	OpAnalyze: {
		ItemStatusDiscovered: {ItemStatusAnalyzing},
		ItemStatusAnalyzing:  {ItemStatusAnalyzing},
	},
	OpGenerateDraft: {
		ItemStatusDiscovered: {ItemStatusDraftReady},
		ItemStatusAnalyzing:  {ItemStatusDraftReady},
		ItemStatusDraftReady: {ItemStatusDraftReady},
		ItemStatusInReview:   {ItemStatusDraftReady},
	},
	OpRefine: {
		ItemStatusDraftReady: {ItemStatusDraftReady},
		ItemStatusInReview:   {ItemStatusInReview},
	},
	OpEditDraft: {
		ItemStatusDraftReady: {ItemStatusDraftReady},
		ItemStatusInReview:   {ItemStatusInReview},
	},
	OpSubmitForReview: {
		ItemStatusDraftReady: {ItemStatusInReview},
	},
	OpApprove: {
		ItemStatusDraftReady: {ItemStatusApproved},
		ItemStatusInReview:   {ItemStatusApproved},
	},
	OpReject: {
		ItemStatusDraftReady: {ItemStatusRejected},
		ItemStatusInReview:   {ItemStatusRejected},
	},
	OpPublish: {
		ItemStatusApproved: {ItemStatusPublished, ItemStatusFailed},
	},
}

// Allowed сообщает, допустима ли операция из статуса.
func Allowed(op Operation, from ItemStatus) bool {
	_, ok := transitions[op][from]
	return ok
}

// Targets возвращает статусы, в которые операция может перевести элемент.
func Targets(op Operation, from ItemStatus) []ItemStatus {
	return transitions[op][from]
}

// ValidStatusChange сообщает, есть ли в таблице переходов ребро from -> to.
// Хранилища проверяют им любую запись статуса.
func ValidStatusChange(from, to ItemStatus) bool {
	if from == to {
		return !from.IsTerminal()
	}
	for _, byStatus := range transitions {
		for _, target := range byStatus[from] {
			if target == to {
				return true
			}
		}
	}
	return false
}

// RefineAction описывает вариант доработки черновика.
type RefineAction string

const (
	RefineShorten RefineAction = "shorten"
	RefineExpand  RefineAction = "expand"
	RefineRestyle RefineAction = "restyle"
)

// Valid сообщает, поддерживается ли действие.
func (a RefineAction) Valid() bool {
	return a == RefineShorten || a == RefineExpand || a == RefineRestyle
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

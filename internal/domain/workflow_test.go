package domain

import "testing"

func TestEligibleForReviewAction(t *testing.T) {
	for _, status := range ItemStatuses {
		want := status == ItemStatusDraftReady || status == ItemStatusInReview
		if got := status.EligibleForReviewAction(); got != want {
			t.Fatalf("%s: ожидали %v, получили %v", status, want, got)
		}
		if want != (Allowed(OpApprove, status) && Allowed(OpReject, status)) {
			t.Fatalf("%s: предикат расходится с таблицей переходов", status)
		}
	}
}

func TestTerminalStatusesHaveNoOperations(t *testing.T) {
	for _, status := range ItemStatuses {
		if !status.IsTerminal() {
			continue
		}
		for _, op := range Operations {
			if Allowed(op, status) {
				t.Fatalf("операция %s разрешена из терминального статуса %s", op, status)
			}
		}
	}
}

func TestValidStatusChange(t *testing.T) {
	tests := []struct {
		from, to ItemStatus
		want     bool
	}{
		{ItemStatusDiscovered, ItemStatusAnalyzing, true},
		{ItemStatusDiscovered, ItemStatusDraftReady, true},
		{ItemStatusInReview, ItemStatusDraftReady, true},
		{ItemStatusApproved, ItemStatusPublished, true},
		{ItemStatusApproved, ItemStatusFailed, true},
		{ItemStatusApproved, ItemStatusDraftReady, false},
		{ItemStatusDiscovered, ItemStatusApproved, false},
		{ItemStatusPublished, ItemStatusApproved, false},
		{ItemStatusPublished, ItemStatusPublished, false},
		{ItemStatusFailed, ItemStatusApproved, false},
		{ItemStatusAnalyzing, ItemStatusAnalyzing, true},
	}
	for _, tt := range tests {
		if got := ValidStatusChange(tt.from, tt.to); got != tt.want {
			t.Fatalf("%s -> %s: ожидали %v, получили %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestCurrentDraftPrefersEdit(t *testing.T) {
	item := EngagementItem{GeneratedDraft: "gen"}
	if item.CurrentDraft() != "gen" {
		t.Fatalf("без правки ожидали сгенерированный текст")
	}
	item.EditedDraft = "edit"
	if item.CurrentDraft() != "edit" {
		t.Fatalf("ожидали правку")
	}
	item.EditedDraft = "  "
	if item.CurrentDraft() != "gen" {
		t.Fatalf("пустая правка не должна перекрывать черновик")
	}
}

func TestRawContentRecordValidate(t *testing.T) {
	ok := RawContentRecord{SourcePostID: "1", Community: "golang", Body: "text"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for _, rec := range []RawContentRecord{
		{Community: "golang", Body: "text"},
		{SourcePostID: "1", Body: "text"},
		{SourcePostID: "1", Community: "golang"},
	} {
		if err := rec.Validate(); err != ErrCorruptRecord {
			t.Fatalf("ожидали ErrCorruptRecord для %+v, получили %v", rec, err)
		}
	}
}

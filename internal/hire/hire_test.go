package hire

import "testing"

// The ledger/topup packages established the precedent of testing
// transactional DB logic only against the teacher's own testing gap (no
// live Postgres in this pack); Store mirrors that. These tests cover the
// pure validation rules each operation enforces before touching the
// database.

func TestTaskStatuses_AreDistinct(t *testing.T) {
	statuses := []string{TaskOpen, TaskInEscrow, TaskDelivered, TaskCompleted, TaskCancelled}
	seen := map[string]bool{}
	for _, s := range statuses {
		if seen[s] {
			t.Fatalf("duplicate task status: %s", s)
		}
		seen[s] = true
	}
}

func TestQuoteStatuses_AreDistinct(t *testing.T) {
	statuses := []string{QuotePending, QuoteAccepted, QuoteRejected}
	seen := map[string]bool{}
	for _, s := range statuses {
		if seen[s] {
			t.Fatalf("duplicate quote status: %s", s)
		}
		seen[s] = true
	}
}

func TestCreateTask_RejectsNonPositiveBudget(t *testing.T) {
	s := &Store{}
	if _, err := s.CreateTask(nil, "acct_buyer", "title", "desc", 0); err == nil {
		t.Error("expected error for zero budget")
	}
	if _, err := s.CreateTask(nil, "acct_buyer", "title", "desc", -5); err == nil {
		t.Error("expected error for negative budget")
	}
}

func TestCreateQuote_RejectsNonPositivePrice(t *testing.T) {
	s := &Store{}
	if _, err := s.CreateQuote(nil, "task_1", "acct_contractor", 0, "desc"); err == nil {
		t.Error("expected error for zero price")
	}
}

func TestUpdateQuote_RequiresAtLeastOneField(t *testing.T) {
	s := &Store{}
	if _, err := s.UpdateQuote(nil, "task_1", "quote_1", "acct_contractor", nil, nil); err == nil {
		t.Error("expected error when neither price nor description is given")
	}
}

func TestUpdateQuote_RejectsNonPositivePrice(t *testing.T) {
	s := &Store{}
	zero := int64(0)
	if _, err := s.UpdateQuote(nil, "task_1", "quote_1", "acct_contractor", &zero, nil); err == nil {
		t.Error("expected error for zero price")
	}
}

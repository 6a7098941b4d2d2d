package engine

import (
	"testing"
	"time"

	"github.com/procurehq/bidflow/pkg/bidflow/domain"
	"github.com/procurehq/bidflow/pkg/bidflow/models"
)

func newTestRetryEngine(maxAttempts int) (*RetryEngine, *FakeClock, *MockNotifier) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	notifier := &MockNotifier{}
	return NewRetryEngine(testPolicy(maxAttempts), &MockPersistence{}, notifier, clock), clock, notifier
}

func TestPermanentCodesNeverRetry(t *testing.T) {
	re, _, _ := newTestRetryEngine(5)
	codes := []string{
		CodeAuthenticationFailed,
		CodeAuthorizationFailed,
		CodeMalformedData,
		CodeQuotaExceeded,
		CodeUnsupportedFormat,
		CodeComplianceViolation,
	}
	for _, code := range codes {
		d := re.ShouldRetry("portal_scan", code, 1)
		if d.Disposition != DispositionPermanent {
			t.Errorf("%s: expected permanent, got %s", code, d.Disposition)
		}
	}
	// even on the first attempt of a task with retries remaining
	if d := re.ShouldRetry("portal_scan", CodeMalformedData, 0); d.Disposition != DispositionPermanent {
		t.Errorf("attempt count must not override permanence, got %s", d.Disposition)
	}
}

func TestTransientCodeRetriesWithDoublingBackoff(t *testing.T) {
	re, clock, _ := newTestRetryEngine(10)

	// policy: 30s initial, 8m cap
	expected := []time.Duration{
		30 * time.Second,
		time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		8 * time.Minute, // capped
	}
	for i, want := range expected {
		attempt := i + 1
		d := re.ShouldRetry("portal_scan", "TIMEOUT", attempt)
		if d.Disposition != DispositionRetry {
			t.Fatalf("attempt %d: expected retry, got %s", attempt, d.Disposition)
		}
		if got := d.NextRetryAt.Sub(clock.Now()); got != want {
			t.Errorf("attempt %d: expected delay %s, got %s", attempt, want, got)
		}
	}

	// deterministic: same inputs, same delay
	a := re.ShouldRetry("portal_scan", "TIMEOUT", 3)
	b := re.ShouldRetry("portal_scan", "TIMEOUT", 3)
	if !a.NextRetryAt.Equal(b.NextRetryAt) {
		t.Error("backoff for a fixed attempt count should be deterministic")
	}
}

func TestAttemptCeilingDeadLetters(t *testing.T) {
	re, _, _ := newTestRetryEngine(3)

	if d := re.ShouldRetry("portal_scan", "TIMEOUT", 2); d.Disposition != DispositionRetry {
		t.Errorf("attempt 2 of 3: expected retry, got %s", d.Disposition)
	}
	if d := re.ShouldRetry("portal_scan", "TIMEOUT", 3); d.Disposition != DispositionDLQ {
		t.Errorf("attempt 3 of 3: expected dlq, got %s", d.Disposition)
	}
	if d := re.ShouldRetry("portal_scan", "TIMEOUT", 7); d.Disposition != DispositionDLQ {
		t.Errorf("past the ceiling: expected dlq, got %s", d.Disposition)
	}
}

func TestPerTaskPolicyOverride(t *testing.T) {
	re, _, _ := newTestRetryEngine(5)
	re.SetTaskPolicy("llm_generate", models.RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
	})

	if d := re.ShouldRetry("llm_generate", "TIMEOUT", 2); d.Disposition != DispositionDLQ {
		t.Errorf("override ceiling of 2 should dead-letter, got %s", d.Disposition)
	}
	if d := re.ShouldRetry("portal_scan", "TIMEOUT", 2); d.Disposition != DispositionRetry {
		t.Errorf("default policy should still retry, got %s", d.Disposition)
	}
}

func TestIsCriticalFailure(t *testing.T) {
	critical := []string{CodeAuthenticationFailed, CodeAuthorizationFailed, CodeComplianceViolation, CodeDeadlineExceeded}
	for _, code := range critical {
		if !IsCriticalFailure(code) {
			t.Errorf("%s should be critical", code)
		}
	}
	for _, code := range []string{"TIMEOUT", CodeMalformedData, CodeQuotaExceeded} {
		if IsCriticalFailure(code) {
			t.Errorf("%s should not be critical", code)
		}
	}
}

func TestMoveToDeadLetterQueue(t *testing.T) {
	re, clock, notifier := newTestRetryEngine(3)
	var persisted *domain.DeadLetterEntry
	re.persistence = &MockPersistence{
		CreateDeadLetterEntryFunc: func(entry *domain.DeadLetterEntry) error {
			persisted = entry
			return nil
		},
	}
	item := &domain.WorkItem{
		ID:         "item-1",
		WorkflowID: "wf-1",
		TaskType:   "portal_scan",
		RetryCount: 3,
		Metadata: map[string]any{
			"failureHistory": []string{"TIMEOUT: portal slow", "TIMEOUT: portal slow", "TIMEOUT: portal down"},
		},
	}

	entry := re.MoveToDeadLetterQueue(item, "TIMEOUT: portal down", true, map[string]any{"errorCode": "TIMEOUT"})
	if entry.ID == "" {
		t.Error("expected a generated entry id")
	}
	if entry.WorkItemID != "item-1" || entry.WorkflowID != "wf-1" || entry.Attempts != 3 {
		t.Errorf("entry does not reflect the item: %+v", entry)
	}
	if !entry.Recoverable {
		t.Error("exhausted retries should be recoverable")
	}
	if len(entry.FailureHistory) != 3 {
		t.Errorf("expected failure history copied, got %v", entry.FailureHistory)
	}
	if !entry.DateTime.Equal(clock.Now()) {
		t.Errorf("expected entry timestamp %s, got %s", clock.Now(), entry.DateTime)
	}
	if persisted != entry {
		t.Error("entry was not persisted")
	}
	if len(notifier.DeadLettered) != 1 || notifier.DeadLettered[0] != "item-1" {
		t.Errorf("expected dead-letter notification for item-1, got %v", notifier.DeadLettered)
	}
}

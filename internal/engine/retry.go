package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/procurehq/bidflow/pkg/bidflow/core"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
	"github.com/procurehq/bidflow/pkg/bidflow/models"
)

// Disposition is the retry subsystem's verdict on a single task failure.
type Disposition string

const (
	DispositionRetry     Disposition = "retry"
	DispositionPermanent Disposition = "permanent"
	DispositionDLQ       Disposition = "dlq"
)

// RetryDecision carries the verdict plus the computed next attempt time for
// retryable failures.
type RetryDecision struct {
	Disposition Disposition
	NextRetryAt time.Time
	Reason      string
}

// permanentCodes never retry regardless of attempt count.
var permanentCodes = map[string]bool{
	CodeAuthenticationFailed: true,
	CodeAuthorizationFailed:  true,
	CodeMalformedData:        true,
	CodeQuotaExceeded:        true,
	CodeUnsupportedFormat:    true,
	CodeComplianceViolation:  true,
}

// criticalCodes force the owning workflow to failed when a blocking item
// lands on a non-retry disposition with one of these.
var criticalCodes = map[string]bool{
	CodeAuthenticationFailed: true,
	CodeAuthorizationFailed:  true,
	CodeComplianceViolation:  true,
	CodeDeadlineExceeded:     true,
}

// IsCriticalFailure reports whether the error code belongs to the small set
// that fails the workflow outright instead of only blocking it.
func IsCriticalFailure(errorCode string) bool {
	return criticalCodes[errorCode]
}

// RetryEngine classifies task failures into retry, permanent failure, or
// dead-letter, and computes the backoff delay for the next attempt. The
// delay is deterministic for a given (attemptCount, taskType) pair.
type RetryEngine struct {
	defaultPolicy models.RetryPolicy
	perTaskType   map[string]models.RetryPolicy
	persistence   Persistence
	notifier      Notifier
	clock         core.Clock
}

func NewRetryEngine(defaultPolicy models.RetryPolicy, persistence Persistence, notifier Notifier, clock core.Clock) *RetryEngine {
	return &RetryEngine{
		defaultPolicy: defaultPolicy,
		perTaskType:   make(map[string]models.RetryPolicy),
		persistence:   persistence,
		notifier:      notifier,
		clock:         clock,
	}
}

// SetTaskPolicy overrides the retry policy for one task type. Call before
// the engine starts taking traffic.
func (e *RetryEngine) SetTaskPolicy(taskType string, policy models.RetryPolicy) {
	e.perTaskType[taskType] = policy
}

func (e *RetryEngine) policyFor(taskType string) models.RetryPolicy {
	if p, ok := e.perTaskType[taskType]; ok {
		return p
	}
	return e.defaultPolicy
}

// ShouldRetry decides the fate of a failed attempt. attemptCount is the
// number of attempts already made, including the one that just failed.
func (e *RetryEngine) ShouldRetry(taskType, errorCode string, attemptCount int) RetryDecision {
	if permanentCodes[errorCode] {
		return RetryDecision{
			Disposition: DispositionPermanent,
			Reason:      fmt.Sprintf("error code %s is permanent, never retried", errorCode),
		}
	}
	policy := e.policyFor(taskType)
	if attemptCount >= policy.MaxAttempts {
		return RetryDecision{
			Disposition: DispositionDLQ,
			Reason:      fmt.Sprintf("attempt ceiling %d reached, quarantining for manual triage", policy.MaxAttempts),
		}
	}
	delay := policy.Backoff(attemptCount)
	return RetryDecision{
		Disposition: DispositionRetry,
		NextRetryAt: e.clock.Now().Add(delay),
		Reason:      fmt.Sprintf("retry %d of %d in %s", attemptCount, policy.MaxAttempts, delay),
	}
}

// MoveToDeadLetterQueue builds and persists the quarantine entry for an
// item. The original item's history is never deleted; the entry is additive.
// recoverable marks failures an operator could plausibly replay (exhausted
// retries) as opposed to permanently malformed work.
func (e *RetryEngine) MoveToDeadLetterQueue(item *domain.WorkItem, lastError string, recoverable bool, metadata map[string]any) *domain.DeadLetterEntry {
	entry := &domain.DeadLetterEntry{
		ID:          uuid.NewString(),
		WorkItemID:  item.ID,
		WorkflowID:  item.WorkflowID,
		TaskType:    item.TaskType,
		Attempts:    item.RetryCount,
		LastError:   lastError,
		Recoverable: recoverable,
		Metadata:    metadata,
		DateTime:    e.clock.Now(),
	}
	if history, ok := item.Metadata["failureHistory"].([]string); ok {
		entry.FailureHistory = append([]string(nil), history...)
	}
	if err := e.persistence.CreateDeadLetterEntry(entry); err != nil {
		slog.Error("Failed to persist dead letter entry", "work_item_id", item.ID, "error", err)
	}
	e.notifier.ItemDeadLettered(entry)
	return entry
}

package engine

import "errors"

// Configuration-class errors surface loudly: they indicate a bug in the
// process definition, not a runtime condition. Rejections that callers
// routinely probe for (invalid target, conditions not met) are reported as
// TransitionResult outcomes instead.
var (
	ErrWorkflowNotFound       = errors.New("workflow not found")
	ErrWorkflowExists         = errors.New("workflow already exists")
	ErrUnknownPhase           = errors.New("unknown phase")
	ErrNoTransitionDefinition = errors.New("no transition definition for edge")
	ErrCycleDetected          = errors.New("dependency cycle detected")
	ErrUnknownDependency      = errors.New("dependency references unknown sequence id")
	ErrWorkItemNotFound       = errors.New("work item not found")
	ErrNoCapacityAvailable    = errors.New("no executor capacity available")
	ErrExecutorNotFound       = errors.New("executor not found")
	ErrAlreadyTerminal        = errors.New("workflow is already terminal")
	ErrInvalidStatus          = errors.New("operation not allowed in current status")
)

// Failure codes executors may report. Permanent codes never retry; critical
// codes additionally force the owning workflow to failed when the item is
// blocking.
const (
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeAuthorizationFailed  = "AUTHORIZATION_FAILED"
	CodeMalformedData        = "MALFORMED_DATA"
	CodeQuotaExceeded        = "QUOTA_EXCEEDED"
	CodeUnsupportedFormat    = "UNSUPPORTED_FORMAT"
	CodeComplianceViolation  = "COMPLIANCE_VIOLATION"
	CodeDeadlineExceeded     = "DEADLINE_EXCEEDED"
)

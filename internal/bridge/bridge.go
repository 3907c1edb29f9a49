package bridge

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vaultic/skillbridge/internal/backend"
	"github.com/vaultic/skillbridge/internal/descriptor"
	"github.com/vaultic/skillbridge/internal/policy"
	"go.uber.org/zap"
)

var (
	// ErrUnauthorized means the caller token does not match the attachment's
	// owning identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPermissionDenied means the permission policy denied the operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrConfirmationRequired means the disposition resolved to ask and the
	// call needs out-of-band approval before it can proceed.
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrBackendUnavailable covers backend timeouts, transport failures, and
	// malformed backend responses. Retryable by the caller; the bridge never
	// retries the side-effecting call itself.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// DispositionError carries the policy context of a refused invocation so an
// agent runtime can decide whether to prompt for confirmation.
type DispositionError struct {
	AttachmentID string
	Operation    string
	Disposition  policy.Disposition
}

func (e *DispositionError) Error() string {
	return fmt.Sprintf("operation %q on attachment %s: disposition %s", e.Operation, e.AttachmentID, e.Disposition)
}

func (e *DispositionError) Unwrap() error {
	if e.Disposition == policy.DispositionDeny {
		return ErrPermissionDenied
	}
	return ErrConfirmationRequired
}

// Invocation outcomes recorded in the audit stream.
const (
	OutcomeOK           = "ok"
	OutcomeError        = "backend_error"
	OutcomeDenied       = "denied"
	OutcomeAskPending   = "ask_pending"
	OutcomeUnauthorized = "unauthorized"
	OutcomeNotFound     = "attachment_not_found"
	OutcomeTimeout      = "timeout"
	OutcomeUnavailable  = "backend_unavailable"
	OutcomeCancelled    = "cancelled"
)

// InvocationRecord is one append-only audit entry. Exactly one is written
// per invocation attempt, regardless of outcome.
type InvocationRecord struct {
	ID           string          `json:"id"`
	AttachmentID string          `json:"attachment_id"`
	Operation    string          `json:"operation"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	Disposition  string          `json:"disposition,omitempty"`
	Outcome      string          `json:"outcome"`
	LatencyMS    int64           `json:"latency_ms"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Result is the caller-visible outcome of a successful (or
// backend-errored) invocation. AuditID references the InvocationRecord.
type Result struct {
	AttachmentID string          `json:"attachment_id"`
	Operation    string          `json:"operation"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	Disposition  string          `json:"disposition"`
	LatencyMS    int64           `json:"latency_ms"`
	AuditID      string          `json:"audit_id"`
}

// AttachmentStore resolves attachments. A missing attachment is reported as
// policy.ErrAttachmentNotFound.
type AttachmentStore interface {
	GetAttachment(ctx context.Context, id string) (*policy.Attachment, error)
}

// SkillSource resolves the descriptor (and backend endpoint) for a skill.
type SkillSource interface {
	GetSkill(ctx context.Context, id string) (*descriptor.SkillDescriptor, error)
}

// AuditSink appends invocation records.
type AuditSink interface {
	AppendInvocation(ctx context.Context, rec *InvocationRecord) error
}

// Dispatcher sends an operation call to a skill backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoint, operation string, args map[string]interface{}) (json.RawMessage, error)
}

// Bridge mediates every invocation: credential check, policy resolution,
// bounded backend dispatch, and audit capture.
type Bridge struct {
	attachments AttachmentStore
	skills      SkillSource
	dispatcher  Dispatcher
	audit       AuditSink
	timeout     time.Duration
	logger      *zap.Logger
}

// New creates a Bridge. timeout bounds the backend dispatch; zero means the
// 5 second default.
func New(attachments AttachmentStore, skills SkillSource, dispatcher Dispatcher, audit AuditSink, timeout time.Duration, logger *zap.Logger) *Bridge {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bridge{
		attachments: attachments,
		skills:      skills,
		dispatcher:  dispatcher,
		audit:       audit,
		timeout:     timeout,
		logger:      logger,
	}
}

// HashToken returns the hex SHA-256 of a bearer token, the form stored on
// attachments.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func tokenMatches(token, storedHash string) bool {
	h := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(h), []byte(storedHash)) == 1
}

// redactedInput replaces the argument bag in audit records for sensitive
// operations.
var redactedInput = json.RawMessage(`{"redacted":true}`)

// Invoke executes one tool call end to end. Every path writes exactly one
// InvocationRecord; only the allow path reaches the backend, and at most
// once.
func (b *Bridge) Invoke(ctx context.Context, callerToken, attachmentID, operation string, args map[string]interface{}) (*Result, error) {
	rec := &InvocationRecord{
		ID:           uuid.New().String(),
		AttachmentID: attachmentID,
		Operation:    operation,
		CreatedAt:    time.Now(),
	}

	att, err := b.attachments.GetAttachment(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, policy.ErrAttachmentNotFound) {
			rec.Outcome = OutcomeNotFound
			rec.Error = err.Error()
			b.writeAudit(rec)
			return nil, fmt.Errorf("attachment %s: %w", attachmentID, policy.ErrAttachmentNotFound)
		}
		rec.Outcome = OutcomeUnavailable
		rec.Error = err.Error()
		b.writeAudit(rec)
		return nil, fmt.Errorf("load attachment %s: %w", attachmentID, err)
	}

	if !tokenMatches(callerToken, att.TokenHash) {
		rec.Outcome = OutcomeUnauthorized
		b.writeAudit(rec)
		b.logger.Warn("unauthorized invocation attempt",
			zap.String("attachment", attachmentID),
			zap.String("operation", operation))
		return nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrUnauthorized)
	}

	disposition := att.Resolve(operation)
	rec.Disposition = string(disposition)
	switch disposition {
	case policy.DispositionDeny:
		rec.Outcome = OutcomeDenied
		b.writeAudit(rec)
		return nil, &DispositionError{AttachmentID: attachmentID, Operation: operation, Disposition: disposition}
	case policy.DispositionAsk:
		rec.Outcome = OutcomeAskPending
		b.writeAudit(rec)
		return nil, &DispositionError{AttachmentID: attachmentID, Operation: operation, Disposition: disposition}
	}

	skill, err := b.skills.GetSkill(ctx, att.SkillID)
	if err != nil {
		rec.Outcome = OutcomeUnavailable
		rec.Error = err.Error()
		b.writeAudit(rec)
		return nil, fmt.Errorf("load skill %s: %w", att.SkillID, ErrBackendUnavailable)
	}

	rec.Input = marshalInput(skill.Operation(operation), args)

	dispatchCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	output, err := b.dispatcher.Dispatch(dispatchCtx, skill.Endpoint, operation, args)
	rec.LatencyMS = time.Since(start).Milliseconds()

	result := &Result{
		AttachmentID: attachmentID,
		Operation:    operation,
		Disposition:  string(disposition),
		LatencyMS:    rec.LatencyMS,
		AuditID:      rec.ID,
	}

	if err != nil {
		var opErr *backend.OperationError
		switch {
		case errors.As(err, &opErr):
			// Structured backend error: the call completed, the operation failed.
			rec.Outcome = OutcomeError
			rec.Error = opErr.Message
			b.writeAudit(rec)
			result.Error = opErr.Message
			return result, nil
		case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
			rec.Outcome = OutcomeCancelled
			rec.Error = err.Error()
			b.writeAudit(rec)
			return nil, fmt.Errorf("invoke %s: %w", operation, context.Canceled)
		case errors.Is(err, context.DeadlineExceeded):
			rec.Outcome = OutcomeTimeout
			rec.Error = err.Error()
			b.writeAudit(rec)
			return nil, fmt.Errorf("invoke %s: timeout after %s: %w", operation, b.timeout, ErrBackendUnavailable)
		default:
			rec.Outcome = OutcomeUnavailable
			rec.Error = err.Error()
			b.writeAudit(rec)
			return nil, fmt.Errorf("invoke %s: %v: %w", operation, err, ErrBackendUnavailable)
		}
	}

	rec.Outcome = OutcomeOK
	rec.Output = output
	b.writeAudit(rec)
	result.Output = output
	return result, nil
}

func marshalInput(op *descriptor.Operation, args map[string]interface{}) json.RawMessage {
	if op != nil && op.Sensitive {
		return redactedInput
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil
	}
	return raw
}

// writeAudit persists the record without ever failing the caller-visible
// result. A failed write gets one best-effort async retry.
func (b *Bridge) writeAudit(rec *InvocationRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := b.audit.AppendInvocation(ctx, rec)
	if err == nil {
		return
	}
	b.logger.Error("audit write failed, retrying",
		zap.String("invocation", rec.ID),
		zap.Error(err))

	go func() {
		time.Sleep(time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := b.audit.AppendInvocation(ctx, rec); err != nil {
			b.logger.Error("audit write retry failed, record dropped",
				zap.String("invocation", rec.ID),
				zap.String("outcome", rec.Outcome),
				zap.Error(err))
		}
	}()
}

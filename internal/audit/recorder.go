// Package audit records auth lifecycle events. Recording is fire-and-forget:
// it never blocks or fails the operation that triggered it.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"org-auth-service/internal/audit/domain"
	auditrepo "org-auth-service/internal/audit/repository"
)

// Lifecycle event actions.
const (
	ActionLoginSuccess     = "login_success"
	ActionLoginFailure     = "login_failure"
	ActionTokenRefresh     = "token_refresh"
	ActionTokenRevoked     = "token_revoked"
	ActionOrgSwitch        = "org_switch"
	ActionPermissionDenied = "permission_denied"
)

// SentinelOrgID is the org_id used for events that have no org context
// (e.g. login_failure before any org is resolved).
const SentinelOrgID = "_system"

// recordTimeout bounds a single async write so a slow store cannot pile up goroutines.
const recordTimeout = 5 * time.Second

// Event is one auth lifecycle event to record.
type Event struct {
	Action   string
	OrgID    string
	UserID   string
	Resource string
	Metadata string
}

type ctxKey int

const clientIPKey ctxKey = 0

// WithClientIP returns a context carrying the client IP for later recording.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext returns the client IP stored by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// Recorder receives lifecycle events. Implementations must be best-effort and
// must not surface failures to the caller.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AsyncRecorder persists events to the audit repository from a goroutine, so
// request handling is never blocked on the audit store.
type AsyncRecorder struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
}

// NewAsyncRecorder returns a Recorder that persists to repo and uses ipExtractor
// for the client IP. ipExtractor may be nil; then IP is recorded as "unknown".
func NewAsyncRecorder(repo auditrepo.Repository, ipExtractor IPExtractor) *AsyncRecorder {
	return &AsyncRecorder{repo: repo, ipExtractor: ipExtractor}
}

// Record writes the event in the background. The IP is extracted from ctx before
// the goroutine starts; the write itself uses a fresh context so request
// cancellation does not abort an in-flight record. Errors are logged, not returned.
func (r *AsyncRecorder) Record(ctx context.Context, e Event) {
	if r.repo == nil {
		return
	}
	ip := "unknown"
	if r.ipExtractor != nil {
		if s := r.ipExtractor(ctx); s != "" {
			ip = s
		}
	}
	orgID := e.OrgID
	if orgID == "" {
		orgID = SentinelOrgID
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		UserID:    e.UserID,
		Action:    e.Action,
		Resource:  e.Resource,
		IP:        ip,
		Metadata:  e.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.repo.Create(writeCtx, entry); err != nil {
			log.Printf("audit: failed to record %s: %v", e.Action, err)
		}
	}()
}

// NopRecorder discards all events. Useful default and test stand-in.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}

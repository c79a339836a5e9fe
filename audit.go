package auth

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEventType names one security-relevant engine outcome.
type AuditEventType string

const (
	AuditRegister           AuditEventType = "register"
	AuditLoginSuccess       AuditEventType = "login_success"
	AuditLoginFailure       AuditEventType = "login_failure"
	AuditLoginTwoFactor     AuditEventType = "login_two_factor_required"
	AuditRefreshSuccess     AuditEventType = "refresh_success"
	AuditRefreshFailure     AuditEventType = "refresh_failure"
	AuditLogout             AuditEventType = "logout"
	AuditPasswordChanged    AuditEventType = "password_changed"
	AuditResetRequested     AuditEventType = "password_reset_requested"
	AuditResetCompleted     AuditEventType = "password_reset_completed"
	AuditVerificationSent   AuditEventType = "verification_sent"
	AuditEmailVerified      AuditEventType = "email_verified"
	AuditTwoFactorEnabled   AuditEventType = "two_factor_enabled"
	AuditTwoFactorDisabled  AuditEventType = "two_factor_disabled"
	AuditBackupCodeUsed     AuditEventType = "backup_code_used"
	AuditBackupCodesRotated AuditEventType = "backup_codes_rotated"
	AuditAccountDeleted     AuditEventType = "account_deleted"
	AuditRateLimited        AuditEventType = "rate_limited"
)

// AuditEvent is one emitted record. UserID and Email may be empty depending
// on how far the flow got before the outcome.
type AuditEvent struct {
	Type   AuditEventType `json:"type"`
	UserID string         `json:"userId,omitempty"`
	Email  string         `json:"email,omitempty"`
	IP     string         `json:"ip,omitempty"`
	At     time.Time      `json:"at"`
}

// AuditSink receives events from the dispatcher goroutine. Emit must not
// block indefinitely; slow sinks cause drops upstream, not request latency.
type AuditSink interface {
	Emit(event AuditEvent)
}

// NoOpSink discards every event. It is the default sink.
type NoOpSink struct{}

func (NoOpSink) Emit(AuditEvent) {}

// JSONWriterSink writes one JSON object per line to w.
type JSONWriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{w: w}
}

func (s *JSONWriterSink) Emit(event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	_ = enc.Encode(event)
}

// ChannelSink forwards events to a caller-owned channel, dropping when the
// channel is full.
type ChannelSink struct {
	C chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{C: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Emit(event AuditEvent) {
	select {
	case s.C <- event:
	default:
	}
}

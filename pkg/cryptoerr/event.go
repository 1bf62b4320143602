// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pqkeys.
//
// go-pqkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cryptoerr

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Severity classifies how serious an error or security event is.
type Severity uint8

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("SEVERITY(%d)", uint8(s))
	}
}

// Level maps the severity onto a log level.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityCritical, SeverityHigh:
		return slog.LevelError
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// MarshalJSON encodes the severity by name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch strings.ToUpper(name) {
	case "LOW":
		*s = SeverityLow
	case "MEDIUM":
		*s = SeverityMedium
	case "HIGH":
		*s = SeverityHigh
	case "CRITICAL":
		*s = SeverityCritical
	default:
		return fmt.Errorf("cryptoerr: unknown severity %q", name)
	}
	return nil
}

// EventType identifies a class of security event.
type EventType string

const (
	EventKeyCompromise                EventType = "key_compromise"
	EventUnauthorizedAccess           EventType = "unauthorized_access"
	EventSignatureVerificationFailure EventType = "signature_verification_failure"
	EventRateLimitViolation           EventType = "rate_limit_violation"
	EventPolicyViolation              EventType = "policy_violation"
	EventSuspiciousActivity           EventType = "suspicious_activity"
	EventSystemAnomaly                EventType = "system_anomaly"
)

// SecurityEvent is an out-of-band alert raised for security relevant
// conditions.
type SecurityEvent struct {
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details"`
	UserID    string    `json:"user_id,omitempty"`
	KeyID     string    `json:"key_id,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// NewSecurityEvent returns an event stamped with the current time.
func NewSecurityEvent(typ EventType, severity Severity, details string) SecurityEvent {
	return SecurityEvent{
		Type:      typ,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}
}

// Attrs returns the event as structured log attributes.
func (e SecurityEvent) Attrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("event_type", string(e.Type)),
		slog.String("severity", e.Severity.String()),
		slog.Time("timestamp", e.Timestamp),
	}
	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_id", e.UserID))
	}
	if e.KeyID != "" {
		attrs = append(attrs, slog.String("key_id", e.KeyID))
	}
	if e.Operation != "" {
		attrs = append(attrs, slog.String("operation", e.Operation))
	}
	if e.Source != "" {
		attrs = append(attrs, slog.String("source", e.Source))
	}
	return attrs
}

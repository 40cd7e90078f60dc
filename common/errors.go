package common

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Error types for better error handling and metrics
var (
	// Decode errors: the datagram is dropped and the read loop continues.
	ErrMalformedPacket   = errors.New("malformed packet")
	ErrTruncatedPacket   = errors.New("truncated packet")
	ErrUnknownPacketType = errors.New("unknown packet type")
	ErrOversizedPacket   = errors.New("oversized packet")

	// Session errors
	ErrWrongPacket = errors.New("unexpected packet during handshake")
	ErrTimeout     = errors.New("peer timed out")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// DisconnectError is returned when the peer tears the session down explicitly.
type DisconnectError struct {
	Reason string
}

func (e *DisconnectError) Error() string {
	if e.Reason == "" {
		return "disconnected by peer"
	}
	return fmt.Sprintf("disconnected by peer: %s", e.Reason)
}

// Error kinds used by SessionError
const (
	// KindSession marks a failed handshake or a session torn down by the peer.
	KindSession = "session"
	// KindNetwork marks a failure to reach the server at all.
	KindNetwork = "network"
)

// SessionError represents a structured error with context
type SessionError struct {
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Cause     error             `json:"cause,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Cause
}

// NewSessionError creates a new structured error
func NewSessionError(kind, message string, cause error) *SessionError {
	return &SessionError{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		Context:   make(map[string]string),
		Timestamp: time.Now().Unix(),
	}
}

// WithContext adds context information to the error
func (e *SessionError) WithContext(key, value string) *SessionError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// IsDecodeError reports whether err means a single datagram was unusable.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrMalformedPacket) ||
		errors.Is(err, ErrTruncatedPacket) ||
		errors.Is(err, ErrUnknownPacketType) ||
		errors.Is(err, ErrOversizedPacket)
}

// IsSessionError reports whether err ends (or restarts) a session.
func IsSessionError(err error) bool {
	var sErr *SessionError
	if errors.As(err, &sErr) && sErr.Kind == KindSession {
		return true
	}
	var dErr *DisconnectError
	return errors.As(err, &dErr) ||
		errors.Is(err, ErrWrongPacket) ||
		errors.Is(err, ErrTimeout)
}

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsNetworkTimeout reports whether err is a socket deadline expiry, which the
// read loops treat as "no data yet".
func IsNetworkTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Error recovery strategies
type RecoveryStrategy int

const (
	// RecoveryDrop discards the offending datagram and keeps going.
	RecoveryDrop RecoveryStrategy = iota
	RecoveryRetryHandshake
	RecoveryShutdown
	// RecoveryNone means manual intervention is required.
	RecoveryNone
)

// GetRecoveryStrategy determines the appropriate recovery strategy for an error
func GetRecoveryStrategy(err error) RecoveryStrategy {
	switch {
	case err == nil:
		return RecoveryDrop
	case IsDecodeError(err):
		return RecoveryDrop
	case errors.Is(err, ErrWrongPacket):
		return RecoveryRetryHandshake
	case IsSessionError(err):
		return RecoveryShutdown
	case IsConfigurationError(err):
		return RecoveryNone
	default:
		return RecoveryShutdown
	}
}

// Client process exit codes.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitDisconnect = 2
	ExitTimeout    = 3
)

// ExitCode maps the error that ended a client run to its process exit code.
// A nil error is a normal interrupt.
func ExitCode(err error) int {
	var dErr *DisconnectError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &dErr):
		return ExitDisconnect
	case errors.Is(err, ErrTimeout):
		return ExitTimeout
	default:
		return ExitError
	}
}

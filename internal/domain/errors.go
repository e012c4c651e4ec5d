package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by store lookups that match nothing.
	ErrNotFound = errors.New("not found")

	// ErrSyncInFlight rejects a sync of an item whose previous sync has
	// not completed.
	ErrSyncInFlight = errors.New("another operation on this item is in flight")

	ErrConfiguration = errors.New("configuration error")
	ErrTransport     = errors.New("transport error")
	ErrProtocol      = errors.New("protocol error")
	ErrStorage       = errors.New("storage error")
)

// ConfigurationError is detected before any remote call is attempted.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Message)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// TransportError wraps a network, TLS or cancellation failure.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ProtocolError covers non-2xx statuses and bodies that are not the
// expected success object.
type ProtocolError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ProtocolError) Error() string {
	var sb strings.Builder
	sb.WriteString("protocol")
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&sb, ": %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&sb, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// StorageError is a local persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// UserMessage renders err as the single line shown to a user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		cfgErr   *ConfigurationError
		protoErr *ProtocolError
		trErr    *TransportError
		stErr    *StorageError
	)
	switch {
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("Settings incomplete: %s %s", cfgErr.Field, cfgErr.Message)
	case errors.As(err, &protoErr):
		msg := "Remote service rejected the request"
		if protoErr.StatusCode != 0 {
			msg += fmt.Sprintf(" (HTTP %d)", protoErr.StatusCode)
		}
		if protoErr.Message != "" {
			msg += ": " + protoErr.Message
		} else if protoErr.Err != nil {
			msg += ": " + protoErr.Err.Error()
		}
		return msg
	case errors.As(err, &trErr):
		return fmt.Sprintf("Network error: %v", trErr.Err)
	case errors.As(err, &stErr):
		return fmt.Sprintf("Local storage error while trying to %s: %v", stErr.Op, stErr.Err)
	case errors.Is(err, ErrSyncInFlight):
		return "Another sync, delete or upload of this post is already running"
	case errors.Is(err, ErrNotFound):
		return "Post not found"
	default:
		return err.Error()
	}
}

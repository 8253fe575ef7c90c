// Package common defines shared constants, the error taxonomy and sentinel
// errors used across clipkeeper components. Callers should use errors.Is and
// KindOf to match these values.
package common

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the subsystem that produced it.
type Kind string

const (
	KindDatabase      Kind = "database"
	KindIo            Kind = "io"
	KindSerialization Kind = "serialization"
	KindConfig        Kind = "config"
	KindClipboard     Kind = "clipboard"
	KindCrypto        Kind = "crypto"
	KindLock          Kind = "lock"
	KindNetwork       Kind = "network"
	KindHttp          Kind = "http"
	KindGeneral       Kind = "general"
)

// Error is a classified error. Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap classifies err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain,
// defaulting to KindGeneral.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return KindGeneral
}

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrAuthExpired  = errors.New("authentication expired")
	ErrNotLoggedIn  = errors.New("not logged in")

	// Crypto errors.
	ErrCrypto = errors.New("crypto error")

	// Sync errors.
	ErrLockBusy     = errors.New("sync lock busy")
	ErrQueueFull    = errors.New("sync queue full")
	ErrSyncDisabled = errors.New("cloud sync disabled")

	// Capture errors.
	ErrEmptyContent    = errors.New("empty clipboard content")
	ErrUnsupportedKind = errors.New("unsupported clipboard kind")
)

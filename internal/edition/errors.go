package edition

import (
	"errors"
	"fmt"
)

// Kind classifies a per-edition failure. Operators react differently to
// each kind, so they are never collapsed.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindNetwork
	KindAssetResolve
	KindAssetDownload
	KindAssetWrite
	KindLookup
	KindReconcileDelete
	KindWriteConflict
	KindWrite
	KindVerification
)

var kindNames = map[Kind]string{
	KindUnknown:         "Unknown",
	KindNotFound:        "NotFound",
	KindValidation:      "ValidationFailed",
	KindNetwork:         "NetworkFailure",
	KindAssetResolve:    "AssetResolveFailed",
	KindAssetDownload:   "AssetDownloadFailed",
	KindAssetWrite:      "AssetWriteFailure",
	KindLookup:          "LookupFailed",
	KindReconcileDelete: "ReconcileDeleteFailed",
	KindWriteConflict:   "WriteConflict",
	KindWrite:           "WriteFailed",
	KindVerification:    "VerificationFailed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a typed per-edition failure.
type Error struct {
	Kind Kind
	Key  string
	Err  error
}

// Errorf builds an Error with a formatted cause.
func Errorf(kind Kind, key, format string, args ...any) *Error {
	return &Error{Kind: kind, Key: key, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind and key to err. A nil err yields nil.
func Wrap(kind Kind, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Key: key, Err: err}
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err means the source has no data for a date.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

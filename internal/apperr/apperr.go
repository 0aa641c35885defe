// Package apperr defines the typed error taxonomy shared by the bridge's
// handlers. Every handler-facing error in this repository is one of these
// types, so the session controller can turn it directly into the right wire
// event without a type-switch repeated at every call site.
package apperr

import (
	"errors"
	"fmt"
)

// WireError is implemented by every apperr type. EventError returns the
// server->peer event name and payload fields that should be emitted for
// this error.
type WireError interface {
	error
	EventError() (event string, fields map[string]interface{})
}

// Retryable errors are, by taxonomy, the ones where a caller may usefully
// retry the same operation later (transient store errors). Everything else
// is reported once and the session continues.
type Retryable interface {
	Retryable() bool
}

// LicenseError — auth/license: unrecoverable for the session. The session
// is expected to close after a short grace period once this is emitted.
type LicenseError struct {
	Code    int // 410 expired, 400 malformed/missing
	Reason  string
	Expired bool
}

func (e *LicenseError) Error() string {
	return fmt.Sprintf("license error (code %d): %s", e.Code, e.Reason)
}

func (e *LicenseError) EventError() (string, map[string]interface{}) {
	event := "license_error"
	if e.Expired {
		event = "license_expired"
	}
	return event, map[string]interface{}{
		"code":   e.Code,
		"reason": e.Reason,
	}
}

func NewLicenseExpired(reason string) *LicenseError {
	return &LicenseError{Code: 410, Reason: reason, Expired: true}
}

func NewLicenseError(reason string) *LicenseError {
	return &LicenseError{Code: 400, Reason: reason, Expired: false}
}

// RoutingError — unknown (storeId, appId) pair when attempting a privileged
// operation. The session stays open; the peer gets a per-event error.
type RoutingError struct {
	StoreID string
	AppID   string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no route for store %q app %q", e.StoreID, e.AppID)
}

func (e *RoutingError) EventError() (string, map[string]interface{}) {
	return "routing_error", map[string]interface{}{
		"storeId": e.StoreID,
		"appId":   e.AppID,
		"reason":  "store not found or invalid app",
	}
}

func NewRoutingError(storeID, appID string) *RoutingError {
	return &RoutingError{StoreID: storeID, AppID: appID}
}

// ValidationError — missing primary-key fields, unsupported operation,
// malformed XML/JSON payload. Reported per-operation; session continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation error: %s", e.Reason)
}

func (e *ValidationError) EventError() (string, map[string]interface{}) {
	return "validation_error", map[string]interface{}{
		"field":  e.Field,
		"reason": e.Reason,
	}
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// TranslationError — a DDL shape the translator cannot express in the
// target dialect. Some shapes are a deliberate skip (success); others are
// a hard failure, distinguished by Skipped.
type TranslationError struct {
	Command string
	Reason  string
	Skipped bool
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("ddl translation error: %s (command: %s)", e.Reason, e.Command)
}

func (e *TranslationError) EventError() (string, map[string]interface{}) {
	if e.Skipped {
		return "ddl_sync_success", map[string]interface{}{
			"skipped": true,
			"reason":  e.Reason,
		}
	}
	return "ddl_sync_error", map[string]interface{}{
		"reason": e.Reason,
	}
}

func NewTranslationSkip(command, reason string) *TranslationError {
	return &TranslationError{Command: command, Reason: reason, Skipped: true}
}

func NewTranslationError(command, reason string) *TranslationError {
	return &TranslationError{Command: command, Reason: reason}
}

// TransientStoreError — pool acquisition failure or a transport blip to the
// target RDBMS. Retryable once by rebuilding the pool; still failing is
// reported per-operation.
type TransientStoreError struct {
	Database  string
	Operation string
	Cause     error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error on %s (%s): %v", e.Database, e.Operation, e.Cause)
}

func (e *TransientStoreError) Unwrap() error { return e.Cause }

func (e *TransientStoreError) Retryable() bool { return true }

func (e *TransientStoreError) EventError() (string, map[string]interface{}) {
	return "sync_error", map[string]interface{}{
		"reason": e.Error(),
	}
}

func NewTransientStoreError(database, operation string, cause error) *TransientStoreError {
	return &TransientStoreError{Database: database, Operation: operation, Cause: cause}
}

// IntegrityError — a duplicate-key or constraint violation on the target
// store. Whether it is fatal to the operation depends on the caller: the
// incremental path upgrades INSERT-duplicate to UPDATE before this is ever
// constructed; the bootstrap path treats it as a skip.
type IntegrityError struct {
	Table string
	Cause error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error on table %s: %v", e.Table, e.Cause)
}

func (e *IntegrityError) Unwrap() error { return e.Cause }

func (e *IntegrityError) EventError() (string, map[string]interface{}) {
	return "sync_error", map[string]interface{}{
		"reason": e.Error(),
	}
}

func NewIntegrityError(table string, cause error) *IntegrityError {
	return &IntegrityError{Table: table, Cause: cause}
}

// ReassemblyError — a missing chunk, an oversize upload, or a base64 decode
// failure while reassembling a chunked CSV upload. Aborts that upload only.
type ReassemblyError struct {
	FileName string
	Reason   string
}

func (e *ReassemblyError) Error() string {
	return fmt.Sprintf("csv reassembly error for %q: %s", e.FileName, e.Reason)
}

func (e *ReassemblyError) EventError() (string, map[string]interface{}) {
	return "csv_bulk_upload_response", map[string]interface{}{
		"success":  false,
		"fileName": e.FileName,
		"reason":   e.Reason,
	}
}

func NewReassemblyError(fileName, reason string) *ReassemblyError {
	return &ReassemblyError{FileName: fileName, Reason: reason}
}

// AsWireError extracts the WireError interface from err, following Unwrap
// chains, so callers that receive a wrapped error can still render the
// right wire event.
func AsWireError(err error) (WireError, bool) {
	var we WireError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// IsRetryable reports whether err (or anything it wraps) is marked
// retryable.
func IsRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

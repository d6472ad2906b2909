package model

import (
	"fmt"
	"strings"
)

// ProfileNotFoundError indicates the requested vertical has no code-defined
// base profile. Fatal to a merge; there is nothing to layer overrides onto.
type ProfileNotFoundError struct {
	Vertical string
}

func (e *ProfileNotFoundError) Error() string {
	return fmt.Sprintf("no base profile for vertical %q", e.Vertical)
}

// ValidationError indicates an override payload was rejected at write time.
// Invalid payloads are never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// StoreError wraps a query/network failure from the backing store, carrying
// the store-provided error code when one is available. It is surfaced
// verbatim to the caller; retry is the caller's decision.
type StoreError struct {
	Op   string
	Code string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("store: %s: [%s] %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// DuplicateOverrideError reports multiple active rows sharing one natural
// key. The transactional upsert prevents new occurrences; the auditor still
// detects rows that predate it or slipped past it.
type DuplicateOverrideError struct {
	NaturalKey string
	RowIDs     []string
}

func (e *DuplicateOverrideError) Error() string {
	return fmt.Sprintf("duplicate active overrides for %s: rows %s", e.NaturalKey, strings.Join(e.RowIDs, ", "))
}

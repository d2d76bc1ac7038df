package model

import "fmt"

// Error kinds. These are values, not a type hierarchy: each is a small
// struct implementing error so callers can errors.As() on the concrete
// kind they care about.

// ErrInvalidIdentifier is returned when an identifier contains a NUL byte
// or otherwise cannot be safely quoted.
type ErrInvalidIdentifier struct {
	Identifier string
	Reason     string
}

func (e ErrInvalidIdentifier) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Identifier, e.Reason)
}

// ErrGeometryStagingFailed is returned when union or buffer produces a
// null/empty geometry for a non-negative buffer request.
type ErrGeometryStagingFailed struct {
	Reason string
}

func (e ErrGeometryStagingFailed) Error() string {
	return fmt.Sprintf("geometry staging failed: %s", e.Reason)
}

// ErrNoConnection is returned when the Host cannot supply a database
// connection for a layer that requires one.
type ErrNoConnection struct {
	LayerID string
}

func (e ErrNoConnection) Error() string {
	return fmt.Sprintf("no connection available for layer %q", e.LayerID)
}

// ErrStatementTimeout is returned when a backend statement_timeout fires.
type ErrStatementTimeout struct {
	LayerID string
	SQL     string
}

func (e ErrStatementTimeout) Error() string {
	return fmt.Sprintf("statement timeout on layer %q", e.LayerID)
}

// ErrQueryCanceled is returned when the database cancels a running query.
type ErrQueryCanceled struct {
	LayerID string
}

func (e ErrQueryCanceled) Error() string {
	return fmt.Sprintf("query canceled on layer %q", e.LayerID)
}

// ErrMVCreateFailed is returned when materialized view / temp table
// creation fails; callers should fall back to a non-materialized plan.
type ErrMVCreateFailed struct {
	Name string
	Err  error
}

func (e ErrMVCreateFailed) Error() string {
	return fmt.Sprintf("failed to create view %q: %v", e.Name, e.Err)
}

func (e ErrMVCreateFailed) Unwrap() error { return e.Err }

// ErrSchemaPermissionDenied is returned when the MV schema cannot be
// created or used; callers should fall back to the public schema.
type ErrSchemaPermissionDenied struct {
	Schema string
}

func (e ErrSchemaPermissionDenied) Error() string {
	return fmt.Sprintf("permission denied for schema %q", e.Schema)
}

// ErrUnsupportedLayer is returned when a LayerInfo fails its invariants.
type ErrUnsupportedLayer struct {
	Provider string
	Reason   string
}

func (e ErrUnsupportedLayer) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported layer provider %q", e.Provider)
	}
	return fmt.Sprintf("unsupported layer provider %q: %s", e.Provider, e.Reason)
}

// ErrAbortedByUser is returned when the task is canceled cooperatively.
type ErrAbortedByUser struct{}

func (e ErrAbortedByUser) Error() string { return "aborted by user" }

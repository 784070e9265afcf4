package notification

import "errors"

// Sentinel errors for the notification surface. Handlers map these onto HTTP
// statuses; everything else surfaces as a 500.
var (
	// ErrValidation covers missing or invalid fields on create/update.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means the notification (or template) id is unknown.
	ErrNotFound = errors.New("notification not found")

	// ErrPermission means the caller's role or ownership check failed.
	ErrPermission = errors.New("permission denied")

	// ErrStateConflict means the requested operation is illegal in the
	// notification's current status.
	ErrStateConflict = errors.New("operation not allowed in current status")

	// ErrUnsupportedAudience means the target audience variant is unknown.
	// It aborts creation before any recipient records are written.
	ErrUnsupportedAudience = errors.New("unsupported target audience type")
)

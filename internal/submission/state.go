package submission

import (
	"fmt"

	"field-service-reports/internal/rules"
)

// State is a step of one submission attempt.
type State string

const (
	StateIdle              State = "idle"
	StateValidating        State = "validating"
	StateValidationBlocked State = "validation_blocked"
	StateFeeReview         State = "fee_review"
	StateSubmitting        State = "submitting"
	StateEnqueued          State = "enqueued"
	StateUploading         State = "uploading"
	StatePersisting        State = "persisting"
	StateDone              State = "done"
)

// ErrDismissReasonRequired is returned when the reviewer dismisses an auto-added fee without a
// reason.
var ErrDismissReasonRequired = rules.ErrDismissReasonRequired

// FatalError means the attempt failed after validation. The local record was left untouched so
// the user can retry.
type FatalError struct {
	Stage State
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("submission failed while %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

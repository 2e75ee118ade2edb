package cancellation

import (
	"strings"

	"github.com/frahmantamala/roomshare/internal/core/common/validation"
)

const maxReasonLength = 1000

type SubmitRequest struct {
	Ticket string `json:"ticket"`
	Reason string `json:"reason"`
}

func (r *SubmitRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)

	v := validation.NewValidator()
	v.Field("ticket", r.Ticket).Required()
	v.Field("reason", r.Reason).Required().MaxLength(maxReasonLength)

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

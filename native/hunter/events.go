package hunter

import (
	"strconv"

	"openbounty/core/types"
)

const EventTypeProfileCreated = "hunter.profile_created"

// NewProfileCreatedEvent returns the payload emitted when a wallet registers
// as a hunter.
func NewProfileCreatedEvent(p *Profile) *types.Event {
	return &types.Event{
		Type: EventTypeProfileCreated,
		Attributes: map[string]string{
			"hunter":    p.Hunter.String(),
			"profile":   p.Address().String(),
			"createdAt": strconv.FormatUint(p.CreatedAt, 10),
		},
	}
}

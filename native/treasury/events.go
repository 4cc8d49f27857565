package treasury

import (
	"strconv"

	"openbounty/core/types"
)

const EventTypeTreasuryInitialized = "treasury.initialized"

// NewInitializedEvent returns the payload emitted when the singleton is
// created.
func NewInitializedEvent(t *Treasury) *types.Event {
	return &types.Event{
		Type: EventTypeTreasuryInitialized,
		Attributes: map[string]string{
			"treasury":      Address().String(),
			"authority":     t.Authority.String(),
			"initializedAt": strconv.FormatUint(t.InitializedAt, 10),
		},
	}
}

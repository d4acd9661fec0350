package events

import (
	"math/big"
	"strconv"

	"scrollpay/core/types"
)

const (
	// TypeOracleFallbackUpdated is emitted when the owner rotates the manual
	// fallback price.
	TypeOracleFallbackUpdated = "oracle.fallback_updated"
)

// OracleFallbackUpdated captures a fallback price rotation.
type OracleFallbackUpdated struct {
	Price     *big.Int
	UpdatedAt int64
}

// EventType satisfies the events.Event interface.
func (OracleFallbackUpdated) EventType() string { return TypeOracleFallbackUpdated }

// Event converts the structured payload into a wire-friendly representation.
func (e OracleFallbackUpdated) Event() *types.Event {
	return &types.Event{Type: TypeOracleFallbackUpdated, Attributes: map[string]string{
		"price":     amountString(e.Price),
		"updatedAt": strconv.FormatInt(e.UpdatedAt, 10),
	}}
}

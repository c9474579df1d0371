package config

import "time"

// Record is the singleton escrow configuration: the admin identity that
// arbitrates disputes and the symbol of the token accepted for bounties.
// It is written once at initialization and survives for the life of the
// deployment.
type Record struct {
	AdminID       string
	TokenSymbol   string
	InitializedAt time.Time
	UpdatedAt     time.Time
}

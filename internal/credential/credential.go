// Package credential provides the managed pool of third-party API
// credentials, including per-credential health tracking and the selection
// policy used when binding a credential to a granted lease.
package credential

import (
	"time"
)

// Health represents the health tier of a credential, derived from a rolling
// window of recent usage outcomes.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthUnavailable Health = "unavailable"
)

// Credential is a managed unit of the shared external resource.
type Credential struct {
	// ID identifies the credential. Safe to log and expose.
	ID string

	// Secret is the opaque secret material handed to lease holders.
	// Never logged or exposed in full.
	Secret string

	// Weight biases round-robin selection. Zero is treated as one.
	Weight int
}

// UsageCounters holds cumulative usage bookkeeping for one credential.
type UsageCounters struct {
	Successes     int64     `json:"successes"`
	Failures      int64     `json:"failures"`
	UnitsConsumed int64     `json:"unitsConsumed"`
	LastUsed      time.Time `json:"lastUsed,omitzero"`
}

// Info is the masked introspection view of one pool entry.
type Info struct {
	ID           string        `json:"id"`
	MaskedSecret string        `json:"maskedSecret"`
	Health       Health        `json:"health"`
	InUse        bool          `json:"inUse"`
	Counters     UsageCounters `json:"counters"`
}

// MaskSecret returns a display-safe form of secret material, keeping only a
// short prefix.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "..."
}

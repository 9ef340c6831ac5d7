package discovery

import "time"

// LeaseStatus is the externally visible status of the local registration.
type LeaseStatus string

const (
	LeasePending      LeaseStatus = "PENDING"
	LeaseRegistered   LeaseStatus = "REGISTERED"
	LeaseRenewing     LeaseStatus = "RENEWING"
	LeaseFailed       LeaseStatus = "FAILED"
	LeaseDeregistered LeaseStatus = "DEREGISTERED"
)

// LeaseState is a copy of the registrar's lease bookkeeping.
type LeaseState struct {
	InstanceID string      `json:"instance_id"`
	Token      string      `json:"token,omitempty"`
	Sequence   int         `json:"sequence"`
	Status     LeaseStatus `json:"status"`
	State      State       `json:"state"`
	// LastRenewal is the time of the last successful register or renew.
	LastRenewal       time.Time `json:"last_renewal"`
	ConsecutiveMisses int       `json:"consecutive_misses"`
	// Down is set once misses exceed the bound derived from the TTL.
	Down bool `json:"down"`
}

// State is a registrar state machine state.
type State string

const (
	StateUnregistered  State = "UNREGISTERED"
	StateRegistering   State = "REGISTERING"
	StateRegistered    State = "REGISTERED"
	StateRenewing      State = "RENEWING"
	StateFailed        State = "FAILED"
	StateDeregistering State = "DEREGISTERING"
)

func (s State) leaseStatus() LeaseStatus {
	switch s {
	case StateRegistered:
		return LeaseRegistered
	case StateRenewing:
		return LeaseRenewing
	case StateFailed:
		return LeaseFailed
	case StateDeregistering:
		return LeaseDeregistered
	}
	return LeasePending
}

// MaxMisses is the number of consecutive renewal failures tolerated before a
// lease is reported down: floor(ttl/interval) - 1, at least 1.
func MaxMisses(ttl, interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	return max(1, int(ttl/interval)-1)
}

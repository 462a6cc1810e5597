package live

import "time"

// EndpointStatus is the registration state of an internal extension.
type EndpointStatus string

const (
	EndpointRegistered   EndpointStatus = "registered"
	EndpointUnregistered EndpointStatus = "unregistered"
)

// EndpointState is the live view of one extension's SIP registration.
type EndpointState struct {
	Extension     string         `json:"extension"`
	Status        EndpointStatus `json:"status"`
	RoundtripUsec int            `json:"roundtrip_usec,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TrunkStatus is the outbound registration state of a trunk.
type TrunkStatus string

const (
	TrunkRegistered TrunkStatus = "registered"
	TrunkPending    TrunkStatus = "pending"
	TrunkFailed     TrunkStatus = "failed"
)

// TrunkState is the live view of one trunk registration, keyed by the
// registration username (or domain when the provider omits the username).
type TrunkState struct {
	Name         string      `json:"name"`
	Domain       string      `json:"domain,omitempty"`
	Status       TrunkStatus `json:"status"`
	Expiry       time.Time   `json:"expiry,omitzero"`
	LastResponse string      `json:"last_response,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// CallPhase is the lifecycle phase of a tracked call.
type CallPhase string

const (
	CallRinging CallPhase = "ringing"
	CallUp      CallPhase = "up"
	CallDown    CallPhase = "down"
)

// ChannelState is the live view of one call, keyed by Linkedid so that all
// legs of the same call collapse into a single entry.
type ChannelState struct {
	CallID     string    `json:"call_id"`
	Caller     string    `json:"caller"`
	CallerName string    `json:"caller_name,omitempty"`
	Callee     string    `json:"callee"`
	Phase      CallPhase `json:"phase"`
	StartedAt  time.Time `json:"started_at"`
	AnsweredAt time.Time `json:"answered_at,omitzero"`
	EndedAt    time.Time `json:"ended_at,omitzero"`
	CauseCode  int       `json:"cause_code,omitempty"`
	Cause      string    `json:"cause,omitempty"`
}

// ChangeKind names which part of the live state a Change touches.
type ChangeKind string

const (
	ChangeEndpoint ChangeKind = "endpoint"
	ChangeTrunk    ChangeKind = "trunk"
	ChangeCall     ChangeKind = "call"
)

// Change is emitted by the aggregator when an event actually moved some
// piece of state. Exactly one of the pointer fields is set.
type Change struct {
	Kind     ChangeKind     `json:"kind"`
	Endpoint *EndpointState `json:"endpoint,omitempty"`
	Trunk    *TrunkState    `json:"trunk,omitempty"`
	Channel  *ChannelState  `json:"channel,omitempty"`
}

// State is a point-in-time copy of everything the aggregator tracks.
type State struct {
	Endpoints map[string]EndpointState `json:"endpoints"`
	Trunks    map[string]TrunkState    `json:"trunks"`
	Channels  map[string]ChannelState  `json:"channels"`
}

// hangupCause maps hangup cause codes to short names.
var hangupCause = map[int]string{
	0:   "unknown",
	16:  "normal_clearing",
	17:  "user_busy",
	18:  "no_answer",
	19:  "no_answer",
	21:  "call_rejected",
	31:  "normal_unspecified",
	34:  "congestion",
	127: "interworking",
}

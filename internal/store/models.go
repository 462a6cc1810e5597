package store

// Endpoint is an internal extension registered with the switch.
type Endpoint struct {
	Extension string
	Secret    string
	CallerID  string
	Context   string
	Enabled   bool
}

// TrunkAuthMode selects how a trunk authenticates with the provider.
type TrunkAuthMode string

const (
	AuthRegistration TrunkAuthMode = "registration"
	AuthFixedIP      TrunkAuthMode = "fixed-ip"
)

// Trunk is an external SIP connection to a telephony provider.
type Trunk struct {
	ID          int64
	Name        string
	Provider    string
	AuthMode    TrunkAuthMode
	SIPServer   string
	Username    string
	Password    string
	NumberBlock string
	Context     string
	Codecs      string
	Enabled     bool
}

// InboundRoute maps a DID arriving on a trunk to a destination extension,
// which may be an endpoint or a ring group.
type InboundRoute struct {
	DID         string
	TrunkID     int64
	Extension   string
	Description string
	Enabled     bool
}

// ForwardType distinguishes the three call-forward variants.
type ForwardType string

const (
	ForwardUnconditional ForwardType = "unconditional"
	ForwardBusy          ForwardType = "busy"
	ForwardNoAnswer      ForwardType = "no_answer"
)

// CallForwardRule redirects calls for one extension. At most one enabled
// rule may exist per (extension, type).
type CallForwardRule struct {
	Extension   string
	Type        ForwardType
	Destination string
	RingTime    int
	Enabled     bool
}

// RingStrategy selects how a ring group dials its members.
type RingStrategy string

const (
	RingAll         RingStrategy = "ring-all"
	RingRoundRobin  RingStrategy = "round-robin"
	RingLeastRecent RingStrategy = "least-recent"
)

// RingGroup rings a set of member endpoints under one extension, optionally
// bound to an inbound DID.
type RingGroup struct {
	ID             int64
	Name           string
	Extension      string
	Members        []string
	Strategy       RingStrategy
	RingTime       int
	InboundTrunkID int64
	InboundDID     string
	Enabled        bool
}

// VoicemailBox holds one mailbox, keyed by extension.
type VoicemailBox struct {
	Extension string
	PIN       string
	Name      string
	Email     string
	Enabled   bool
}

// Snapshot is a read-only point-in-time copy of the relational configuration.
type Snapshot struct {
	Endpoints  []Endpoint
	Trunks     []Trunk
	Routes     []InboundRoute
	Forwards   []CallForwardRule
	RingGroups []RingGroup
	Mailboxes  []VoicemailBox
}

// Package live folds the manager event stream into the current state of
// endpoints, trunks, and calls. The aggregator is purely event-driven and
// idempotent: replaying an event that matches the current state produces no
// change, so resync enumerations after a reconnect are safe.
package live

import (
	"strings"
	"sync"
	"time"

	"github.com/gonopbx/pbxadmin/internal/ami"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// purgeGrace is how long a hung-up call stays visible before Sweep drops it,
// giving consumers a chance to observe the final state.
const purgeGrace = 2 * time.Second

// Aggregator tracks live switch state. Safe for concurrent use: the event
// pump applies while HTTP handlers and the hub read snapshots.
type Aggregator struct {
	mu        sync.Mutex
	endpoints map[string]*EndpointState
	trunks    map[string]*TrunkState
	channels  map[string]*ChannelState
	clock     Clock
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the time source for the aggregator.
func WithClock(c Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		endpoints: make(map[string]*EndpointState),
		trunks:    make(map[string]*TrunkState),
		channels:  make(map[string]*ChannelState),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply ingests one manager event and returns the changes it caused.
// Events that do not move any state return nil.
func (a *Aggregator) Apply(evt ami.Event) []Change {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch evt.Type() {
	case "ContactStatus":
		return a.applyContactStatus(evt)
	case "ContactList":
		return a.applyContactList(evt)
	case "PeerStatus":
		return a.applyPeerStatus(evt)
	case "Registry":
		return a.applyRegistry(evt)
	case "OutboundRegistrationDetail":
		return a.applyOutboundRegistrationDetail(evt)
	case "Newchannel":
		return a.applyNewchannel(evt)
	case "DialBegin":
		return a.applyDialBegin(evt)
	case "DialEnd":
		return a.applyDialEnd(evt)
	case "Newstate":
		return a.applyNewstate(evt)
	case "Hangup":
		return a.applyHangup(evt)
	case "CoreShowChannel":
		return a.applyCoreShowChannel(evt)
	default:
		return nil
	}
}

// Sweep drops calls that have been down longer than the grace period and
// returns how many were purged.
func (a *Aggregator) Sweep(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	purged := 0
	for id, ch := range a.channels {
		if ch.Phase == CallDown && now.Sub(ch.EndedAt) >= purgeGrace {
			delete(a.channels, id)
			purged++
		}
	}
	return purged
}

// Reset clears all tracked state. Called on reconnect before the resync
// enumeration replays current reality.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endpoints = make(map[string]*EndpointState)
	a.trunks = make(map[string]*TrunkState)
	a.channels = make(map[string]*ChannelState)
}

// Snapshot returns a deep copy of the current state.
func (a *Aggregator) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := State{
		Endpoints: make(map[string]EndpointState, len(a.endpoints)),
		Trunks:    make(map[string]TrunkState, len(a.trunks)),
		Channels:  make(map[string]ChannelState, len(a.channels)),
	}
	for k, v := range a.endpoints {
		s.Endpoints[k] = *v
	}
	for k, v := range a.trunks {
		s.Trunks[k] = *v
	}
	for k, v := range a.channels {
		// A channel that exists but has not started ringing yet is not a
		// call anyone can observe.
		if v.Phase == "" {
			continue
		}
		s.Channels[k] = *v
	}
	return s
}

func (a *Aggregator) applyContactStatus(evt ami.Event) []Change {
	ext := evt.Get("EndpointName")
	if ext == "" {
		return nil
	}
	status := contactToStatus(evt.Get("ContactStatus"))
	rtt := evt.GetInt("RoundtripUsec")
	return a.setEndpoint(ext, status, rtt)
}

func (a *Aggregator) applyContactList(evt ami.Event) []Change {
	// ContactList events arrive during a PJSIPShowContacts enumeration; the
	// Aor names the extension.
	ext := evt.Get("Aor")
	if ext == "" {
		return nil
	}
	status := contactToStatus(evt.Get("Status"))
	rtt := evt.GetInt("RoundtripUsec")
	return a.setEndpoint(ext, status, rtt)
}

func (a *Aggregator) applyPeerStatus(evt ami.Event) []Change {
	peer := evt.Get("Peer")
	ext := strings.TrimPrefix(peer, "PJSIP/")
	if ext == "" {
		return nil
	}
	var status EndpointStatus
	switch evt.Get("PeerStatus") {
	case "Registered", "Reachable":
		status = EndpointRegistered
	case "Unregistered", "Unreachable", "Rejected":
		status = EndpointUnregistered
	default:
		return nil
	}
	return a.setEndpoint(ext, status, -1)
}

func (a *Aggregator) setEndpoint(ext string, status EndpointStatus, rtt int) []Change {
	ep := a.endpoints[ext]
	if ep == nil {
		ep = &EndpointState{Extension: ext, Status: EndpointUnregistered}
		a.endpoints[ext] = ep
	} else if ep.Status == status && (rtt < 0 || ep.RoundtripUsec == rtt) {
		return nil
	}
	ep.Status = status
	if rtt >= 0 {
		ep.RoundtripUsec = rtt
	}
	ep.UpdatedAt = a.clock()
	cp := *ep
	return []Change{{Kind: ChangeEndpoint, Endpoint: &cp}}
}

func (a *Aggregator) applyRegistry(evt ami.Event) []Change {
	name := evt.Get("Username")
	if name == "" {
		name = evt.Get("Domain")
	}
	if name == "" {
		return nil
	}
	// SIP URIs leak into the Username header on some versions.
	name = strings.TrimPrefix(name, "sip:")

	var status TrunkStatus
	switch evt.Get("Status") {
	case "Registered":
		status = TrunkRegistered
	case "Rejected", "Failed", "Timeout":
		status = TrunkFailed
	default:
		status = TrunkPending
	}

	// The Cause header carries the provider's last response line
	// ("403 Forbidden" and friends); worth surfacing even when the
	// coarse status did not move.
	response := evt.Get("Cause")

	tr := a.trunks[name]
	if tr == nil {
		tr = &TrunkState{Name: name}
		a.trunks[name] = tr
	} else if tr.Status == status && tr.LastResponse == response {
		return nil
	}
	tr.Status = status
	tr.Domain = evt.Get("Domain")
	tr.LastResponse = response
	now := a.clock()
	if secs := evt.GetInt("Expiry"); secs > 0 {
		tr.Expiry = now.Add(time.Duration(secs) * time.Second)
	}
	tr.UpdatedAt = now
	cp := *tr
	return []Change{{Kind: ChangeTrunk, Trunk: &cp}}
}

func (a *Aggregator) applyOutboundRegistrationDetail(evt ami.Event) []Change {
	// Enumeration reply to PJSIPShowRegistrationsOutbound; ClientUri is
	// sip:<user>@<domain>.
	uri := strings.TrimPrefix(evt.Get("ClientUri"), "sip:")
	name, domain, ok := strings.Cut(uri, "@")
	if !ok || name == "" {
		return nil
	}

	var status TrunkStatus
	switch evt.Get("Status") {
	case "Registered":
		status = TrunkRegistered
	case "Rejected", "Stopped":
		status = TrunkFailed
	default:
		status = TrunkPending
	}

	tr := a.trunks[name]
	if tr == nil {
		tr = &TrunkState{Name: name}
		a.trunks[name] = tr
	} else if tr.Status == status {
		return nil
	}
	tr.Status = status
	tr.Domain = domain
	now := a.clock()
	if secs := evt.GetInt("Expiration"); secs > 0 {
		tr.Expiry = now.Add(time.Duration(secs) * time.Second)
	}
	tr.UpdatedAt = now
	cp := *tr
	return []Change{{Kind: ChangeTrunk, Trunk: &cp}}
}

// ensureChannel finds or lazily creates the call entry for linkedID and
// backfills party identity from whichever event happened to arrive first.
// Events can reach us mid-call (restart, event loss), so every lifecycle
// handler goes through here instead of requiring a prior Newchannel.
func (a *Aggregator) ensureChannel(evt ami.Event, linkedID string) *ChannelState {
	ch := a.channels[linkedID]
	if ch == nil {
		ch = &ChannelState{CallID: linkedID, StartedAt: a.clock()}
		a.channels[linkedID] = ch
	}
	if ch.Caller == "" {
		ch.Caller = evt.Get("CallerIDNum")
	}
	if ch.CallerName == "" {
		ch.CallerName = evt.Get("CallerIDName")
	}
	if ch.Callee == "" {
		if dest := evt.Get("DestCallerIDNum"); dest != "" {
			ch.Callee = dest
		} else {
			ch.Callee = evt.Get("Exten")
		}
	}
	return ch
}

func (a *Aggregator) applyNewchannel(evt ami.Event) []Change {
	linkedID := evt.Get("Linkedid")
	if linkedID == "" {
		return nil
	}
	// Creation only; the call becomes visible once it starts ringing.
	a.ensureChannel(evt, linkedID)
	return nil
}

func (a *Aggregator) applyDialBegin(evt ami.Event) []Change {
	linkedID := evt.Get("Linkedid")
	if linkedID == "" {
		return nil
	}
	ch := a.ensureChannel(evt, linkedID)
	if ch.Phase != "" {
		return nil
	}
	ch.Phase = CallRinging
	cp := *ch
	return []Change{{Kind: ChangeCall, Channel: &cp}}
}

func (a *Aggregator) applyDialEnd(evt ami.Event) []Change {
	linkedID := evt.Get("Linkedid")
	if linkedID == "" {
		return nil
	}
	// Only ANSWER moves the call up; BUSY, NOANSWER etc. leave the phase
	// alone and the Hangup cause tells the rest of the story.
	if evt.Get("DialStatus") != "ANSWER" {
		return nil
	}
	ch := a.ensureChannel(evt, linkedID)
	if ch.Phase == CallUp || ch.Phase == CallDown {
		return nil
	}
	ch.Phase = CallUp
	ch.AnsweredAt = a.clock()
	cp := *ch
	return []Change{{Kind: ChangeCall, Channel: &cp}}
}

func (a *Aggregator) applyNewstate(evt ami.Event) []Change {
	linkedID := evt.Get("Linkedid")
	if linkedID == "" {
		return nil
	}
	ch := a.ensureChannel(evt, linkedID)

	switch evt.Get("ChannelStateDesc") {
	case "Ringing":
		if ch.Phase != "" {
			return nil
		}
		ch.Phase = CallRinging
	case "Up":
		if ch.Phase == CallUp || ch.Phase == CallDown {
			return nil
		}
		ch.Phase = CallUp
		ch.AnsweredAt = a.clock()
	default:
		return nil
	}
	cp := *ch
	return []Change{{Kind: ChangeCall, Channel: &cp}}
}

func (a *Aggregator) applyHangup(evt ami.Event) []Change {
	linkedID := evt.Get("Linkedid")
	if linkedID == "" {
		return nil
	}
	// Each leg hangs up separately; the call is over when the originating
	// channel (Uniqueid == Linkedid) goes away.
	if evt.Get("Uniqueid") != linkedID {
		return nil
	}
	ch := a.ensureChannel(evt, linkedID)
	if ch.Phase == CallDown {
		return nil
	}
	ch.Phase = CallDown
	ch.EndedAt = a.clock()
	ch.CauseCode = evt.GetInt("Cause")
	if name, ok := hangupCause[ch.CauseCode]; ok {
		ch.Cause = name
	} else {
		ch.Cause = "unknown"
	}
	cp := *ch
	return []Change{{Kind: ChangeCall, Channel: &cp}}
}

func (a *Aggregator) applyCoreShowChannel(evt ami.Event) []Change {
	// CoreShowChannel arrives during a CoreShowChannels enumeration after
	// reconnect and seeds calls that started while we were away.
	linkedID := evt.Get("Linkedid")
	if linkedID == "" {
		return nil
	}
	if _, exists := a.channels[linkedID]; exists {
		return nil
	}
	ch := &ChannelState{
		CallID:     linkedID,
		Caller:     evt.Get("CallerIDNum"),
		CallerName: evt.Get("CallerIDName"),
		Callee:     evt.Get("Exten"),
		StartedAt:  a.clock(),
	}
	switch evt.Get("ChannelStateDesc") {
	case "Up":
		ch.Phase = CallUp
		ch.AnsweredAt = a.clock()
	case "Ringing", "Ring":
		ch.Phase = CallRinging
	default:
		ch.Phase = CallRinging
	}
	a.channels[linkedID] = ch
	cp := *ch
	return []Change{{Kind: ChangeCall, Channel: &cp}}
}

func contactToStatus(s string) EndpointStatus {
	switch s {
	case "Reachable", "Created", "Updated":
		return EndpointRegistered
	default:
		return EndpointUnregistered
	}
}

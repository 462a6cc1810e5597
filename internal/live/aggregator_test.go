package live

import (
	"testing"
	"time"

	"github.com/gonopbx/pbxadmin/internal/ami"
)

// testClock returns a Clock that advances one second per call.
func testClock() Clock {
	now := time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestContactStatusMovesEndpoint(t *testing.T) {
	a := New(WithClock(testClock()))

	evt := ami.NewEvent(
		"Event", "ContactStatus",
		"EndpointName", "1001",
		"ContactStatus", "Reachable",
		"RoundtripUsec", "12543",
	)

	changes := a.Apply(evt)
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	ep := changes[0].Endpoint
	if changes[0].Kind != ChangeEndpoint || ep == nil {
		t.Fatal("change is not an endpoint change")
	}
	if ep.Extension != "1001" || ep.Status != EndpointRegistered || ep.RoundtripUsec != 12543 {
		t.Errorf("unexpected endpoint state: %+v", ep)
	}

	// Replaying the same event must be a no-op.
	if changes := a.Apply(evt); changes != nil {
		t.Errorf("replay produced changes: %+v", changes)
	}

	gone := ami.NewEvent("Event", "ContactStatus", "EndpointName", "1001", "ContactStatus", "Removed")
	changes = a.Apply(gone)
	if len(changes) != 1 || changes[0].Endpoint.Status != EndpointUnregistered {
		t.Errorf("unregister not reported: %+v", changes)
	}
}

func TestPeerStatusStripsTechPrefix(t *testing.T) {
	a := New(WithClock(testClock()))
	changes := a.Apply(ami.NewEvent("Event", "PeerStatus", "Peer", "PJSIP/1002", "PeerStatus", "Registered"))
	if len(changes) != 1 || changes[0].Endpoint.Extension != "1002" {
		t.Fatalf("unexpected changes: %+v", changes)
	}
}

func TestRegistryTransitions(t *testing.T) {
	a := New(WithClock(testClock()))

	registered := ami.NewEvent(
		"Event", "Registry",
		"Username", "plusnet01",
		"Domain", "sip.ipfonie.de",
		"Status", "Registered",
	)

	changes := a.Apply(registered)
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	tr := changes[0].Trunk
	if tr == nil || tr.Name != "plusnet01" || tr.Status != TrunkRegistered {
		t.Fatalf("unexpected trunk state: %+v", tr)
	}

	// Re-registration with the same outcome is silent.
	if changes := a.Apply(registered); changes != nil {
		t.Errorf("duplicate Registered produced changes: %+v", changes)
	}

	rejected := ami.NewEvent("Event", "Registry", "Username", "plusnet01", "Domain", "sip.ipfonie.de", "Status", "Rejected")
	changes = a.Apply(rejected)
	if len(changes) != 1 || changes[0].Trunk.Status != TrunkFailed {
		t.Fatalf("rejection not reported exactly once: %+v", changes)
	}
	if changes := a.Apply(rejected); changes != nil {
		t.Errorf("duplicate Rejected produced changes: %+v", changes)
	}
}

func TestRegistryRecordsResponseAndExpiry(t *testing.T) {
	a := New(WithClock(testClock()))

	c := a.Apply(ami.NewEvent(
		"Event", "Registry",
		"Username", "plusnet01",
		"Domain", "sip.ipfonie.de",
		"Status", "Registered",
		"Expiry", "600",
	))
	if len(c) != 1 {
		t.Fatalf("got %d changes, want 1", len(c))
	}
	tr := c[0].Trunk
	if tr.Expiry.IsZero() {
		t.Error("expiry not recorded")
	}
	if got := tr.Expiry.Sub(tr.UpdatedAt); got != 600*time.Second {
		t.Errorf("expiry %s ahead of update, want 600s", got)
	}

	// Same coarse status, new response line: still worth reporting.
	rejected := ami.NewEvent("Event", "Registry", "Username", "plusnet01",
		"Domain", "sip.ipfonie.de", "Status", "Rejected", "Cause", "401 Unauthorized")
	if c := a.Apply(rejected); len(c) != 1 || c[0].Trunk.LastResponse != "401 Unauthorized" {
		t.Fatalf("rejection response not recorded: %+v", c)
	}
	forbidden := ami.NewEvent("Event", "Registry", "Username", "plusnet01",
		"Domain", "sip.ipfonie.de", "Status", "Rejected", "Cause", "403 Forbidden")
	c = a.Apply(forbidden)
	if len(c) != 1 || c[0].Trunk.LastResponse != "403 Forbidden" {
		t.Fatalf("changed response line not reported: %+v", c)
	}
	if c := a.Apply(forbidden); c != nil {
		t.Errorf("identical status and response produced changes: %+v", c)
	}
}

func TestRegistryFallsBackToDomain(t *testing.T) {
	a := New(WithClock(testClock()))
	changes := a.Apply(ami.NewEvent("Event", "Registry", "Domain", "tel.t-online.de", "Status", "Request Sent"))
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	if tr := changes[0].Trunk; tr.Name != "tel.t-online.de" || tr.Status != TrunkPending {
		t.Errorf("unexpected trunk state: %+v", tr)
	}
}

func TestOutboundRegistrationDetailSeedsTrunk(t *testing.T) {
	a := New(WithClock(testClock()))
	c := a.Apply(ami.NewEvent(
		"Event", "OutboundRegistrationDetail",
		"ActionID", "7",
		"ClientUri", "sip:plusnet01@sip.ipfonie.de",
		"Status", "Registered",
	))
	if len(c) != 1 {
		t.Fatalf("got %d changes, want 1", len(c))
	}
	tr := c[0].Trunk
	if tr.Name != "plusnet01" || tr.Domain != "sip.ipfonie.de" || tr.Status != TrunkRegistered {
		t.Errorf("unexpected trunk state: %+v", tr)
	}

	// A later live Registry event for the same trunk with the same outcome
	// stays silent.
	if c := a.Apply(ami.NewEvent("Event", "Registry", "Username", "plusnet01", "Domain", "sip.ipfonie.de", "Status", "Registered")); c != nil {
		t.Errorf("duplicate state after resync produced changes: %+v", c)
	}
}

func TestCallLifecycle(t *testing.T) {
	a := New(WithClock(testClock()))

	apply := func(kvs ...string) []Change {
		t.Helper()
		return a.Apply(ami.NewEvent(kvs...))
	}

	if c := apply("Event", "Newchannel", "Linkedid", "C-1", "Uniqueid", "C-1",
		"CallerIDNum", "1001", "Exten", "1002"); c != nil {
		t.Errorf("Newchannel produced changes: %+v", c)
	}

	c := apply("Event", "Newstate", "Linkedid", "C-1", "ChannelStateDesc", "Ringing")
	if len(c) != 1 || c[0].Channel.Phase != CallRinging {
		t.Fatalf("ringing not reported: %+v", c)
	}
	if c := apply("Event", "Newstate", "Linkedid", "C-1", "ChannelStateDesc", "Ringing"); c != nil {
		t.Errorf("duplicate Ringing produced changes: %+v", c)
	}

	c = apply("Event", "Newstate", "Linkedid", "C-1", "ChannelStateDesc", "Up")
	if len(c) != 1 || c[0].Channel.Phase != CallUp {
		t.Fatalf("answer not reported: %+v", c)
	}
	if c[0].Channel.Caller != "1001" || c[0].Channel.Callee != "1002" {
		t.Errorf("parties lost: %+v", c[0].Channel)
	}

	// The dialed leg hanging up does not end the call.
	if c := apply("Event", "Hangup", "Linkedid", "C-1", "Uniqueid", "C-2", "Cause", "16"); c != nil {
		t.Errorf("leg hangup ended the call: %+v", c)
	}

	c = apply("Event", "Hangup", "Linkedid", "C-1", "Uniqueid", "C-1", "Cause", "16")
	if len(c) != 1 {
		t.Fatalf("got %d changes, want 1", len(c))
	}
	ch := c[0].Channel
	if ch.Phase != CallDown || ch.Cause != "normal_clearing" || ch.CauseCode != 16 {
		t.Errorf("unexpected final state: %+v", ch)
	}

	// Still visible inside the grace period, purged after it.
	if purged := a.Sweep(ch.EndedAt.Add(time.Second)); purged != 0 {
		t.Errorf("purged %d calls inside grace period", purged)
	}
	if _, ok := a.Snapshot().Channels["C-1"]; !ok {
		t.Error("call gone before grace period elapsed")
	}
	if purged := a.Sweep(ch.EndedAt.Add(3 * time.Second)); purged != 1 {
		t.Errorf("purged %d calls, want 1", purged)
	}
	if _, ok := a.Snapshot().Channels["C-1"]; ok {
		t.Error("call still visible after purge")
	}
}

func TestDialEventsDriveLifecycle(t *testing.T) {
	a := New(WithClock(testClock()))

	apply := func(kvs ...string) []Change {
		t.Helper()
		return a.Apply(ami.NewEvent(kvs...))
	}

	// No Newchannel seen: the dial events alone must carry the call.
	c := apply("Event", "DialBegin", "Linkedid", "C-1", "Uniqueid", "C-1",
		"CallerIDNum", "1001", "CallerIDName", "Alice", "DestCallerIDNum", "1002")
	if len(c) != 1 {
		t.Fatalf("DialBegin produced %d changes, want 1", len(c))
	}
	ch := c[0].Channel
	if ch.Phase != CallRinging || ch.Caller != "1001" || ch.Callee != "1002" {
		t.Fatalf("unexpected ringing state: %+v", ch)
	}
	if _, ok := a.Snapshot().Channels["C-1"]; !ok {
		t.Error("ringing call missing from snapshot")
	}

	c = apply("Event", "DialEnd", "Linkedid", "C-1", "Uniqueid", "C-1", "DialStatus", "ANSWER")
	if len(c) != 1 || c[0].Channel.Phase != CallUp {
		t.Fatalf("answer not reported: %+v", c)
	}
	if c[0].Channel.AnsweredAt.IsZero() {
		t.Error("answer time not recorded")
	}
	if c := apply("Event", "DialEnd", "Linkedid", "C-1", "Uniqueid", "C-1", "DialStatus", "ANSWER"); c != nil {
		t.Errorf("duplicate DialEnd produced changes: %+v", c)
	}

	c = apply("Event", "Hangup", "Linkedid", "C-1", "Uniqueid", "C-1", "Cause", "16")
	if len(c) != 1 || c[0].Channel.Phase != CallDown || c[0].Channel.Cause != "normal_clearing" {
		t.Fatalf("hangup not reported: %+v", c)
	}

	if purged := a.Sweep(c[0].Channel.EndedAt.Add(3 * time.Second)); purged != 1 {
		t.Errorf("purged %d calls, want 1", purged)
	}
	if _, ok := a.Snapshot().Channels["C-1"]; ok {
		t.Error("call still visible after purge")
	}
}

func TestDialEndWithoutAnswerKeepsRinging(t *testing.T) {
	a := New(WithClock(testClock()))
	a.Apply(ami.NewEvent("Event", "DialBegin", "Linkedid", "C-2", "Uniqueid", "C-2",
		"CallerIDNum", "1001", "DestCallerIDNum", "1003"))

	if c := a.Apply(ami.NewEvent("Event", "DialEnd", "Linkedid", "C-2", "Uniqueid", "C-2", "DialStatus", "BUSY")); c != nil {
		t.Errorf("busy DialEnd produced changes: %+v", c)
	}

	c := a.Apply(ami.NewEvent("Event", "Hangup", "Linkedid", "C-2", "Uniqueid", "C-2", "Cause", "17"))
	if len(c) != 1 || c[0].Channel.Cause != "user_busy" {
		t.Fatalf("busy outcome lost: %+v", c)
	}
}

func TestHangupForUnknownCallStillReported(t *testing.T) {
	// The first event we see for a call may be its hangup (restart mid-call,
	// lost events). It still creates the entry and reports the end.
	a := New(WithClock(testClock()))
	c := a.Apply(ami.NewEvent("Event", "Hangup", "Linkedid", "C-9", "Uniqueid", "C-9",
		"CallerIDNum", "1001", "Cause", "16"))
	if len(c) != 1 {
		t.Fatalf("got %d changes, want 1", len(c))
	}
	ch := c[0].Channel
	if ch.CallID != "C-9" || ch.Phase != CallDown || ch.CauseCode != 16 {
		t.Errorf("unexpected final state: %+v", ch)
	}
}

func TestNewchannelHiddenUntilRinging(t *testing.T) {
	a := New(WithClock(testClock()))
	a.Apply(ami.NewEvent("Event", "Newchannel", "Linkedid", "C-3", "Uniqueid", "C-3",
		"CallerIDNum", "1001", "Exten", "1002"))

	if _, ok := a.Snapshot().Channels["C-3"]; ok {
		t.Fatal("call visible before it started ringing")
	}

	a.Apply(ami.NewEvent("Event", "Newstate", "Linkedid", "C-3", "ChannelStateDesc", "Ringing"))
	ch, ok := a.Snapshot().Channels["C-3"]
	if !ok {
		t.Fatal("ringing call missing from snapshot")
	}
	if ch.Caller != "1001" || ch.Callee != "1002" {
		t.Errorf("parties lost: %+v", ch)
	}
}

func TestResyncSeedsState(t *testing.T) {
	a := New(WithClock(testClock()))
	a.Apply(ami.NewEvent("Event", "ContactStatus", "EndpointName", "1001", "ContactStatus", "Reachable"))
	a.Reset()
	if s := a.Snapshot(); len(s.Endpoints) != 0 {
		t.Fatal("reset did not clear endpoints")
	}

	// Enumeration replies carry an ActionID; they flow through Apply like
	// any other event.
	c := a.Apply(ami.NewEvent(
		"Event", "ContactList",
		"ActionID", "42",
		"Aor", "1001",
		"Status", "Reachable",
		"RoundtripUsec", "9000",
	))
	if len(c) != 1 || c[0].Endpoint.Status != EndpointRegistered {
		t.Fatalf("ContactList not applied: %+v", c)
	}

	c = a.Apply(ami.NewEvent(
		"Event", "CoreShowChannel",
		"ActionID", "43",
		"Linkedid", "C-5",
		"Uniqueid", "C-5",
		"CallerIDNum", "1001",
		"Exten", "1002",
		"ChannelStateDesc", "Up",
	))
	if len(c) != 1 || c[0].Channel.Phase != CallUp {
		t.Fatalf("CoreShowChannel not applied: %+v", c)
	}

	// A later duplicate from the live stream must not reset the call.
	if c := a.Apply(ami.NewEvent("Event", "Newchannel", "Linkedid", "C-5", "Uniqueid", "C-5")); c != nil {
		t.Errorf("Newchannel for seeded call produced changes: %+v", c)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	a := New(WithClock(testClock()))
	a.Apply(ami.NewEvent("Event", "ContactStatus", "EndpointName", "1001", "ContactStatus", "Reachable"))

	s := a.Snapshot()
	ep := s.Endpoints["1001"]
	ep.Status = EndpointUnregistered
	s.Endpoints["1001"] = ep
	delete(s.Endpoints, "1001")

	if got := a.Snapshot().Endpoints["1001"].Status; got != EndpointRegistered {
		t.Errorf("mutating a snapshot leaked into the aggregator: %s", got)
	}
}

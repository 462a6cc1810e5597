package render

import (
	"fmt"
	"regexp"

	"github.com/gonopbx/pbxadmin/internal/store"
)

var (
	extensionPattern = regexp.MustCompile(`^\d{2,6}$`)
	didPattern       = regexp.MustCompile(`^\+?\d{3,15}$`)
)

// Validate enforces the snapshot-level invariants the CRUD layer is supposed
// to guarantee. Any violation means an upstream bug; the whole render is
// rejected with an InvalidSnapshotError.
func Validate(snap *store.Snapshot) error {
	endpointSet := make(map[string]bool)
	for _, e := range snap.Endpoints {
		if !extensionPattern.MatchString(e.Extension) {
			return &InvalidSnapshotError{Entity: "endpoint", ID: e.Extension, Reason: "extension must be numeric"}
		}
		if endpointSet[e.Extension] {
			return &InvalidSnapshotError{Entity: "endpoint", ID: e.Extension, Reason: "duplicate extension"}
		}
		endpointSet[e.Extension] = true
		if e.Enabled && e.Secret == "" {
			return &InvalidSnapshotError{Entity: "endpoint", ID: e.Extension, Reason: "enabled endpoint has empty secret"}
		}
	}

	trunkIDs := make(map[int64]bool)
	for _, t := range snap.Trunks {
		trunkIDs[t.ID] = true
		switch t.AuthMode {
		case store.AuthRegistration:
			if t.Enabled && (t.Username == "" || t.Password == "") {
				return &InvalidSnapshotError{Entity: "trunk", ID: t.Name, Reason: "registration trunk needs username and password"}
			}
		case store.AuthFixedIP:
		default:
			return &InvalidSnapshotError{Entity: "trunk", ID: t.Name, Reason: fmt.Sprintf("unknown auth mode %q", t.AuthMode)}
		}
		if t.Enabled && t.Server() == "" {
			return &InvalidSnapshotError{Entity: "trunk", ID: t.Name, Reason: "no SIP server for provider"}
		}
	}

	groupSet := make(map[string]store.RingGroup)
	for _, g := range snap.RingGroups {
		switch g.Strategy {
		case store.RingAll, store.RingRoundRobin, store.RingLeastRecent:
		default:
			return &InvalidSnapshotError{Entity: "ring group", ID: g.Extension, Reason: fmt.Sprintf("unknown strategy %q", g.Strategy)}
		}
		if g.RingTime < 1 || g.RingTime > 120 {
			return &InvalidSnapshotError{Entity: "ring group", ID: g.Extension, Reason: "ring time out of range"}
		}
		if g.Enabled && len(g.Members) == 0 {
			return &InvalidSnapshotError{Entity: "ring group", ID: g.Extension, Reason: "enabled group has no members"}
		}
		if g.Enabled && g.InboundDID != "" && !didPattern.MatchString(g.InboundDID) {
			return &InvalidSnapshotError{Entity: "ring group", ID: g.Extension, Reason: "malformed inbound DID"}
		}
		groupSet[g.Extension] = g
	}

	// (trunk, DID) resolves to exactly one destination. A ring group's DID
	// binding colliding with a direct route is a conflict, not a precedence
	// question.
	type didKey struct {
		trunkID int64
		did     string
	}
	seen := make(map[didKey]bool)
	for _, r := range snap.Routes {
		if !r.Enabled {
			continue
		}
		if !didPattern.MatchString(r.DID) {
			return &InvalidSnapshotError{Entity: "inbound route", ID: r.DID, Reason: "malformed DID"}
		}
		if !trunkIDs[r.TrunkID] {
			return &InvalidSnapshotError{Entity: "inbound route", ID: r.DID, Reason: fmt.Sprintf("unknown trunk id %d", r.TrunkID)}
		}
		k := didKey{trunkID: r.TrunkID, did: r.DID}
		if seen[k] {
			return &InvalidSnapshotError{Entity: "inbound route", ID: r.DID, Reason: "duplicate route for trunk and DID"}
		}
		seen[k] = true
		if !endpointSet[r.Extension] {
			if _, ok := groupSet[r.Extension]; !ok {
				return &InvalidSnapshotError{Entity: "inbound route", ID: r.DID, Reason: fmt.Sprintf("destination %q is neither endpoint nor ring group", r.Extension)}
			}
		}
	}
	for _, g := range snap.RingGroups {
		if !g.Enabled || g.InboundDID == "" {
			continue
		}
		k := didKey{trunkID: g.InboundTrunkID, did: g.InboundDID}
		if seen[k] {
			return &InvalidSnapshotError{Entity: "ring group", ID: g.Extension, Reason: fmt.Sprintf("inbound DID %s conflicts with a direct route", g.InboundDID)}
		}
		seen[k] = true
	}

	type fwdKey struct {
		ext string
		typ store.ForwardType
	}
	fwdSeen := make(map[fwdKey]bool)
	for _, f := range snap.Forwards {
		switch f.Type {
		case store.ForwardUnconditional, store.ForwardBusy, store.ForwardNoAnswer:
		default:
			return &InvalidSnapshotError{Entity: "call forward", ID: f.Extension, Reason: fmt.Sprintf("unknown forward type %q", f.Type)}
		}
		if !f.Enabled {
			continue
		}
		if f.RingTime < 1 || f.RingTime > 120 {
			return &InvalidSnapshotError{Entity: "call forward", ID: f.Extension, Reason: "ring time out of range"}
		}
		if f.Destination == "" {
			return &InvalidSnapshotError{Entity: "call forward", ID: f.Extension, Reason: "empty destination"}
		}
		k := fwdKey{ext: f.Extension, typ: f.Type}
		if fwdSeen[k] {
			return &InvalidSnapshotError{Entity: "call forward", ID: f.Extension, Reason: fmt.Sprintf("duplicate active %s rule", f.Type)}
		}
		fwdSeen[k] = true
	}

	mbSeen := make(map[string]bool)
	for _, b := range snap.Mailboxes {
		if mbSeen[b.Extension] {
			return &InvalidSnapshotError{Entity: "voicemail box", ID: b.Extension, Reason: "duplicate mailbox"}
		}
		mbSeen[b.Extension] = true
		if b.Enabled && b.PIN == "" {
			return &InvalidSnapshotError{Entity: "voicemail box", ID: b.Extension, Reason: "enabled mailbox has empty PIN"}
		}
	}

	return nil
}

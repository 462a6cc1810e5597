package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gonopbx/pbxadmin/internal/store"
)

const defaultRingTime = 20

// renderDialplan emits extensions.conf: the [internal] context with hints,
// ring groups, per-extension dial logic and outbound routing, and the
// [from-trunk] context with inbound DID routing.
func renderDialplan(snap *store.Snapshot) string {
	var b strings.Builder
	b.WriteString(generatedHeader)

	b.WriteString("[general]\nstatic=yes\nwriteprotect=no\nclearglobalvars=no\n\n[globals]\n\n")

	forwards := activeForwards(snap.Forwards)
	mailboxes := enabledMailboxes(snap)
	groups := enabledGroups(snap.RingGroups)
	trunksByID := trunkIndex(snap.Trunks)
	forwardTrunk := firstEnabledTrunk(snap.Trunks)
	endpoints := sortedEndpoints(snap.Endpoints)

	dialTarget := func(dest string) string {
		for _, e := range endpoints {
			if e.Enabled && e.Extension == dest {
				return "PJSIP/" + dest
			}
		}
		if forwardTrunk != nil {
			return fmt.Sprintf("PJSIP/%s@trunk-ep-%d", dest, forwardTrunk.ID)
		}
		return "PJSIP/" + dest
	}

	b.WriteString("[internal]\n")

	// BLF hints
	for _, e := range endpoints {
		if e.Enabled {
			fmt.Fprintf(&b, "exten => %s,hint,PJSIP/%s\n", e.Extension, e.Extension)
		}
	}
	b.WriteString("\n")

	// Ring groups
	for _, g := range groups {
		fmt.Fprintf(&b, "exten => %s,1,NoOp(Ring group %s)\n", g.Extension, g.Name)
		for _, line := range groupDialLines(g) {
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	// Per-extension dialing with call-forward precedence
	for _, e := range endpoints {
		if !e.Enabled {
			continue
		}
		_, hasVM := mailboxes[e.Extension]
		fmt.Fprintf(&b, "exten => %s,1,NoOp(Call to %s)\n", e.Extension, e.Extension)
		for _, line := range dialLines(e.Extension, forwards[e.Extension], hasVM, defaultRingTime, false, dialTarget) {
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	writeOutbound(&b, snap, trunksByID)

	b.WriteString(`; Voicemail access
exten => *98,1,NoOp(Voicemail access for ${CALLERID(num)})
 same => n,Answer()
 same => n,Wait(0.5)
 same => n,VoiceMailMain(${CALLERID(num)}@default)
 same => n,Hangup()

exten => _*97XXXX,1,NoOp(Direct voicemail for ${EXTEN:3})
 same => n,Answer()
 same => n,Wait(0.5)
 same => n,VoiceMail(${EXTEN:3}@default)
 same => n,Hangup()

; Echo test
exten => *43,1,Answer()
 same => n,Echo()
 same => n,Hangup()

`)

	writeFromTrunk(&b, snap, forwards, mailboxes, groups, dialTarget)

	return b.String()
}

// dialLines generates the dial logic for one extension. Unconditional
// forwarding short-circuits before busy/no-answer are evaluated; voicemail
// fallbacks render only when a mailbox exists.
func dialLines(ext string, fwds map[store.ForwardType]store.CallForwardRule, hasVM bool, ringTime int, earlyAnswer bool, dialTarget func(string) string) []string {
	var lines []string

	cfu, hasCFU := fwds[store.ForwardUnconditional]
	cfb, hasCFB := fwds[store.ForwardBusy]
	cfna, hasCFNA := fwds[store.ForwardNoAnswer]

	if hasCFU {
		lines = append(lines, fmt.Sprintf(" same => n,NoOp(CFU active: forwarding to %s)", cfu.Destination))
		if earlyAnswer {
			lines = append(lines, " same => n,Answer()", " same => n,Wait(0.5)")
		}
		lines = append(lines,
			fmt.Sprintf(" same => n,Dial(%s,%d,tT)", dialTarget(cfu.Destination), ringTime),
			" same => n,Hangup()")
		return lines
	}

	// Answer early on trunk calls to stabilize the dialog before the
	// provider's BYE timer runs.
	if earlyAnswer {
		lines = append(lines, " same => n,Answer()", " same => n,Wait(0.5)")
	}

	ring := ringTime
	if hasCFNA {
		ring = cfna.RingTime
	}
	lines = append(lines, fmt.Sprintf(" same => n,Dial(PJSIP/%s,%d,tTr)", ext, ring))
	lines = append(lines, ` same => n,GotoIf($["${DIALSTATUS}" = "BUSY"]?busy:noanswer)`)

	lines = append(lines, " same => n(noanswer),NoOp(No answer)")
	if hasCFNA {
		lines = append(lines,
			fmt.Sprintf(" same => n,NoOp(CFNA: forwarding to %s)", cfna.Destination),
			fmt.Sprintf(" same => n,Dial(%s,%d,tT)", dialTarget(cfna.Destination), defaultRingTime))
	}
	if hasVM {
		lines = append(lines, fmt.Sprintf(" same => n,VoiceMail(%s@default,u)", ext))
	}
	lines = append(lines, " same => n,Hangup()")

	lines = append(lines, " same => n(busy),NoOp(Busy)")
	if hasCFB {
		lines = append(lines,
			fmt.Sprintf(" same => n,NoOp(CFB: forwarding to %s)", cfb.Destination),
			fmt.Sprintf(" same => n,Dial(%s,%d,tT)", dialTarget(cfb.Destination), defaultRingTime))
	}
	if hasVM {
		lines = append(lines, fmt.Sprintf(" same => n,VoiceMail(%s@default,b)", ext))
	}
	lines = append(lines, " same => n,Hangup()")

	return lines
}

// groupDialLines renders a ring group body. ring-all dials all members in
// parallel; round-robin and least-recent hunt members sequentially in
// stored order.
func groupDialLines(g store.RingGroup) []string {
	var lines []string
	switch g.Strategy {
	case store.RingAll:
		targets := make([]string, len(g.Members))
		for i, m := range g.Members {
			targets[i] = "PJSIP/" + m
		}
		lines = append(lines, fmt.Sprintf(" same => n,Dial(%s,%d,tT)", strings.Join(targets, "&"), g.RingTime))
	default:
		for _, m := range g.Members {
			lines = append(lines, fmt.Sprintf(" same => n,Dial(PJSIP/%s,%d,tT)", m, g.RingTime))
		}
	}
	lines = append(lines, " same => n,Hangup()")
	return lines
}

// writeOutbound emits the outbound patterns. An endpoint may place external
// calls when an inbound route assigns it a DID; the DID becomes its caller id
// and the route's trunk carries the call.
func writeOutbound(b *strings.Builder, snap *store.Snapshot, trunksByID map[int64]store.Trunk) {
	type outInfo struct {
		ext   string
		did   string
		trunk store.Trunk
	}

	enabledEndpoint := make(map[string]bool)
	for _, e := range snap.Endpoints {
		if e.Enabled {
			enabledEndpoint[e.Extension] = true
		}
	}

	byExt := make(map[string]outInfo)
	for _, r := range sortedRoutes(snap.Routes) {
		if !r.Enabled || !enabledEndpoint[r.Extension] {
			continue
		}
		t, ok := trunksByID[r.TrunkID]
		if !ok || !t.Enabled {
			continue
		}
		if _, exists := byExt[r.Extension]; !exists {
			byExt[r.Extension] = outInfo{ext: r.Extension, did: r.DID, trunk: t}
		}
	}
	if len(byExt) == 0 {
		return
	}

	infos := make([]outInfo, 0, len(byExt))
	for _, info := range byExt {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ext < infos[j].ext })

	b.WriteString("; Outbound calling via assigned trunks\n")
	for _, pattern := range []string{"_0X.", "_+X."} {
		fmt.Fprintf(b, "exten => %s,1,NoOp(Outbound call from ${CHANNEL(endpoint)} to ${EXTEN})\n", pattern)
		for _, info := range infos {
			fmt.Fprintf(b, ` same => n,GotoIf($["${CHANNEL(endpoint)}x" = "%sx"]?out-%s)`+"\n", info.ext, info.ext)
		}
		b.WriteString(" same => n,NoOp(No outbound route for this extension)\n")
		b.WriteString(" same => n,Playback(ss-noservice)\n")
		b.WriteString(" same => n,Hangup()\n")
		for _, info := range infos {
			fmt.Fprintf(b, "\n same => n(out-%s),NoOp(Outbound via trunk-ep-%d with CID %s)\n", info.ext, info.trunk.ID, info.did)
			fmt.Fprintf(b, " same => n,Set(CALLERID(num)=%s)\n", info.did)
			if p, ok := store.ProviderProfileFor(info.trunk.Provider); ok && p.PPIDomain != "" {
				fmt.Fprintf(b, " same => n,Set(PJSIP_HEADER(add,P-Preferred-Identity)=<sip:%s@%s>)\n", info.did, p.PPIDomain)
			}
			fmt.Fprintf(b, " same => n,Dial(PJSIP/${EXTEN}@trunk-ep-%d,120,tT)\n", info.trunk.ID)
			b.WriteString(" same => n,Hangup()\n")
		}
		b.WriteString("\n")
	}
}

// writeFromTrunk emits the inbound context: one exten per routed DID, the
// To-header fallback for providers that omit the user part, and a catch-all.
func writeFromTrunk(b *strings.Builder, snap *store.Snapshot, forwards map[string]map[store.ForwardType]store.CallForwardRule, mailboxes map[string]store.VoicemailBox, groups []store.RingGroup, dialTarget func(string) string) {
	b.WriteString("[from-trunk]\n")
	b.WriteString(`; Extract DID from To header when Request-URI has no user part
exten => s,1,NoOp(Inbound call with no DID in Request-URI)
 same => n,Set(TO_HDR=${PJSIP_HEADER(read,To)})
 same => n,Set(DID=${CUT(CUT(TO_HDR,@,1),:,2)})
 same => n,GotoIf($[${LEN(${DID})} > 0]?from-trunk,${DID},1)
 same => n,Hangup()

`)

	groupByExt := make(map[string]store.RingGroup)
	for _, g := range groups {
		groupByExt[g.Extension] = g
	}

	for _, r := range sortedRoutes(snap.Routes) {
		if !r.Enabled {
			continue
		}
		desc := r.Description
		if desc == "" {
			desc = r.DID
		}
		fmt.Fprintf(b, "; %s\n", desc)
		fmt.Fprintf(b, "exten => %s,1,NoOp(Inbound call to DID %s)\n", r.DID, r.DID)
		if g, ok := groupByExt[r.Extension]; ok {
			b.WriteString(" same => n,Answer()\n same => n,Wait(0.5)\n")
			for _, line := range groupDialLines(g) {
				b.WriteString(line + "\n")
			}
		} else {
			_, hasVM := mailboxes[r.Extension]
			for _, line := range dialLines(r.Extension, forwards[r.Extension], hasVM, defaultRingTime, true, dialTarget) {
				b.WriteString(line + "\n")
			}
		}
		b.WriteString("\n")
	}

	// Ring groups bound directly to a DID
	for _, g := range groups {
		if g.InboundDID == "" {
			continue
		}
		fmt.Fprintf(b, "; ring group %s\n", g.Name)
		fmt.Fprintf(b, "exten => %s,1,NoOp(Inbound call to ring group %s)\n", g.InboundDID, g.Name)
		b.WriteString(" same => n,Answer()\n same => n,Wait(0.5)\n")
		for _, line := range groupDialLines(g) {
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(`; Catch-all for unmatched inbound calls
exten => _[+0-9].,1,NoOp(Unmatched inbound DID ${EXTEN})
 same => n,Hangup()
`)
}

func activeForwards(rules []store.CallForwardRule) map[string]map[store.ForwardType]store.CallForwardRule {
	m := make(map[string]map[store.ForwardType]store.CallForwardRule)
	for _, f := range rules {
		if !f.Enabled {
			continue
		}
		if m[f.Extension] == nil {
			m[f.Extension] = make(map[store.ForwardType]store.CallForwardRule)
		}
		m[f.Extension][f.Type] = f
	}
	return m
}

func enabledGroups(in []store.RingGroup) []store.RingGroup {
	var out []store.RingGroup
	for _, g := range in {
		if g.Enabled {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out
}

func trunkIndex(in []store.Trunk) map[int64]store.Trunk {
	m := make(map[int64]store.Trunk, len(in))
	for _, t := range in {
		m[t.ID] = t
	}
	return m
}

func firstEnabledTrunk(in []store.Trunk) *store.Trunk {
	var best *store.Trunk
	for i := range in {
		t := &in[i]
		if !t.Enabled {
			continue
		}
		if best == nil || t.Name < best.Name {
			best = t
		}
	}
	return best
}

func sortedRoutes(in []store.InboundRoute) []store.InboundRoute {
	out := make([]store.InboundRoute, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].DID < out[j].DID })
	return out
}

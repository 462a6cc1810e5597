package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gonopbx/pbxadmin/internal/store"
)

// renderPJSIP emits endpoint/auth/aor triples for enabled extensions and
// registration/identify sections for enabled trunks. Disabled entities are
// absent, never commented out: the switch must not see them at all.
func renderPJSIP(snap *store.Snapshot) string {
	var b strings.Builder
	b.WriteString(generatedHeader)

	mailboxes := enabledMailboxes(snap)

	endpoints := sortedEndpoints(snap.Endpoints)
	for _, e := range endpoints {
		if !e.Enabled {
			continue
		}
		writeEndpointSections(&b, e, mailboxes)
	}

	trunks := sortedTrunks(snap.Trunks)
	for _, t := range trunks {
		if !t.Enabled {
			continue
		}
		writeTrunkSections(&b, t)
	}

	return b.String()
}

func writeEndpointSections(b *strings.Builder, e store.Endpoint, mailboxes map[string]store.VoicemailBox) {
	fmt.Fprintf(b, "[%s]\n", e.Extension)
	b.WriteString("type=endpoint\n")
	fmt.Fprintf(b, "context=%s\n", e.Context)
	b.WriteString("disallow=all\n")
	b.WriteString("allow=ulaw,alaw,g722\n")
	fmt.Fprintf(b, "auth=%s\n", e.Extension)
	fmt.Fprintf(b, "aors=%s\n", e.Extension)
	if e.CallerID != "" {
		fmt.Fprintf(b, "callerid=\"%s\" <%s>\n", e.CallerID, e.Extension)
	}
	b.WriteString("direct_media=no\n")
	b.WriteString("rtp_symmetric=yes\n")
	b.WriteString("force_rport=yes\n")
	b.WriteString("rewrite_contact=yes\n")
	if _, ok := mailboxes[e.Extension]; ok {
		fmt.Fprintf(b, "mailboxes=%s@default\n", e.Extension)
	}
	b.WriteString("\n")

	fmt.Fprintf(b, "[%s]\n", e.Extension)
	b.WriteString("type=auth\n")
	b.WriteString("auth_type=userpass\n")
	fmt.Fprintf(b, "username=%s\n", e.Extension)
	fmt.Fprintf(b, "password=%s\n", e.Secret)
	b.WriteString("\n")

	fmt.Fprintf(b, "[%s]\n", e.Extension)
	b.WriteString("type=aor\n")
	b.WriteString("max_contacts=1\n")
	b.WriteString("remove_existing=yes\n")
	b.WriteString("qualify_frequency=30\n")
	b.WriteString("\n")
}

func writeTrunkSections(b *strings.Builder, t store.Trunk) {
	server := t.Server()
	epName := fmt.Sprintf("trunk-ep-%d", t.ID)
	aorName := fmt.Sprintf("trunk-aor-%d", t.ID)
	authName := fmt.Sprintf("trunk-auth-%d", t.ID)

	fmt.Fprintf(b, "; trunk %s (%s)\n", t.Name, t.Provider)

	if t.AuthMode == store.AuthRegistration {
		fmt.Fprintf(b, "[trunk-reg-%d]\n", t.ID)
		b.WriteString("type=registration\n")
		fmt.Fprintf(b, "outbound_auth=%s\n", authName)
		fmt.Fprintf(b, "server_uri=sip:%s\n", server)
		fmt.Fprintf(b, "client_uri=sip:%s@%s\n", t.Username, server)
		b.WriteString("retry_interval=60\n")
		b.WriteString("forbidden_retry_interval=300\n")
		b.WriteString("expiration=120\n")
		b.WriteString("line=yes\n")
		fmt.Fprintf(b, "endpoint=%s\n", epName)
		b.WriteString("\n")

		fmt.Fprintf(b, "[%s]\n", authName)
		b.WriteString("type=auth\n")
		b.WriteString("auth_type=userpass\n")
		fmt.Fprintf(b, "username=%s\n", t.Username)
		fmt.Fprintf(b, "password=%s\n", t.Password)
		b.WriteString("\n")
	}

	fmt.Fprintf(b, "[%s]\n", aorName)
	b.WriteString("type=aor\n")
	fmt.Fprintf(b, "contact=sip:%s\n", server)
	b.WriteString("qualify_frequency=60\n")
	b.WriteString("\n")

	fmt.Fprintf(b, "[%s]\n", epName)
	b.WriteString("type=endpoint\n")
	fmt.Fprintf(b, "context=%s\n", t.Context)
	b.WriteString("disallow=all\n")
	fmt.Fprintf(b, "allow=%s\n", t.EffectiveCodecs())
	fmt.Fprintf(b, "aors=%s\n", aorName)
	if t.AuthMode == store.AuthRegistration {
		fmt.Fprintf(b, "outbound_auth=%s\n", authName)
		fmt.Fprintf(b, "from_user=%s\n", t.Username)
	}
	fmt.Fprintf(b, "from_domain=%s\n", server)
	b.WriteString("direct_media=no\n")
	b.WriteString("rtp_symmetric=yes\n")
	b.WriteString("\n")

	fmt.Fprintf(b, "[trunk-ident-%d]\n", t.ID)
	b.WriteString("type=identify\n")
	fmt.Fprintf(b, "endpoint=%s\n", epName)
	fmt.Fprintf(b, "match=%s\n", server)
	b.WriteString("\n")
}

func enabledMailboxes(snap *store.Snapshot) map[string]store.VoicemailBox {
	m := make(map[string]store.VoicemailBox)
	for _, b := range snap.Mailboxes {
		if b.Enabled {
			m[b.Extension] = b
		}
	}
	return m
}

func sortedEndpoints(in []store.Endpoint) []store.Endpoint {
	out := make([]store.Endpoint, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out
}

func sortedTrunks(in []store.Trunk) []store.Trunk {
	out := make([]store.Trunk, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gonopbx/pbxadmin/internal/store"
)

// renderVoicemail emits voicemail.conf with one mailbox line per enabled box.
func renderVoicemail(snap *store.Snapshot) string {
	var b strings.Builder
	b.WriteString(generatedHeader)
	b.WriteString("[general]\nformat=wav49|gsm|wav\nattach=yes\nmaxmsg=100\nmaxsecs=180\n\n[default]\n")

	boxes := make([]store.VoicemailBox, 0, len(snap.Mailboxes))
	for _, box := range snap.Mailboxes {
		if box.Enabled {
			boxes = append(boxes, box)
		}
	}
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].Extension < boxes[j].Extension })

	for _, box := range boxes {
		name := box.Name
		if name == "" {
			name = box.Extension
		}
		fmt.Fprintf(&b, "%s => %s,%s,%s\n", box.Extension, box.PIN, name, box.Email)
	}
	return b.String()
}

// Package render turns a relational configuration snapshot into the
// switch's native config-file fragments. Rendering is pure: no I/O, and
// byte-identical output for identical snapshots.
package render

import (
	"fmt"

	"github.com/gonopbx/pbxadmin/internal/store"
)

// Domain names one reloadable config subsystem of the switch.
type Domain string

const (
	DomainPJSIP     Domain = "pjsip"
	DomainDialplan  Domain = "dialplan"
	DomainVoicemail Domain = "voicemail"
)

// Fragment is a self-contained block of rendered configuration text
// targeting one file in the switch's config directory.
type Fragment struct {
	Domain Domain
	File   string
	Text   string
}

// InvalidSnapshotError reports a data invariant violated upstream. The
// renderer fails hard instead of coercing, so CRUD bugs surface instead of
// producing a silently wrong switch config.
type InvalidSnapshotError struct {
	Entity string
	ID     string
	Reason string
}

func (e *InvalidSnapshotError) Error() string {
	return fmt.Sprintf("invalid snapshot: %s %q: %s", e.Entity, e.ID, e.Reason)
}

const generatedHeader = "; Auto-generated by pbxadmin from the configuration database.\n; Do not edit: changes are overwritten on the next apply.\n\n"

// Render validates the snapshot and produces the full ordered fragment set,
// one fragment per target file.
func Render(snap *store.Snapshot) ([]Fragment, error) {
	if err := Validate(snap); err != nil {
		return nil, err
	}
	return []Fragment{
		{Domain: DomainPJSIP, File: "pjsip.conf", Text: renderPJSIP(snap)},
		{Domain: DomainDialplan, File: "extensions.conf", Text: renderDialplan(snap)},
		{Domain: DomainVoicemail, File: "voicemail.conf", Text: renderVoicemail(snap)},
	}, nil
}

// Package publish installs rendered config fragments into the switch's
// config directory and triggers the matching module reloads. Applies are
// serialized so concurrent callers cannot interleave partial file sets.
package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/gonopbx/pbxadmin/internal/ami"
	"github.com/gonopbx/pbxadmin/internal/render"
)

// Reloader executes manager actions against the switch. *ami.Client and the
// reconnect supervisor both satisfy it.
type Reloader interface {
	Execute(ctx context.Context, action string, params map[string]string) (ami.Event, error)
}

// reloadModules maps each config domain to the switch module whose reload
// picks up the new file.
var reloadModules = map[render.Domain]string{
	render.DomainPJSIP:     "res_pjsip.so",
	render.DomainDialplan:  "pbx_config.so",
	render.DomainVoicemail: "app_voicemail.so",
}

// WriteError means the filesystem stage failed. No reload was attempted and
// previously installed files for other fragments may already be in place.
type WriteError struct {
	File string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("publish: writing %s: %v", e.File, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReloadError means one or more reloads failed after all files were written.
// The files stay installed; the switch picks them up on its next successful
// reload.
type ReloadError struct {
	Failures map[render.Domain]error
}

func (e *ReloadError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for d, err := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", d, err))
	}
	return "publish: reload failed: " + strings.Join(parts, "; ")
}

// Publisher writes fragments and drives reloads. Zero value is not usable,
// construct with New.
type Publisher struct {
	dir      string
	reloader Reloader
	log      *zap.SugaredLogger

	mu sync.Mutex
}

func New(dir string, reloader Reloader, log *zap.SugaredLogger) *Publisher {
	return &Publisher{dir: dir, reloader: reloader, log: log}
}

// Publish installs every fragment atomically (temp file, fsync, rename) and
// then reloads each affected domain once. Write failures abort before any
// reload is issued; reload failures are collected and do not undo the
// written files.
func (p *Publisher) Publish(ctx context.Context, frags []render.Fragment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range frags {
		if err := p.install(f); err != nil {
			return err
		}
		p.log.Infow("installed config fragment", "file", f.File, "bytes", len(f.Text))
	}

	failures := make(map[render.Domain]error)
	for _, f := range frags {
		module, ok := reloadModules[f.Domain]
		if !ok {
			failures[f.Domain] = fmt.Errorf("no reload module for domain %s", f.Domain)
			continue
		}
		resp, err := p.reloader.Execute(ctx, "Reload", map[string]string{"Module": module})
		if err != nil {
			failures[f.Domain] = err
			continue
		}
		if !resp.Success() {
			failures[f.Domain] = fmt.Errorf("switch refused reload: %s", resp.Get("Message"))
			continue
		}
		p.log.Infow("reloaded module", "module", module, "domain", f.Domain)
	}
	if len(failures) > 0 {
		return &ReloadError{Failures: failures}
	}
	return nil
}

// install writes one fragment next to its target and renames it into place.
// The rename is atomic on POSIX filesystems, so the switch never reads a
// half-written file.
func (p *Publisher) install(f render.Fragment) error {
	target := filepath.Join(p.dir, f.File)

	tmp, err := os.CreateTemp(p.dir, f.File+".tmp-*")
	if err != nil {
		return &WriteError{File: f.File, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(f.Text); err != nil {
		tmp.Close()
		return &WriteError{File: f.File, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &WriteError{File: f.File, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{File: f.File, Err: err}
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return &WriteError{File: f.File, Err: err}
	}
	return nil
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gonopbx/pbxadmin/internal/ami"
	"github.com/gonopbx/pbxadmin/internal/publish"
	"github.com/gonopbx/pbxadmin/internal/render"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"manager":     s.hub.Status(),
		"subscribers": s.hub.Subscribers(),
	})
}

func (s *Server) handleLiveEndpoints(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.live.Snapshot().Endpoints)
}

func (s *Server) handleLiveChannels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.live.Snapshot().Channels)
}

func (s *Server) handleLiveTrunks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.live.Snapshot().Trunks)
}

// handleApply re-renders the full switch config from the database and
// installs it. Validation failures blame the data (422); reload failures
// blame the switch (502) but leave the files installed.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, err := s.db.GetSnapshot(ctx)
	if err != nil {
		s.log.Errorw("loading config snapshot", "error", err)
		s.writeError(w, http.StatusInternalServerError, "loading configuration failed")
		return
	}

	frags, err := render.Render(snap)
	if err != nil {
		var inv *render.InvalidSnapshotError
		if errors.As(err, &inv) {
			s.writeError(w, http.StatusUnprocessableEntity, inv.Error())
			return
		}
		s.log.Errorw("rendering config", "error", err)
		s.writeError(w, http.StatusInternalServerError, "rendering configuration failed")
		return
	}

	if err := s.applier.Publish(ctx, frags); err != nil {
		var rerr *publish.ReloadError
		if errors.As(err, &rerr) {
			s.log.Warnw("config installed but reload failed", "error", err)
			s.writeError(w, http.StatusBadGateway, rerr.Error())
			return
		}
		s.log.Errorw("installing config", "error", err)
		s.writeError(w, http.StatusInternalServerError, "installing configuration failed")
		return
	}

	files := make([]string, len(frags))
	for i, f := range frags {
		files[i] = f.File
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"applied": true, "files": files})
}

type originateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// handleOriginate places a call from an internal extension to a destination
// via the dialplan, so forwards and trunk selection apply as usual.
func (s *Server) handleOriginate(w http.ResponseWriter, r *http.Request) {
	var req originateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.From == "" || req.To == "" {
		s.writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	resp, err := s.exec.Execute(r.Context(), "Originate", map[string]string{
		"Channel":  "PJSIP/" + req.From,
		"Exten":    req.To,
		"Context":  "internal",
		"Priority": "1",
		"CallerID": req.To,
		"Async":    "true",
	})
	if err != nil {
		if errors.Is(err, ami.ErrConnectionLost) {
			s.writeError(w, http.StatusServiceUnavailable, "switch connection is down")
			return
		}
		s.log.Errorw("originate failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "originate failed")
		return
	}
	if !resp.Success() {
		s.writeError(w, http.StatusBadGateway, resp.Get("Message"))
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"originated": true})
}

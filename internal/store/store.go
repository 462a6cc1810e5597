package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is the slice of pgxpool.Pool the store needs; pgxmock satisfies
// it in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store reads configuration snapshots from the relational source of truth.
// It never writes: all mutation happens in the CRUD layer.
type Store struct {
	db Querier
}

func New(db Querier) *Store {
	return &Store{db: db}
}

func (s *Store) Endpoints(ctx context.Context) ([]Endpoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT extension, secret, COALESCE(caller_id, ''), context, enabled
		FROM sip_peers
		ORDER BY extension`)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		var e Endpoint
		if err := rows.Scan(&e.Extension, &e.Secret, &e.CallerID, &e.Context, &e.Enabled); err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Trunks(ctx context.Context) ([]Trunk, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, provider, auth_mode, COALESCE(sip_server, ''),
		       COALESCE(username, ''), COALESCE(password, ''),
		       COALESCE(number_block, ''), context, COALESCE(codecs, ''), enabled
		FROM sip_trunks
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing trunks: %w", err)
	}
	defer rows.Close()

	var out []Trunk
	for rows.Next() {
		var t Trunk
		if err := rows.Scan(&t.ID, &t.Name, &t.Provider, &t.AuthMode, &t.SIPServer,
			&t.Username, &t.Password, &t.NumberBlock, &t.Context, &t.Codecs, &t.Enabled); err != nil {
			return nil, fmt.Errorf("scanning trunk: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) InboundRoutes(ctx context.Context) ([]InboundRoute, error) {
	rows, err := s.db.Query(ctx, `
		SELECT did, trunk_id, destination_extension, COALESCE(description, ''), enabled
		FROM inbound_routes
		ORDER BY did`)
	if err != nil {
		return nil, fmt.Errorf("listing inbound routes: %w", err)
	}
	defer rows.Close()

	var out []InboundRoute
	for rows.Next() {
		var r InboundRoute
		if err := rows.Scan(&r.DID, &r.TrunkID, &r.Extension, &r.Description, &r.Enabled); err != nil {
			return nil, fmt.Errorf("scanning inbound route: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CallForwards(ctx context.Context) ([]CallForwardRule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT extension, forward_type, destination, ring_time, enabled
		FROM call_forwards
		ORDER BY extension, forward_type`)
	if err != nil {
		return nil, fmt.Errorf("listing call forwards: %w", err)
	}
	defer rows.Close()

	var out []CallForwardRule
	for rows.Next() {
		var f CallForwardRule
		if err := rows.Scan(&f.Extension, &f.Type, &f.Destination, &f.RingTime, &f.Enabled); err != nil {
			return nil, fmt.Errorf("scanning call forward: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) RingGroups(ctx context.Context) ([]RingGroup, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, extension, strategy, ring_time,
		       COALESCE(inbound_trunk_id, 0), COALESCE(inbound_did, ''), enabled
		FROM ring_groups
		ORDER BY extension`)
	if err != nil {
		return nil, fmt.Errorf("listing ring groups: %w", err)
	}
	defer rows.Close()

	var groups []RingGroup
	byID := make(map[int64]int)
	for rows.Next() {
		var g RingGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Extension, &g.Strategy, &g.RingTime,
			&g.InboundTrunkID, &g.InboundDID, &g.Enabled); err != nil {
			return nil, fmt.Errorf("scanning ring group: %w", err)
		}
		byID[g.ID] = len(groups)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	memberRows, err := s.db.Query(ctx, `
		SELECT group_id, extension
		FROM ring_group_members
		ORDER BY group_id, position`)
	if err != nil {
		return nil, fmt.Errorf("listing ring group members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var groupID int64
		var ext string
		if err := memberRows.Scan(&groupID, &ext); err != nil {
			return nil, fmt.Errorf("scanning ring group member: %w", err)
		}
		if idx, ok := byID[groupID]; ok {
			groups[idx].Members = append(groups[idx].Members, ext)
		}
	}
	return groups, memberRows.Err()
}

func (s *Store) VoicemailBoxes(ctx context.Context) ([]VoicemailBox, error) {
	rows, err := s.db.Query(ctx, `
		SELECT extension, pin, COALESCE(name, ''), COALESCE(email, ''), enabled
		FROM voicemail_mailboxes
		ORDER BY extension`)
	if err != nil {
		return nil, fmt.Errorf("listing voicemail boxes: %w", err)
	}
	defer rows.Close()

	var out []VoicemailBox
	for rows.Next() {
		var b VoicemailBox
		if err := rows.Scan(&b.Extension, &b.PIN, &b.Name, &b.Email, &b.Enabled); err != nil {
			return nil, fmt.Errorf("scanning voicemail box: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetSnapshot reads the full configuration in one pass.
func (s *Store) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	var err error
	if snap.Endpoints, err = s.Endpoints(ctx); err != nil {
		return nil, err
	}
	if snap.Trunks, err = s.Trunks(ctx); err != nil {
		return nil, err
	}
	if snap.Routes, err = s.InboundRoutes(ctx); err != nil {
		return nil, err
	}
	if snap.Forwards, err = s.CallForwards(ctx); err != nil {
		return nil, err
	}
	if snap.RingGroups, err = s.RingGroups(ctx); err != nil {
		return nil, err
	}
	if snap.Mailboxes, err = s.VoicemailBoxes(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

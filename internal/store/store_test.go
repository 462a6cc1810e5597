package store_test

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/gonopbx/pbxadmin/internal/store"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestEndpoints(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM sip_peers`).
		WillReturnRows(pgxmock.NewRows([]string{"extension", "secret", "caller_id", "context", "enabled"}).
			AddRow("1001", "pw1", "Front Desk", "internal", true).
			AddRow("1002", "S3cr3t!", "", "internal", false))

	s := store.New(mock)
	endpoints, err := s.Endpoints(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(endpoints))
	}
	if endpoints[0].Extension != "1001" || endpoints[0].CallerID != "Front Desk" {
		t.Errorf("unexpected first endpoint: %+v", endpoints[0])
	}
	if endpoints[1].Enabled {
		t.Error("expected second endpoint disabled")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTrunks(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM sip_trunks`).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "provider", "auth_mode", "sip_server",
			"username", "password", "number_block", "context", "codecs", "enabled",
		}).AddRow(int64(1), "Plusnet", "plusnet_basic", "registration", "",
			"user01", "pw", "+4922166980", "from-trunk", "", true))

	s := store.New(mock)
	trunks, err := s.Trunks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trunks) != 1 {
		t.Fatalf("expected 1 trunk, got %d", len(trunks))
	}
	tr := trunks[0]
	if tr.AuthMode != store.AuthRegistration {
		t.Errorf("expected registration auth mode, got %q", tr.AuthMode)
	}
	if tr.Server() != "sip.ipfonie.de" {
		t.Errorf("expected provider server sip.ipfonie.de, got %q", tr.Server())
	}
	if tr.EffectiveCodecs() != "ulaw,alaw,g722" {
		t.Errorf("expected provider codecs, got %q", tr.EffectiveCodecs())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRingGroupsJoinsMembers(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM ring_groups`).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "extension", "strategy", "ring_time",
			"inbound_trunk_id", "inbound_did", "enabled",
		}).AddRow(int64(5), "Support", "1900", "ring-all", 25, int64(1), "+4922166980", true))
	mock.ExpectQuery(`FROM ring_group_members`).
		WillReturnRows(pgxmock.NewRows([]string{"group_id", "extension"}).
			AddRow(int64(5), "1001").
			AddRow(int64(5), "1002").
			AddRow(int64(99), "1003")) // orphan member rows are skipped

	s := store.New(mock)
	groups, err := s.RingGroups(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if len(g.Members) != 2 || g.Members[0] != "1001" || g.Members[1] != "1002" {
		t.Errorf("unexpected members: %v", g.Members)
	}
	if g.Strategy != store.RingAll {
		t.Errorf("expected ring-all, got %q", g.Strategy)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetSnapshot(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM sip_peers`).
		WillReturnRows(pgxmock.NewRows([]string{"extension", "secret", "caller_id", "context", "enabled"}).
			AddRow("1001", "pw1", "", "internal", true))
	mock.ExpectQuery(`FROM sip_trunks`).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "provider", "auth_mode", "sip_server",
			"username", "password", "number_block", "context", "codecs", "enabled",
		}))
	mock.ExpectQuery(`FROM inbound_routes`).
		WillReturnRows(pgxmock.NewRows([]string{"did", "trunk_id", "destination_extension", "description", "enabled"}))
	mock.ExpectQuery(`FROM call_forwards`).
		WillReturnRows(pgxmock.NewRows([]string{"extension", "forward_type", "destination", "ring_time", "enabled"}))
	mock.ExpectQuery(`FROM ring_groups`).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "extension", "strategy", "ring_time",
			"inbound_trunk_id", "inbound_did", "enabled",
		}))
	mock.ExpectQuery(`FROM ring_group_members`).
		WillReturnRows(pgxmock.NewRows([]string{"group_id", "extension"}))
	mock.ExpectQuery(`FROM voicemail_mailboxes`).
		WillReturnRows(pgxmock.NewRows([]string{"extension", "pin", "name", "email", "enabled"}))

	s := store.New(mock)
	snap, err := s.GetSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Endpoints) != 1 {
		t.Errorf("expected 1 endpoint in snapshot, got %d", len(snap.Endpoints))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestQueryErrorPropagates(t *testing.T) {
	mock := newMock(t)
	boom := errors.New("boom")
	mock.ExpectQuery(`FROM sip_peers`).WillReturnError(boom)

	s := store.New(mock)
	_, err := s.Endpoints(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

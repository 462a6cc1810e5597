package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/gonopbx/pbxadmin/internal/ami"
	"github.com/gonopbx/pbxadmin/internal/live"
	"github.com/gonopbx/pbxadmin/internal/mqtt"
)

func fixturesDir() string {
	return filepath.Join("..", "..", "testdata", "fixtures")
}

// runPipeline replays a captured event stream through the aggregator and
// the MQTT bridge, the same path the supervisor drives in production.
func runPipeline(t *testing.T, fixture, prefix string) *mqtt.MockPublisher {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(fixturesDir(), fixture))
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}

	mock := mqtt.NewMockPublisher()
	bridge := mqtt.NewBridge(mock, prefix, zap.NewNop().Sugar())
	agg := live.New()

	for _, evt := range ami.ParseBytes(data) {
		for _, change := range agg.Apply(evt) {
			bridge.HandleChange(context.Background(), change)
		}
	}
	return mock
}

func parsePayload(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return m
}

func TestPipelineRegistrationSession(t *testing.T) {
	mock := runPipeline(t, "registration-session.raw", "pbx")
	msgs := mock.Messages()

	wantTopics := []string{
		"pbx/extension/1001/status",
		"pbx/trunk/plusnet01/status",
		"pbx/call/started",
		"pbx/call/answered",
		"pbx/call/ended",
	}
	if len(msgs) != len(wantTopics) {
		for _, m := range msgs {
			t.Logf("topic: %s", m.Topic)
		}
		t.Fatalf("got %d messages, want %d", len(msgs), len(wantTopics))
	}
	for i, want := range wantTopics {
		if msgs[i].Topic != want {
			t.Errorf("message %d topic = %s, want %s", i, msgs[i].Topic, want)
		}
	}

	// Registration states are retained, call events are not.
	for _, m := range msgs {
		isStatus := strings.HasSuffix(m.Topic, "/status")
		if m.Retain != isStatus {
			t.Errorf("topic %s retain = %v", m.Topic, m.Retain)
		}
	}

	ep := parsePayload(t, msgs[0].Payload)
	if ep["extension"] != "1001" || ep["status"] != "registered" {
		t.Errorf("endpoint payload: %v", ep)
	}
	if ep["roundtrip_usec"] != float64(12543) {
		t.Errorf("roundtrip not carried: %v", ep["roundtrip_usec"])
	}

	trunk := parsePayload(t, msgs[1].Payload)
	if trunk["name"] != "plusnet01" || trunk["status"] != "registered" || trunk["domain"] != "sip.ipfonie.de" {
		t.Errorf("trunk payload: %v", trunk)
	}

	started := parsePayload(t, msgs[2].Payload)
	if started["caller"] != "1001" || started["callee"] != "1002" || started["phase"] != "ringing" {
		t.Errorf("started payload: %v", started)
	}

	ended := parsePayload(t, msgs[4].Payload)
	if ended["phase"] != "down" || ended["cause"] != "normal_clearing" || ended["cause_code"] != float64(16) {
		t.Errorf("ended payload: %v", ended)
	}
}

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/gonopbx/pbxadmin/internal/live"
)

// Bridge turns live state changes into broker topics. Registration states
// are retained so a dashboard subscribing late still sees current reality;
// call transitions are fire-and-forget events.
type Bridge struct {
	pub    Publisher
	prefix string
	log    *zap.SugaredLogger
}

func NewBridge(pub Publisher, prefix string, log *zap.SugaredLogger) *Bridge {
	return &Bridge{pub: pub, prefix: prefix, log: log}
}

// HandleChange publishes one state change. Publish errors are logged, never
// propagated: a flaky broker must not stall the event pump.
func (b *Bridge) HandleChange(ctx context.Context, change live.Change) {
	topic, payload, retain, err := b.route(change)
	if err != nil {
		b.log.Errorw("encoding mqtt payload", "error", err)
		return
	}
	if topic == "" {
		return
	}
	if err := b.pub.Publish(ctx, topic, payload, retain); err != nil {
		b.log.Warnw("mqtt publish failed", "topic", topic, "error", err)
	}
}

// PublishStatus mirrors the manager connection status onto the broker.
func (b *Bridge) PublishStatus(ctx context.Context, status string) {
	topic := b.prefix + "/manager/status"
	if err := b.pub.Publish(ctx, topic, []byte(status), true); err != nil {
		b.log.Warnw("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) route(change live.Change) (topic string, payload []byte, retain bool, err error) {
	switch change.Kind {
	case live.ChangeEndpoint:
		topic = fmt.Sprintf("%s/extension/%s/status", b.prefix, change.Endpoint.Extension)
		payload, err = json.Marshal(change.Endpoint)
		retain = true
	case live.ChangeTrunk:
		topic = fmt.Sprintf("%s/trunk/%s/status", b.prefix, change.Trunk.Name)
		payload, err = json.Marshal(change.Trunk)
		retain = true
	case live.ChangeCall:
		var phase string
		switch change.Channel.Phase {
		case live.CallRinging:
			phase = "started"
		case live.CallUp:
			phase = "answered"
		case live.CallDown:
			phase = "ended"
		default:
			return "", nil, false, nil
		}
		topic = fmt.Sprintf("%s/call/%s", b.prefix, phase)
		payload, err = json.Marshal(change.Channel)
	}
	return topic, payload, retain, err
}

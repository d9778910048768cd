package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/htd-bridge/internal/htd"
	"github.com/nerrad567/htd-bridge/internal/infrastructure/mqtt"
)

func newTestReporter(engine *fakeEngine, broker *fakeMQTT) *HealthReporter {
	return NewHealthReporter(HealthReporterConfig{
		BridgeID:  "htd",
		Version:   "test",
		Interval:  time.Hour,
		Address:   "tcp://192.168.1.50:10006",
		Publisher: broker,
		Engine:    engine,
	})
}

func healthMessages(t *testing.T, broker *fakeMQTT) []HealthMessage {
	t.Helper()
	records := broker.publishedTo(mqtt.Topics{}.Health())
	out := make([]HealthMessage, 0, len(records))
	for _, rec := range records {
		var msg HealthMessage
		if err := json.Unmarshal(rec.payload, &msg); err != nil {
			t.Fatalf("unmarshal health: %v", err)
		}
		if !rec.retained {
			t.Error("health message not retained")
		}
		out = append(out, msg)
	}
	return out
}

func TestPublishNowHealthy(t *testing.T) {
	engine := newFakeEngine()
	engine.stats = htd.LinkStats{FramesRx: 10, FramesTx: 4, ReconnectsTotal: 1}
	broker := newFakeMQTT()
	h := newTestReporter(engine, broker)

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msgs := healthMessages(t, broker)
	if len(msgs) != 1 {
		t.Fatalf("%d health messages, want 1", len(msgs))
	}

	msg := msgs[0]
	if msg.Status != HealthHealthy {
		t.Errorf("status = %s, want healthy", msg.Status)
	}
	if msg.Bridge != "htd" || msg.Version != "test" {
		t.Errorf("identity = %s/%s, want htd/test", msg.Bridge, msg.Version)
	}
	if msg.Connection == nil || msg.Connection.Address != "tcp://192.168.1.50:10006" {
		t.Errorf("connection = %+v, want controller address", msg.Connection)
	}
	if msg.Statistics == nil || msg.Statistics.FramesRx != 10 || msg.Statistics.ReconnectsTotal != 1 {
		t.Errorf("statistics = %+v, want frames_rx 10, reconnects 1", msg.Statistics)
	}
	if msg.ZonesManaged != 2 {
		t.Errorf("ZonesManaged = %d, want 2", msg.ZonesManaged)
	}
}

func TestPublishNowDegradedWhenLinkDown(t *testing.T) {
	engine := newFakeEngine()
	engine.status = htd.LinkDisconnected
	broker := newFakeMQTT()
	h := newTestReporter(engine, broker)

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msgs := healthMessages(t, broker)
	if msgs[0].Status != HealthDegraded {
		t.Errorf("status = %s, want degraded", msgs[0].Status)
	}
	if msgs[0].Reason != "controller link down" {
		t.Errorf("reason = %q, want controller link down", msgs[0].Reason)
	}
}

func TestPublishNowDegradedWhenBrokerDown(t *testing.T) {
	engine := newFakeEngine()
	broker := newFakeMQTT()
	broker.connected = false
	h := newTestReporter(engine, broker)

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msgs := healthMessages(t, broker)
	if msgs[0].Status != HealthDegraded {
		t.Errorf("status = %s, want degraded", msgs[0].Status)
	}
	if msgs[0].Reason != "MQTT disconnected" {
		t.Errorf("reason = %q, want MQTT disconnected", msgs[0].Reason)
	}
}

func TestStopPublishesStopping(t *testing.T) {
	engine := newFakeEngine()
	broker := newFakeMQTT()
	h := newTestReporter(engine, broker)

	h.Stop()
	h.Stop() // idempotent

	msgs := healthMessages(t, broker)
	if len(msgs) != 1 {
		t.Fatalf("%d health messages after Stop(), want 1", len(msgs))
	}
	if msgs[0].Status != HealthStopping {
		t.Errorf("status = %s, want stopping", msgs[0].Status)
	}
}

func TestLWT(t *testing.T) {
	h := newTestReporter(newFakeEngine(), newFakeMQTT())

	if got := h.GetLWTTopic(); got != "htd/health" {
		t.Errorf("GetLWTTopic() = %q, want htd/health", got)
	}

	payload, err := h.GetLWTPayload()
	if err != nil {
		t.Fatalf("GetLWTPayload() error = %v", err)
	}

	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal LWT: %v", err)
	}
	if msg.Status != HealthOffline {
		t.Errorf("LWT status = %s, want offline", msg.Status)
	}
	if msg.Reason != "unexpected_disconnect" {
		t.Errorf("LWT reason = %q, want unexpected_disconnect", msg.Reason)
	}
}

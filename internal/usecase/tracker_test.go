package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vitos/ig_price_stream/internal/domain"
	"github.com/vitos/ig_price_stream/internal/infrastructure/metrics"
	"github.com/vitos/ig_price_stream/internal/usecase"
	"go.uber.org/zap"
)

func drainStatus(sub *usecase.StatusSub) []domain.ConnectionStatus {
	var out []domain.ConnectionStatus
	for {
		select {
		case s := <-sub.Statuses():
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestTracker_DuplicateSuppression(t *testing.T) {
	streamer := NewMockStreamer()
	tracker := usecase.NewConnTracker(streamer, nil, zap.NewNop())

	sub := tracker.StatusFeed()
	defer sub.Close()

	// New consumers receive the current status first.
	got := drainStatus(sub)
	if len(got) != 1 || !got[0].Idle() {
		t.Fatalf("expected initial DISCONNECTED, got %v", got)
	}

	streamer.EmitStatus(domain.RawStatusWSStreaming)
	streamer.EmitStatus(domain.RawStatusWSStreaming)

	got = drainStatus(sub)
	if len(got) != 1 {
		t.Fatalf("expected exactly one emission for a repeated status, got %d", len(got))
	}
	if !got[0].Connected() {
		t.Errorf("expected connected status, got %+v", got[0])
	}
}

func TestTracker_ConnectRules(t *testing.T) {
	streamer := NewMockStreamer()
	tracker := usecase.NewConnTracker(streamer, nil, zap.NewNop())

	// Idle: connect is issued, pre-call status returned.
	pre, err := tracker.Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !pre.Idle() {
		t.Errorf("pre-call status should be disconnected, got %+v", pre)
	}
	if streamer.ConnectCalls != 1 {
		t.Errorf("ConnectCalls = %d, want 1", streamer.ConnectCalls)
	}

	// Already connected: no-op.
	pre, err = tracker.Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !pre.Connected() {
		t.Errorf("pre-call status should be connected, got %+v", pre)
	}
	if streamer.ConnectCalls != 1 {
		t.Errorf("ConnectCalls = %d, want 1 (no-op while connected)", streamer.ConnectCalls)
	}

	// Stalled: connect is refused until an explicit disconnect.
	streamer.EmitStatus(domain.RawStatusStalled)
	if _, err := tracker.Connect(); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Connect while stalled: err = %v, want ErrInvalidState", err)
	}

	pre, err = tracker.Disconnect()
	if err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if pre.State != domain.StateStalled {
		t.Errorf("pre-call status should be stalled, got %+v", pre)
	}
	if streamer.DisconnectCalls != 1 {
		t.Errorf("DisconnectCalls = %d, want 1", streamer.DisconnectCalls)
	}
}

func TestTracker_AwaitConnected(t *testing.T) {
	streamer := NewMockStreamer()
	tracker := usecase.NewConnTracker(streamer, nil, zap.NewNop())

	streamer.EmitStatus(domain.RawStatusConnecting)
	done := make(chan error, 1)
	go func() { done <- tracker.AwaitConnected(context.Background()) }()

	streamer.EmitStatus(domain.RawStatusDisconnectedRetry) // keeps waiting
	streamer.EmitStatus(domain.RawStatusWSStreaming)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AwaitConnected: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitConnected did not return")
	}
}

func TestTracker_AwaitConnected_TerminalFailure(t *testing.T) {
	streamer := NewMockStreamer()
	tracker := usecase.NewConnTracker(streamer, nil, zap.NewNop())

	streamer.EmitStatus(domain.RawStatusConnecting)
	done := make(chan error, 1)
	go func() { done <- tracker.AwaitConnected(context.Background()) }()

	streamer.EmitStatus(domain.RawStatusDisconnected)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error for hard disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitConnected did not return")
	}
}

func gatheredCounter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestTracker_CountsReconnectAttempts(t *testing.T) {
	streamer := NewMockStreamer()
	recorder := metrics.New()
	tracker := usecase.NewConnTracker(streamer, recorder, zap.NewNop())

	streamer.EmitStatus(domain.RawStatusDisconnectedRetry)
	streamer.EmitStatus(domain.RawStatusDisconnectedRetry) // duplicate, suppressed
	streamer.EmitStatus(domain.RawStatusConnecting)
	streamer.EmitStatus(domain.RawStatusDisconnectedRetry)

	if got := gatheredCounter(t, "pricestream_reconnects_total"); got != 2 {
		t.Errorf("reconnect counter = %v, want 2", got)
	}
	if !tracker.Status().Retrying {
		t.Errorf("tracker should report a retry pending, got %+v", tracker.Status())
	}
}

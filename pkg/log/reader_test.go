package log

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/lanlight/lanlight-go/pkg/wire"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestReaderFilters(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	power := wire.NewMessage(wire.TypeStatePower, nil)
	power.Header.Target = wire.Target(0x0000030201d573d0)
	service := wire.NewMessage(wire.TypeStateService, nil)

	events := []Event{
		{Timestamp: base, ConnectionID: "c1", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage, Frame: NewFrameEvent([]byte{1})},
		{Timestamp: base.Add(time.Second), ConnectionID: "c1", Direction: DirectionIn, Layer: LayerWire, Category: CategoryMessage, Target: "d073d5010203", Message: NewMessageEvent(power)},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "c2", Direction: DirectionOut, Layer: LayerWire, Category: CategoryMessage, SourceID: 5, Message: NewMessageEvent(service)},
		{Timestamp: base.Add(3 * time.Second), Layer: LayerService, Category: CategoryState, StateChange: &StateChangeEvent{Entity: StateEntityService, NewState: "RUNNING"}},
	}
	path := createTestLogFile(t, events)

	out := DirectionOut
	state := CategoryState
	src := uint32(5)
	typ := wire.TypeStatePower
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"connection", Filter{ConnectionID: "c1"}, 2},
		{"direction", Filter{Direction: &out}, 1},
		{"category", Filter{Category: &state}, 1},
		{"target", Filter{Target: "d073d5010203"}, 1},
		{"source", Filter{SourceID: &src}, 1},
		{"type", Filter{Type: &typ}, 1},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer r.Close()

			n := 0
			for {
				_, err := r.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("Next failed: %v", err)
				}
				n++
			}
			if n != tt.want {
				t.Errorf("got %d events, want %d", n, tt.want)
			}
		})
	}
}

func TestStreamReaderAndLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStreamLogger(nopWriteCloser{&buf})
	logger.Log(Event{Timestamp: time.Now(), ConnectionID: "s1"})
	logger.Close()

	r := NewStreamReader(&buf, Filter{})
	e, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if e.ConnectionID != "s1" {
		t.Errorf("ConnectionID = %q", e.ConnectionID)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
}

func TestNewReaderMissingFile(t *testing.T) {
	if _, err := NewReader("/nonexistent/capture.llog"); err == nil {
		t.Error("expected error for missing file")
	}
}

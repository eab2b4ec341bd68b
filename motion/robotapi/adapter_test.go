package robotapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"robonav/motion"
	"robonav/motion/motiontest"
	"robonav/robot"
)

var (
	_ motion.Gateway = (*Adapter)(nil)
	_ motion.Mapper  = (*Adapter)(nil)
	_ motion.Jacker  = (*Adapter)(nil)
	_ motion.Camera  = (*Adapter)(nil)
	_ motion.Updater = (*Adapter)(nil)
)

func TestMapOutcome(t *testing.T) {
	tests := []struct {
		in   string
		want motion.Outcome
	}{
		{"succeeded", motion.OutcomeSucceeded},
		{"FINISHED", motion.OutcomeSucceeded},
		{"cancelled", motion.OutcomeCancelled},
		{"canceled", motion.OutcomeCancelled},
		{"failed", motion.OutcomeFailed},
		{"", motion.OutcomeFailed},
		{"blocked", motion.OutcomeFailed},
	}
	for _, tt := range tests {
		if got := MapOutcome(tt.in); got != tt.want {
			t.Errorf("MapOutcome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAdapterCreateMove(t *testing.T) {
	var got robot.MoveRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		data, _ := json.Marshal(robot.MoveCreated{ID: "m-7"})
		json.NewEncoder(w).Encode(robot.Response{Data: data})
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, Timeout: time.Second}, nil)
	ori := 1.57
	id, err := a.CreateMove(context.Background(), motion.Target{X: 4, Y: 5, Orientation: &ori})
	if err != nil {
		t.Fatalf("CreateMove: %v", err)
	}
	if id != "m-7" {
		t.Errorf("id = %q", id)
	}
	if got.TargetX != 4 || got.TargetY != 5 || got.TargetOri == nil || *got.TargetOri != 1.57 {
		t.Errorf("request = %+v", got)
	}
}

func TestAdapterRecordRejectsZero(t *testing.T) {
	a := New(Config{BaseURL: "http://127.0.0.1:0", Timeout: time.Second}, nil)
	if _, err := a.Record(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero duration")
	}
}

func TestAdapterStreamBridge(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"pose","x":1,"y":2,"ori":0}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"move_event","id":"m-9","state":"aborted","reason":"obstacle"}`))
		conn.ReadMessage()
	}))
	defer srv.Close()

	events := make(chan motion.MoveEvent, 1)
	em := &motiontest.Emitter{OnMove: func(ev motion.MoveEvent) { events <- ev }}
	a := New(Config{
		BaseURL:        srv.URL,
		StreamURL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		Timeout:        time.Second,
		ReconnectDelay: 50 * time.Millisecond,
	}, nil)
	a.Start(em)
	defer a.Stop()

	select {
	case ev := <-events:
		if ev.MoveID != "m-9" || ev.Outcome != motion.OutcomeFailed || ev.Reason != "obstacle" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no move event bridged")
	}
}

package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/svxgo/svxreflector/pkg/config"
	"github.com/svxgo/svxreflector/pkg/logger"
	"github.com/svxgo/svxreflector/pkg/protocol"
	"github.com/svxgo/svxreflector/pkg/reflector"
)

type fakeStatus struct {
	nodes []reflector.NodeStatus
}

func (f *fakeStatus) Status() []reflector.NodeStatus { return f.nodes }

func testServer() (*Server, *fakeStatus) {
	status := &fakeStatus{
		nodes: []reflector.NodeStatus{
			{
				Callsign:     "SM0AAA",
				Addr:         "192.0.2.1",
				ProtoVer:     protocol.ProtoVerV2,
				TG:           42,
				MonitoredTGs: []uint32{7},
				IsTalker:     true,
			},
		},
	}
	log := logger.New(logger.Config{Level: "error"})
	return NewServer(config.WebConfig{Enabled: true, Host: "127.0.0.1", Port: 0}, status, log), status
}

func TestHandleStatus(t *testing.T) {
	s, _ := testServer()

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status code = %d", rec.Code)
	}

	var body struct {
		Nodes map[string]reflector.NodeStatus `json:"nodes"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	node, ok := body.Nodes["SM0AAA"]
	if !ok {
		t.Fatalf("node missing from %+v", body.Nodes)
	}
	if node.TG != 42 || !node.IsTalker || node.Addr != "192.0.2.1" {
		t.Errorf("node = %+v", node)
	}
	if node.ProtoVer.MajorVer != 2 {
		t.Errorf("protoVer = %+v", node.ProtoVer)
	}
}

func TestHandleStatusMethodNotImplemented(t *testing.T) {
	s, _ := testServer()

	req := httptest.NewRequest("POST", "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	if rec.Code != 501 {
		t.Errorf("status code = %d, want 501", rec.Code)
	}
}

func TestHandleStatusHead(t *testing.T) {
	s, _ := testServer()

	req := httptest.NewRequest("HEAD", "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	if rec.Code != 200 {
		t.Errorf("status code = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD response has a body: %q", rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := testServer()

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestHubDeliversEvents(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	hub := NewHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	// Wait until the hub has registered the subscriber
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(reflector.Event{Kind: reflector.EventTalkerStart, Callsign: "SM0AAA", TG: 42})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var e reflector.Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Kind != reflector.EventTalkerStart || e.Callsign != "SM0AAA" || e.TG != 42 {
		t.Errorf("event = %+v", e)
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	hub := NewHub(log)

	// No Run loop draining: the buffer fills, further publishes drop
	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastDepth*2; i++ {
			hub.Publish(reflector.Event{Kind: reflector.EventNodeJoined})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
}

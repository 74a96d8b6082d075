package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeRelay is a minimal in-process relay: one versioned blob, the
// four request actions, and an on-demand "changed" push.
type fakeRelay struct {
	server *httptest.Server

	mu      sync.Mutex
	version int
	data    string
	conns   map[*websocket.Conn]bool
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()

	r := &fakeRelay{conns: make(map[*websocket.Conn]bool)}
	r.server = httptest.NewServer(http.HandlerFunc(r.handle))
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRelay) url() string {
	return "ws://" + strings.TrimPrefix(r.server.URL, "http://")
}

func (r *fakeRelay) handle(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns[conn] = true
	r.mu.Unlock()

	ctx := req.Context()
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			r.mu.Lock()
			delete(r.conns, conn)
			r.mu.Unlock()
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		reply := envelope{ID: env.ID}
		switch env.Action {
		case "now":
			reply.Body, _ = json.Marshal(nowBody{Timestamp: time.Now().UnixMilli()})
		case "ref":
			reply.Body = json.RawMessage(`{}`)
		case "get":
			var greq getRequest
			_ = json.Unmarshal(env.Body, &greq)
			r.mu.Lock()
			body := getBody{Version: strconv.Itoa(r.version)}
			if greq.Known != strconv.Itoa(r.version) {
				body.Data = r.data
			}
			r.mu.Unlock()
			reply.Body, _ = json.Marshal(body)
		case "set":
			var sreq setRequest
			_ = json.Unmarshal(env.Body, &sreq)
			r.mu.Lock()
			base := sreq.Version
			current := ""
			if r.version > 0 {
				current = strconv.Itoa(r.version)
			}
			body := setBody{Success: base == current, Version: current}
			if body.Success {
				r.version++
				r.data = sreq.Data
				body.Version = strconv.Itoa(r.version)
			}
			r.mu.Unlock()
			reply.Body, _ = json.Marshal(body)
		default:
			reply.Error = "unknown action"
		}

		frame, _ := json.Marshal(reply)
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			return
		}
	}
}

// pushChanged broadcasts the change notification to every connection.
func (r *fakeRelay) pushChanged() {
	frame, _ := json.Marshal(envelope{Event: "changed"})
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.conns {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = conn.Write(ctx, websocket.MessageText, frame)
		cancel()
	}
}

func startTestClient(t *testing.T, relay *fakeRelay, cfg Config) *Client {
	t.Helper()

	connected := make(chan struct{}, 1)
	userOnConnect := cfg.OnConnect
	cfg.OnConnect = func() {
		select {
		case connected <- struct{}{}:
		default:
		}
		if userOnConnect != nil {
			userOnConnect()
		}
	}
	cfg.URL = relay.url()
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[test] ", log.LstdFlags)
	}

	client := NewClient(cfg)
	client.Start()
	t.Cleanup(client.Stop)

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not connect in time")
	}
	return client
}

func TestClientNow(t *testing.T) {
	relay := newFakeRelay(t)
	client := startTestClient(t, relay, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	before := time.Now().UnixMilli()
	ts, err := client.Now(ctx)
	if err != nil {
		t.Fatalf("Now failed: %v", err)
	}
	after := time.Now().UnixMilli()
	if ts < before || ts > after {
		t.Errorf("Now = %d, want between %d and %d", ts, before, after)
	}
}

func TestClientGetSetCompareAndSet(t *testing.T) {
	relay := newFakeRelay(t)
	client := startTestClient(t, relay, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ref(ctx, "somehandle"); err != nil {
		t.Fatalf("Ref failed: %v", err)
	}

	// First write asserts the blob does not exist yet.
	res, err := client.Set(ctx, "ciphertext-1", "")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !res.Success {
		t.Fatal("initial Set did not succeed")
	}
	v1 := res.Version

	// Stale base version must be rejected.
	stale, err := client.Set(ctx, "ciphertext-2", "")
	if err != nil {
		t.Fatalf("stale Set failed: %v", err)
	}
	if stale.Success {
		t.Error("compare-and-set succeeded on a stale base version")
	}
	if stale.Version != v1 {
		t.Errorf("failed Set reported version %q, want %q", stale.Version, v1)
	}

	got, err := client.Get(ctx, "")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != v1 || got.Data != "ciphertext-1" {
		t.Errorf("Get = %+v, want version %q data %q", got, v1, "ciphertext-1")
	}

	// Get with the current version omits the payload.
	unchanged, err := client.Get(ctx, v1)
	if err != nil {
		t.Fatalf("versioned Get failed: %v", err)
	}
	if unchanged.Data != "" {
		t.Errorf("Get with up-to-date version returned data: %q", unchanged.Data)
	}
}

func TestClientChangedPush(t *testing.T) {
	relay := newFakeRelay(t)

	changed := make(chan struct{}, 1)
	startTestClient(t, relay, Config{
		OnChanged: func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})

	relay.pushChanged()

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("changed push never reached the client")
	}
}

func TestCallbacksCanIssueRequests(t *testing.T) {
	relay := newFakeRelay(t)

	// The daemon's handlers run requests from inside these callbacks;
	// they must not starve the read loop that delivers the responses.
	ready := make(chan struct{})
	connectErr := make(chan error, 1)
	changedErr := make(chan error, 1)
	var client *Client

	cfg := Config{
		OnConnect: func() {
			<-ready
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_, err := client.Now(ctx)
			connectErr <- err
		},
		OnChanged: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_, err := client.Get(ctx, "")
			changedErr <- err
		},
	}
	client = startTestClient(t, relay, cfg)
	close(ready)

	select {
	case err := <-connectErr:
		if err != nil {
			t.Fatalf("Now from the connect callback failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("connect callback never completed its request")
	}

	relay.pushChanged()
	select {
	case err := <-changedErr:
		if err != nil {
			t.Fatalf("Get from the changed callback failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("changed callback never completed its request")
	}
}

func TestClientNotConnected(t *testing.T) {
	client := NewClient(Config{
		URL:    "ws://127.0.0.1:1", // never dialed, Start not called
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})

	if client.Connected() {
		t.Error("unstarted client reports connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.Get(ctx, ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Get on unstarted client = %v, want ErrNotConnected", err)
	}
	if err := client.Ref(ctx, "h"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ref on unstarted client = %v, want ErrNotConnected", err)
	}
}

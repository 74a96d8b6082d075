package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// envelope is the framing for every message on the wire. Requests
// carry an id and an action; responses echo the id back with a body or
// an error; server pushes carry only an event name.
type envelope struct {
	ID     int64           `json:"id,omitempty"`
	Action string          `json:"action,omitempty"`
	Event  string          `json:"event,omitempty"`
	Error  string          `json:"error,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Wire body shapes for the four request types.
type nowBody struct {
	Timestamp int64 `json:"timestamp"`
}

type refBody struct {
	Handle string `json:"handle,omitempty"`
}

type getRequest struct {
	Known string `json:"known,omitempty"`
}

type getBody struct {
	Version string `json:"version"`
	Data    string `json:"data,omitempty"`
}

type setRequest struct {
	Data    string `json:"data"`
	Version string `json:"version,omitempty"`
}

type setBody struct {
	Success bool   `json:"success"`
	Version string `json:"version"`
}

// Config holds websocket client configuration
type Config struct {
	// URL of the relay websocket endpoint, e.g. wss://relay.example/ws
	URL string

	// Token is an optional bearer token sent on the handshake
	Token string

	// ReconnectDelay between dial attempts (default: 5s)
	ReconnectDelay time.Duration

	// WriteTimeout bounds a single frame write (default: 10s)
	WriteTimeout time.Duration

	// Logger for connection activity (default: stderr logger)
	Logger *log.Logger

	// OnConnect fires on its own goroutine after every successful
	// (re)connection, concurrently with the read loop, so it may issue
	// requests on the fresh connection.
	OnConnect func()

	// OnConnectError fires when a dial attempt fails.
	OnConnectError func(err error)

	// OnChanged fires on its own goroutine when the relay pushes a
	// change notification for the watched ledger. It may issue
	// requests.
	OnChanged func()
}

// Client is the production websocket implementation of Channel. It
// maintains one connection to the relay, reconnecting with a fixed
// delay, and correlates responses to in-flight requests by id.
type Client struct {
	cfg    Config
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int64
	pending map[int64]chan envelope
}

// NewClient creates a websocket client. Call Start to begin dialing.
func NewClient(cfg Config) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[channel] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[int64]chan envelope),
	}
}

// Start launches the connection loop in the background.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop closes the connection and waits for the loop to exit.
func (c *Client) Stop() {
	c.cancel()

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "client shutting down")
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// Connected reports whether a relay connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// run dials the relay, serves one connection until it drops, then
// backs off and dials again.
func (c *Client) run() {
	defer c.wg.Done()

	for {
		conn, err := c.dial()
		if err != nil {
			c.logger.Printf("Connect failed: %v", err)
			if c.cfg.OnConnectError != nil {
				c.cfg.OnConnectError(err)
			}
		} else {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()

			c.logger.Printf("Connected to %s", c.cfg.URL)
			if c.cfg.OnConnect != nil {
				// The callback issues requests on this connection;
				// running it here would block the read loop that
				// delivers its responses.
				go c.cfg.OnConnect()
			}

			c.readLoop(conn)
			c.dropConnection(conn)
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	opts := &websocket.DialOptions{}
	if c.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.cfg.Token}}
	}

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// readLoop dispatches incoming frames until the connection errors.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}

		switch {
		case env.Event == "changed":
			if c.cfg.OnChanged != nil {
				go c.cfg.OnChanged()
			}
		case env.ID != 0:
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			if ok {
				delete(c.pending, env.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- env
			}
		default:
			c.logger.Printf("Dropping frame with no id or event: %s", data)
		}
	}
}

// dropConnection clears the active connection and fails every
// in-flight request so callers see ErrNotConnected instead of hanging.
func (c *Client) dropConnection(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "")

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	orphaned := c.pending
	c.pending = make(map[int64]chan envelope)
	c.mu.Unlock()

	for _, ch := range orphaned {
		close(ch)
	}

	c.logger.Printf("Disconnected from %s", c.cfg.URL)
}

// call performs one request/response exchange. The response body is
// unmarshaled into out when out is non-nil.
func (c *Client) call(ctx context.Context, action string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", action, err)
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	ch := make(chan envelope, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	frame, err := json.Marshal(envelope{ID: id, Action: action, Body: raw})
	if err != nil {
		c.abandon(id)
		return fmt.Errorf("failed to marshal %s frame: %w", action, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	err = conn.Write(writeCtx, websocket.MessageText, frame)
	cancel()
	if err != nil {
		c.abandon(id)
		return fmt.Errorf("failed to send %s request: %w", action, err)
	}

	select {
	case <-ctx.Done():
		c.abandon(id)
		return ctx.Err()
	case env, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if env.Error != "" {
			return fmt.Errorf("%s request rejected: %s", action, env.Error)
		}
		if out != nil {
			if err := json.Unmarshal(env.Body, out); err != nil {
				return fmt.Errorf("failed to unmarshal %s response: %w", action, err)
			}
		}
		return nil
	}
}

// abandon removes a pending request after a local failure.
func (c *Client) abandon(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Now asks the relay for its wall clock in epoch milliseconds.
func (c *Client) Now(ctx context.Context) (int64, error) {
	var body nowBody
	if err := c.call(ctx, "now", struct{}{}, &body); err != nil {
		return 0, err
	}
	return body.Timestamp, nil
}

// Ref announces the watched ledger handle to the relay.
func (c *Client) Ref(ctx context.Context, handle string) error {
	return c.call(ctx, "ref", refBody{Handle: handle}, nil)
}

// Get fetches the relay state, omitting the payload when it matches
// the known version.
func (c *Client) Get(ctx context.Context, known string) (GetResult, error) {
	var body getBody
	if err := c.call(ctx, "get", getRequest{Known: known}, &body); err != nil {
		return GetResult{}, err
	}
	return GetResult{Version: body.Version, Data: body.Data}, nil
}

// Set performs the compare-and-set against baseVersion.
func (c *Client) Set(ctx context.Context, data, baseVersion string) (SetResult, error) {
	var body setBody
	if err := c.call(ctx, "set", setRequest{Data: data, Version: baseVersion}, &body); err != nil {
		return SetResult{}, err
	}
	return SetResult{Success: body.Success, Version: body.Version}, nil
}

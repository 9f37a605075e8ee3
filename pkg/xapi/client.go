package xapi

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/qieqieplus/zoom-auto-mute/pkg/config"
	"github.com/qieqieplus/zoom-auto-mute/pkg/feedback"
	"github.com/qieqieplus/zoom-auto-mute/pkg/log"
)

// Options configures a Client
type Options struct {
	URL                string
	Username           string
	Password           string
	InsecureSkipVerify bool
	WebSocket          config.WebSocketConfig
}

// OptionsFromConfig builds client options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:                cfg.Device.URL,
		Username:           cfg.Device.Username,
		Password:           cfg.Device.Password,
		InsecureSkipVerify: cfg.Device.InsecureSkipVerify,
		WebSocket:          cfg.WebSocket,
	}
}

// Client is a JSON-RPC client for the device's xAPI WebSocket endpoint. It
// keeps the connection alive, reconnects when it drops, restores feedback
// subscriptions and publishes feedback notifications on a bus.
type Client struct {
	opts    Options
	dialer  *websocket.Dialer
	bus     *feedback.Bus
	limiter *rate.Limiter

	mu            sync.Mutex
	conn          *connection
	ready         chan struct{} // closed while a connection is up and subscribed
	pending       map[string]chan *envelope
	pendingSubs   map[string]string // request id -> path
	subscriptions []string
	feedbackPaths map[int]string // device feedback id -> path
	onState       func(connected bool)
	closed        bool
}

// NewClient creates a client that publishes feedback on bus
func NewClient(opts Options, bus *feedback.Bus) *Client {
	interval := opts.WebSocket.ReconnectInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if opts.WebSocket.RequestTimeout <= 0 {
		opts.WebSocket.RequestTimeout = 10 * time.Second
	}

	return &Client{
		opts: opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
		},
		bus:           bus,
		limiter:       rate.NewLimiter(rate.Every(interval), 1),
		ready:         make(chan struct{}),
		pending:       make(map[string]chan *envelope),
		pendingSubs:   make(map[string]string),
		feedbackPaths: make(map[int]string),
	}
}

// Subscribe registers a feedback path such as "Event/CallSuccessful". The
// subscription is (re)established on every connection.
func (c *Client) Subscribe(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.subscriptions {
		if p == path {
			return
		}
	}
	c.subscriptions = append(c.subscriptions, path)
}

// SetStateHook registers fn to be called whenever the connection goes up or down
func (c *Client) SetStateHook(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// IsConnected reports whether a subscribed connection is up
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// WaitConnected blocks until the client is connected and subscribed
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run maintains the connection until ctx is cancelled
func (c *Client) Run(ctx context.Context) error {
	defer c.shutdown()

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}

		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Warnf("xAPI connection to %s lost: %v", c.opts.URL, err)
	}
}

// session runs a single connection until it fails or ctx is cancelled
func (c *Client) session(ctx context.Context) error {
	header := http.Header{}
	if c.opts.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(c.opts.Username + ":" + c.opts.Password))
		header.Set("Authorization", "Basic "+token)
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	conn := newConnection(ws, c.opts.WebSocket)
	c.mu.Lock()
	c.conn = conn
	c.feedbackPaths = make(map[int]string)
	paths := append([]string(nil), c.subscriptions...)
	c.mu.Unlock()

	log.Infof("Connected to xAPI at %s", c.opts.URL)

	go conn.writePump()
	go conn.readPump(c.dispatch)

	defer c.detach(conn)

	for _, path := range paths {
		if err := c.subscribe(ctx, path); err != nil {
			conn.close()
			return fmt.Errorf("subscribe %s: %w", path, err)
		}
		log.Debugf("Subscribed to feedback %s", path)
	}

	c.setReady()

	select {
	case <-conn.done:
		return ErrConnectionLost
	case <-ctx.Done():
		conn.close()
		return ctx.Err()
	}
}

func (c *Client) setReady() {
	c.mu.Lock()
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
	hook := c.onState
	c.mu.Unlock()

	if hook != nil {
		hook(true)
	}
}

// detach forgets conn and fails the calls still waiting on it
func (c *Client) detach(conn *connection) {
	conn.close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	wasReady := false
	select {
	case <-c.ready:
		wasReady = true
		c.ready = make(chan struct{})
	default:
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingSubs = make(map[string]string)
	hook := c.onState
	c.mu.Unlock()

	if wasReady && hook != nil {
		hook(false)
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.close()
	}
}

func (c *Client) subscribe(ctx context.Context, path string) error {
	params := subscribeParams{Query: strings.Split(path, "/")}
	var result subscribeResult
	return c.call(ctx, MethodSubscribe, params, &result, path)
}

// Call performs a JSON-RPC request and decodes the result into out (if non-nil)
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	return c.call(ctx, method, params, out, "")
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}, subPath string) error {
	id := uuid.NewString()
	data, err := json.Marshal(Request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	ch := make(chan *envelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = ch
	if subPath != "" {
		c.pendingSubs[id] = subPath
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		delete(c.pendingSubs, id)
		c.mu.Unlock()
	}()

	if !conn.enqueue(data) {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.WebSocket.RequestTimeout)
	defer cancel()

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrConnectionLost
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// dispatch routes a message read from the device. It runs on the read goroutine.
func (c *Client) dispatch(msg []byte) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Warnf("Ignoring malformed xAPI message: %v", err)
		return
	}

	if env.Method == MethodFeedback {
		c.handleFeedback(env.Params)
		return
	}

	id := env.requestID()
	if id == "" {
		log.Debugf("Ignoring xAPI message without id: %s", env.Method)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	if path, isSub := c.pendingSubs[id]; isSub && env.Error == nil {
		// Record the feedback id here so notifications that follow the
		// response on the wire are never seen before the mapping exists.
		var result subscribeResult
		if err := json.Unmarshal(env.Result, &result); err == nil {
			c.feedbackPaths[result.ID] = path
		}
	}
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		log.Debugf("Dropping xAPI response for unknown request %s", id)
		return
	}
	ch <- &env
}

func (c *Client) handleFeedback(params json.RawMessage) {
	var head struct {
		ID int `json:"Id"`
	}
	if err := json.Unmarshal(params, &head); err != nil {
		log.Warnf("Ignoring malformed feedback: %v", err)
		return
	}

	c.mu.Lock()
	path, ok := c.feedbackPaths[head.ID]
	c.mu.Unlock()
	if !ok {
		log.Debugf("Ignoring feedback for unknown subscription %d", head.ID)
		return
	}

	payload, found := extract(params, strings.Split(path, "/"))
	if !found {
		log.Debugf("Feedback %d has no %s leaf", head.ID, path)
		return
	}

	if c.bus != nil {
		c.bus.Publish(&feedback.Notification{Path: path, Payload: payload, ReceivedAt: time.Now()})
	}
}

// connection wraps a single WebSocket connection and its pumps
type connection struct {
	ws        *websocket.Conn
	cfg       config.WebSocketConfig
	sendChan  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, cfg config.WebSocketConfig) *connection {
	return &connection{
		ws:       ws,
		cfg:      cfg,
		sendChan: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

func (c *connection) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendChan <- msg:
		return true
	case <-c.done:
		return false
	}
}

// close stops both pumps. The write pump sends a close frame and releases the socket.
func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// deadline converts a timeout to a deadline; zero disables it
func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

// writePump pumps requests from the send channel to the WebSocket connection
func (c *connection) writePump() {
	defer func() {
		c.close()
		c.ws.Close()
	}()

	pingInterval := c.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 60 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case msg := <-c.sendChan:
			c.ws.SetWriteDeadline(deadline(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Errorf("Error writing to xAPI WebSocket: %v", err)
				return
			}

		case <-pingTicker.C:
			c.ws.SetWriteDeadline(deadline(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Errorf("Error sending ping to xAPI WebSocket: %v", err)
				return
			}

		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// readPump reads messages from the WebSocket connection and hands them to handle
func (c *connection) readPump(handle func([]byte)) {
	defer c.close()

	c.ws.SetReadDeadline(deadline(c.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(deadline(c.cfg.ReadTimeout))
		return nil
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Errorf("xAPI WebSocket read error: %v", err)
			}
			return
		}
		c.ws.SetReadDeadline(deadline(c.cfg.ReadTimeout))
		handle(msg)
	}
}

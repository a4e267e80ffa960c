package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/keizars/keizar-go/internal/obslog"
	"github.com/keizars/keizar-go/internal/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnReconnecting ConnState = "reconnecting"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

type MessageCallback func(msg protocol.Respond)

type StateCallback func(state ConnState)

type messageEntry struct {
	id       int
	callback MessageCallback
}

type stateEntry struct {
	id       int
	callback StateCallback
}

// ConnOptions tunes the room socket. Zero fields take defaults; a negative
// MaxReconnectAttempts disables reconnecting.
type ConnOptions struct {
	MaxReconnectAttempts int
	PingInterval         time.Duration
	DialTimeout          time.Duration
	HTTPHeader           http.Header
	Logger               *zap.Logger
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 15 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = obslog.L()
	}
	return o
}

// Conn is one user's socket to one room. It sends UserInfo on every (re)connect, decodes
// server frames for the registered callbacks and reconnects with backoff when the socket drops.
type Conn struct {
	url      string
	username string
	opts     ConnOptions
	log      *zap.Logger

	mu    sync.RWMutex
	ws    *websocket.Conn
	state ConnState
	err   error

	msgCbs   []messageEntry
	stateCbs []stateEntry
	nextCbID int
	cbM      sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewConn(wsURL, username string, opts ConnOptions) *Conn {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		url:        wsURL,
		username:   username,
		opts:       opts,
		log:        opts.Logger.With(zap.String("url", wsURL), zap.String("user", username)),
		state:      ConnDisconnected,
		stopCh:     make(chan struct{}),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Dial builds a Conn and connects it. Callbacks registered after Dial may miss the first
// frames; register them on a NewConn before Connect when that matters.
func Dial(ctx context.Context, wsURL, username string, opts ConnOptions) (*Conn, error) {
	c := NewConn(wsURL, username, opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect dials once. Unlike a dropped socket, a failed first dial is not retried.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == ConnConnected || c.state == ConnConnecting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setState(ConnConnecting)
	ws, err := c.dial(ctx)
	if err != nil {
		c.fail(err)
		return err
	}
	c.start(ws)
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	ws, resp, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.opts.HTTPHeader,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, &NetworkError{Op: "dial", Err: ErrRoomNotFound}
		}
		return nil, &NetworkError{Op: "dial", Err: err}
	}
	if err := wsjson.Write(dialCtx, ws, protocol.UserInfo{Username: c.username}); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "handshake")
		return nil, &NetworkError{Op: "handshake", Err: err}
	}
	return ws, nil
}

func (c *Conn) start(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(c.rootCtx)
	c.mu.Lock()
	c.ws = ws
	c.err = nil
	c.mu.Unlock()
	c.setState(ConnConnected)
	c.log.Info("client_connected")

	c.wg.Add(2)
	go c.listen(ctx, cancel, ws)
	go c.pingLoop(ctx, ws)
}

func (c *Conn) listen(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn) {
	defer c.wg.Done()
	defer cancel()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.readFailed(ws, err)
			return
		}
		msg, err := protocol.DecodeRespond(data)
		if err != nil {
			c.log.Debug("client_frame_malformed", zap.Error(err))
			continue
		}

		c.cbM.RLock()
		callbacks := make([]messageEntry, len(c.msgCbs))
		copy(callbacks, c.msgCbs)
		c.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(msg)
			}
		}
	}
}

// readFailed decides between reconnecting and giving up, based on how the server closed.
func (c *Conn) readFailed(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	if c.isStopping() {
		return
	}

	var ce websocket.CloseError
	if errors.As(err, &ce) {
		switch {
		case ce.Code == websocket.StatusPolicyViolation && ce.Reason == "room full":
			c.fail(&NetworkError{Op: "join", Err: ErrRoomFull})
			return
		case ce.Code == websocket.StatusPolicyViolation:
			c.fail(&NetworkError{Op: "join", Err: errors.Join(ErrServerRefused, errors.New(ce.Reason))})
			return
		case ce.Reason == "room finished":
			c.closed(&NetworkError{Op: "read", Err: ErrRoomFinished})
			return
		case ce.Reason == "replaced by a newer connection":
			c.closed(&NetworkError{Op: "read", Err: ErrReplaced})
			return
		}
	}

	c.log.Info("client_disconnected", zap.Error(err))
	c.mu.Lock()
	c.err = &NetworkError{Op: "read", Err: err}
	c.mu.Unlock()
	c.setState(ConnDisconnected)
	c.scheduleReconnect()
}

// pingLoop closes the socket after two failed pings in a row; listen then takes the
// reconnect path.
func (c *Conn) pingLoop(ctx context.Context, ws *websocket.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				c.log.Info("client_ping_failure", zap.Error(err))
				_ = ws.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (c *Conn) scheduleReconnect() {
	if c.opts.MaxReconnectAttempts < 0 {
		c.fail(c.Err())
		return
	}
	c.setState(ConnReconnecting)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		var lastErr error
		for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			ws, err := c.dial(c.rootCtx)
			if err != nil {
				lastErr = err
				c.log.Debug("client_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
				if errors.Is(err, ErrRoomNotFound) {
					break
				}
				continue
			}
			if c.isStopping() {
				_ = ws.Close(websocket.StatusNormalClosure, "close")
				return
			}
			c.start(ws)
			return
		}
		c.fail(netErr("reconnect", lastErr))
	}()
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if err != nil {
		c.err = err
	}
	c.mu.Unlock()
	c.log.Info("client_failed", zap.Error(err))
	c.setState(ConnFailed)
}

func (c *Conn) closed(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.log.Info("client_closed_by_server", zap.Error(err))
	c.setState(ConnClosed)
}

// Send writes one request. It fails with ErrNotConnected while reconnecting.
func (c *Conn) Send(ctx context.Context, req protocol.Request) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return &NetworkError{Op: "send", Err: ErrNotConnected}
	}
	frame, err := protocol.EncodeRequest(req)
	if err != nil {
		return err
	}
	if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return &NetworkError{Op: "send", Err: err}
	}
	return nil
}

func (c *Conn) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err is the failure that led to the current state, or nil while healthy.
func (c *Conn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Conn) OnMessage(cb MessageCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCbID++
	c.msgCbs = append(c.msgCbs, messageEntry{id: c.nextCbID, callback: cb})
	return c.nextCbID
}

func (c *Conn) RemoveMessageCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.msgCbs {
		if cb.id == id {
			c.msgCbs = append(c.msgCbs[:i], c.msgCbs[i+1:]...)
			break
		}
	}
}

func (c *Conn) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCbID++
	c.stateCbs = append(c.stateCbs, stateEntry{id: c.nextCbID, callback: cb})
	return c.nextCbID
}

func (c *Conn) RemoveStateCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.stateCbs {
		if cb.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			break
		}
	}
}

func (c *Conn) setState(state ConnState) {
	c.mu.Lock()
	if c.state == ConnClosed && state != ConnClosed {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.cbM.RLock()
	callbacks := make([]stateEntry, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

// Close shuts the socket and waits for the background goroutines.
func (c *Conn) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "close")
	}
	c.rootCancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(ConnClosed)
		return nil
	}
}

func (c *Conn) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

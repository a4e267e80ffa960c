package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/keizars/keizar-go/internal/board"
	"github.com/keizars/keizar-go/internal/protocol"
	"github.com/valyala/fasthttp"
)

// Lobby calls the room HTTP endpoints.
type Lobby struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type LobbyOption func(*Lobby)

func WithTimeout(d time.Duration) LobbyOption {
	return func(l *Lobby) { l.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) LobbyOption {
	return func(l *Lobby) { l.http.MaxConnsPerHost = n }
}

func WithRetry(max int) LobbyOption {
	return func(l *Lobby) { l.retryMax = max }
}

func NewLobby(baseURL string, opts ...LobbyOption) *Lobby {
	l := &Lobby{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lobby) BaseURL() string { return l.baseURL }

// CreateRoom opens room number. A nil props lets the server pick a random standard board.
// Creation is not retried: a lost response followed by a retry would report ErrRoomExists.
func (l *Lobby) CreateRoom(ctx context.Context, number uint64, props *board.BoardProperties) (*protocol.RoomInfo, error) {
	var info protocol.RoomInfo
	var in any
	if props != nil {
		in = props
	}
	if err := l.doJSON(ctx, fasthttp.MethodPost, roomPath(number)+"/create", in, &info, false); err != nil {
		return nil, netErr("create room", err)
	}
	return &info, nil
}

func (l *Lobby) RoomInfo(ctx context.Context, number uint64) (*protocol.RoomInfo, error) {
	var info protocol.RoomInfo
	if err := l.doJSON(ctx, fasthttp.MethodGet, roomPath(number), nil, &info, true); err != nil {
		return nil, netErr("room info", err)
	}
	return &info, nil
}

func (l *Lobby) Health(ctx context.Context) error {
	return netErr("health", l.doJSON(ctx, fasthttp.MethodGet, "/health", nil, nil, true))
}

// RoomURL is the websocket endpoint of room number under baseURL.
func (l *Lobby) RoomURL(number uint64) string { return RoomURL(l.baseURL, number) }

// RoomURL maps http(s)://host to ws(s)://host/room/<n>/ws.
func RoomURL(baseURL string, number uint64) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + roomPath(number) + "/ws"
}

func roomPath(number uint64) string { return "/room/" + strconv.FormatUint(number, 10) }

// StatusError is a non-2xx answer.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("keizar api error: status=%d body=%s", e.Status, e.Body)
}

// Unwrap maps the statuses the room endpoints use to the package sentinels.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case fasthttp.StatusNotFound:
		return ErrRoomNotFound
	case fasthttp.StatusConflict:
		return ErrRoomExists
	default:
		return nil
	}
}

func (l *Lobby) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(l.baseURL + path)
	req.Header.SetContentType("application/json")
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && l.retryMax > 0 {
		attempts = l.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.http.DoDeadline(req, resp, l.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = &StatusError{Status: status, Body: truncate(strings.TrimSpace(string(resp.Body())), 512)}
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (l *Lobby) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(l.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoffDuration doubles from 100ms and stops growing at 3.2s.
func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keizars/keizar-go/internal/board"
	"github.com/keizars/keizar-go/internal/protocol"
	"github.com/keizars/keizar-go/internal/room"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func newTestServer(t *testing.T, maxRooms int) *httptest.Server {
	t.Helper()
	m := room.NewManager(room.Options{HeartbeatInterval: time.Hour, Logger: zap.NewNop()}, maxRooms)
	ts := httptest.NewServer(NewServer(Config{Logger: zap.NewNop()}, m))
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func plainBoardJSON(t *testing.T) []byte {
	t.Helper()
	props := board.StandardProperties(11)
	props.Tiles = map[board.BoardPos]board.TileType{props.KeizarTilePos: board.TileKeizar}
	raw, err := json.Marshal(props)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func post(t *testing.T, url string, body []byte) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestHTTP_CreateAndInfo(t *testing.T) {
	ts := newTestServer(t, 2)

	code, body := post(t, ts.URL+"/room/5/create", plainBoardJSON(t))
	if code != http.StatusCreated {
		t.Fatalf("create = %d %s, want 201", code, body)
	}
	var info protocol.RoomInfo
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.RoomNumber != 5 || info.State != protocol.RoomStarted || info.Properties == nil || info.Properties.Seed != 11 {
		t.Fatalf("info = %+v", info)
	}

	endless := board.StandardProperties(1)
	endless.Rounds = 2000000000
	endlessJSON, err := json.Marshal(endless)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cases := []struct {
		name string
		path string
		body []byte
		want int
	}{
		{"duplicate", "/room/5/create", nil, http.StatusConflict},
		{"bad number", "/room/abc/create", nil, http.StatusBadRequest},
		{"bad board", "/room/6/create", []byte(`{"width":0}`), http.StatusBadRequest},
		{"too many rounds", "/room/6/create", endlessJSON, http.StatusBadRequest},
		{"random board", "/room/7/create", nil, http.StatusCreated},
		{"over limit", "/room/8/create", nil, http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if code, body := post(t, ts.URL+c.path, c.body); code != c.want {
				t.Fatalf("POST %s = %d %s, want %d", c.path, code, body, c.want)
			}
		})
	}

	resp, err := http.Get(ts.URL + "/room/5")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /room/5 = %d", resp.StatusCode)
	}
	resp, err = http.Get(ts.URL + "/room/404")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /room/404 = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(b) != "ok" {
		t.Fatalf("health = %q", b)
	}
}

type player struct {
	c     *websocket.Conn
	alloc board.Player
}

func join(ctx context.Context, t *testing.T, ts *httptest.Server, roomNo, user string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.Dial(ctx, wsURL(ts, "/room/"+roomNo+"/ws"), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "bye") })
	if err := wsjson.Write(ctx, c, protocol.UserInfo{Username: user}); err != nil {
		t.Fatalf("write user info: %v", err)
	}
	return c
}

func readUntil(ctx context.Context, t *testing.T, c *websocket.Conn, match func(protocol.Respond) bool) protocol.Respond {
	t.Helper()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msg, err := protocol.DecodeRespond(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func send(ctx context.Context, t *testing.T, c *websocket.Conn, r protocol.Request) {
	t.Helper()
	b, err := protocol.EncodeRequest(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := c.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func setupOf(ctx context.Context, t *testing.T, c *websocket.Conn) board.Player {
	t.Helper()
	m := readUntil(ctx, t, c, func(m protocol.Respond) bool {
		_, ok := m.(protocol.RemoteSessionSetup)
		return ok
	})
	return m.(protocol.RemoteSessionSetup).PlayerAllocation
}

func TestWS_TwoPlayersRelayMoves(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ts := newTestServer(t, 0)
	if code, body := post(t, ts.URL+"/room/9/create", plainBoardJSON(t)); code != http.StatusCreated {
		t.Fatalf("create = %d %s", code, body)
	}

	a := player{c: join(ctx, t, ts, "9", "alice")}
	a.alloc = setupOf(ctx, t, a.c)
	b := player{c: join(ctx, t, ts, "9", "bob")}
	b.alloc = setupOf(ctx, t, b.c)
	if a.alloc == b.alloc {
		t.Fatalf("both players got %s", a.alloc)
	}

	isPlaying := func(m protocol.Respond) bool {
		rs, ok := m.(protocol.RoomStateChange)
		return ok && rs.NewState == protocol.RoomPlaying
	}
	send(ctx, t, a.c, protocol.SetReady{})
	send(ctx, t, b.c, protocol.SetReady{})
	readUntil(ctx, t, a.c, isPlaying)
	readUntil(ctx, t, b.c, isPlaying)

	white, black := a, b
	if b.alloc == board.FirstWhitePlayer {
		white, black = b, a
	}
	send(ctx, t, white.c, protocol.Move{From: board.MustPos("e2"), To: board.MustPos("e3")})
	got := readUntil(ctx, t, black.c, func(m protocol.Respond) bool {
		_, ok := m.(protocol.Move)
		return ok
	}).(protocol.Move)
	if got.From.String() != "e2" || got.To.String() != "e3" {
		t.Fatalf("relayed %s-%s", got.From, got.To)
	}

	carol := join(ctx, t, ts, "9", "carol")
	_, _, err := carol.Read(ctx)
	var ce websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.StatusPolicyViolation || ce.Reason != "room full" {
		t.Fatalf("third player read err = %v, want policy violation \"room full\"", err)
	}

	resp, err := http.Get(ts.URL + "/room/9")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var info protocol.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.State != protocol.RoomPlaying || info.PlayerCount != 2 {
		t.Fatalf("info = %+v", info)
	}
}

func TestWS_UnknownRoomIs404BeforeUpgrade(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ts := newTestServer(t, 0)
	c, resp, err := websocket.Dial(ctx, wsURL(ts, "/room/123/ws"), nil)
	if err == nil {
		c.Close(websocket.StatusNormalClosure, "")
		t.Fatalf("dial to unknown room succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp = %v, want 404", resp)
	}
}

func TestWS_MissingUserInfoClosesSocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ts := newTestServer(t, 0)
	if code, _ := post(t, ts.URL+"/room/1/create", nil); code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}
	c, _, err := websocket.Dial(ctx, wsURL(ts, "/room/1/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")
	if err := c.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err = c.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("read err = %v, want policy violation", err)
	}
}

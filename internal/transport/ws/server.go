// Package ws serves the room HTTP endpoints and the per-room websocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/keizars/keizar-go/internal/board"
	"github.com/keizars/keizar-go/internal/obslog"
	"github.com/keizars/keizar-go/internal/protocol"
	"github.com/keizars/keizar-go/internal/room"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	maxBodyBytes            = 1 << 16
)

// Config tunes the HTTP surface.
type Config struct {
	// AllowedOrigins are host patterns for the websocket Origin check. Empty allows any origin.
	AllowedOrigins []string
	// HandshakeTimeout bounds the wait for the UserInfo frame after the upgrade.
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

type Server struct {
	cfg   Config
	rooms *room.Manager
	log   *zap.Logger
	mux   *http.ServeMux
}

func NewServer(cfg Config, rooms *room.Manager) *Server {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = obslog.L()
	}
	s := &Server{cfg: cfg, rooms: rooms, log: cfg.Logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /room/{roomNo}/create", s.handleCreate)
	s.mux.HandleFunc("GET /room/{roomNo}", s.handleInfo)
	s.mux.HandleFunc("GET /room/{roomNo}/ws", s.handleWS)
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func roomNumber(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	n, err := strconv.ParseUint(r.PathValue("roomNo"), 10, 64)
	if err != nil {
		http.Error(w, "invalid room number", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	number, ok := roomNumber(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var props *board.BoardProperties
	if len(strings.TrimSpace(string(body))) > 0 {
		props, err = board.ParseProperties(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	// A record left by another process still owns the number.
	if _, err := s.rooms.GetOrRestore(r.Context(), number); err == nil {
		http.Error(w, room.ErrRoomExists.Error(), http.StatusConflict)
		return
	}

	rm, err := s.rooms.Create(number, props)
	switch {
	case errors.Is(err, room.ErrRoomExists):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, room.ErrTooManyRooms):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case errors.Is(err, board.ErrInvalidProperties):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.log.Warn("http_room_create_error", zap.Uint64("room", number), zap.Error(err))
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, rm.Info())
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	number, ok := roomNumber(w, r)
	if !ok {
		return
	}
	rm, ok := s.lookup(w, r, number)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rm.Info())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, number uint64) (*room.Room, bool) {
	rm, err := s.rooms.GetOrRestore(r.Context(), number)
	switch {
	case err == nil:
		return rm, true
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrRoomFinished):
		http.Error(w, room.ErrRoomNotFound.Error(), http.StatusNotFound)
	case errors.Is(err, room.ErrTooManyRooms):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.log.Warn("http_room_lookup_error", zap.Uint64("room", number), zap.Error(err))
		http.Error(w, "room unavailable", http.StatusServiceUnavailable)
	}
	return nil, false
}

// handleWS upgrades, reads the UserInfo frame and hands the socket to the room.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	number, ok := roomNumber(w, r)
	if !ok {
		return
	}
	rm, ok := s.lookup(w, r, number)
	if !ok {
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.cfg.AllowedOrigins,
		InsecureSkipVerify: len(s.cfg.AllowedOrigins) == 0,
		CompressionMode:    websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.log.Info("ws_accept_error", zap.Uint64("room", number), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HandshakeTimeout)
	var info protocol.UserInfo
	err = wsjson.Read(ctx, c, &info)
	cancel()
	if err != nil {
		s.log.Info("ws_handshake_error", zap.Uint64("room", number), zap.Error(err))
		_ = c.Close(websocket.StatusPolicyViolation, "expected user info")
		return
	}

	if _, err := rm.Join(info.Username, newConn(c)); err != nil {
		code, reason := websocket.StatusInternalError, "join failed"
		switch {
		case errors.Is(err, room.ErrRoomFull):
			code, reason = websocket.StatusPolicyViolation, "room full"
		case errors.Is(err, room.ErrInvalidUser):
			code, reason = websocket.StatusPolicyViolation, "invalid user"
		case errors.Is(err, room.ErrRoomFinished):
			code, reason = websocket.StatusGoingAway, "room finished"
		}
		s.log.Info("ws_join_rejected", zap.Uint64("room", number), zap.String("user", info.Username), zap.Error(err))
		_ = c.Close(code, reason)
		return
	}
	s.log.Debug("ws_joined", zap.Uint64("room", number), zap.String("user", info.Username))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

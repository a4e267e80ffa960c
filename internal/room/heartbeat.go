package room

import (
	"context"
	"time"

	"github.com/keizars/keizar-go/internal/protocol"
	"go.uber.org/zap"
)

func (r *Room) heartbeatLoop() {
	defer r.wg.Done()
	t := time.NewTicker(r.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			r.beat()
		}
	}
}

type pingTarget struct {
	ps *PlayerSession
	pr *peer
}

// beat pings every connected player, drops peers that failed twice in a row, and finishes the
// room once nobody has been responsive for DyingThreshold beats.
func (r *Room) beat() {
	r.mu.Lock()
	targets := make([]pingTarget, 0, len(r.players))
	for _, ps := range r.players {
		if ps.peer != nil {
			targets = append(targets, pingTarget{ps: ps, pr: ps.peer})
		}
	}
	r.mu.Unlock()

	errs := make([]error, len(targets))
	for i, t := range targets {
		ctx, cancel := context.WithTimeout(r.ctx, r.opts.WriteTimeout)
		errs[i] = t.pr.conn.Ping(ctx)
		cancel()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == protocol.RoomFinished {
		return
	}
	for i, t := range targets {
		if t.ps.peer != t.pr {
			continue
		}
		if errs[i] == nil {
			t.pr.pingFailures = 0
			continue
		}
		t.pr.pingFailures++
		if t.pr.pingFailures >= maxPingFailures {
			r.log.Info("room_ping_failure", zap.String("user", t.ps.username), zap.Error(errs[i]))
			r.dropPeerLocked(t.ps, "ping failure")
		}
	}

	if !r.nobodyResponsiveLocked() {
		r.dying = 0
		return
	}
	r.dying++
	if r.dying >= r.opts.DyingThreshold {
		r.log.Info("room_heartbeat_dying", zap.Int("beats", r.dying))
		r.transitionLocked(protocol.RoomFinished)
		return
	}
	r.log.Debug("room_heartbeat_missed", zap.Int("beats", r.dying))
}

func (r *Room) nobodyResponsiveLocked() bool {
	for _, ps := range r.players {
		if ps.state != protocol.PlayerDisconnected && ps.state != protocol.PlayerTerminating {
			return false
		}
	}
	return true
}

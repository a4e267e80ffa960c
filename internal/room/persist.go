package room

import (
	"context"
	"time"

	"github.com/keizars/keizar-go/internal/protocol"
	"go.uber.org/zap"
)

func (r *Room) markDirtyLocked() {
	select {
	case r.dirty <- struct{}{}:
	default:
	}
}

func (r *Room) recordLocked() *Record {
	rec := &Record{
		Number:     r.number,
		State:      r.state,
		Properties: r.props.Clone(),
		Players:    r.playerInfosLocked(),
		UpdatedAt:  time.Now(),
	}
	if r.session != nil {
		snap := r.session.Snapshot()
		rec.Snapshot = &snap
	}
	return rec
}

// persistLoop writes the latest record after every change, coalescing bursts. Only this
// goroutine talks to the store, so a late save can never resurrect a deleted record.
func (r *Room) persistLoop() {
	defer close(r.done)
	for {
		select {
		case <-r.dirty:
			r.save()
		case <-r.ctx.Done():
			r.mu.Lock()
			finished := r.state == protocol.RoomFinished
			r.mu.Unlock()
			if !finished {
				r.save()
				return
			}
			if r.opts.Store != nil {
				ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
				if err := r.opts.Store.Delete(ctx, r.number); err != nil {
					r.log.Warn("room_store_delete_error", zap.Error(err))
				}
				cancel()
			}
			if r.opts.OnFinished != nil {
				r.opts.OnFinished(r.number)
			}
			return
		}
	}
}

func (r *Room) save() {
	if r.opts.Store == nil {
		return
	}
	r.mu.Lock()
	rec := r.recordLocked()
	r.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.opts.Store.Save(ctx, rec); err != nil {
		r.log.Warn("room_store_save_error", zap.Error(err))
	}
}

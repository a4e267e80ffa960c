package game

// EventKind names what changed in a Session.
type EventKind string

const (
	EventMove         EventKind = "move"
	EventUndo         EventKind = "undo"
	EventRedo         EventKind = "redo"
	EventConfirm      EventKind = "confirm"
	EventRoundAdvance EventKind = "round_advance"
	EventReplay       EventKind = "replay"
	EventRestore      EventKind = "restore"
)

// Event is a change notification. Subscribers read the new state from the Session itself.
type Event struct {
	Kind    EventKind `json:"kind"`
	RoundNo int       `json:"roundNo"`
}

// Subscribe returns a channel of change notifications and a cancel func that closes it.
// Notifications that do not fit in buf are dropped for that subscriber; the session never
// blocks on a slow reader.
func (s *Session) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *Session) publishLocked(kind EventKind) {
	ev := Event{Kind: kind, RoundNo: s.current}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

package rules

import "github.com/keizars/keizar-go/internal/board"

// timeline is the undo/redo history: states[k] is the position before ply k, made by
// movers[k]. cursor points at the live position; entries past it are redoable.
type timeline struct {
	limit  int
	states []State
	movers []board.Role
	cursor int
}

func (t *timeline) reset(st State) {
	t.states = []State{st}
	t.movers = t.movers[:0]
	t.cursor = 0
}

// push records a ply and drops the redo branch.
func (t *timeline) push(mover board.Role, after State) {
	t.states = append(t.states[:t.cursor+1], after)
	t.movers = append(t.movers[:t.cursor], mover)
	t.cursor++
	if over := len(t.movers) - t.limit; over > 0 {
		t.states = append([]State(nil), t.states[over:]...)
		t.movers = append([]board.Role(nil), t.movers[over:]...)
		t.cursor -= over
	}
}

// undoTarget is the latest ply of role before the cursor; restoring the position before it
// hands control back to role.
func (t *timeline) undoTarget(role board.Role) int {
	for k := t.cursor - 1; k >= 0; k-- {
		if t.movers[k] == role {
			return k
		}
	}
	return -1
}

// redoTarget is the first position after the cursor where role is to move again.
func (t *timeline) redoTarget(role board.Role) int {
	for j := t.cursor + 1; j < len(t.states); j++ {
		if t.states[j].CurrentRole == role {
			return j
		}
	}
	return -1
}

func (t *timeline) canUndo(role board.Role) bool { return t.undoTarget(role) >= 0 }
func (t *timeline) canRedo(role board.Role) bool { return t.redoTarget(role) >= 0 }

func (t *timeline) undo(role board.Role) (State, bool) {
	k := t.undoTarget(role)
	if k < 0 {
		return State{}, false
	}
	t.cursor = k
	return t.states[k].clone(), true
}

func (t *timeline) redo(role board.Role) (State, bool) {
	j := t.redoTarget(role)
	if j < 0 {
		return State{}, false
	}
	t.cursor = j
	return t.states[j].clone(), true
}

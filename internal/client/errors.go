// Package client talks to a keizar server: lobby calls over HTTP, the room socket, and a local
// mirror of the authoritative match.
package client

import "errors"

var (
	ErrRoomFull      = errors.New("room full")
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomExists    = errors.New("room already exists")
	ErrRoomFinished  = errors.New("room finished")
	ErrReplaced      = errors.New("connection replaced by a newer one")
	ErrNotConnected  = errors.New("not connected")
	ErrNoSetup       = errors.New("no session setup received yet")
	ErrServerRefused = errors.New("server refused the connection")
)

// NetworkError is every failure that crossed the network. Op names the call that failed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return "keizar client: " + e.Op
	}
	return "keizar client: " + e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

func netErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return err
	}
	return &NetworkError{Op: op, Err: err}
}

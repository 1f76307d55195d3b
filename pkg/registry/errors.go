package registry

import "errors"

// Sentinel errors surfaced to the admission caller. These are ordinary
// results, not exceptional conditions — a full registry or a full fan-out
// set is an expected steady-state outcome, not a bug.
var (
	// ErrAtCapacity is returned by Create when the registry already holds
	// max_sessions sessions.
	ErrAtCapacity = errors.New("registry: at session capacity")

	// ErrFanoutFull is returned by AddSubscriber when the session's
	// subscriber set already holds max_fanout_per_session entries.
	ErrFanoutFull = errors.New("registry: session fan-out is full")

	// ErrNoSession is returned by AddSubscriber when the SSRC has no
	// session. RemoveSubscriber reports the same case by returning false.
	ErrNoSession = errors.New("registry: no session for ssrc")
)

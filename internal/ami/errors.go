package ami

import "errors"

var (
	// ErrConnect is returned when the TCP connection to the manager port
	// cannot be established.
	ErrConnect = errors.New("ami: connect failed")

	// ErrAuth is returned when the switch rejects the Login action.
	ErrAuth = errors.New("ami: authentication failed")

	// ErrTimeout is returned when no correlated response arrives within
	// the execute timeout. The action may still complete on the switch.
	ErrTimeout = errors.New("ami: action timed out")

	// ErrConnectionLost is returned to all outstanding executes when the
	// socket dies mid-flight.
	ErrConnectionLost = errors.New("ami: connection lost")
)

package core

import (
	"net"

	"github.com/adred-codev/subscription-broker/internal/broker/codec"
)

// acceptEvent is raised once a newly accepted stream has sent its login
// frame. Reading the login frame happens off the dispatcher goroutine
// (in the per-connection acceptor) so the dispatcher only ever sees
// fully-framed work.
type acceptEvent struct {
	conn       net.Conn
	id         string
	remoteIP   string
	remotePort uint16
}

// streamEvent carries one fully-read control frame from an already
// logged-in subscriber stream.
type streamEvent struct {
	conn  net.Conn
	frame codec.ControlFrame
}

// streamClosedEvent is raised when a stream's read loop ends, whether by
// clean EOF, a transport error, or because the dispatcher itself closed
// the conn (in which case the session is usually already inactive and the
// event is ignored).
type streamClosedEvent struct {
	conn net.Conn
	err  error
}

// datagramEvent carries one raw UDP datagram read from the ingest socket.
type datagramEvent struct {
	data []byte
	addr *net.UDPAddr
}

// adminEvent carries one line read from the operator's admin console.
type adminEvent struct {
	line string
}

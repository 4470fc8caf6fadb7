package ingress

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Address is the remote endpoint of a connection.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func addressOf(addr net.Addr) Address {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return Address{Host: tcp.IP.String(), Port: tcp.Port}
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Address{Host: addr.String()}
	}
	p, _ := strconv.Atoi(port)
	return Address{Host: host, Port: p}
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// DisconnectReason tells why a session ended. It is only set on
// EventDisconnected.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	ReasonPeerClosed
	ReasonReadError
	ReasonServerStopped
	ReasonLineTooLong
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonPeerClosed:
		return "peer_closed"
	case ReasonReadError:
		return "read_error"
	case ReasonServerStopped:
		return "server_stopped"
	case ReasonLineTooLong:
		return "line_too_long"
	default:
		return "none"
	}
}

type Event struct {
	Kind   EventKind
	ID     uuid.UUID
	Addr   Address
	Text   string // EventMessage only
	Reason DisconnectReason
	At     time.Time
}

// InvalidPortError is returned by Start when the port is outside 1-65535.
type InvalidPortError struct {
	Port int
}

func (e *InvalidPortError) Error() string {
	return fmt.Sprintf("invalid port %d: must be between 1 and 65535", e.Port)
}

// BindError wraps the OS error from binding or listening.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

var ErrAlreadyRunning = errorString("server already running")

type errorString string

func (e errorString) Error() string { return string(e) }

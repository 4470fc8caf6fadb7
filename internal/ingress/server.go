package ingress

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 5050
	DefaultPollInterval   = time.Second
	DefaultReadBufferSize = 4096
)

type Options struct {
	// PollInterval bounds each accept and read wait so sessions notice
	// shutdown. It is not a protocol timeout.
	PollInterval   time.Duration
	ReadBufferSize int
	// MaxLineBytes caps unframed buffered bytes per connection. Zero
	// means unlimited.
	MaxLineBytes int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.MaxLineBytes < 0 {
		o.MaxLineBytes = 0
	}
	return o
}

// serverState lives from a successful Start to the matching Stop.
type serverState struct {
	ln     *net.TCPListener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Server struct {
	opts   Options
	logger *slog.Logger
	reg    *Registry
	events *Queue

	mu    sync.Mutex
	state *serverState
}

func NewServer(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:   opts.withDefaults(),
		logger: logger,
		reg:    NewRegistry(),
		events: NewQueue(),
	}
}

// Events is the queue the presentation layer drains.
func (s *Server) Events() *Queue {
	return s.events
}

// Drain empties the event queue; see Queue.Drain.
func (s *Server) Drain() []Event {
	return s.events.Drain()
}

// Clients returns the registered client addresses, sorted.
func (s *Server) Clients() []Address {
	return s.reg.Snapshot()
}

func (s *Server) Accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil && s.state.ctx.Err() == nil
}

// Addr returns the listening address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil
	}
	return s.state.ln.Addr()
}

// Start binds host:port and starts the accept loop. Bind failures are
// returned before any goroutine is started.
func (s *Server) Start(host string, port int) error {
	if port < 1 || port > 65535 {
		return &InvalidPortError{Port: port}
	}
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultHost
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		return ErrAlreadyRunning
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return &BindError{Addr: addr, Err: errors.New("listener is not TCP")}
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &serverState{ln: tcpLn, ctx: ctx, cancel: cancel}
	s.state = st

	st.wg.Add(1)
	go s.acceptLoop(st)

	s.logger.Info("server started", "addr", tcpLn.Addr().String())
	return nil
}

// Stop halts acceptance, force-closes every live connection and emits one
// Disconnected per connection. Calling it while stopped is a no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st == nil {
		return
	}
	s.state = nil

	s.logger.Info("shutting down")

	st.cancel()
	_ = st.ln.Close()

	n := s.reg.closeAll(func(id uuid.UUID, addr Address) {
		s.events.Push(Event{
			Kind:   EventDisconnected,
			ID:     id,
			Addr:   addr,
			Reason: ReasonServerStopped,
		})
		s.logger.Info("client disconnected", "client", addr.String(), "id", id.String(), "reason", ReasonServerStopped.String())
	})

	// Force-closed sessions fail their next read immediately.
	st.wg.Wait()

	s.logger.Info("shutdown complete", "disconnected", n)
}

func (s *Server) acceptLoop(st *serverState) {
	defer st.wg.Done()
	for st.ctx.Err() == nil {
		_ = st.ln.SetDeadline(time.Now().Add(s.opts.PollInterval))
		conn, err := st.ln.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if st.ctx.Err() == nil {
				s.logger.Error("accept failed, listener exiting", "error", err)
			}
			return
		}
		s.admit(st, conn)
	}
}

func (s *Server) admit(st *serverState, conn net.Conn) {
	sess := newSession(s, st, conn)

	// Connected is pushed under the registry lock, so it always precedes a
	// Disconnected pushed by Stop.
	s.reg.addThen(sess.id, conn, sess.addr, func() {
		s.events.Push(Event{Kind: EventConnected, ID: sess.id, Addr: sess.addr})
	})
	s.logger.Info("client connected", "client", sess.addr.String(), "id", sess.id.String())

	st.wg.Add(1)
	go sess.run()
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

package ingress

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

type session struct {
	id   uuid.UUID
	conn net.Conn
	addr Address
	srv  *Server
	st   *serverState
	buf  bytes.Buffer
}

func newSession(srv *Server, st *serverState, conn net.Conn) *session {
	return &session{
		id:   uuid.New(),
		conn: conn,
		addr: addressOf(conn.RemoteAddr()),
		srv:  srv,
		st:   st,
	}
}

func (s *session) run() {
	defer s.st.wg.Done()
	started := time.Now()

	reason := s.readLoop()
	if s.st.ctx.Err() != nil {
		reason = ReasonServerStopped
	}
	if s.buf.Len() > 0 {
		s.srv.logger.Debug("discarding unterminated line", "client", s.addr.String(), "bytes", s.buf.Len())
	}

	removed := s.srv.reg.Remove(s.id)
	_ = s.conn.Close()
	SessionDuration.Observe(time.Since(started).Seconds())
	if !removed {
		// Stop already emitted Disconnected for this connection.
		return
	}

	s.srv.events.Push(Event{
		Kind:   EventDisconnected,
		ID:     s.id,
		Addr:   s.addr,
		Reason: reason,
	})
	s.srv.logger.Info("client disconnected", "client", s.addr.String(), "id", s.id.String(), "reason", reason.String())
}

func (s *session) readLoop() DisconnectReason {
	chunk := make([]byte, s.srv.opts.ReadBufferSize)
	for s.st.ctx.Err() == nil {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.opts.PollInterval))
		n, err := s.conn.Read(chunk)
		if n > 0 {
			BytesReceived.Add(float64(n))
			s.buf.Write(chunk[:n])
			s.frame()
			if limit := s.srv.opts.MaxLineBytes; limit > 0 && s.buf.Len() > limit {
				return ReasonLineTooLong
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return ReasonPeerClosed
			}
			s.srv.logger.Debug("read failed", "client", s.addr.String(), "error", err)
			return ReasonReadError
		}
	}
	return ReasonServerStopped
}

// frame emits one Message per complete line in the buffer and leaves any
// trailing partial line for the next read.
func (s *session) frame() {
	for {
		i := bytes.IndexByte(s.buf.Bytes(), '\n')
		if i < 0 {
			return
		}
		raw := s.buf.Next(i + 1)
		line := strings.TrimSpace(decodeUTF8(raw[:i]))
		if line == "" {
			continue
		}

		text, format := normalize(line)
		MessagesTotal.WithLabelValues(format).Inc()
		s.srv.reg.ifActive(s.id, func(addr Address) {
			s.srv.events.Push(Event{Kind: EventMessage, ID: s.id, Addr: addr, Text: text})
		})
		s.srv.logger.Debug("line received", "client", s.addr.String(), "format", format)
	}
}

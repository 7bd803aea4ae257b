package core

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/adred-codev/subscription-broker/internal/broker/codec"
	"github.com/adred-codev/subscription-broker/internal/broker/session"
)

// dispatch is the single goroutine that owns the subscription index, the
// session registry, and every stream's lifecycle. Only the select below
// may suspend; every branch runs to completion before the next readiness
// wait.
func (s *Server) dispatch(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			switch e := ev.(type) {
			case acceptEvent:
				s.handleAccept(e)
			case streamEvent:
				s.handleStream(e)
			case streamClosedEvent:
				s.handleStreamClosed(e)
			case datagramEvent:
				s.handleDatagram(e)
			case adminEvent:
				if s.handleAdmin(e) {
					s.shutdown()
					return
				}
			}
		case <-ctx.Done():
			s.logger.Info().Msg("shutdown signal received")
			s.shutdown()
			return
		}
	}
}

func (s *Server) handleAccept(e acceptEvent) {
	s.stats.ConnectionsTotal.Inc()

	sess, outcome := s.registry.Login(e.id, e.conn, e.remoteIP, e.remotePort)
	switch outcome {
	case session.Rejected:
		s.stats.LoginsRejected.Inc()
		s.logger.Info().Str("client_id", e.id).Msg("login rejected: identifier already has an active stream")
		s.writeFrame(e.conn, "Quit")
		e.conn.Close()
		return
	case session.LoggedIn:
		s.logger.Info().Str("client_id", e.id).Str("remote_ip", e.remoteIP).Uint16("remote_port", e.remotePort).Msg("client logged in")
	case session.Reconnected:
		s.logger.Info().Str("client_id", e.id).Str("remote_ip", e.remoteIP).Uint16("remote_port", e.remotePort).Msg("client reconnected")
	}

	s.stats.ConnectionsActive.Inc()
	s.stats.SessionsTotal.Set(float64(len(s.registry.All())))

	if err := s.writeFrame(e.conn, "Success"); err != nil {
		s.logger.Info().Str("client_id", e.id).Err(err).Msg("failed to ack login, disconnecting")
		s.registry.Disconnect(sess)
		s.stats.ConnectionsActive.Dec()
		e.conn.Close()
		return
	}

	go s.streamReader(e.conn)
}

func (s *Server) handleStream(e streamEvent) {
	sess, ok := s.registry.BySession(e.conn)
	if !ok {
		// Superseded by a reconnect, or already disconnected via a prior
		// Quit on this same conn; nothing left to do.
		return
	}

	verb, arg := splitVerb(e.frame.Message)
	switch verb {
	case "subscribe":
		s.stats.SubscribeCommands.Inc()
		if !s.subscribeLimiter.Allow(sess.ID) {
			return
		}
		if !validPatternLength(arg, "subscribe") {
			return
		}
		s.index.Subscribe(sess, arg)
		s.writeFrame(e.conn, "Success")

	case "unsubscribe":
		s.stats.UnsubscribeCommands.Inc()
		if !s.subscribeLimiter.Allow(sess.ID) {
			return
		}
		if !validPatternLength(arg, "unsubscribe") {
			return
		}
		s.index.Unsubscribe(sess, arg)
		s.writeFrame(e.conn, "Success")

	case "Quit":
		s.logger.Info().Str("client_id", sess.ID).Msg("client disconnected")
		s.disconnectSession(sess)
		e.conn.Close()

	default:
		s.logger.Debug().Str("client_id", sess.ID).Str("message", e.frame.Message).Msg("unlisted subscriber command")
	}
}

func (s *Server) handleStreamClosed(e streamClosedEvent) {
	sess, ok := s.registry.BySession(e.conn)
	if !ok {
		return
	}
	s.logger.Info().Str("client_id", sess.ID).AnErr("cause", e.err).Msg("subscriber stream closed")
	s.disconnectSession(sess)
	e.conn.Close()
}

func (s *Server) disconnectSession(sess *session.Session) {
	s.registry.Disconnect(sess)
	s.stats.Disconnects.Inc()
	s.stats.ConnectionsActive.Dec()
}

func (s *Server) handleDatagram(e datagramEvent) {
	s.stats.DatagramsReceived.Inc()

	if !s.datagramLimiter.Allow("ingest") {
		s.stats.DatagramsRateLimited.Inc()
		return
	}

	m, err := codec.DecodeDatagram(e.data)
	if err != nil {
		s.stats.DatagramsMalformed.Inc()
		s.logger.Debug().Err(err).Str("source", e.addr.String()).Msg("dropping malformed datagram")
		return
	}

	notification := codec.FormatNotification(e.addr.IP.String(), e.addr.Port, m)
	for _, sess := range s.index.Match(m.Topic) {
		if !sess.Active() {
			continue
		}
		conn := sess.Conn()
		if err := s.writeFrame(conn, notification); err != nil {
			s.stats.NotificationErrors.Inc()
			s.logger.Info().Str("client_id", sess.ID).Err(err).Msg("notification write failed, disconnecting subscriber")
			s.disconnectSession(sess)
			conn.Close()
			continue
		}
		s.stats.NotificationsSent.Inc()
	}
}

// handleAdmin processes one admin console line and reports whether it
// requested a shutdown.
func (s *Server) handleAdmin(e adminEvent) bool {
	tokens := strings.Fields(e.line)
	if len(tokens) == 0 {
		return false
	}
	if tokens[0] == "exit" {
		s.stats.AdminCommands.WithLabelValues("true").Inc()
		s.logger.Info().Msg("admin exit requested")
		return true
	}
	s.stats.AdminCommands.WithLabelValues("false").Inc()
	s.logger.Warn().Str("command", e.line).Msg("unlisted command")
	return false
}

// shutdown stops accepting new connections, sends every active stream a
// final Quit frame, then tears down the ingest socket.
func (s *Server) shutdown() {
	s.logger.Info().Msg("broker shutting down")
	s.tcpListener.Close()

	for _, sess := range s.registry.All() {
		if !sess.Active() {
			continue
		}
		conn := sess.Conn()
		s.writeFrame(conn, "Quit")
		conn.Close()
	}

	s.udpConn.Close()
}

func (s *Server) writeFrame(conn net.Conn, message string) error {
	if s.cfg.ControlWriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.ControlWriteTimeout))
	}
	return codec.WriteControlFrame(conn, message)
}

// validPatternLength enforces the control frame's text-field ceiling on
// subscribe/unsubscribe patterns: verb, one separating space, and the
// pattern itself must fit in ControlMessageMaxLen bytes.
func validPatternLength(pattern, verb string) bool {
	if pattern == "" {
		return false
	}
	return len(verb)+1+len(pattern) <= codec.ControlMessageMaxLen
}

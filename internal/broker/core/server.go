// Package core implements the broker's single-threaded event loop: every
// I/O source runs its own goroutine doing nothing but blocking reads, and
// every one of those goroutines pushes fully-framed events onto one
// channel drained by a single dispatcher goroutine. All mutation of the
// subscription index, session registry, and stream set happens on that
// one dispatcher goroutine.
package core

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"

	"github.com/rs/zerolog"

	"github.com/adred-codev/subscription-broker/internal/broker/codec"
	"github.com/adred-codev/subscription-broker/internal/broker/config"
	"github.com/adred-codev/subscription-broker/internal/broker/limits"
	"github.com/adred-codev/subscription-broker/internal/broker/metrics"
	"github.com/adred-codev/subscription-broker/internal/broker/session"
	"github.com/adred-codev/subscription-broker/internal/broker/subscription"
)

// Server is the broker. Everything reachable from its dispatcher loop is
// single-threaded by convention; fields are never touched off that
// goroutine once ListenAndServe starts.
type Server struct {
	logger zerolog.Logger
	cfg    *config.OperatorConfig
	stats  *metrics.Metrics

	tcpListener net.Listener
	udpConn     *net.UDPConn

	registry *session.Registry
	index    *subscription.Index

	subscribeLimiter *limits.FrameLimiter
	datagramLimiter  *limits.FrameLimiter

	events chan any
}

// New builds a Server. Call ListenAndServe to bind its transports and run
// the event loop.
func New(logger zerolog.Logger, cfg *config.OperatorConfig, stats *metrics.Metrics) *Server {
	return &Server{
		logger:           logger,
		cfg:              cfg,
		stats:            stats,
		registry:         session.NewRegistry(),
		index:            subscription.New(),
		subscribeLimiter: limits.NewFrameLimiter(cfg.SubscribeBurst, cfg.SubscribeRatePerSec),
		datagramLimiter:  limits.NewFrameLimiter(cfg.DatagramBurst, cfg.DatagramRatePerSec),
		events:           make(chan any, cfg.EventQueueDepth),
	}
}

// ListenAndServe binds the subscriber stream listener and the datagram
// ingest socket, starts one goroutine per I/O source, and runs the
// dispatcher until ctx is canceled or an operator "exit" admin command is
// received. It returns once every endpoint has been closed and every
// active stream has been sent a final Quit frame.
func (s *Server) ListenAndServe(ctx context.Context, tcpAddr, udpAddr string) error {
	ln, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		return err
	}
	s.tcpListener = ln

	udpLocalAddr, err := net.ResolveUDPAddr("udp", udpAddr)
	if err != nil {
		ln.Close()
		return err
	}
	conn, err := net.ListenUDP("udp", udpLocalAddr)
	if err != nil {
		ln.Close()
		return err
	}
	s.udpConn = conn

	s.logger.Info().Str("tcp_addr", tcpAddr).Str("udp_addr", udpAddr).Msg("broker listening")

	go s.acceptLoop()
	go s.udpReadLoop()
	go s.adminReadLoop(ctx)

	s.dispatch(ctx)
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.tcpListener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Debug().Msg("stream listener closed, accept loop stopping")
				return
			}
			s.logger.Warn().Err(err).Msg("accept error")
			continue
		}
		go s.handleNewConnection(conn)
	}
}

// handleNewConnection reads exactly one login control frame off a newly
// accepted stream before handing it to the dispatcher. A stream that
// never completes a well-formed login is dropped without ever reaching
// shared state.
func (s *Server) handleNewConnection(conn net.Conn) {
	frame, err := codec.ReadControlFrame(conn)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("dropping connection: malformed login frame")
		conn.Close()
		return
	}

	ip, port, ok := splitHostPort(conn.RemoteAddr())
	if !ok {
		conn.Close()
		return
	}

	s.events <- acceptEvent{conn: conn, id: frame.Message, remoteIP: ip, remotePort: port}
}

// streamReader keeps reading control frames off a logged-in subscriber's
// stream until it errors or the dispatcher closes the conn out from under
// it, in which case this loop observes the same error and reports it.
func (s *Server) streamReader(conn net.Conn) {
	for {
		frame, err := codec.ReadControlFrame(conn)
		if err != nil {
			s.events <- streamClosedEvent{conn: conn, err: err}
			return
		}
		s.events <- streamEvent{conn: conn, frame: frame}
	}
}

func (s *Server) udpReadLoop() {
	buf := make([]byte, codec.DatagramLen)
	for {
		n, addr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Debug().Msg("datagram socket closed, ingest loop stopping")
				return
			}
			s.logger.Warn().Err(err).Msg("datagram read error")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.events <- datagramEvent{data: data, addr: addr}
	}
}

func (s *Server) adminReadLoop(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		select {
		case s.events <- adminEvent{line: line}:
		case <-ctx.Done():
			return
		}
	}
}

func splitHostPort(addr net.Addr) (ip string, port uint16, ok bool) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", 0, false
	}
	p, err := parsePort(portStr)
	if err != nil {
		return "", 0, false
	}
	return host, p, true
}

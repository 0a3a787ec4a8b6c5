// Package server implements the control-channel side of the tunnel: it
// accepts client control connections, negotiates a public port per client,
// and hands off inbound public connections to the client that claims them.
package server

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"tunnelcannon/config"
	"tunnelcannon/limiter"
	"tunnelcannon/protocol"
	"tunnelcannon/registry"
	"tunnelcannon/splice"
	"tunnelcannon/status"
)

// heartbeatInterval is how often the control loop emits a Heartbeat while
// polling the public listener for inbound connections.
const heartbeatInterval = config.DefaultHeartbeatInterval

// Server is a tunnel server: it binds a control listener and, per client,
// negotiates and runs a public-port session.
type Server struct {
	cfg      config.ServerConfig
	registry *registry.Registry
	limiter  *limiter.SharedLimiter
	monitor  *status.Monitor

	ln net.Listener
}

// New constructs a Server. monitor may be nil to disable status bookkeeping.
func New(cfg config.ServerConfig, monitor *status.Monitor) *Server {
	var lim *limiter.SharedLimiter
	if cfg.MaxBandwidthBytesPerSec > 0 {
		lim = limiter.NewSharedLimiter(cfg.MaxBandwidthBytesPerSec)
	}
	return &Server{
		cfg:      cfg,
		registry: registry.New(),
		limiter:  lim,
		monitor:  monitor,
	}
}

// Run binds the control listener and serves control connections until the
// listener fails or is closed.
func (s *Server) Run() error {
	addr := s.cfg.ControlAddr
	if addr == "" {
		addr = fmt.Sprintf(":%d", config.DefaultControlPort)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.ln = ln
	log.Printf("server: control listener on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handleControlConn(conn)
	}
}

// Close stops the control listener; in-flight sessions run to completion.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handleControlConn(conn net.Conn) {
	label := conn.RemoteAddr().String()
	r := bufio.NewReader(conn)
	var scratch bytes.Buffer

	msg, err := protocol.RecvClient(r, &scratch)
	if err != nil {
		log.Printf("server: %s: malformed first message: %v", label, err)
		conn.Close()
		return
	}
	if msg == nil {
		conn.Close()
		return
	}

	switch msg.Type {
	case protocol.ClientHello:
		s.runSession(conn, label, msg.Port)
	case protocol.ClientAccept:
		s.handleAccept(conn, msg.ID, label)
	default:
		log.Printf("server: %s: unexpected first message %q", label, msg.Type)
		conn.Close()
	}
}

// handleAccept services a fresh connection whose first message is Accept(id):
// the client's response to an earlier Connection(id) offer.
func (s *Server) handleAccept(conn net.Conn, id uuid.UUID, label string) {
	inbound, owner, ok := s.registry.Accept(id)
	if !ok {
		log.Printf("server: %s: accept for unknown or expired connection %s", label, id)
		conn.Close()
		return
	}
	if s.monitor != nil {
		s.monitor.IncConn(owner)
		defer s.monitor.DecConn(owner)
	}
	n, err := splice.Pipe(conn, inbound, s.limiter)
	if s.monitor != nil {
		s.monitor.AddBytes(owner, n)
	}
	if err != nil {
		log.Printf("server: %s: splice ended: %v", label, err)
	}
}

// runSession negotiates the public port and then runs the accept/heartbeat
// loop for as long as the control connection stays up.
func (s *Server) runSession(conn net.Conn, label string, requestedPort uint16) {
	defer conn.Close()

	if requestedPort != 0 && requestedPort < s.cfg.MinPort {
		_ = protocol.SendServer(conn, protocol.NewServerError("port out of range"))
		log.Printf("server: %s: requested port %d below minimum %d", label, requestedPort, s.cfg.MinPort)
		return
	}

	publicLn, err := net.Listen("tcp", fmt.Sprintf(":%d", requestedPort))
	if err != nil {
		_ = protocol.SendServer(conn, protocol.NewServerError("port already in use"))
		log.Printf("server: %s: bind public port %d: %v", label, requestedPort, err)
		return
	}
	defer publicLn.Close()

	allocated := uint16(publicLn.Addr().(*net.TCPAddr).Port)
	if err := protocol.SendServer(conn, protocol.NewServerHello(allocated)); err != nil {
		log.Printf("server: %s: send hello: %v", label, err)
		return
	}
	log.Printf("server: %s: session open, public port %d", label, allocated)

	if s.monitor != nil {
		s.monitor.RegisterSession(label, s.limiter)
		defer s.monitor.RemoveSession(label)
	}

	tcpLn := publicLn.(*net.TCPListener)
	for {
		if err := protocol.SendServer(conn, protocol.NewServerHeartbeat()); err != nil {
			log.Printf("server: %s: heartbeat failed, session ending: %v", label, err)
			return
		}
		if s.monitor != nil {
			s.monitor.Heartbeat(label)
		}

		_ = tcpLn.SetDeadline(time.Now().Add(heartbeatInterval))
		inbound, err := tcpLn.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			log.Printf("server: %s: public accept error: %v", label, err)
			return
		}

		id := s.registry.Insert(inbound, label)
		if err := protocol.SendServer(conn, protocol.NewServerConnection(id)); err != nil {
			log.Printf("server: %s: offer send failed: %v", label, err)
			inbound.Close()
			return
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// Package client implements the control-channel side the tunnel client
// runs: it dials the server, negotiates a public port, and for each
// Connection(id) offer dials back and splices the private service in.
package client

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"tunnelcannon/config"
	"tunnelcannon/limiter"
	"tunnelcannon/protocol"
	"tunnelcannon/splice"
)

// Client dials a tunnel server and keeps a private service reachable
// through it for the lifetime of Run.
type Client struct {
	cfg     config.ClientConfig
	limiter *limiter.SharedLimiter

	// heartbeatTimeout is how long Run will wait for a Heartbeat (or any
	// other server message) before presuming the server dead.
	heartbeatTimeout time.Duration

	// dialAddr is the control address dialed for the session and for every
	// data-task dial-back. It defaults to remote_host:DefaultControlPort;
	// tests in this package may override it to point at a fake server.
	dialAddr string
}

// New constructs a Client.
func New(cfg config.ClientConfig) *Client {
	var lim *limiter.SharedLimiter
	if cfg.MaxBandwidthBytesPerSec > 0 {
		lim = limiter.NewSharedLimiter(cfg.MaxBandwidthBytesPerSec)
	}
	timeout := cfg.HeartbeatTimeout
	if timeout == 0 {
		timeout = 3 * config.DefaultHeartbeatInterval
	}
	return &Client{
		cfg:              cfg,
		limiter:          lim,
		heartbeatTimeout: timeout,
		dialAddr:         fmt.Sprintf("%s:%d", cfg.RemoteHost, config.DefaultControlPort),
	}
}

func (c *Client) controlAddr() string {
	return c.dialAddr
}

// Run dials the server, negotiates the public port, and services
// Connection offers until the control connection ends. It returns the
// allocated public port and any terminal error.
func (c *Client) Run() (uint16, error) {
	conn, err := net.Dial("tcp", c.controlAddr())
	if err != nil {
		return 0, fmt.Errorf("client: dial %s: %w", c.controlAddr(), err)
	}
	defer conn.Close()

	if err := protocol.SendClient(conn, protocol.NewClientHello(c.cfg.RemotePort)); err != nil {
		return 0, fmt.Errorf("client: send hello: %w", err)
	}

	r := bufio.NewReader(conn)
	var scratch bytes.Buffer

	first, err := protocol.RecvServer(r, &scratch)
	if err != nil {
		return 0, fmt.Errorf("client: read hello response: %w", err)
	}
	if first == nil {
		return 0, fmt.Errorf("client: server closed before hello response")
	}

	switch first.Type {
	case protocol.ServerError:
		return 0, fmt.Errorf("client: server rejected session: %s", first.Error)
	case protocol.ServerHello:
		// fall through
	default:
		return 0, fmt.Errorf("client: unexpected first server message %q", first.Type)
	}

	port := first.Port
	log.Printf("client: session open, public port %d", port)

	for {
		// Re-armed on every message, not just Heartbeat: any server message
		// is fresh evidence of liveness. If none arrives within the
		// timeout, the read unblocks with a timeout error below and the
		// peer is presumed dead.
		_ = conn.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))

		msg, err := protocol.RecvServer(r, &scratch)
		if err != nil {
			if isTimeout(err) {
				return port, fmt.Errorf("client: no heartbeat for %s, presuming server dead", c.heartbeatTimeout)
			}
			return port, fmt.Errorf("client: read server message: %w", err)
		}
		if msg == nil {
			log.Printf("client: server closed control connection")
			return port, nil
		}

		switch msg.Type {
		case protocol.ServerHeartbeat:
			// liveness evidence only
		case protocol.ServerConnection:
			go c.serviceOffer(msg.ID)
		case protocol.ServerError:
			return port, fmt.Errorf("client: server error: %s", msg.Error)
		default:
			return port, fmt.Errorf("client: unexpected message %q", msg.Type)
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// serviceOffer handles one Connection(id) offer: dial the server again,
// claim the offer with Accept(id), dial the private service, and splice.
func (c *Client) serviceOffer(id uuid.UUID) {
	serverConn, err := net.Dial("tcp", c.controlAddr())
	if err != nil {
		log.Printf("client: offer %s: dial server: %v", id, err)
		return
	}

	if err := protocol.SendClient(serverConn, protocol.NewClientAccept(id)); err != nil {
		log.Printf("client: offer %s: send accept: %v", id, err)
		serverConn.Close()
		return
	}

	localAddr := fmt.Sprintf("127.0.0.1:%d", c.cfg.LocalPort)
	localConn, err := net.Dial("tcp", localAddr)
	if err != nil {
		log.Printf("client: offer %s: dial local service %s: %v", id, localAddr, err)
		serverConn.Close()
		return
	}

	if _, err := splice.Pipe(serverConn, localConn, c.limiter); err != nil {
		log.Printf("client: offer %s: splice ended: %v", id, err)
	}
}

package client

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"tunnelcannon/config"
	"tunnelcannon/protocol"
)

// fakeServer accepts exactly two control connections: the first is the
// long-lived session (Hello, then one Connection offer), the second is the
// client's Accept(id) dial-back.
func fakeServer(t *testing.T) (addr string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	offerID := uuid.New()

	go func() {
		sessionConn, err := ln.Accept()
		if err != nil {
			return
		}
		defer sessionConn.Close()

		r := bufio.NewReader(sessionConn)
		var scratch bytes.Buffer
		hello, err := protocol.RecvClient(r, &scratch)
		if err != nil || hello == nil {
			return
		}
		protocol.SendServer(sessionConn, protocol.NewServerHello(5000))
		protocol.SendServer(sessionConn, protocol.NewServerConnection(offerID))

		acceptConn, err := ln.Accept()
		if err != nil {
			return
		}
		defer acceptConn.Close()

		ar := bufio.NewReader(acceptConn)
		var ascratch bytes.Buffer
		accept, err := protocol.RecvClient(ar, &ascratch)
		if err != nil || accept == nil || accept.Type != protocol.ClientAccept {
			return
		}
		acceptConn.Write([]byte("PONG"))

		// keep the session open briefly so Run observes the splice before
		// this goroutine exits and closes sessionConn
		time.Sleep(300 * time.Millisecond)
	}()

	return ln.Addr().String()
}

func TestClientRun_NegotiatesPublicPortAndServicesOffer(t *testing.T) {
	localLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen local service: %v", err)
	}
	defer localLn.Close()

	received := make(chan []byte, 1)
	go func() {
		c, err := localLn.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 4)
		if _, err := io.ReadFull(c, buf); err == nil {
			received <- buf
		}
	}()

	serverAddr := fakeServer(t)

	c := New(config.ClientConfig{
		LocalPort: uint16(localLn.Addr().(*net.TCPAddr).Port),
	})
	c.dialAddr = serverAddr

	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()

	select {
	case got := <-received:
		if string(got) != "PONG" {
			t.Fatalf("local service got %q, want PONG", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("local service never received spliced bytes")
	}

	<-done
}

func TestRun_NoHeartbeat_PresumesServerDeadAndReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		var scratch bytes.Buffer
		if _, err := protocol.RecvClient(r, &scratch); err != nil {
			return
		}
		protocol.SendServer(conn, protocol.NewServerHello(5000))
		// Deliberately send no further messages: the client should give up
		// waiting for a heartbeat rather than block forever.
		time.Sleep(2 * time.Second)
	}()

	c := New(config.ClientConfig{LocalPort: 1, HeartbeatTimeout: 100 * time.Millisecond})
	c.dialAddr = ln.Addr().String()

	errc := make(chan error, 1)
	go func() {
		_, err := c.Run()
		errc <- err
	}()

	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("expected Run to return an error after missed heartbeats")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not detect the dead peer in time")
	}
}

func TestRun_ServerErrorOnHello_ReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		var scratch bytes.Buffer
		protocol.RecvClient(r, &scratch)
		protocol.SendServer(conn, protocol.NewServerError("port already in use"))
	}()

	c := New(config.ClientConfig{LocalPort: 1})
	c.dialAddr = ln.Addr().String()

	_, err = c.Run()
	if err == nil {
		t.Fatal("expected error from Run")
	}
}

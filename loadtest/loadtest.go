// Command loadtest drives a tunnel server and client against each other
// over loopback and reports sustained throughput, the way the bridge
// package's rate tester exercised a running bridge.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"tunnelcannon/client"
	"tunnelcannon/config"
	"tunnelcannon/server"
	"tunnelcannon/status"
)

func main() {
	durationSec := flag.Int("duration", 10, "seconds to sustain the test")
	controlAddr := flag.String("control-addr", "127.0.0.1:17045", "control address for the throwaway server")
	flag.Parse()

	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("loadtest: listen echo service: %v", err)
	}
	defer echoLn.Close()
	go runEcho(echoLn)

	srv := server.New(config.ServerConfig{MinPort: 1024, ControlAddr: *controlAddr}, status.Global)
	go func() {
		if err := srv.Run(); err != nil {
			log.Printf("loadtest: server exited: %v", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	host, portStr, _ := net.SplitHostPort(*controlAddr)
	_ = portStr
	localPort := echoLn.Addr().(*net.TCPAddr).Port

	cli := client.New(config.ClientConfig{LocalPort: uint16(localPort), RemoteHost: host})

	runDone := make(chan struct{})
	var publicPort uint16
	go func() {
		defer close(runDone)
		p, err := cli.Run()
		publicPort = p
		if err != nil {
			log.Printf("loadtest: client session ended: %v", err)
		}
	}()
	time.Sleep(200 * time.Millisecond)

	if publicPort == 0 {
		fmt.Fprintln(os.Stderr, "loadtest: client did not negotiate a public port in time")
		os.Exit(1)
	}

	throughput(publicPort, *durationSec)
}

func runEcho(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			buf := make([]byte, 4096)
			for {
				n, err := c.Read(buf)
				if n > 0 {
					if _, werr := c.Write(buf[:n]); werr != nil {
						return
					}
				}
				if err != nil {
					return
				}
			}
		}(conn)
	}
}

func throughput(publicPort uint16, durationSec int) {
	addr := fmt.Sprintf("127.0.0.1:%d", publicPort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Fatalf("loadtest: dial public port %d: %v", publicPort, err)
	}
	defer conn.Close()

	buf := make([]byte, 4096)
	rand.Read(buf)

	end := time.Now().Add(time.Duration(durationSec) * time.Second)
	var total int64
	for time.Now().Before(end) {
		n, err := conn.Write(buf)
		if err != nil {
			log.Printf("loadtest: write error: %v", err)
			break
		}
		total += int64(n)
	}

	mbps := float64(total) * 8 / (1024 * 1024) / float64(durationSec)
	log.Printf("loadtest: sent %d bytes in %ds (%.2f mbps)", total, durationSec, mbps)
}

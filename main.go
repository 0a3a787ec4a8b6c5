// Command tunnelcannon runs either end of the TCP reverse tunnel: "server"
// accepts client control connections and allocates public ports; "local"
// exposes a private port on localhost through a running server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"tunnelcannon/api"
	"tunnelcannon/client"
	"tunnelcannon/config"
	"tunnelcannon/server"
	"tunnelcannon/status"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "server":
		err = runServer(os.Args[2:])
	case "local":
		err = runLocal(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "tunnelcannon %s\n\n", version)
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  tunnelcannon server [--min-port N] [--control-addr addr] [--max-bandwidth N] [--status-addr addr] [--config file]\n")
	fmt.Fprintf(os.Stderr, "  tunnelcannon local --local-port N --to host [--port N] [--max-bandwidth N] [--config file]\n")
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	minPort := fs.Uint("min-port", 1024, "smallest public port a client may request")
	controlAddr := fs.String("control-addr", fmt.Sprintf(":%d", config.DefaultControlPort), "control listener address")
	maxBandwidth := fs.Int64("max-bandwidth", 0, "aggregate data-channel bandwidth cap in bytes/sec, 0 for unlimited")
	statusAddr := fs.String("status-addr", "", "optional read-only status API address")
	configPath := fs.String("config", "", "optional YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.ServerConfig{
		MinPort:                 uint16(*minPort),
		ControlAddr:             *controlAddr,
		MaxBandwidthBytesPerSec: *maxBandwidth,
		StatusAddr:              *statusAddr,
	}

	var logCfg *config.GlobalLogConfig
	if *configPath != "" {
		file, err := config.LoadFile(*configPath)
		if err != nil {
			return err
		}
		file.ApplyToServer(&cfg)
		logCfg = file.Log
	}
	config.SetupLogging(logCfg)

	mon := status.Global
	mon.StartPeriodicLogging(5 * time.Minute)
	if cfg.StatusAddr != "" {
		apiSrv := api.NewServer(mon, cfg.StatusAddr, false)
		if err := apiSrv.Start(); err != nil {
			return fmt.Errorf("status api: %w", err)
		}
		log.Printf("main: status api listening on %s", cfg.StatusAddr)
	}

	log.Printf("main: starting tunnel server, min_port=%d control_addr=%s", cfg.MinPort, cfg.ControlAddr)
	srv := server.New(cfg, mon)
	return srv.Run()
}

func runLocal(args []string) error {
	fs := flag.NewFlagSet("local", flag.ExitOnError)
	localPort := fs.Uint("local-port", 0, "private service's port on localhost (required)")
	to := fs.String("to", "", "the tunnel server's address (required)")
	remotePort := fs.Uint("port", 0, "requested public port, 0 lets the server choose")
	maxBandwidth := fs.Int64("max-bandwidth", 0, "this client's bandwidth cap in bytes/sec, 0 for unlimited")
	configPath := fs.String("config", "", "optional YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.ClientConfig{
		LocalPort:               uint16(*localPort),
		RemoteHost:              *to,
		RemotePort:              uint16(*remotePort),
		MaxBandwidthBytesPerSec: *maxBandwidth,
	}

	var logCfg *config.GlobalLogConfig
	if *configPath != "" {
		file, err := config.LoadFile(*configPath)
		if err != nil {
			return err
		}
		file.ApplyToClient(&cfg)
		logCfg = file.Log
	}
	config.SetupLogging(logCfg)

	if cfg.LocalPort == 0 || cfg.RemoteHost == "" {
		usage()
		os.Exit(1)
	}

	log.Printf("main: starting tunnel client, local_port=%d remote=%s", cfg.LocalPort, cfg.RemoteHost)
	cli := client.New(cfg)
	allocated, err := cli.Run()
	if err != nil {
		return err
	}
	log.Printf("main: session ended, last known public port %d", allocated)
	return nil
}

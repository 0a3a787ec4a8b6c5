// Package api serves a small read-only HTTP status surface over the
// tunnel server's live sessions. It is entirely independent of the tunnel
// protocol's wire format and carries its own, optional, TLS.
package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"tunnelcannon/status"
	"tunnelcannon/utils"
)

// Server is a read-only JSON status API in front of a status.Monitor.
type Server struct {
	listenAddr string
	useTLS     bool
	monitor    *status.Monitor
	httpSrv    *http.Server
	ln         net.Listener
}

// NewServer constructs a status API bound to listenAddr, reporting on mon.
// When useTLS is set, an ephemeral self-signed certificate is generated for
// the listener.
func NewServer(mon *status.Monitor, listenAddr string, useTLS bool) *Server {
	return &Server{monitor: mon, listenAddr: listenAddr, useTLS: useTLS}
}

// Start begins listening and serving in the background. It returns once the
// listener is bound, or with an error if binding fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/bandwidth", s.handleBandwidth)

	h := &http.Server{Addr: s.listenAddr, Handler: mux}
	s.httpSrv = h

	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	s.ln = ln

	go func() {
		var err error
		if s.useTLS {
			cert := utils.GenerateSelfSignedCert()
			h.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
			log.Printf("api: starting HTTPS status server on %s", s.listenAddr)
			err = h.ServeTLS(ln, "", "")
		} else {
			log.Printf("api: starting HTTP status server on %s", s.listenAddr)
			err = h.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			log.Printf("api: http server error: %v", err)
		}
	}()

	return nil
}

// Stop attempts a graceful shutdown with a 5s timeout.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// sessionDTO is the JSON shape returned for each live session.
type sessionDTO struct {
	Label              string `json:"label"`
	ActiveConnections  int64  `json:"active_connections"`
	TotalConnections   int64  `json:"total_connections"`
	BytesRelayed       int64  `json:"bytes_relayed"`
	LastHeartbeatAgoMs int64  `json:"last_heartbeat_ago_ms"`
}

// bandwidthDTO is the JSON shape returned for a session's rate accounting.
type bandwidthDTO struct {
	Label         string `json:"label"`
	MaxRateBps    int64  `json:"max_rate_bps"`
	ActiveRateBps int64  `json:"active_rate_bps"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap := s.monitor.Snapshot()
	list := make([]sessionDTO, 0, len(snap))
	for _, sess := range snap {
		list = append(list, sessionDTO{
			Label:              sess.Label,
			ActiveConnections:  sess.ActiveConns,
			TotalConnections:   sess.TotalConns,
			BytesRelayed:       sess.BytesRelayed,
			LastHeartbeatAgoMs: sess.LastHeartbeatAgo.Milliseconds(),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		log.Printf("api: encode error: %v", err)
	}
}

func (s *Server) handleBandwidth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap := s.monitor.Snapshot()
	list := make([]bandwidthDTO, 0, len(snap))
	for _, sess := range snap {
		list = append(list, bandwidthDTO{
			Label:         sess.Label,
			MaxRateBps:    sess.MaxRateBps,
			ActiveRateBps: sess.ActiveRateBps,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		log.Printf("api: encode error: %v", err)
	}
}

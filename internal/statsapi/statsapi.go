// Package statsapi exposes the usage snapshot as JSON.
//
// GET /stats returns the full stats snapshot plus catalog health.
// Restricted to localhost: the ledger is for the local host UI, not the
// network.
package statsapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenledger/token-ledger/internal/pricing"
	"github.com/tokenledger/token-ledger/internal/usage"
	"github.com/tokenledger/token-ledger/internal/utils"
)

// StatsResponse is the JSON response for GET /stats.
type StatsResponse struct {
	Uptime  string         `json:"uptime"`
	Usage   usage.Snapshot `json:"usage"`
	Catalog pricing.Health `json:"catalog"`
}

// Server serves the loopback stats endpoint.
type Server struct {
	store     *usage.Store
	prices    *pricing.Resolver
	addr      string
	startedAt time.Time
}

// New creates a stats server.
func New(store *usage.Store, prices *pricing.Resolver, addr string) *Server {
	return &Server{store: store, prices: prices, addr: addr, startedAt: time.Now()}
}

// Start listens in the background and shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/healthz", s.handleHealth)

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("statsapi: server failed")
		}
	}()
	log.Info().Str("addr", s.addr).Msg("statsapi: listening")
	return nil
}

// handleStats returns the full snapshot as JSON.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	resp := StatsResponse{
		Uptime:  time.Since(s.startedAt).Truncate(time.Second).String(),
		Usage:   s.store.Stats(),
		Catalog: s.prices.Health(),
	}
	body, err := utils.MarshalNoEscape(resp)
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

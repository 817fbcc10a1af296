package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/developingchet/regionsync/internal/region"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statsResponse is the body of GET /stats.
type statsResponse struct {
	Total       int            `json:"total"`
	Counts      map[string]int `json:"counts"`
	Percentages map[string]int `json:"percentages"`
	AllNormal   bool           `json:"all_normal"`
	HasIssues   bool           `json:"has_issues"`
	Role        string         `json:"role"`
	Sessions    int            `json:"sessions"`
	Version     string         `json:"version"`
}

// sessionRequest is the body of POST /session.
type sessionRequest struct {
	UserID string `json:"uid" validate:"required,max=128"`
}

// sessionResponse describes the signed-in user; UserID is empty when signed out.
type sessionResponse struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
}

const maxSessionBody = 4 << 10

func (s *Service) bridgeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/bridge", s.hub)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/session", s.handleSession)
	return mux
}

// handleSession signs a user in (POST), out (DELETE) or reports who is
// signed in (GET).
func (s *Service) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req sessionRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSessionBody)).Decode(&req); err != nil {
			http.Error(w, "malformed session request", http.StatusBadRequest)
			return
		}
		if err := s.validate.Struct(req); err != nil {
			http.Error(w, "uid is required", http.StatusBadRequest)
			return
		}
		if _, err := s.Login(r.Context(), req.UserID); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrInvalidUserID) {
				status = http.StatusBadRequest
			}
			s.log.Warn().Err(err).Msg("sign-in failed")
			http.Error(w, err.Error(), status)
			return
		}
	case http.MethodDelete:
		if err := s.Logout(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("sign-out incomplete")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sessionResponse{
		UserID: s.ident.CurrentUserID(),
		Role:   s.roles.CachedRole().String(),
	})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.Stats()
	resp := statsResponse{
		Total:       snap.Total,
		Counts:      map[string]int{},
		Percentages: map[string]int{},
		AllNormal:   snap.AllNormal(),
		HasIssues:   snap.HasIssues(),
		Role:        s.roles.CachedRole().String(),
		Sessions:    s.hub.SessionCount(),
		Version:     BinaryVersion,
	}
	for _, st := range region.Known {
		resp.Counts[st.Token()] = snap.Count(st)
		resp.Percentages[st.Token()] = snap.Percentage(st)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// serveBridge runs the renderer WebSocket endpoint and the stats endpoint.
func (s *Service) serveBridge(ctx context.Context) error {
	return s.serve(ctx, "bridge", s.cfg.BridgeAddr, s.bridgeMux())
}

// serveMetrics runs the Prometheus HTTP server.
func (s *Service) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return s.serve(ctx, "metrics", s.cfg.MetricsAddr, mux)
}

// serveHealth runs the health endpoints.
func (s *Service) serveHealth(ctx context.Context) error {
	return s.serve(ctx, "health", s.cfg.HealthAddr, s.healthMux())
}

func (s *Service) healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.Ready() {
			http.Error(w, "not ready: waiting for region feed", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

func (s *Service) serve(ctx context.Context, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: h,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.log.Info().Str("addr", addr).Msg(name + " server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// Package api is the thin HTTP surface over the service facade. Read-mostly
// JSON endpoints plus subscription CRUD; upstream failure details never leak
// past the status code.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rug-tracer/pkg/model"
	"github.com/rug-tracer/pkg/service"
)

// Operations is the facade slice the server exposes.
type Operations interface {
	Analyze(ctx context.Context, mint string) (*model.LineageResult, error)
	Search(ctx context.Context, query string) ([]model.TokenSearchResult, error)
	SolFlowReport(ctx context.Context, mint string) (*model.SolFlowReport, error)
	BundleReport(mint string) (*model.BundleExtractionReport, error)
	Subscribe(chatID int64, subType, value string) error
	Unsubscribe(chatID int64, subType, value string) error
	Subscriptions(chatID int64) ([]model.AlertSubscription, error)
	Health() service.Health
}

type Server struct {
	svc  Operations
	port int
	http *http.Server
}

func New(svc Operations, port int) *Server {
	return &Server{svc: svc, port: port}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", s.http.Addr).Msg("api started")
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Mux builds the routed handler.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/analyze", cors(s.handleAnalyze))
	mux.HandleFunc("/api/search", cors(s.handleSearch))
	mux.HandleFunc("/api/flow", cors(s.handleFlow))
	mux.HandleFunc("/api/bundle", cors(s.handleBundle))
	mux.HandleFunc("/api/health", cors(s.handleHealth))
	mux.HandleFunc("/api/subscriptions", cors(s.handleSubscriptions))
	return mux
}

func cors(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError maps facade sentinels to status codes; anything unexpected is a
// plain 500 with no detail.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAddress):
		http.Error(w, "invalid address", http.StatusBadRequest)
	case errors.Is(err, service.ErrNoResult):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		log.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	mint := r.URL.Query().Get("mint")
	result, err := s.svc.Analyze(r.Context(), mint)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, results)
}

func (s *Server) handleFlow(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.SolFlowReport(r.Context(), r.URL.Query().Get("mint"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.BundleReport(r.URL.Query().Get("mint"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.svc.Health())
}

type subscriptionRequest struct {
	ChatID  int64  `json:"chat_id"`
	SubType string `json:"sub_type"`
	Value   string `json:"value"`
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
		if err != nil {
			http.Error(w, "chat_id required", http.StatusBadRequest)
			return
		}
		subs, err := s.svc.Subscriptions(chatID)
		if err != nil {
			writeError(w, err)
			return
		}
		if subs == nil {
			subs = []model.AlertSubscription{}
		}
		writeJSON(w, subs)

	case http.MethodPost, http.MethodDelete:
		var req subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		var err error
		if r.Method == http.MethodPost {
			err = s.svc.Subscribe(req.ChatID, req.SubType, req.Value)
		} else {
			err = s.svc.Unsubscribe(req.ChatID, req.SubType, req.Value)
		}
		if err != nil {
			if errors.Is(err, service.ErrInvalidAddress) {
				writeError(w, err)
			} else {
				http.Error(w, "invalid subscription", http.StatusBadRequest)
			}
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

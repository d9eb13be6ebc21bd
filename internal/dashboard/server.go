// Package dashboard serves a read-only JSON view of the runner: active
// positions, working orders, archived trades and statistics.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_spreads/internal/models"
	"github.com/eddiefleurent/scranton_spreads/internal/storage"
)

// Source is the state the dashboard reports on. The orchestrator runner
// implements it.
type Source interface {
	Positions() []models.Position
	Position(id string) (models.Position, bool)
	WorkingOrders() []models.WorkingOrder
	History() ([]models.Position, error)
	Statistics() (*storage.Statistics, error)
	DailyPnL(date string) (float64, error)
}

type Server struct {
	router    *chi.Mux
	server    *http.Server
	source    Source
	logger    logrus.FieldLogger
	port      int
	authToken string
	now       func() time.Time
}

type Config struct {
	Port      int
	AuthToken string
}

// PositionView is the dashboard shape of an active position.
type PositionView struct {
	ID           string    `json:"id"`
	Tag          string    `json:"tag"`
	Strategy     string    `json:"strategy"`
	Structure    string    `json:"structure"`
	Symbol       string    `json:"symbol"`
	State        string    `json:"state"`
	Strikes      []float64 `json:"strikes"`
	Expiry       time.Time `json:"expiry"`
	DTE          int       `json:"dte"`
	Quantity     int       `json:"quantity"`
	OpenedAt     time.Time `json:"opened_at"`
	OpenPremium  float64   `json:"open_premium"`
	CurrentPnL   float64   `json:"current_pnl"`
	PnLPercent   float64   `json:"pnl_percent"`
	MaxLoss      float64   `json:"max_loss"`
	CloseReasons []string  `json:"close_reasons,omitempty"`
	IsProfit     bool      `json:"is_profit"`
}

// Summary is the overview returned by /api/stats.
type Summary struct {
	*storage.Statistics
	CurrentOpen   int       `json:"current_open"`
	WorkingOrders int       `json:"working_orders"`
	LastUpdate    time.Time `json:"last_update"`
}

func NewServer(cfg Config, source Source, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		source:    source,
		logger:    logger.WithField("component", "dashboard"),
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		now:       time.Now,
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/positions", s.handleGetPositions)
		r.Get("/positions/{id}", s.handleGetPosition)
		r.Get("/orders", s.handleGetOrders)
		r.Get("/stats", s.handleGetStats)
		r.Get("/history", s.handleGetHistory)
		r.Get("/daily-pnl", s.handleGetDailyPnL)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request served")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start listens until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().Unix(),
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.source.Positions()
	views := make([]PositionView, 0, len(positions))
	for i := range positions {
		views = append(views, s.convertPositionToView(&positions[i]))
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	position, found := s.source.Position(id)
	if !found {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, position)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.source.WorkingOrders())
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.source.Statistics()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load statistics")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, Summary{
		Statistics:    stats,
		CurrentOpen:   len(s.source.Positions()),
		WorkingOrders: len(s.source.WorkingOrders()),
		LastUpdate:    s.now(),
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.source.History()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load history")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []models.Position{}
	}
	s.writeJSON(w, history)
}

func (s *Server) handleGetDailyPnL(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.now().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	pnl, err := s.source.DailyPnL(date)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load daily P&L")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"date": date,
		"pnl":  pnl,
	})
}

func (s *Server) convertPositionToView(pos *models.Position) PositionView {
	dte := int(pos.Expiry.Sub(s.now()).Hours() / 24)
	if dte < 0 {
		dte = 0
	}

	premium := pos.OpenPremium()
	pnlPercent := 0.0
	if premium != 0 {
		pnlPercent = pos.CurrentPnL / abs(premium) * 100
	}

	return PositionView{
		ID:           pos.ID,
		Tag:          pos.Tag,
		Strategy:     pos.StrategyName,
		Structure:    pos.StrategyID,
		Symbol:       pos.Symbol,
		State:        string(pos.State),
		Strikes:      pos.Strikes(),
		Expiry:       pos.Expiry,
		DTE:          dte,
		Quantity:     pos.Quantity,
		OpenedAt:     pos.OpenedAt,
		OpenPremium:  premium,
		CurrentPnL:   pos.CurrentPnL,
		PnLPercent:   pnlPercent,
		MaxLoss:      pos.MaxLoss,
		CloseReasons: pos.CloseReasons,
		IsProfit:     pos.CurrentPnL > 0,
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

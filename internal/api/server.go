package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"blitz/internal/common"
	"blitz/internal/engine"
	"blitz/internal/messaging"
	"blitz/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server is the HTTP query surface of the engine: liquidity checks and
// hold quotes for the order service, depth and LTP reads, cancels, the
// websocket depth feed and prometheus metrics.
type Server struct {
	engine      *engine.Engine
	hub         *Hub
	events      CancelEvents
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	depth       int
	corsOrigins []string // empty allows all
	upgrader    websocket.Upgrader
}

func NewServer(eng *engine.Engine, hub *Hub, m *metrics.Metrics, depth int, logger zerolog.Logger) *Server {
	s := &Server{
		engine:  eng,
		hub:     hub,
		metrics: m,
		logger:  logger,
		depth:   depth,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// CancelEvents publishes the outcome of a cancel to downstream consumers.
type CancelEvents interface {
	EmitCancel(ctx context.Context, orderID, securityID string, cancelled bool) error
}

// SetEvents routes cancel outcomes through events, which then owns the
// depth broadcast as well.
func (s *Server) SetEvents(events CancelEvents) {
	s.events = events
}

func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

func (s *Server) checkCORSOrigin(origin string) bool {
	if len(s.corsOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
	}))

	r.Post("/checkLiquidity", s.checkLiquidity)
	r.Post("/getBestPrice", s.getBestPrice)

	r.Route("/securities/{securityId}", func(r chi.Router) {
		r.Get("/depth", s.getDepth)
		r.Get("/ltp", s.getLTP)
		r.Delete("/orders/{orderId}", s.cancelOrder)
	})

	if s.hub != nil {
		r.Get("/ws", s.handleWebSocket)
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

type liquidityRequest struct {
	SecurityID string      `json:"securityId"`
	Side       common.Side `json:"side"`
	Quantity   int64       `json:"quantity"`
}

func (s *Server) checkLiquidity(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLiquidityRequest(w, r)
	if !ok {
		return
	}
	writeSuccess(w, map[string]any{
		"hasLiquidity": s.engine.HasLiquidity(req.SecurityID, req.Side),
	})
}

func (s *Server) getBestPrice(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLiquidityRequest(w, r)
	if !ok {
		return
	}
	if req.Quantity <= 0 {
		writeFail(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	quote, ok := s.engine.BestPrice(req.SecurityID, req.Side, req.Quantity)
	if !ok {
		writeFail(w, http.StatusNotFound, "no liquidity on the opposite side")
		return
	}
	writeSuccess(w, map[string]any{
		"totalAmount": quote.TotalAmount,
		"quote":       quote,
	})
}

func decodeLiquidityRequest(w http.ResponseWriter, r *http.Request) (liquidityRequest, bool) {
	var req liquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	if req.SecurityID == "" {
		writeFail(w, http.StatusBadRequest, "securityId is required")
		return req, false
	}
	return req, true
}

func (s *Server) getDepth(w http.ResponseWriter, r *http.Request) {
	n := s.depth
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeFail(w, http.StatusBadRequest, "n must be an integer")
			return
		}
		n = parsed
	}
	writeSuccess(w, s.engine.MarketDepth(chi.URLParam(r, "securityId"), n))
}

func (s *Server) getLTP(w http.ResponseWriter, r *http.Request) {
	securityID := chi.URLParam(r, "securityId")
	data := map[string]any{"securityId": securityID, "ltp": nil}
	if ltp, ok := s.engine.LastTradedPrice(securityID); ok {
		data["ltp"] = ltp
	}
	writeSuccess(w, data)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	securityID := chi.URLParam(r, "securityId")
	orderID := chi.URLParam(r, "orderId")

	cancelled := s.engine.CancelOrder(orderID, securityID)
	switch {
	case s.events != nil:
		if err := s.events.EmitCancel(r.Context(), orderID, securityID, cancelled); err != nil {
			s.logger.Error().Err(err).Str("order", orderID).Msg("unable to publish cancel result")
		}
	case cancelled && s.hub != nil:
		s.hub.Broadcast(messaging.Snapshot(s.engine, securityID, s.depth))
	}
	writeSuccess(w, map[string]any{"cancelled": cancelled})
}

// handleWebSocket registers a feed client and sends it the current state of
// every known book before live updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	for _, securityID := range s.engine.Securities() {
		s.hub.Send(client, messaging.Snapshot(s.engine, securityID, s.depth))
	}

	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": data})
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"status": "fail", "message": message})
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("took", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Package transport exposes the Matching Engine's submission API and book
// subscriptions over HTTP, using the go-chi router and cors middleware the
// retrieved "trade" reference repo pairs with modernc.org/sqlite, plus a
// gorilla/websocket adapter for the Subscription Hub's streaming side.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"predmkt-exchange/internal/accounts"
	"predmkt-exchange/internal/coreerr"
	"predmkt-exchange/internal/domain"
	"predmkt-exchange/internal/engine"
	"predmkt-exchange/internal/hub"
	"predmkt-exchange/internal/persistence"
	"predmkt-exchange/internal/projector"
)

// Server wires the engine, hub, and projector into an HTTP router. It also
// holds the persistence boundary directly for the minimal account/event
// bootstrap endpoints below — user creation and event seeding are external
// collaborators per spec section 1, but the core is otherwise unreachable
// without some way to create them, so this is the thinnest surface that
// makes the rest of the API operable.
type Server struct {
	eng     *engine.Engine
	hub     *hub.Hub
	proj    *projector.Projector
	persist persistence.Boundary
}

func New(eng *engine.Engine, h *hub.Hub, proj *projector.Projector, persist persistence.Boundary) *Server {
	return &Server{eng: eng, hub: h, proj: proj, persist: persist}
}

// Router builds the chi mux for spec section 6's submission API plus the
// per-event book websocket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Route("/events/{eventID}", func(r chi.Router) {
		r.Post("/seed", s.handleSeedEvent)
		r.Post("/orders", s.handleSubmitOrder)
		r.Post("/resolve", s.handleResolveEvent)
		r.Get("/book", s.handleBookSnapshot)
		r.Get("/book/ws", s.handleBookWebSocket)
	})
	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Get("/", s.handleGetOrder)
		r.Delete("/", s.handleCancelOrder)
	})
	r.Post("/users", s.handleEnsureUser)

	return r
}

type seedEventRequest struct {
	InitialQuantity uint64 `json:"initial_quantity"`
}

// handleSeedEvent registers eventID (if not already known) and floods it
// with two-sided starting liquidity via engine.SeedEvent — the concrete
// mechanism behind spec section 1's "Event creation seeds the book via the
// same submit_order contract."
func (s *Server) handleSeedEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req seedEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, coreerr.Validation("malformed request body: "+err.Error()))
		return
	}

	if err := s.eng.SeedEvent(r.Context(), eventID, req.InitialQuantity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ensureUserRequest struct {
	UserID         string `json:"user_id"`
	InitialBalance int64  `json:"initial_balance"`
}

// handleEnsureUser registers a trading account with a starting cash
// balance. Full user CRUD and authentication are an explicit Non-goal
// (spec section 1); this is the minimal collaborator surface needed for
// submit_order's pre-trade balance check to ever succeed against a trader
// other than the operator.
func (s *Server) handleEnsureUser(w http.ResponseWriter, r *http.Request) {
	var req ensureUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, coreerr.Validation("malformed request body: "+err.Error()))
		return
	}
	if req.UserID == "" {
		writeError(w, coreerr.Validation("user_id is required"))
		return
	}

	if err := accounts.EnsureUser(r.Context(), s.persist, req.UserID, req.InitialBalance); err != nil {
		writeError(w, coreerr.Wrap(coreerr.KindInternal, "failed to ensure user "+req.UserID, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitOrderRequest struct {
	UserID        string `json:"user_id"`
	Side          string `json:"side"`
	ShareType     string `json:"share_type"`
	Price         int    `json:"price"`
	TotalQuantity uint64 `json:"total_quantity"`
}

type orderResultResponse struct {
	Kind      string         `json:"kind"`
	OrderID   string         `json:"order_id,omitempty"`
	RestingID string         `json:"resting_id,omitempty"`
	Trades    []domain.Trade `json:"trades,omitempty"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, coreerr.Validation("malformed request body: "+err.Error()))
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		writeError(w, err)
		return
	}
	shareType, err := parseShareType(req.ShareType)
	if err != nil {
		writeError(w, err)
		return
	}

	result := s.eng.SubmitOrder(r.Context(), req.UserID, eventID, side, shareType, req.Price, req.TotalQuantity)
	if result.Kind == engine.Rejected {
		writeError(w, result.Err)
		return
	}

	resp := orderResultResponse{OrderID: result.OrderID, RestingID: result.RestingID, Trades: result.Trades}
	switch result.Kind {
	case engine.FullyFilled:
		resp.Kind = "fully_filled"
	case engine.PartiallyFilled:
		resp.Kind = "partially_filled"
	case engine.Resting:
		resp.Kind = "resting"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	requesterID := r.URL.Query().Get("requester_id")

	if err := s.eng.CancelOrder(r.Context(), orderID, requesterID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	o, err := s.eng.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type resolveEventRequest struct {
	Result string `json:"result"`
}

func (s *Server) handleResolveEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req resolveEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, coreerr.Validation("malformed request body: "+err.Error()))
		return
	}
	result, err := parseResult(req.Result)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.eng.ResolveEvent(r.Context(), eventID, result); err != nil {
		writeError(w, err)
		return
	}
	s.hub.CloseEvent(eventID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBookSnapshot(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	n := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, coreerr.Validation("depth must be an integer"))
			return
		}
		n = parsed
	}
	var data projector.Data
	if n > 0 {
		data = s.proj.Depth(eventID, n)
	} else {
		data = s.proj.Snapshot(eventID)
	}
	writeJSON(w, http.StatusOK, data)
}

func parseSide(s string) (domain.Side, error) {
	switch s {
	case "BUY":
		return domain.Buy, nil
	case "SELL":
		return domain.Sell, nil
	default:
		return 0, coreerr.Validation("side must be BUY or SELL, got " + s)
	}
}

func parseShareType(s string) (domain.ShareType, error) {
	switch s {
	case "YES":
		return domain.Yes, nil
	case "NO":
		return domain.No, nil
	default:
		return 0, coreerr.Validation("share_type must be YES or NO, got " + s)
	}
}

func parseResult(s string) (domain.EventResult, error) {
	switch s {
	case "YES":
		return domain.ResultYes, nil
	case "NO":
		return domain.ResultNo, nil
	case "DRAW":
		return domain.ResultDraw, nil
	default:
		return domain.ResultNone, coreerr.Validation("result must be YES, NO, or DRAW, got " + s)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response body")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "Internal"

	var ce *coreerr.Error
	if errors.As(err, &ce) {
		kind = ce.Kind.String()
		switch ce.Kind {
		case coreerr.KindValidation:
			status = http.StatusBadRequest
		case coreerr.KindEventNotAccepting:
			status = http.StatusConflict
		case coreerr.KindAuthorization:
			status = http.StatusForbidden
		case coreerr.KindInsufficientBalance:
			status = http.StatusUnprocessableEntity
		case coreerr.KindNotFound:
			status = http.StatusNotFound
		case coreerr.KindLockTimeout:
			status = http.StatusServiceUnavailable
		case coreerr.KindSettlementFailure:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

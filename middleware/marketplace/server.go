package marketplace

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/swaggo/swag"

	"builderbuddy-backend/core/marketplace"
	"builderbuddy-backend/metrics"
	"builderbuddy-backend/middleware"
	"builderbuddy-backend/services"
	auth "builderbuddy-backend/storage/auth"
)

const apiPrefix = "/api/marketplace"

// Server wires HTTP handlers for the marketplace API.
type Server struct {
	svc      *services.MarketplaceService
	keys     auth.KeyResolver
	issuer   auth.KeyIssuer
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	started  time.Time
	mounts   map[string]http.Handler
	limiter  *middleware.RateLimiter
}

// NewServer builds a Server. issuer may be nil, which disables key issuance.
func NewServer(svc *services.MarketplaceService, keys auth.KeyResolver, issuer auth.KeyIssuer, m *metrics.Metrics) *Server {
	return &Server{
		svc:     svc,
		keys:    keys,
		issuer:  issuer,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		started: time.Now(),
		mounts:  map[string]http.Handler{},
	}
}

// SetRateLimiter throttles authenticated callers. nil disables throttling.
func (s *Server) SetRateLimiter(rl *middleware.RateLimiter) {
	s.limiter = rl
}

// Mount serves h at pattern behind API key authentication.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mounts[pattern] = h
}

// RegisterRoutes attaches handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/swagger/doc.json", s.handleSwagger)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	mux.HandleFunc(apiPrefix+"/config", s.authWrap(s.handleConfig))
	mux.HandleFunc(apiPrefix+"/keys", s.authWrap(s.handleKeys))
	mux.HandleFunc(apiPrefix+"/admin/", s.authWrap(s.handleAdmin))

	mux.HandleFunc(apiPrefix+"/register", s.authWrap(s.handleRegister))
	mux.HandleFunc(apiPrefix+"/oracle/fulfill", s.authWrap(s.handleOracleFulfill))
	mux.HandleFunc(apiPrefix+"/registrations/", s.authWrap(s.handleRegistrations))
	mux.HandleFunc(apiPrefix+"/customers/", s.authWrap(s.handleCustomers))
	mux.HandleFunc(apiPrefix+"/contractors/", s.authWrap(s.handleContractors))

	mux.HandleFunc(apiPrefix+"/levels", s.authWrap(s.handleLevels))
	mux.HandleFunc(apiPrefix+"/levels/", s.authWrap(s.handleLevels))

	mux.HandleFunc(apiPrefix+"/orders", s.authWrap(s.handleOrders))
	mux.HandleFunc(apiPrefix+"/orders/", s.authWrap(s.handleOrders))
	mux.HandleFunc(apiPrefix+"/escrows/", s.authWrap(s.handleEscrows))

	mux.HandleFunc(apiPrefix+"/token", s.authWrap(s.handleToken))
	mux.HandleFunc(apiPrefix+"/token/", s.authWrap(s.handleToken))

	mux.HandleFunc(apiPrefix+"/events", s.authWrap(s.handleEvents))
	mux.HandleFunc(apiPrefix+"/events/ws", s.authWrap(s.handleEventsWS))

	for pattern, h := range s.mounts {
		mux.HandleFunc(pattern, s.authWrap(h.ServeHTTP))
	}
}

// Handler returns the mux wrapped in the standard middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return middleware.Recovery(
		middleware.Logging(
			middleware.CORS(
				middleware.SecurityHeaders(
					middleware.Timeout(30 * time.Second)(mux),
				),
			),
		),
	)
}

// authWrap resolves the API key to the caller address.
func (s *Server) authWrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := middleware.APIKeyFromRequest(r)
		if key == "" {
			Error(w, http.StatusUnauthorized, "api key required")
			return
		}
		rec, ok := s.keys.Resolve(key)
		if !ok {
			Error(w, http.StatusForbidden, "invalid api key")
			return
		}
		if !s.limiter.Allow(rec.Address, 1) {
			Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r.WithContext(middleware.WithCaller(r.Context(), rec.Address)))
	}
}

func caller(r *http.Request) marketplace.Address {
	c, _ := middleware.CallerFrom(r.Context())
	return marketplace.Address(c)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"event_seq":   s.svc.Bus.Seq(),
		"orders":      s.svc.Engine.GetOrderCounter(),
		"pending":     s.svc.Registry.PendingCount(),
		"subscribers": s.svc.Hub.Subscribers(),
	})
}

func (s *Server) handleSwagger(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		Error(w, http.StatusNotFound, "api docs not registered")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(doc))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"caller":         caller(r),
		"owner":          s.svc.Owner(),
		"marketplace":    s.svc.Engine.Address(),
		"registry":       s.svc.Engine.GetUserRegistrationContract(),
		"arbiter":        s.svc.Engine.GetArbiterContract(),
		"token":          s.svc.Engine.GetTokenAddress(),
		"token_symbol":   s.svc.Token.Symbol(),
		"token_decimals": s.svc.Token.Decimals(),
		"oracle":         s.svc.Registry.OracleAddress(),
		"oracle_config":  s.svc.Registry.Config(),
	})
}

type keyBody struct {
	Address string `json:"address"`
	Label   string `json:"label"`
}

// handleKeys issues an API key bound to the caller. The owner may bind a
// key to any address.
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.issuer == nil {
		Error(w, http.StatusNotImplemented, "key issuance disabled")
		return
	}
	var body keyBody
	if err := decodeBody(r, keySchema, &body); err != nil {
		writeErr(w, err)
		return
	}
	c := caller(r)
	address := string(c)
	if body.Address != "" && body.Address != address {
		if c != s.svc.Owner() {
			writeErr(w, fmt.Errorf("%w: only the owner issues keys for other addresses", marketplace.ErrNotOwner))
			return
		}
		address = body.Address
	}
	rec, err := s.issuer.Issue(address, body.Label, "issued")
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusCreated, rec)
}

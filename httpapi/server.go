// Package httpapi serves the pay-per-call HTTP surface: invoice requests,
// result polling and payment checks.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/sirupsen/logrus"

	"github.com/sebdeveloper6952/gobuffet"
	"github.com/sebdeveloper6952/gobuffet/domain"
	"github.com/sebdeveloper6952/gobuffet/lightning"
)

// Engine is the part of *gobuffet.Engine the handlers call.
type Engine interface {
	RequestInvoice(ctx context.Context, in gobuffet.InvoiceRequest) (*lightning.Invoice, error)
	PollResult(ctx context.Context, paymentHash string) (*gobuffet.Result, error)
	CheckPayment(ctx context.Context, paymentHash string) (bool, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	UploadDir      string
	MaxBodyBytes   int64
	MaxUploadBytes int64
	AllowedOrigins []string
	// InvoiceLimit and PollLimit bound each client IP. A zero RPS disables
	// the limit.
	InvoiceLimit Limit
	PollLimit    Limit
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

type Server struct {
	engine  Engine
	health  Pinger
	cfg     Config
	log     logrus.FieldLogger
	limiter *RateLimiter
	router  chi.Router
}

type messageResponse struct {
	Message string `json:"message"`
}

type settledResponse struct {
	Settled bool `json:"settled"`
}

func message(msg string) *messageResponse {
	return &messageResponse{Message: msg}
}

func New(engine Engine, health Pinger, cfg Config, log logrus.FieldLogger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		engine: engine,
		health: health,
		cfg:    cfg,
		log:    log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	s.limiter = NewRateLimiter(map[RouteClass]Limit{
		ClassInvoice: cfg.InvoiceLimit,
		ClassPoll:    cfg.PollLimit,
	})
	r.With(s.limiter.For(ClassInvoice)).Post("/{service}", s.requestInvoice)
	r.Group(func(r chi.Router) {
		r.Use(s.limiter.For(ClassPoll))
		r.Get("/{service}/{paymentHash}/get_result", s.getResult)
		r.Get("/{service}/{paymentHash}/check_payment", s.checkPayment)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background work started by New.
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.Ping(ctx); err != nil {
		s.log.Errorf("[http] health check %+v", err)
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, message("store unavailable"))
		return
	}
	render.JSON(w, r, message("ok"))
}

func (s *Server) requestInvoice(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	request, asset, err := readRequest(r, s.cfg.UploadDir, s.cfg.MaxBodyBytes, s.cfg.MaxUploadBytes)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, fmt.Sprintf("Error requesting invoice: %v", err))
		return
	}

	invoice, err := s.engine.RequestInvoice(r.Context(), gobuffet.InvoiceRequest{
		Service: service,
		Request: request,
		Asset:   asset,
	})
	if err != nil {
		removeAsset(asset)
		s.log.WithField("service", service).Warnf("[http] request invoice %+v", err)
		s.fail(w, r, http.StatusInternalServerError, fmt.Sprintf("Error requesting invoice: %v", err))
		return
	}

	render.Status(r, http.StatusPaymentRequired)
	render.JSON(w, r, invoice)
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	hash, ok := s.paymentHash(w, r)
	if !ok {
		return
	}

	res, err := s.engine.PollResult(r.Context(), hash)
	if err != nil {
		s.engineError(w, r, "Error checking result", err)
		return
	}

	switch res.Kind {
	case gobuffet.ResultPaymentPending:
		s.fail(w, r, http.StatusPaymentRequired, res.Message)
	case gobuffet.ResultProcessing:
		if len(res.Payload) == 0 {
			render.Status(r, http.StatusAccepted)
			render.JSON(w, r, message(res.Message))
			return
		}
		writeRaw(w, http.StatusAccepted, res.Payload)
	case gobuffet.ResultCompleted:
		writeRaw(w, http.StatusOK, res.Payload)
	case gobuffet.ResultFailed, gobuffet.ResultExhausted:
		s.fail(w, r, http.StatusInternalServerError, res.Message)
	default:
		s.fail(w, r, http.StatusInternalServerError, fmt.Sprintf("unknown result %q", res.Kind))
	}
}

func (s *Server) checkPayment(w http.ResponseWriter, r *http.Request) {
	hash, ok := s.paymentHash(w, r)
	if !ok {
		return
	}

	settled, err := s.engine.CheckPayment(r.Context(), hash)
	if err != nil {
		s.engineError(w, r, "Error checking payment", err)
		return
	}
	render.JSON(w, r, &settledResponse{Settled: settled})
}

func (s *Server) paymentHash(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "paymentHash")
	hash, err := lntypes.MakeHashFromStr(raw)
	if err != nil {
		s.fail(w, r, http.StatusNotFound, "No job found")
		return "", false
	}
	return hash.String(), true
}

func (s *Server) engineError(w http.ResponseWriter, r *http.Request, prefix string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		s.fail(w, r, http.StatusNotFound, "No job found")
		return
	}
	s.log.Errorf("[http] %s %+v", prefix, err)
	s.fail(w, r, http.StatusInternalServerError, fmt.Sprintf("%s: %v", prefix, err))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, message(msg))
}

// writeRaw sends a stored service payload as is.
func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

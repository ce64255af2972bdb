// Package httpapi exposes the walletchat services over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/walletchat/internal/app"
	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/middleware"
	"github.com/R3E-Network/walletchat/pkg/logger"
)

const maxBodyBytes = 16 << 20

// Options configures the transport around the application.
type Options struct {
	JWTSecret   []byte
	RateLimit   float64
	RateBurst   int
	CORSOrigins []string
}

// Handler serves the REST API. Close releases the rate limiter.
type Handler struct {
	http.Handler
	limiter *middleware.RateLimiter
}

// Close stops background cleanup.
func (h *Handler) Close() {
	h.limiter.Close()
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns a router exposing the REST API.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	limiter := middleware.NewRateLimiter(opts.RateLimit, opts.RateBurst, log.Named("ratelimit"))
	limiter.StartCleanup(10 * time.Minute)
	auth := middleware.NewAuthMiddleware(opts.JWTSecret, log.Named("auth"), nil)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(log), middleware.MetricsMiddleware(application.Metrics))
	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", application.Metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(auth.Handler, middleware.RequireAddress, limiter.Handler)

	api.HandleFunc("/me", h.me).Methods(http.MethodGet)
	api.HandleFunc("/costs", h.costs).Methods(http.MethodGet)
	api.HandleFunc("/costs", h.setCosts).Methods(http.MethodPut)
	api.HandleFunc("/catalog", h.catalog).Methods(http.MethodGet)
	api.HandleFunc("/credits", h.credit).Methods(http.MethodPost)
	api.HandleFunc("/ledger", h.history).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}/mint", h.mint).Methods(http.MethodPost)

	api.HandleFunc("/dm/{peer}", h.sendDirect).Methods(http.MethodPost)
	api.HandleFunc("/groups", h.createGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}/join", h.joinGroup).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/messages", h.listMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", h.postMessage).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/polls", h.createPoll).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}", h.deleteMessage).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{id}/reactions/{emoji}", h.addReaction).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/reactions/{emoji}", h.removeReaction).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{id}/votes", h.vote).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/tally", h.tally).Methods(http.MethodGet)

	api.HandleFunc("/blocks/{address}", h.block).Methods(http.MethodPost)
	api.HandleFunc("/blocks/{address}", h.unblock).Methods(http.MethodDelete)
	api.HandleFunc("/follows/{address}", h.follow).Methods(http.MethodPost)
	api.HandleFunc("/follows/{address}", h.unfollow).Methods(http.MethodDelete)

	api.HandleFunc("/files", h.listFiles).Methods(http.MethodGet)
	api.HandleFunc("/files", h.upload).Methods(http.MethodPost)
	api.HandleFunc("/files/usage", h.usage).Methods(http.MethodGet)
	api.HandleFunc("/folders", h.createFolder).Methods(http.MethodPost)
	api.HandleFunc("/files/{id}", h.rename).Methods(http.MethodPatch)
	api.HandleFunc("/files/{id}", h.deleteFile).Methods(http.MethodDelete)
	api.HandleFunc("/files/{id}/move", h.move).Methods(http.MethodPost)

	cors := middleware.NewCORSMiddleware(opts.CORSOrigins)
	return &Handler{
		Handler: middleware.RequestID(cors.Handler(router)),
		limiter: limiter,
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"services": h.app.Services(),
	})
}

func caller(r *http.Request) string {
	return middleware.GetAddress(r.Context())
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// splitPath turns "a/b/c" into folder ids. An empty value is the root.
func splitPath(raw string) []string {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "/")
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return n, nil
}

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// statusFor maps an error to its HTTP status and stable code.
func statusFor(err error) (int, string) {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest, string(domain.KindInvalidInput)
	}
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindInvalidAddress, domain.KindInvalidPoll, domain.KindInvalidInput:
		return http.StatusBadRequest, string(kind)
	case domain.KindInsufficientCredits:
		return http.StatusPaymentRequired, string(kind)
	case domain.KindRecipientBlocked, domain.KindForbidden:
		return http.StatusForbidden, string(kind)
	case domain.KindNotFound:
		return http.StatusNotFound, string(kind)
	case domain.KindQuotaExceeded:
		return http.StatusRequestEntityTooLarge, string(kind)
	case domain.KindConflict:
		return http.StatusConflict, string(kind)
	default:
		return http.StatusInternalServerError, string(domain.KindInternal)
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
		msg = "internal error"
	}
	middleware.WriteError(w, status, code, msg)
}

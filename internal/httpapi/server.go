// Package httpapi exposes the contract flow over HTTP.
//
// Each flow is an isolated wizard session identified by a server-issued
// id. The session owns its own durable state, preview pipeline, payment
// orchestrator and recovery controller; the handlers are thin adapters
// between JSON bodies and those components.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rocky28r/payment-widget-test/internal/flow"
	"github.com/rocky28r/payment-widget-test/internal/models"
	"github.com/rocky28r/payment-widget-test/internal/payment"
	"github.com/rocky28r/payment-widget-test/internal/recovery"
	"github.com/rocky28r/payment-widget-test/internal/store"
)

// DefaultAddr is the default API server listen address.
const DefaultAddr = ":8080"

// Backend is the slice of the membership API the server depends on.
// *api.Client satisfies it.
type Backend interface {
	Offers(ctx context.Context) ([]models.Offer, error)
	OfferByID(ctx context.Context, id string) (*models.Offer, error)
	PreviewSignup(ctx context.Context, req models.PreviewRequest) (*models.PricingPreview, error)
	CreateUserSession(ctx context.Context, req models.SessionRequest) (*models.SessionResponse, error)
	CreateMembership(ctx context.Context, req models.SignupRequest) (*models.SignupResponse, error)
}

// StoreFactory builds the storage backend for one flow session. The
// flow id is the suggested namespace so sessions never see each other's
// keys.
type StoreFactory func(flowID string) (store.Store, error)

// Opts holds configuration for the API server.
type Opts struct {
	// Addr is the listen address.
	Addr string
	// Stores builds per-flow storage. Defaults to in-memory stores.
	Stores StoreFactory
	// Widget settings passed through to the payment orchestrator.
	Payment payment.Settings
	// PreviewDebounce overrides the preview debounce window.
	PreviewDebounce time.Duration
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStoreFactory sets the per-flow storage factory.
func WithStoreFactory(f StoreFactory) Option {
	return func(o *Opts) { o.Stores = f }
}

// WithPaymentSettings sets the widget environment configuration.
func WithPaymentSettings(s payment.Settings) Option {
	return func(o *Opts) { o.Payment = s }
}

// WithPreviewDebounce overrides the preview debounce window.
func WithPreviewDebounce(d time.Duration) Option {
	return func(o *Opts) { o.PreviewDebounce = d }
}

// session bundles the per-flow components behind one id.
type session struct {
	id       string
	store    store.Store
	machine  *flow.Machine
	preview  *flow.PreviewService
	submit   *flow.SubmitService
	payments *payment.Orchestrator
	resume   *recovery.Controller
	widgets  *widgetBridge
}

// Server is the contract flow HTTP API.
type Server struct {
	backend Backend
	opts    Opts

	mu       sync.Mutex
	sessions map[string]*session
}

// NewServer constructs the API server.
func NewServer(backend Backend, options ...Option) *Server {
	opts := Opts{Addr: DefaultAddr}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Stores == nil {
		opts.Stores = func(string) (store.Store, error) {
			return store.NewInMemoryStore(), nil
		}
	}
	return &Server{
		backend:  backend,
		opts:     opts,
		sessions: make(map[string]*session),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/offers", s.offersHandler)
	mux.HandleFunc("GET /api/v1/offers/{id}", s.offerDetailHandler)
	mux.HandleFunc("POST /api/v1/flows", s.createFlowHandler)
	mux.HandleFunc("GET /api/v1/flows/{id}", s.getFlowHandler)
	mux.HandleFunc("DELETE /api/v1/flows/{id}", s.resetFlowHandler)
	mux.HandleFunc("POST /api/v1/flows/{id}/offer", s.selectOfferHandler)
	mux.HandleFunc("PUT /api/v1/flows/{id}/customer", s.customerHandler)
	mux.HandleFunc("POST /api/v1/flows/{id}/voucher", s.voucherHandler)
	mux.HandleFunc("POST /api/v1/flows/{id}/preview", s.previewHandler)
	mux.HandleFunc("POST /api/v1/flows/{id}/navigate", s.navigateHandler)
	mux.HandleFunc("GET /api/v1/flows/{id}/summary", s.summaryHandler)
	mux.HandleFunc("POST /api/v1/flows/{id}/payment/mount", s.paymentMountHandler)
	mux.HandleFunc("POST /api/v1/flows/{id}/payment/success", s.paymentSuccessHandler)
	mux.HandleFunc("POST /api/v1/flows/{id}/payment/error", s.paymentErrorHandler)
	mux.HandleFunc("POST /api/v1/flows/{id}/resume", s.resumeHandler)
	mux.HandleFunc("POST /api/v1/flows/{id}/signup", s.signupHandler)
	return mux
}

// Run starts the server and blocks until it exits.
func (s *Server) Run() error {
	slog.Info("Server.Run: contract flow API listening", "addr", s.opts.Addr)
	return http.ListenAndServe(s.opts.Addr, s.Handler())
}

// newSession builds the component stack for a fresh flow.
func (s *Server) newSession() (*session, error) {
	id := uuid.NewString()
	st, err := s.opts.Stores(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow storage: %w", err)
	}

	manager := flow.NewStateManager(st)
	if err := manager.Load(); err != nil {
		return nil, err
	}
	machine := flow.NewMachine(manager)
	widgets := newWidgetBridge()
	orchestrator := payment.NewOrchestrator(s.backend, manager, widgets, s.opts.Payment)

	sess := &session{
		id:       id,
		store:    st,
		machine:  machine,
		preview:  flow.NewPreviewService(s.backend, machine, s.opts.PreviewDebounce),
		submit:   flow.NewSubmitService(s.backend, machine),
		payments: orchestrator,
		resume:   recovery.NewController(machine, orchestrator),
		widgets:  widgets,
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Server) session(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// widgetBridge implements payment.Widget for a browser-embedded widget.
// The server cannot render the widget itself; it records the mount
// configuration for the client to pick up and replays the client's
// success and error callbacks into it.
type widgetBridge struct {
	mu     sync.Mutex
	mounts map[string]payment.Config // by container
}

func newWidgetBridge() *widgetBridge {
	return &widgetBridge{mounts: make(map[string]payment.Config)}
}

// Init records the mount and returns a handle that forgets it again.
func (b *widgetBridge) Init(cfg payment.Config) (payment.Handle, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("widget mount requires a container")
	}
	b.mu.Lock()
	b.mounts[cfg.Container] = cfg
	b.mu.Unlock()
	return &bridgeHandle{bridge: b, container: cfg.Container}, nil
}

// config returns the recorded mount for a container.
func (b *widgetBridge) config(container string) (payment.Config, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cfg, ok := b.mounts[container]
	return cfg, ok
}

type bridgeHandle struct {
	bridge    *widgetBridge
	container string
}

func (h *bridgeHandle) Destroy() error {
	h.bridge.mu.Lock()
	delete(h.bridge.mounts, h.container)
	h.bridge.mu.Unlock()
	return nil
}

// mountDescriptor is the client-facing view of a recorded widget mount.
type mountDescriptor struct {
	UserSessionToken string          `json:"userSessionToken"`
	Container        string          `json:"container"`
	CountryCode      string          `json:"countryCode"`
	Locale           string          `json:"locale"`
	Environment      string          `json:"environment"`
	FeatureFlags     map[string]bool `json:"featureFlags,omitempty"`
}

func describeMount(cfg payment.Config) mountDescriptor {
	return mountDescriptor{
		UserSessionToken: cfg.UserSessionToken,
		Container:        cfg.Container,
		CountryCode:      cfg.CountryCode,
		Locale:           cfg.Locale,
		Environment:      cfg.Environment,
		FeatureFlags:     cfg.FeatureFlags,
	}
}

package scimgateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/scimworks/endpointd/admin"
	"github.com/scimworks/endpointd/audit"
	"github.com/scimworks/endpointd/authguard"
	"github.com/scimworks/endpointd/config"
	"github.com/scimworks/endpointd/endpointreg"
	"github.com/scimworks/endpointd/protocol"
	"github.com/scimworks/endpointd/resourcesvc"
	"github.com/scimworks/endpointd/store"
)

// discardLogger returns a no-op logger that discards all output
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Gateway wires the Store, endpoint registry, resource services, auth
// guard, audit sink, and HTTP surfaces into a single runnable service.
type Gateway struct {
	config   *config.Config
	store    store.Store
	registry *endpointreg.Registry
	guard    *authguard.Guard
	sink     *audit.Sink
	protocol *protocol.Server
	admin    *admin.Handler
	handler  http.Handler
	logger   *slog.Logger
}

// New creates a new Gateway instance bound to cfg. Call Initialize (which
// opens the Store) before Start or Handler.
func New(cfg *config.Config) *Gateway {
	return &Gateway{
		config: cfg,
		logger: discardLogger(),
	}
}

// SetLogger sets the optional logger for the gateway.
// Pass nil to disable logging (default behavior).
func (g *Gateway) SetLogger(logger *slog.Logger) {
	if logger == nil {
		g.logger = discardLogger()
	} else {
		g.logger = logger
	}
}

// Initialize validates configuration, opens the Store, and wires every
// component into the gateway's HTTP handler. Must be called before Start
// or Handler, unless Start is called directly (it initializes lazily).
func (g *Gateway) Initialize() error {
	if err := g.config.Validate(); err != nil {
		g.logger.Error("configuration validation failed", "error", err)
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s, err := openStore(g.config.Server.DSN)
	if err != nil {
		g.logger.Error("failed to open store", "error", err)
		return fmt.Errorf("open store: %w", err)
	}
	g.store = s

	g.registry = endpointreg.New(s)
	users := resourcesvc.NewUsers(s)
	groups := resourcesvc.NewGroups(s)
	g.guard = authguard.New(g.config.Security.BearerSecret, g.config.Security.SigningSecret)
	g.sink = audit.New(s, g.logger)
	g.protocol = protocol.NewServer(g.config.Server.APIPrefix, g.registry, users, groups, g.logger)
	g.admin = admin.NewHandler(g.registry)

	prefix := g.config.Server.APIPrefix
	tokenHandler := authguard.NewTokenHandler(g.guard, authguard.DefaultTokenTTL)

	top := http.NewServeMux()
	top.HandleFunc("GET /health", g.handleHealth)
	top.Handle("POST /oauth/token", tokenHandler)

	protected := http.NewServeMux()
	protected.Handle("/admin/", http.StripPrefix("/admin", g.admin))
	protected.Handle("/endpoints/", http.StripPrefix("/endpoints", g.protocol))

	var protectedHandler http.Handler = protected
	protectedHandler = AuditMiddleware(g.sink, endpointIDFromPath)(protectedHandler)
	protectedHandler = authguard.Middleware(g.guard, writeUnauthorized)(protectedHandler)

	top.Handle("/", protectedHandler)

	var handler http.Handler = http.StripPrefix(strings.TrimSuffix(prefix, "/"), rewriteV2(top))
	handler = LoggingMiddleware(g.logger)(handler)

	g.handler = handler

	g.logger.Info("endpointd gateway initialized",
		"api_prefix", prefix,
		"port", g.config.Server.Port,
	)

	return nil
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/scim+json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"schemas":["urn:ietf:params:scim:api:messages:2.0:Error"],"status":"401","detail":"authentication required"}`))
}

// endpointIDFromPath recovers the tenant id from a request path of the form
// "/endpoints/{endpointId}/…". Requests outside that tree (admin, token)
// have no owning endpoint and report "". Reads r.URL.Path directly rather
// than r.PathValue("endpointId") because the http.StripPrefix wrapper
// between this middleware and protocol.Server's own mux clones the request,
// so path values set by its nested mux never reach the original *http.Request
// this middleware closed over.
func endpointIDFromPath(r *http.Request) string {
	rest, ok := strings.CutPrefix(r.URL.Path, "/endpoints/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}

// rewriteV2 implements the compatibility path from spec.md §6: any /v2/…
// segment immediately after the prefix is stripped before dispatch.
func rewriteV2(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rest, ok := strings.CutPrefix(r.URL.Path, "/v2/"); ok {
			r2 := r.Clone(r.Context())
			r2.URL.Path = "/" + rest
			next.ServeHTTP(w, r2)
			return
		}
		if r.URL.Path == "/v2" {
			r2 := r.Clone(r.Context())
			r2.URL.Path = "/"
			next.ServeHTTP(w, r2)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func openStore(dsn string) (store.Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return store.OpenPostgres(dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return store.OpenSQLite(strings.TrimPrefix(dsn, "sqlite://"))
	case dsn == "":
		return store.OpenSQLite("endpointd.db")
	default:
		return store.OpenSQLite(dsn)
	}
}

// Handler returns the HTTP handler for the gateway.
// Returns an error if the gateway has not been initialized.
func (g *Gateway) Handler() (http.Handler, error) {
	if g.handler == nil {
		return nil, fmt.Errorf("gateway not initialized - call Initialize() first")
	}
	return g.handler, nil
}

// Start starts the gateway HTTP server (blocking).
func (g *Gateway) Start() error {
	if g.handler == nil {
		if err := g.Initialize(); err != nil {
			g.logger.Error("failed to initialize gateway", "error", err)
			return err
		}
	}

	if g.config.Server.Port == 0 {
		return fmt.Errorf("port is required for standalone mode - use Handler() for embedded mode")
	}

	addr := fmt.Sprintf(":%d", g.config.Server.Port)
	g.logger.Info("starting endpointd gateway", "addr", addr)
	err := http.ListenAndServe(addr, g.handler)
	if err != nil {
		g.logger.Error("gateway server stopped", "error", err)
	}
	return err
}

// Close releases the gateway's Store connection and drains the audit sink.
func (g *Gateway) Close(ctx context.Context) error {
	if g.sink != nil {
		if err := g.sink.Close(ctx); err != nil {
			g.logger.Warn("audit sink did not drain cleanly", "error", err)
		}
	}
	if g.store != nil {
		return g.store.Close()
	}
	return nil
}

// Config returns the gateway configuration.
func (g *Gateway) Config() *config.Config {
	return g.config
}

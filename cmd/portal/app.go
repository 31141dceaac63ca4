package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"

	"github.com/wispberry-tech/wispy-portal/billing"
	"github.com/wispberry-tech/wispy-portal/config"
	"github.com/wispberry-tech/wispy-portal/core"
	"github.com/wispberry-tech/wispy-portal/core/storage"
	"github.com/wispberry-tech/wispy-portal/email"
	"github.com/wispberry-tech/wispy-portal/gateway"
	"github.com/wispberry-tech/wispy-portal/web"
)

// app wires the portal's services together.
type app struct {
	cfg     *config.Config
	storage core.Storage
	auth    *core.AuthService
	billing *billing.Service
	gateway *gateway.Gateway
	pages   *web.Pages
	redis   *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, err := openStorage(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.storage = store

	mailer, err := newMailer(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	security := core.DefaultSecurityConfig()
	security.RequireEmailVerification = cfg.RequireEmailVerification
	security.SecureCookies = cfg.UseSecureCookies()

	var social []string
	oauthProviders := map[string]core.OAuthProviderConfig{}
	if cfg.GitHub.Enabled() {
		oauthProviders["github"] = core.NewGitHubOAuthProvider(
			cfg.GitHub.ClientID,
			cfg.GitHub.ClientSecret,
			cfg.BaseURL+"/api/auth/callback/github",
		)
		social = append(social, "github")
	}

	a.auth, err = core.NewAuthService(core.Config{
		Storage:        store,
		SecurityConfig: security,
		OAuthProviders: oauthProviders,
		Mailer:         mailer,
		BaseURL:        cfg.BaseURL,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create auth service: %w", err)
	}

	if cfg.Stripe.Enabled() {
		a.billing, err = billing.NewService(billing.Config{
			Storage:  store,
			Provider: billing.NewStripeProvider(cfg.Stripe.SecretKey, nil),
			Sessions: a.auth,
			Plans:    billing.DefaultPlans(cfg.Stripe.PriceBasic, cfg.Stripe.PricePro),
			BaseURL:  cfg.BaseURL,
			BasePath: a.auth.BasePath(),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create billing service: %w", err)
		}
	} else {
		slog.Info("Billing disabled: STRIPE_SECRET_KEY not set")
	}

	protector, err := a.newProtector(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gateway = gateway.New(protector, a.auth)

	a.pages, err = web.New(web.Config{
		Auth:            a.auth,
		Billing:         a.billing,
		SocialProviders: social,
		AppName:         cfg.AppName,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create pages: %w", err)
	}
	return a, nil
}

func openStorage(db config.Database) (core.Storage, error) {
	switch db.Driver {
	case config.DriverSQLite:
		store, err := storage.NewSQLiteStorage(db.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := storage.NewPostgresStorage(db.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		return store, nil
	default:
		slog.Warn("Using in-memory storage; data is lost on restart")
		return storage.NewMemoryStorage(), nil
	}
}

func newMailer(cfg *config.Config) (*email.Sender, error) {
	provider, err := email.GetProvider(cfg.Mail.Provider, email.ProviderConfig{
		SMTPHost: cfg.Mail.SMTPHost,
		SMTPPort: cfg.Mail.SMTPPort,
		SMTPUser: cfg.Mail.SMTPUser,
		SMTPPass: cfg.Mail.SMTPPass,
		APIKey:   cfg.Mail.APIKey(),
		Domain:   cfg.Mail.MailgunDomain,
	})
	if err != nil {
		return nil, fmt.Errorf("create mail provider: %w", err)
	}
	return email.NewSender(provider, cfg.Mail.From, cfg.AppName)
}

// newProtector selects the remote protection service when configured and
// the in-process rules otherwise. Redis shares the in-process counters.
func (a *app) newProtector(ctx context.Context) (gateway.Protector, error) {
	gw := a.cfg.Gateway
	if gw.ProtectionURL != "" {
		slog.Info("Using remote request protection", "url", gw.ProtectionURL)
		return gateway.NewRemoteProtector(gw.ProtectionURL, gw.ProtectionKey, nil), nil
	}

	local := gateway.DefaultLocalConfig()
	local.AllowedAgents = append(local.AllowedAgents, gw.AllowedAgents...)
	if gw.RedisURL != "" {
		client, err := gateway.NewRedisClient(ctx, gw.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		local.Counter = func(name string) httprate.LimitCounter {
			return gateway.NewRedisCounter(client, "portal:ratelimit:"+name)
		}
		slog.Info("Rate limit counters shared through Redis")
	}
	return gateway.NewLocalProtector(local), nil
}

// Router returns the portal's HTTP handler.
func (a *app) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if a.cfg.Gateway.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{a.cfg.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", a.health)

	var extensions []func(chi.Router)
	if a.billing != nil {
		extensions = append(extensions, a.billing.RegisterRoutes)
	}
	r.Handle(a.auth.BasePath()+"/*", a.gateway.Middleware(a.auth.Handler(extensions...)))
	r.Mount("/", a.pages.Routes())
	return r
}

func (a *app) health(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := a.storage.Ping(); err != nil {
		slog.Error("Health check failed", "error", err)
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Close releases storage and Redis connections.
func (a *app) Close() {
	if a.auth != nil {
		if err := a.auth.Close(); err != nil {
			slog.Error("Failed to close auth service", "error", err)
		}
	} else if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			slog.Error("Failed to close storage", "error", err)
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

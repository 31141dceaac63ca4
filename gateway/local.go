package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
)

// MXResolver looks up mail exchangers. *net.Resolver satisfies it.
type MXResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// LocalConfig configures a LocalProtector.
type LocalConfig struct {
	StrictLimit  int
	StrictWindow time.Duration
	LaxLimit     int
	LaxWindow    time.Duration

	// AllowedAgents are User-Agent substrings exempt from bot detection.
	AllowedAgents []string
	// DisposableDomains extends the built-in disposable domain list.
	DisposableDomains []string

	// Resolver is used for MX checks. Nil uses net.DefaultResolver.
	Resolver MXResolver
	// Counter creates the counter backing a named limiter. Nil keeps
	// counters in process.
	Counter func(name string) httprate.LimitCounter
}

// DefaultLocalConfig returns the strict 10 per 10 minutes and lax 60 per minute windows.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		StrictLimit:  10,
		StrictWindow: 10 * time.Minute,
		LaxLimit:     60,
		LaxWindow:    time.Minute,
	}
}

// LocalProtector evaluates requests in process.
type LocalProtector struct {
	strict *httprate.RateLimiter
	lax    *httprate.RateLimiter

	validate      *validator.Validate
	resolver      MXResolver
	disposable    map[string]bool
	allowedAgents []string
}

var defaultDisposableDomains = []string{
	"10minutemail.com",
	"dispostable.com",
	"fakeinbox.com",
	"getnada.com",
	"guerrillamail.com",
	"maildrop.cc",
	"mailinator.com",
	"sharklasers.com",
	"temp-mail.org",
	"tempmail.com",
	"throwawaymail.com",
	"trashmail.com",
	"yopmail.com",
}

var freeDomains = map[string]bool{
	"gmail.com":   true,
	"outlook.com": true,
	"hotmail.com": true,
	"yahoo.com":   true,
	"icloud.com":  true,
	"proton.me":   true,
}

// botSignatures are lower-cased User-Agent fragments of automated clients.
var botSignatures = []string{
	"bot", "spider", "crawler", "curl/", "wget/", "python-requests", "python-urllib",
	"go-http-client", "okhttp", "libwww-perl", "scrapy", "headlesschrome", "phantomjs",
}

// shieldSignatures are lower-cased fragments of common injection payloads.
var shieldSignatures = []string{
	"<script", "union select", "' or '1'='1", "../", "%2e%2e%2f",
}

// NewLocalProtector creates a LocalProtector. Zero limits fall back to the defaults.
func NewLocalProtector(cfg LocalConfig) *LocalProtector {
	defaults := DefaultLocalConfig()
	if cfg.StrictLimit == 0 {
		cfg.StrictLimit, cfg.StrictWindow = defaults.StrictLimit, defaults.StrictWindow
	}
	if cfg.LaxLimit == 0 {
		cfg.LaxLimit, cfg.LaxWindow = defaults.LaxLimit, defaults.LaxWindow
	}
	if cfg.Resolver == nil {
		cfg.Resolver = net.DefaultResolver
	}

	disposable := make(map[string]bool)
	for _, d := range append(defaultDisposableDomains, cfg.DisposableDomains...) {
		disposable[strings.ToLower(d)] = true
	}

	return &LocalProtector{
		strict:        newLimiter(cfg, "strict", cfg.StrictLimit, cfg.StrictWindow),
		lax:           newLimiter(cfg, "lax", cfg.LaxLimit, cfg.LaxWindow),
		validate:      validator.New(),
		resolver:      cfg.Resolver,
		disposable:    disposable,
		allowedAgents: cfg.AllowedAgents,
	}
}

func newLimiter(cfg LocalConfig, name string, limit int, window time.Duration) *httprate.RateLimiter {
	var opts []httprate.Option
	if cfg.Counter != nil {
		opts = append(opts, httprate.WithLimitCounter(cfg.Counter(name)))
	}
	return httprate.NewRateLimiter(limit, window, opts...)
}

// Protect runs the shield, then the rate limit, bot and email rules of req.Rules.
func (p *LocalProtector) Protect(ctx context.Context, req Request) (Decision, error) {
	if p.shielded(req) {
		return Deny(ReasonShield), nil
	}

	limiter := p.strict
	if req.Rules == RulesSignUp {
		limiter = p.lax
	}
	r := req.HTTP
	if r == nil {
		r = (&http.Request{Header: http.Header{}}).WithContext(ctx)
	}
	if limiter.OnLimit(discardWriter{}, r, string(req.Rules)+":"+req.Key) {
		return Deny(ReasonRateLimit), nil
	}

	if p.isBot(req.UserAgent) {
		return Deny(ReasonBot), nil
	}

	if req.Rules == RulesSignUp {
		if types := p.EmailTypes(ctx, req.Email); len(types) > 0 {
			return Deny(ReasonEmail, types...), nil
		}
	}

	return Allow(), nil
}

// EmailTypes returns the denied risk categories of email. FREE is never denied.
func (p *LocalProtector) EmailTypes(ctx context.Context, email string) []EmailType {
	if err := p.validate.Var(email, "required,email"); err != nil {
		return []EmailType{EmailInvalid}
	}

	domain := strings.ToLower(email[strings.LastIndex(email, "@")+1:])
	if freeDomains[domain] {
		return nil
	}

	var types []EmailType
	if p.disposable[domain] {
		types = append(types, EmailDisposable)
	}

	records, err := p.resolver.LookupMX(ctx, domain)
	var dnsErr *net.DNSError
	switch {
	case err == nil && len(records) == 0:
		types = append(types, EmailNoMXRecords)
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		types = append(types, EmailNoMXRecords)
	case err != nil:
		slog.Warn("MX lookup failed, skipping check", "domain", domain, "error", err)
	}

	return types
}

func (p *LocalProtector) isBot(userAgent string) bool {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return true
	}
	for _, allowed := range p.allowedAgents {
		if strings.Contains(ua, strings.ToLower(allowed)) {
			return false
		}
	}
	for _, sig := range botSignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

func (p *LocalProtector) shielded(req Request) bool {
	target := strings.ToLower(req.Path + "?" + req.Query)
	body := strings.ToLower(string(req.Body))
	for _, sig := range shieldSignatures {
		if strings.Contains(target, sig) {
			return true
		}
	}
	return strings.Contains(body, "<script") || strings.Contains(body, "union select")
}

// discardWriter receives the limiter's headers and 429 body, which the
// gateway writes itself.
type discardWriter struct{}

func (discardWriter) Header() http.Header         { return http.Header{} }
func (discardWriter) Write(b []byte) (int, error) { return len(b), nil }
func (discardWriter) WriteHeader(int)             {}

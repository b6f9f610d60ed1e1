package bankd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
)

//
// HTTP middlewares
//

// RequestLogger tags every request with an id and logs method, path,
// status and duration through zerolog.
func RequestLogger(log *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(ww, r)

			log.Info().
				Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// CORS answers preflight requests and sets the allow headers from
// configuration.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	headers := "Content-Type"
	for _, h := range cfg.AllowedHeaders {
		headers += ", " + h
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for _, o := range cfg.AllowedOrigins {
				if o == "*" || o == origin {
					if o == "*" {
						w.Header().Set("Access-Control-Allow-Origin", "*")
					} else {
						w.Header().Set("Access-Control-Allow-Origin", origin)
					}
					break
				}
			}
			if cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

//
// Service decorators
//

type Middleware func(Service) Service

// limitMiddleware sheds load on the write paths with weighted semaphores;
// acquisition honors the request deadline. Read paths pass through.
type limitMiddleware struct {
	next   Service
	limits *ServiceLimits
}

var (
	_ Service = (*limitMiddleware)(nil)
)

type ServiceLimits struct {
	AddAccount *semaphore.Weighted
	PostEntry  *semaphore.Weighted
}

// DefaultServiceLimits builds limits from config, falling back to 64
// in-flight requests per operation.
func DefaultServiceLimits(cfg *Config) *ServiceLimits {
	createLim := cfg.Limits.CreateAccount
	if createLim <= 0 {
		createLim = 64
	}
	postLim := cfg.Limits.PostEntry
	if postLim <= 0 {
		postLim = 64
	}
	return &ServiceLimits{
		AddAccount: semaphore.NewWeighted(createLim),
		PostEntry:  semaphore.NewWeighted(postLim),
	}
}

func NewLimitMiddleware(limits *ServiceLimits) Middleware {
	return func(next Service) Service {
		return &limitMiddleware{
			next:   next,
			limits: limits,
		}
	}
}

func (l *limitMiddleware) ListClients(ctx context.Context) ([]Client, error) {
	return l.next.ListClients(ctx)
}

func (l *limitMiddleware) GetClient(ctx context.Context, id int) (Client, error) {
	return l.next.GetClient(ctx, id)
}

func (l *limitMiddleware) AddClient(ctx context.Context, c Client) (Client, error) {
	return l.next.AddClient(ctx, c)
}

func (l *limitMiddleware) UpdateClient(ctx context.Context, id int, c Client) (Client, error) {
	return l.next.UpdateClient(ctx, id, c)
}

func (l *limitMiddleware) DeleteClient(ctx context.Context, id int) error {
	return l.next.DeleteClient(ctx, id)
}

func (l *limitMiddleware) ListAccounts(ctx context.Context, ownerID *int) ([]Account, error) {
	return l.next.ListAccounts(ctx, ownerID)
}

func (l *limitMiddleware) ListAccountsByType(ctx context.Context, typ AccountType) ([]Account, error) {
	return l.next.ListAccountsByType(ctx, typ)
}

func (l *limitMiddleware) GetAccount(ctx context.Context, iban string) (Account, error) {
	return l.next.GetAccount(ctx, iban)
}

func (l *limitMiddleware) GetAccountByType(ctx context.Context, iban string, typ AccountType) (Account, error) {
	return l.next.GetAccountByType(ctx, iban, typ)
}

func (l *limitMiddleware) AddAccount(ctx context.Context, acct Account, ownerID int) (Account, error) {
	if err := l.limits.AddAccount.Acquire(ctx, 1); err != nil {
		return Account{}, ErrInternalServer
	}
	defer l.limits.AddAccount.Release(1)
	return l.next.AddAccount(ctx, acct, ownerID)
}

func (l *limitMiddleware) UpdateAccount(ctx context.Context, iban string, acct Account, ownerID int) (Account, error) {
	return l.next.UpdateAccount(ctx, iban, acct, ownerID)
}

func (l *limitMiddleware) DeleteAccount(ctx context.Context, iban string) error {
	return l.next.DeleteAccount(ctx, iban)
}

func (l *limitMiddleware) GetEntries(ctx context.Context, iban string, from, to *time.Time) ([]Entry, error) {
	return l.next.GetEntries(ctx, iban, from, to)
}

func (l *limitMiddleware) PostEntry(ctx context.Context, iban string, e Entry) (Entry, error) {
	if err := l.limits.PostEntry.Acquire(ctx, 1); err != nil {
		return Entry{}, ErrInternalServer
	}
	defer l.limits.PostEntry.Release(1)
	return l.next.PostEntry(ctx, iban, e)
}

func (l *limitMiddleware) Statement(ctx context.Context, w io.Writer, iban string) error {
	return l.next.Statement(ctx, w, iban)
}

// breakerMiddleware opens the write paths when the storage layer keeps
// failing. Domain rejections (insufficient funds, validation, lookups)
// do not count against the breaker.
type breakerMiddleware struct {
	next  Service
	brkrs *ServiceBreaker
}

var (
	_ Service = (*breakerMiddleware)(nil)
)

type ServiceBreaker struct {
	AddAccount *gobreaker.CircuitBreaker[Account]
	PostEntry  *gobreaker.CircuitBreaker[Entry]
}

func NewServiceBreaker() *ServiceBreaker {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:         name,
			IsSuccessful: isDomainOutcome,
		}
	}
	return &ServiceBreaker{
		AddAccount: gobreaker.NewCircuitBreaker[Account](settings("add-account")),
		PostEntry:  gobreaker.NewCircuitBreaker[Entry](settings("post-entry")),
	}
}

// isDomainOutcome treats business-rule rejections as successful calls so
// that only infrastructure failures trip the breaker.
func isDomainOutcome(err error) bool {
	if err == nil {
		return true
	}
	var (
		nf  ErrNotFound
		val ErrValidation
		ex  ErrExhaustedIBANSpace
	)
	return isUnprocessable(err) ||
		errors.As(err, &nf) ||
		errors.As(err, &val) ||
		errors.As(err, &ex)
}

func NewBreakerMiddleware(brkrs *ServiceBreaker) Middleware {
	return func(next Service) Service {
		return &breakerMiddleware{
			next:  next,
			brkrs: brkrs,
		}
	}
}

func (b *breakerMiddleware) ListClients(ctx context.Context) ([]Client, error) {
	return b.next.ListClients(ctx)
}

func (b *breakerMiddleware) GetClient(ctx context.Context, id int) (Client, error) {
	return b.next.GetClient(ctx, id)
}

func (b *breakerMiddleware) AddClient(ctx context.Context, c Client) (Client, error) {
	return b.next.AddClient(ctx, c)
}

func (b *breakerMiddleware) UpdateClient(ctx context.Context, id int, c Client) (Client, error) {
	return b.next.UpdateClient(ctx, id, c)
}

func (b *breakerMiddleware) DeleteClient(ctx context.Context, id int) error {
	return b.next.DeleteClient(ctx, id)
}

func (b *breakerMiddleware) ListAccounts(ctx context.Context, ownerID *int) ([]Account, error) {
	return b.next.ListAccounts(ctx, ownerID)
}

func (b *breakerMiddleware) ListAccountsByType(ctx context.Context, typ AccountType) ([]Account, error) {
	return b.next.ListAccountsByType(ctx, typ)
}

func (b *breakerMiddleware) GetAccount(ctx context.Context, iban string) (Account, error) {
	return b.next.GetAccount(ctx, iban)
}

func (b *breakerMiddleware) GetAccountByType(ctx context.Context, iban string, typ AccountType) (Account, error) {
	return b.next.GetAccountByType(ctx, iban, typ)
}

func (b *breakerMiddleware) AddAccount(ctx context.Context, acct Account, ownerID int) (Account, error) {
	return b.brkrs.AddAccount.Execute(func() (Account, error) {
		return b.next.AddAccount(ctx, acct, ownerID)
	})
}

func (b *breakerMiddleware) UpdateAccount(ctx context.Context, iban string, acct Account, ownerID int) (Account, error) {
	return b.next.UpdateAccount(ctx, iban, acct, ownerID)
}

func (b *breakerMiddleware) DeleteAccount(ctx context.Context, iban string) error {
	return b.next.DeleteAccount(ctx, iban)
}

func (b *breakerMiddleware) GetEntries(ctx context.Context, iban string, from, to *time.Time) ([]Entry, error) {
	return b.next.GetEntries(ctx, iban, from, to)
}

func (b *breakerMiddleware) PostEntry(ctx context.Context, iban string, e Entry) (Entry, error) {
	return b.brkrs.PostEntry.Execute(func() (Entry, error) {
		return b.next.PostEntry(ctx, iban, e)
	})
}

func (b *breakerMiddleware) Statement(ctx context.Context, w io.Writer, iban string) error {
	return b.next.Statement(ctx, w, iban)
}

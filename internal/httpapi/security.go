package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"retailpos/backend/internal/service"
)

const (
	maxBodyBytes = 1 << 20
	// A CSRF token is valid for the window it was issued in and the next one.
	csrfWindow = time.Hour
	// Idle limiter buckets are pruned once the table grows past this.
	maxLimiterKeys = 4096
)

var responseHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Cross-Origin-Opener-Policy", "same-origin"},
	{"Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token"},
	{"Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS"},
	{"Vary", "Origin"},
}

func newCSRFSecret() []byte {
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)
	return secret
}

func (a *API) csrfToken(window time.Time) string {
	mac := hmac.New(sha256.New, a.csrfSecret)
	mac.Write([]byte(strconv.FormatInt(window.Unix(), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfToken(time.Now().UTC().Truncate(csrfWindow))
}

func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(csrfWindow)
	for _, window := range []time.Time{current, current.Add(-csrfWindow)} {
		if hmac.Equal([]byte(token), []byte(a.csrfToken(window))) {
			return true
		}
	}
	return false
}

// csrfSatisfied reports whether r may proceed. Safe methods pass, and so does
// login since a client cannot hold a token before it.
func (a *API) csrfSatisfied(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	if r.URL.Path == "/api/v1/auth/login" {
		return true
	}
	return a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token")))
}

// attemptLimiter gives every client key a token bucket holding max attempts,
// refilled evenly across window.
type attemptLimiter struct {
	mu      sync.Mutex
	refill  rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{
		refill:  rate.Every(window / time.Duration(max)),
		burst:   max,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxLimiterKeys {
			l.pruneLocked()
		}
		bucket = rate.NewLimiter(l.refill, l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// pruneLocked drops buckets that have refilled completely; they carry no state
// a fresh bucket would not.
func (l *attemptLimiter) pruneLocked() {
	for key, bucket := range l.buckets {
		if bucket.Tokens() >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}

func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// requireAuth resolves the bearer token into an actor on the request context
// and rejects roles outside the allowed set.
func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}
		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		for _, kv := range responseHeaders {
			header.Set(kv[0], kv[1])
		}
		header.Set("Access-Control-Allow-Origin", a.allowedOrigin)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		if !a.csrfSatisfied(r) {
			writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		// The mux stores the matched pattern on r. Unmatched paths share one
		// label so arbitrary URLs cannot grow the series count.
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		a.metrics.ObserveRequest(r.Method, pattern, rec.status, elapsed)
		a.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed),
		)
	})
}

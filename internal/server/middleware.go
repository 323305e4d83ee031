package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/vision-cli/internal/model"
	"github.com/sells-group/vision-cli/internal/resilience"
)

const (
	headerAPIKey        = "X-API-Key"
	headerDeviceID      = "X-Device-Id"
	headerRequestID     = "X-Request-Id"
	headerCorrelationID = "X-Correlation-Id"

	anonymousCredential = "anonymous"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	correlationIDKey
	credentialKey
)

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// requestID assigns a request id and adopts the caller's correlation id,
// defaulting it to the request id.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		corr := r.Header.Get(headerCorrelationID)
		if corr == "" || len(corr) > 128 {
			corr = id
		}
		w.Header().Set(headerRequestID, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		ctx = context.WithValue(ctx, correlationIDKey, corr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
	})
}

// requireAPIKey authenticates X-API-Key and stores the credential for the
// downstream limiters.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := anonymousCredential
		if len(s.cfg.APIKeys) > 0 {
			key := r.Header.Get(headerAPIKey)
			if !s.validKey(key) {
				s.writeError(w, r, withStatus(http.StatusUnauthorized, model.ErrValidation, "missing or invalid API key", nil))
				return
			}
			cred = credentialID(key)
		}
		ctx := context.WithValue(r.Context(), credentialKey, cred)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, k := range s.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// credentialID identifies an API key in limiter keys without storing it.
func credentialID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// rateLimit consumes one request from l under the key returned by keyFn.
// Requests without a key for the dimension pass.
func (s *Server) rateLimit(l *resilience.RateLimiter, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			d := l.Consume(r.Context(), key)
			if !d.Allowed {
				s.log.Info("rate limited",
					zap.String("dimension", l.Dimension()),
					zap.Int("retry_after", d.RetryAfterSeconds),
					zap.String("request_id", requestIDFrom(r.Context())),
				)
				s.writeError(w, r, &model.Error{
					Code:       model.ErrRateLimit,
					Message:    "rate limit exceeded for " + l.Dimension(),
					RetryAfter: d.RetryAfterSeconds,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// admit caps concurrent requests per credential.
func (s *Server) admit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, err := s.inflight.Acquire(credential(r))
		defer release()
		if err != nil {
			s.writeError(w, r, &model.Error{
				Code:       model.ErrRateLimit,
				Message:    "too many concurrent requests",
				RetryAfter: 1,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// realIP rewrites RemoteAddr to the forwarded client address when the peer
// is a trusted proxy. X-Forwarded-For is walked right to left past trusted
// hops; X-Real-IP is used when the chain holds no untrusted hop.
func (s *Server) realIP(next http.Handler) http.Handler {
	if len(s.cfg.TrustedProxies) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.trusted(peerAddr(r.RemoteAddr)) {
			if ip := s.forwardedFor(r); ip.IsValid() {
				r.RemoteAddr = ip.String()
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) forwardedFor(r *http.Request) netip.Addr {
	var hops []string
	for _, h := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(h, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return netip.Addr{}
		}
		if addr = addr.Unmap(); !s.trusted(addr) {
			return addr
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap()
	}
	return netip.Addr{}
}

func (s *Server) trusted(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	for _, p := range s.cfg.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func peerAddr(remoteAddr string) netip.Addr {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	addr, err := netip.ParseAddr(remoteAddr)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func credential(r *http.Request) string {
	c, _ := r.Context().Value(credentialKey).(string)
	if c == "" {
		return anonymousCredential
	}
	return c
}

func deviceID(r *http.Request) string {
	id := r.Header.Get(headerDeviceID)
	if len(id) > 128 {
		id = id[:128]
	}
	return id
}

func retryAfterHeader(seconds int) string {
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

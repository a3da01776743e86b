// Package api exposes the compute-facing HTTP+JSON facade: token exchange,
// hub discovery, the claim endpoint, and task status/result operations.
// Every protected endpoint requires a bearer token whose scope grants cover
// the Scope of the entity it addresses.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crucibleproj/crucible/internal/auth"
	"github.com/crucibleproj/crucible/internal/hub"
	"github.com/crucibleproj/crucible/internal/scope"
)

// Version reported by the info endpoint.
const Version = "0.1.0"

// Server serves the compute API over a scheduling service.
type Server struct {
	svc  *hub.Service
	auth *auth.Authenticator
	log  *zap.Logger
}

// NewServer creates an API server. log may be nil for silent operation.
func NewServer(svc *hub.Service, authenticator *auth.Authenticator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, auth: authenticator, log: log}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("GET /info", s.handleInfo)

	mux.Handle("GET /identities/{identity}/scopes", s.requireAuth(s.handleIdentityScopes))
	mux.Handle("GET /taskhubs", s.requireAuth(s.handleQueryTaskHubs))
	mux.Handle("POST /taskhubs/{taskhub}/claim", s.requireAuth(s.handleClaim))
	mux.Handle("GET /tasks/{task}/status", s.requireAuth(s.handleGetStatus))
	mux.Handle("POST /tasks/{task}/status", s.requireAuth(s.handleSetStatus))
	mux.Handle("GET /tasks/{task}/transformation", s.requireAuth(s.handleTransformation))
	mux.Handle("POST /tasks/{task}/results", s.requireAuth(s.handleResults))

	return s.logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("compute api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type ctxKey int

const claimsKey ctxKey = 0

// requireAuth validates the bearer token and stashes its claims in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func requestClaims(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

// authorizedScope reports whether the token's grants cover the scope.
func authorizedScope(claims *auth.Claims, sc scope.Scope) bool {
	if claims == nil {
		return false
	}
	for _, pat := range claims.Scopes {
		pattern, err := scope.ParseScope(pat)
		if err != nil {
			continue
		}
		if sc.Matches(pattern) {
			return true
		}
	}
	return false
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

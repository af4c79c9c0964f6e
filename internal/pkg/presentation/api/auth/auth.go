package auth

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/diwise/facility-mgmt/internal/pkg/application/identity"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/tracing"
	"github.com/go-chi/jwtauth/v5"
	"github.com/open-policy-agent/opa/rego"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
)

//go:embed authz.rego
var defaultPolicies []byte

const CookieName string = "jwt"

// DeniedRedirect is where callers end up when they lack the required role.
const DeniedRedirect string = "/map"

type identityContextKey struct{ name string }

var identityCtxKey = &identityContextKey{"identity"}

var tracer = otel.Tracer("facility-mgmt/authz")

type Resolver interface {
	Resolve(ctx context.Context, username string) (identity.Identity, error)
}

type Authenticator struct {
	query    rego.PreparedEvalQuery
	tokens   *jwtauth.JWTAuth
	resolver Resolver
	ttl      time.Duration
}

func DefaultPolicies() io.Reader {
	return bytes.NewReader(defaultPolicies)
}

func NewAuthenticator(ctx context.Context, policies io.Reader, secret string, resolver Resolver) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("a session secret is required")
	}

	module, err := io.ReadAll(policies)
	if err != nil {
		return nil, fmt.Errorf("unable to read authz policies: %s", err.Error())
	}

	query, err := rego.New(
		rego.Query("x = data.facility.authz.allow"),
		rego.Module("facility.rego", string(module)),
	).PrepareForEval(ctx)

	if err != nil {
		return nil, err
	}

	return &Authenticator{
		query:    query,
		tokens:   jwtauth.New("HS256", []byte(secret), nil),
		resolver: resolver,
		ttl:      12 * time.Hour,
	}, nil
}

// Identify verifies the session token, if any, and stores the identity of the
// caller in the request context. The role is resolved anew for every request.
// Requests without a valid token proceed as anonymous.
func (a *Authenticator) Identify(next http.Handler) http.Handler {
	resolve := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := identity.Anonymous()

		token, _, err := jwtauth.FromContext(ctx)
		if err == nil && token != nil && token.Subject() != "" {
			id, err = a.resolver.Resolve(ctx, token.Subject())
			if err != nil {
				logger := logging.GetFromContext(ctx)
				logger.Error().Err(err).Msg("failed to resolve identity")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
	})

	return jwtauth.Verify(a.tokens, jwtauth.TokenFromCookie, jwtauth.TokenFromHeader)(resolve)
}

// IssueToken returns a signed session token for username.
func (a *Authenticator) IssueToken(username string) (string, error) {
	claims := map[string]any{"sub": username}
	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiryIn(claims, a.ttl)

	_, token, err := a.tokens.Encode(claims)
	return token, err
}

func (a *Authenticator) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.ttl.Seconds()),
	})
}

func (a *Authenticator) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// Allowed evaluates the policy for the identity in ctx against the given roles.
func (a *Authenticator) Allowed(ctx context.Context, roles ...identity.Role) (bool, error) {
	var err error

	ctx, span := tracer.Start(ctx, "check-auth")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	id := FromContext(ctx)

	input := map[string]any{
		"authenticated": id.Authenticated,
		"role":          id.Role.String(),
		"required":      lo.Map(roles, func(r identity.Role, _ int) string { return r.String() }),
	}

	results, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("opa eval failed: %w", err)
	}

	if len(results) == 0 {
		err = errors.New("opa query could not be satisfied")
		return false, err
	}

	allowed, ok := results[0].Bindings["x"].(bool)
	if !ok {
		err = errors.New("unexpected result type")
		return false, err
	}

	return allowed, nil
}

// RequireRole lets the request through only when the caller holds one of the
// roles. Everyone else is redirected to the map.
func (a *Authenticator) RequireRole(roles ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Check(w, r, roles...) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Check is the per view form of RequireRole. It writes the redirect and
// returns false when the caller is not allowed.
func (a *Authenticator) Check(w http.ResponseWriter, r *http.Request, roles ...identity.Role) bool {
	logger := logging.GetFromContext(r.Context())

	allowed, err := a.Allowed(r.Context(), roles...)
	if err != nil {
		logger.Error().Err(err).Msg("authorization failed")
	}

	if !allowed {
		id := FromContext(r.Context())
		logger.Debug().Str("username", id.Username).Str("role", id.Role.String()).Str("path", r.URL.Path).Msg("access denied")
		http.Redirect(w, r, DeniedRedirect, http.StatusFound)
		return false
	}

	return true
}

func WithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, id)
}

func FromContext(ctx context.Context) identity.Identity {
	id, ok := ctx.Value(identityCtxKey).(identity.Identity)
	if !ok {
		return identity.Anonymous()
	}
	return id
}

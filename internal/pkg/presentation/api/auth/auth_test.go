package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diwise/facility-mgmt/internal/pkg/application/identity"
	"github.com/matryer/is"
)

type resolverFunc func(ctx context.Context, username string) (identity.Identity, error)

func (f resolverFunc) Resolve(ctx context.Context, username string) (identity.Identity, error) {
	return f(ctx, username)
}

func TestAnonymousCallerIsRedirectedToMap(t *testing.T) {
	is, a := testSetup(t)

	w := serve(a, identity.Admin, nil)

	is.Equal(w.Code, http.StatusFound)
	is.Equal(w.Header().Get("Location"), "/map")
}

func TestCookieIdentifiesCallerAndRoleIsResolvedPerRequest(t *testing.T) {
	is, a := testSetup(t)

	token, err := a.IssueToken("teacher1")
	is.NoErr(err)

	cookie := &http.Cookie{Name: CookieName, Value: token}

	w := serve(a, identity.Teacher, cookie)
	is.Equal(w.Code, http.StatusOK)
	is.Equal(w.Body.String(), "teacher1")

	w = serve(a, identity.Admin, cookie)
	is.Equal(w.Code, http.StatusFound)
}

func TestAnyOfSeveralRolesIsEnough(t *testing.T) {
	is, a := testSetup(t)

	token, err := a.IssueToken("staff1")
	is.NoErr(err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	a.Identify(a.RequireRole(identity.Admin, identity.FacilityStaff)(ok())).ServeHTTP(w, req)
	is.Equal(w.Code, http.StatusOK)
}

func TestTamperedTokenIsAnonymous(t *testing.T) {
	is, a := testSetup(t)

	token, err := a.IssueToken("admin")
	is.NoErr(err)

	w := serve(a, identity.Admin, &http.Cookie{Name: CookieName, Value: token + "x"})
	is.Equal(w.Code, http.StatusFound)
}

func TestAllowedWithoutRequiredRoles(t *testing.T) {
	is, a := testSetup(t)

	ctx := WithIdentity(context.Background(), identity.Identity{Username: "admin", Authenticated: true, Role: identity.Admin})
	allowed, err := a.Allowed(ctx)
	is.NoErr(err)
	is.True(!allowed)
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	is := is.New(t)

	_, err := NewAuthenticator(context.Background(), DefaultPolicies(), "", nil)
	is.True(err != nil)
}

func serve(a *Authenticator, role identity.Role, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()

	a.Identify(a.RequireRole(role)(ok())).ServeHTTP(w, req)
	return w
}

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(FromContext(r.Context()).Username))
	})
}

func testSetup(t *testing.T) (*is.I, *Authenticator) {
	is := is.New(t)

	roles := map[string]identity.Role{
		"teacher1": identity.Teacher,
		"staff1":   identity.FacilityStaff,
		"admin":    identity.Admin,
	}

	resolver := resolverFunc(func(ctx context.Context, username string) (identity.Identity, error) {
		return identity.Identity{Username: username, Authenticated: true, Role: roles[username]}, nil
	})

	a, err := NewAuthenticator(context.Background(), DefaultPolicies(), "not-so-secret", resolver)
	is.NoErr(err)

	return is, a
}

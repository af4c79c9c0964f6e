package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/router"
	"github.com/diwise/facility-mgmt/internal/pkg/presentation/api"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func TestParseConfiguration(t *testing.T) {
	is := is.New(t)

	cfg, err := parseConfiguration(strings.NewReader(configYaml))
	is.NoErr(err)

	is.Equal(len(cfg.Events.Notifications), 1)
	is.Equal(cfg.Events.Notifications[0].Subscribers[0].Endpoint, "http://localhost:9999/events")
	is.Equal(cfg.Events.AMQP, nil)

	is.Equal(cfg.Identity.Roles, []string{"admin", "facility_staff", "teacher"})
	is.Equal(cfg.Identity.Users[0].Username, "admin")
	is.True(cfg.Identity.Users[0].Superuser)
}

func TestMissingConfigurationFileIsEmpty(t *testing.T) {
	is := is.New(t)

	cfg, err := loadConfigurationFile(filepath.Join(t.TempDir(), "nosuchfile.yaml"))
	is.NoErr(err)
	is.Equal(len(cfg.Events.Notifications), 0)
	is.Equal(len(cfg.Identity.Users), 0)
}

func TestSeededAdminCanLogIn(t *testing.T) {
	is, server := setupTest(t)
	defer server.Close()

	resp, _ := testRequest(is, server, http.MethodGet, "/health", nil)
	is.Equal(resp.StatusCode, http.StatusNoContent)

	form := url.Values{"username": {"admin"}, "password": {"changeme"}}
	resp, _ = testRequest(is, server, http.MethodPost, "/login", strings.NewReader(form.Encode()))
	is.Equal(resp.StatusCode, http.StatusSeeOther)
	is.Equal(resp.Header.Get("Location"), "/admin-dashboard")
}

func TestSeededAssetsAreOnTheMap(t *testing.T) {
	is, server := setupTest(t)
	defer server.Close()

	resp, body := testRequest(is, server, http.MethodGet, "/dangerous-trees", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, `"code":"T-001"`))
}

func setupTest(t *testing.T) (*is.I, *httptest.Server) {
	is := is.New(t)
	ctx := context.Background()

	database.PasswordCost = bcrypt.MinCost

	assets := filepath.Join(t.TempDir(), "assets.csv")
	is.NoErr(os.WriteFile(assets, []byte(assetsCsv), 0o600))

	flags := defaultFlags()
	flags[assetsFile] = assets
	flags[devmode] = "true"

	repo, err := newRepository(ctx, zerolog.Logger{}, flags)
	is.NoErr(err)

	cfg, err := parseConfiguration(strings.NewReader(configYaml))
	is.NoErr(err)

	sender, err := newEventSender(zerolog.Logger{}, cfg)
	is.NoErr(err)

	svc, err := initialize(ctx, repo, sender, cfg, flags)
	is.NoErr(err)

	policies, err := openPolicies("")
	is.NoErr(err)

	r, err := api.RegisterHandlers(ctx, router.New(serviceName, zerolog.Logger{}), policies, "testsecret", svc)
	is.NoErr(err)

	return is, httptest.NewServer(r)
}

func testRequest(is *is.I, ts *httptest.Server, method, path string, body io.Reader) (*http.Response, string) {
	req, err := http.NewRequest(method, ts.URL+path, body)
	is.NoErr(err)

	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	resp, err := client.Do(req)
	is.NoErr(err)
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

const configYaml string = `
notifications:
  - id: incident-reported
    name: Incident reported
    type: incident.reported
    subscribers:
      - endpoint: http://localhost:9999/events
roles:
  - admin
  - facility_staff
  - teacher
users:
  - username: admin
    password: changeme
    role: admin
    superuser: true
`

const assetsCsv string = `kind;code;name;type;status;lat;lon;room
tree;T-001;Dipterocarpus alatus;;dangerous;10.7626;106.6602;
`

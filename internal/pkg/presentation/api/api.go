package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/diwise/facility-mgmt/internal/pkg/application/facility"
	"github.com/diwise/facility-mgmt/internal/pkg/application/identity"
	"github.com/diwise/facility-mgmt/internal/pkg/application/spatial"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/tracing"
	"github.com/diwise/facility-mgmt/internal/pkg/presentation/api/auth"
	"github.com/diwise/facility-mgmt/internal/pkg/presentation/api/crud"
	"github.com/diwise/facility-mgmt/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("facility-mgmt/api")

//go:embed templates/login.html
var loginPage string

var loginTemplate = template.Must(template.New("login").Parse(loginPage))

type Services struct {
	Repository database.FacilityRepository
	Identity   identity.Service
	Facility   facility.Service
	Spatial    spatial.Service
}

func RegisterHandlers(ctx context.Context, router *chi.Mux, policies io.Reader, secret string, svc Services) (*chi.Mux, error) {

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	log := logging.GetFromContext(ctx)

	authenticator, err := auth.NewAuthenticator(ctx, policies, secret, svc.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	router.Group(func(r chi.Router) {
		r.Use(authenticator.Identify)

		r.Get("/login", loginPageHandler(log))
		r.Post("/login", loginHandler(log, authenticator, svc.Identity))
		r.Post("/logout", logoutHandler(log, authenticator))

		r.Get("/map", mapHandler(log, svc.Spatial))
		r.Get("/radius-search", radiusSearchHandler(log, svc.Spatial))
		r.Get("/dangerous-trees", dangerousTreesHandler(log, svc.Spatial))
		r.Get("/devices-to-check", devicesToCheckHandler(log, svc.Spatial))

		r.Route("/facility", func(r chi.Router) {
			r.Get("/", facilityDashboardHandler(log, authenticator, svc.Facility))
			r.Post("/", logMaintenanceHandler(log, authenticator, svc.Facility))
			r.Get("/incidents/", incidentsHandler(log, authenticator, svc.Facility))
			r.Post("/incidents/", reportIncidentHandler(log, authenticator, svc.Facility))
		})

		r.Get("/teacher/", teacherDashboardHandler(log, authenticator, svc.Facility))

		r.Group(func(r chi.Router) {
			r.Use(authenticator.RequireRole(identity.Admin))

			r.Get("/admin-dashboard", adminDashboardHandler(log, svc.Facility))
			r.Route("/admin", func(r chi.Router) {
				err = crud.RegisterResources(r, log, svc.Repository.DB(), svc.Identity)
			})
		})
	})

	if err != nil {
		return nil, err
	}

	return router, nil
}

type loginForm struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Error    string `json:"-"`
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func loginPageHandler(log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.FromContext(r.Context())
		if id.Authenticated {
			http.Redirect(w, r, identity.LandingFor(id.Role), http.StatusFound)
			return
		}

		renderLogin(w, log, http.StatusOK, loginForm{})
	}
}

func renderLogin(w http.ResponseWriter, log zerolog.Logger, status int, form loginForm) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginTemplate.Execute(w, form); err != nil {
		log.Error().Err(err).Msg("failed to render login page")
	}
}

func loginHandler(log zerolog.Logger, a *auth.Authenticator, users identity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "login")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		form := loginForm{}
		if isJSON(r) {
			err = json.NewDecoder(r.Body).Decode(&form)
		} else if err = r.ParseForm(); err == nil {
			form.Username, form.Password = r.PostForm.Get("username"), r.PostForm.Get("password")
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "unable to parse credentials")
			return
		}

		form.Username = strings.TrimSpace(form.Username)
		if form.Username == "" {
			err = identity.ErrInvalidCredentials
		}

		id := identity.Anonymous()
		if err == nil {
			id, err = users.Authenticate(ctx, form.Username, form.Password)
		}
		if err != nil {
			if !errors.Is(err, identity.ErrInvalidCredentials) {
				requestLogger.Error().Err(err).Msg("authentication failed")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			requestLogger.Info().Str("username", form.Username).Msg("invalid credentials")
			if isJSON(r) {
				writeError(w, http.StatusUnauthorized, "invalid username or password")
				return
			}
			renderLogin(w, requestLogger, http.StatusUnauthorized, loginForm{Username: form.Username, Error: "Invalid username or password."})
			return
		}

		token, err := a.IssueToken(id.Username)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to issue session token")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		a.SetSessionCookie(w, token)
		requestLogger.Info().Str("username", id.Username).Str("role", id.Role.String()).Msg("logged in")

		http.Redirect(w, r, identity.LandingFor(id.Role), http.StatusSeeOther)
	}
}

func logoutHandler(log zerolog.Logger, a *auth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.FromContext(r.Context())
		if id.Authenticated {
			log.Info().Str("username", id.Username).Msg("logged out")
		}

		a.ClearSessionCookie(w)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

type backLink struct {
	URL   string `json:"url"`
	Label string `json:"label"`
}

type mapResponse struct {
	Back   backLink        `json:"back"`
	Layers spatial.Dataset `json:"layers"`
}

func backLinkFor(id identity.Identity) backLink {
	if !id.Authenticated {
		return backLink{URL: "/login", Label: "Log in"}
	}

	switch id.Role {
	case identity.Admin:
		return backLink{URL: identity.LandingFor(id.Role), Label: "Admin dashboard"}
	case identity.FacilityStaff:
		return backLink{URL: identity.LandingFor(id.Role), Label: "Facility dashboard"}
	case identity.Teacher:
		return backLink{URL: identity.LandingFor(id.Role), Label: "Teacher dashboard"}
	}

	return backLink{URL: identity.LandingFor(id.Role), Label: "Map"}
}

func mapHandler(log zerolog.Logger, svc spatial.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "map-dataset")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		ds, err := svc.MapDataset(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to load map dataset")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, mapResponse{
			Back:   backLinkFor(auth.FromContext(ctx)),
			Layers: ds,
		})
	}
}

func radiusSearchHandler(log zerolog.Logger, svc spatial.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "radius-search")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		params := r.URL.Query()

		q, err := spatial.ParseRadiusQuery(params.Get("lat"), params.Get("lng"), params.Get("radius"), params.Get("layers"))
		if err != nil {
			requestLogger.Debug().Err(err).Msg("bad radius search")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := svc.RadiusSearch(ctx, q)
		if err != nil {
			if errors.Is(err, spatial.ErrInvalidQuery) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			requestLogger.Error().Err(err).Msg("radius search failed")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func featureCollectionHandler(log zerolog.Logger, name string, query func(context.Context) (types.FeatureCollection, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		fc, err := query(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Str("query", name).Msg("spatial query failed")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, fc)
	}
}

func dangerousTreesHandler(log zerolog.Logger, svc spatial.Service) http.HandlerFunc {
	return featureCollectionHandler(log, "dangerous-trees", svc.DangerousTrees)
}

func devicesToCheckHandler(log zerolog.Logger, svc spatial.Service) http.HandlerFunc {
	return featureCollectionHandler(log, "devices-to-check", svc.DevicesToCheck)
}

func facilityDashboardHandler(log zerolog.Logger, a *auth.Authenticator, svc facility.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Check(w, r, identity.FacilityStaff) {
			return
		}

		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "facility-dashboard")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		overview, err := svc.Overview(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to load facility overview")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, overview)
	}
}

func logMaintenanceHandler(log zerolog.Logger, a *auth.Authenticator, svc facility.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Check(w, r, identity.FacilityStaff) {
			return
		}

		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "log-maintenance")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		entry := facility.MaintenanceEntry{}
		if err = json.NewDecoder(r.Body).Decode(&entry); err != nil {
			writeError(w, http.StatusBadRequest, "unable to parse maintenance entry")
			return
		}

		m, err := svc.LogMaintenance(ctx, auth.FromContext(ctx), entry)
		if err != nil {
			writeServiceError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusCreated, m)
	}
}

func incidentsHandler(log zerolog.Logger, a *auth.Authenticator, svc facility.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Check(w, r, identity.FacilityStaff) {
			return
		}

		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "facility-incidents")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		overview, err := svc.Incidents(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to load incidents")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, overview)
	}
}

func reportIncidentHandler(log zerolog.Logger, a *auth.Authenticator, svc facility.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Check(w, r, identity.FacilityStaff) {
			return
		}

		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "report-incident")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		report := facility.IncidentReport{}
		if err = json.NewDecoder(r.Body).Decode(&report); err != nil {
			writeError(w, http.StatusBadRequest, "unable to parse incident report")
			return
		}

		incident, err := svc.ReportIncident(ctx, auth.FromContext(ctx), report)
		if err != nil {
			writeServiceError(w, requestLogger, err)
			return
		}

		requestLogger.Info().Uint("incident", incident.ID).Uint("asset", incident.AssetID).Msg("incident reported")
		writeJSON(w, http.StatusCreated, incident)
	}
}

func teacherDashboardHandler(log zerolog.Logger, a *auth.Authenticator, svc facility.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Check(w, r, identity.Teacher) {
			return
		}

		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "teacher-dashboard")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		rooms, err := svc.TeacherRooms(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to load rooms")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
	}
}

func adminDashboardHandler(log zerolog.Logger, svc facility.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "admin-dashboard")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		summary, err := svc.Summary(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to load summary")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, summary)
	}
}

func writeServiceError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var fe types.FieldErrors
	if errors.As(err, &fe) {
		writeJSON(w, http.StatusBadRequest, fe)
		return
	}

	logger.Error().Err(err).Msg("request failed")
	w.WriteHeader(http.StatusInternalServerError)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

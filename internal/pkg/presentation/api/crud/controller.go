package crud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/diwise/facility-mgmt/internal/pkg/application/validation"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/tracing"
	"github.com/diwise/facility-mgmt/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("facility-mgmt/admin")

var errBadRequest = errors.New("bad request")

type controller[M any, I any] struct {
	res   Resource[M, I]
	table database.Table[M]
}

// Register mounts the handlers of res under /{res.Name} on r.
func Register[M any, I any](r chi.Router, log zerolog.Logger, db *gorm.DB, res Resource[M, I]) error {
	table, err := database.NewTable[M](db)
	if err != nil {
		return fmt.Errorf("failed to register resource %s: %w", res.Name, err)
	}

	c := &controller[M, I]{res: res, table: table}

	r.Route("/"+res.Name, func(r chi.Router) {
		r.Get("/", listHandler(log, c))
		r.Post("/", createHandler(log, c))
		r.Post("/delete-selected", deleteSelectedHandler(log, c))
		r.Get("/{id}", getHandler(log, c))
		r.Put("/{id}", updateHandler(log, c))
		r.Delete("/{id}", deleteHandler(log, c))
	})

	return nil
}

func (c *controller[M, I]) query(values url.Values) (database.Query, error) {
	q := database.Query{
		Search:        values.Get("q"),
		SearchColumns: c.res.Search,
		SearchNumeric: c.res.SearchNumeric,
		Joins:         c.res.Joins,
		SearchIn:      map[string][]any{},
		Filters:       map[string]any{},
		Order:         c.res.Order,
		Preload:       c.res.Preload,
	}

	if term := strings.ToLower(strings.TrimSpace(q.Search)); term != "" {
		for column, labels := range c.res.Labels {
			for code, label := range labels {
				if strings.Contains(strings.ToLower(label), term) {
					q.SearchIn[column] = append(q.SearchIn[column], code)
				}
			}
		}
	}

	for param, column := range c.res.Filters {
		if v := values.Get(param); v != "" {
			q.Filters[column] = v
		}
	}

	var err error

	if s := values.Get("offset"); s != "" {
		q.Offset, err = strconv.Atoi(s)
		if err != nil || q.Offset < 0 {
			return q, fmt.Errorf("%w: invalid offset %q", errBadRequest, s)
		}
	}

	if s := values.Get("limit"); s != "" {
		q.Limit, err = strconv.Atoi(s)
		if err != nil || q.Limit < 0 {
			return q, fmt.Errorf("%w: invalid limit %q", errBadRequest, s)
		}
	}

	return q, nil
}

func (c *controller[M, I]) bind(ctx context.Context, r *http.Request, m *M, creating bool) (types.FieldErrors, error) {
	var in I
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return nil, fmt.Errorf("%w: %s", errBadRequest, err.Error())
	}

	if fe := validation.Struct(in); fe != nil {
		return fe, nil
	}

	if c.res.Bind != nil {
		err := c.res.Bind(ctx, in, m, creating)
		var fe types.FieldErrors
		if errors.As(err, &fe) {
			return fe, nil
		}
		if err != nil {
			return nil, err
		}
	}

	return nil, nil
}

func (c *controller[M, I]) conflicts(ctx context.Context, m *M) (types.FieldErrors, error) {
	var fe types.FieldErrors

	for _, u := range c.res.Unique {
		taken, err := c.table.Taken(ctx, u.Column, u.Value(m), c.res.ID(m))
		if err != nil {
			return nil, err
		}
		if taken {
			fe = fe.Add(u.Field, "already exists")
		}
	}

	return fe, nil
}

func (c *controller[M, I]) save(ctx context.Context, previous, m *M) error {
	if c.res.Save != nil {
		return c.res.Save(ctx, previous, m)
	}
	return c.table.Save(ctx, m)
}

func (c *controller[M, I]) deleted(ctx context.Context, rows []M) error {
	if c.res.Deleted == nil || len(rows) == 0 {
		return nil
	}
	return c.res.Deleted(ctx, rows)
}

func listHandler[M any, I any](log zerolog.Logger, c *controller[M, I]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "list-"+c.res.Name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		q, err := c.query(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		result, err := c.table.Find(ctx, q)
		if err != nil {
			requestLogger.Error().Err(err).Str("resource", c.res.Name).Msg("unable to list rows")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, newListResponse(r.URL, result))
	}
}

func getHandler[M any, I any](log zerolog.Logger, c *controller[M, I]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-"+c.res.Name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		id, err := idParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		m, err := c.table.Get(ctx, id, c.res.Preload...)
		if err != nil {
			writeLookupError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusOK, ApiResponse{Data: m})
	}
}

func createHandler[M any, I any](log zerolog.Logger, c *controller[M, I]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "create-"+c.res.Name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		m := new(M)
		if !c.write(ctx, w, r, requestLogger, nil, m) {
			return
		}

		created, err := c.table.Get(ctx, c.res.ID(m), c.res.Preload...)
		if err != nil {
			writeLookupError(w, requestLogger, err)
			return
		}

		requestLogger.Info().Str("resource", c.res.Name).Uint("id", c.res.ID(m)).Msg("created")
		writeJSON(w, http.StatusCreated, ApiResponse{Data: created})
	}
}

func updateHandler[M any, I any](log zerolog.Logger, c *controller[M, I]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "update-"+c.res.Name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		id, err := idParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		m, err := c.table.Get(ctx, id)
		if err != nil {
			writeLookupError(w, requestLogger, err)
			return
		}

		previous := m
		if !c.write(ctx, w, r, requestLogger, &previous, &m) {
			return
		}

		updated, err := c.table.Get(ctx, id, c.res.Preload...)
		if err != nil {
			writeLookupError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusOK, ApiResponse{Data: updated})
	}
}

// write binds the request payload onto m, checks uniqueness and saves. It
// writes the error response and returns false on failure.
func (c *controller[M, I]) write(ctx context.Context, w http.ResponseWriter, r *http.Request, logger zerolog.Logger, previous, m *M) bool {
	fe, err := c.bind(ctx, r, m, previous == nil)
	if errors.Is(err, errBadRequest) {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err != nil {
		logger.Error().Err(err).Str("resource", c.res.Name).Msg("unable to bind payload")
		w.WriteHeader(http.StatusInternalServerError)
		return false
	}
	if len(fe) > 0 {
		writeJSON(w, http.StatusBadRequest, fe)
		return false
	}

	fe, err = c.conflicts(ctx, m)
	if err != nil {
		logger.Error().Err(err).Str("resource", c.res.Name).Msg("unable to check uniqueness")
		w.WriteHeader(http.StatusInternalServerError)
		return false
	}
	if len(fe) > 0 {
		writeJSON(w, http.StatusConflict, fe)
		return false
	}

	err = c.save(ctx, previous, m)
	if err != nil {
		if errors.As(err, &fe) {
			writeJSON(w, http.StatusBadRequest, fe)
			return false
		}
		if errors.Is(err, database.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, err)
			return false
		}
		logger.Error().Err(err).Str("resource", c.res.Name).Msg("unable to save")
		w.WriteHeader(http.StatusInternalServerError)
		return false
	}

	return true
}

func deleteHandler[M any, I any](log zerolog.Logger, c *controller[M, I]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "delete-"+c.res.Name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		id, err := idParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		m, err := c.table.Get(ctx, id)
		if err != nil {
			writeLookupError(w, requestLogger, err)
			return
		}

		if _, err = c.table.Delete(ctx, id); err != nil {
			requestLogger.Error().Err(err).Str("resource", c.res.Name).Msg("unable to delete")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if err = c.deleted(ctx, []M{m}); err != nil {
			requestLogger.Error().Err(err).Str("resource", c.res.Name).Msg("post delete failed")
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type selection struct {
	IDs []uint `json:"ids"`
}

func deleteSelectedHandler[M any, I any](log zerolog.Logger, c *controller[M, I]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "delete-selected-"+c.res.Name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		var sel selection
		if err = json.NewDecoder(r.Body).Decode(&sel); err != nil || len(sel.IDs) == 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: no rows selected", errBadRequest))
			return
		}

		rows, err := c.table.GetMany(ctx, sel.IDs...)
		if err != nil {
			requestLogger.Error().Err(err).Str("resource", c.res.Name).Msg("unable to load selection")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		n, err := c.table.Delete(ctx, sel.IDs...)
		if err != nil {
			requestLogger.Error().Err(err).Str("resource", c.res.Name).Msg("unable to delete selection")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if err = c.deleted(ctx, rows); err != nil {
			requestLogger.Error().Err(err).Str("resource", c.res.Name).Msg("post delete failed")
		}

		requestLogger.Info().Str("resource", c.res.Name).Int64("count", n).Msg("deleted selected rows")
		writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
	}
}

func idParam(r *http.Request) (uint, error) {
	s := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid id %q", errBadRequest, s)
	}
	return uint(id), nil
}

func writeLookupError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	if errors.Is(err, database.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	logger.Error().Err(err).Msg("lookup failed")
	w.WriteHeader(http.StatusInternalServerError)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
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

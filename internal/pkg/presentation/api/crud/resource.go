// Package crud exposes the admin create/read/update/delete surface. Each
// entity is described by a Resource that a single generic controller serves.
package crud

import (
	"context"

	"github.com/diwise/facility-mgmt/pkg/types"
)

// Unique declares a column that must not hold the same value twice.
type Unique[M any] struct {
	Field  string
	Column string
	Value  func(m *M) any
}

// Resource describes how an entity of type M is listed, searched and written
// from a payload of type I.
type Resource[M any, I any] struct {
	Name string

	Search        []string
	SearchNumeric []string
	// Labels maps a column to the display labels of its codes. A search term
	// that matches a label also matches the rows holding that code.
	Labels map[string]map[string]string
	Joins  []string
	// Filters maps a query parameter to the column it filters on.
	Filters map[string]string
	Order   string
	Preload []string

	Unique []Unique[M]

	ID func(m *M) uint
	// Bind copies a payload onto m. It is called after the payload passed
	// struct validation, with creating set when m is a new record. Invalid
	// input is reported as types.FieldErrors.
	Bind func(ctx context.Context, in I, m *M, creating bool) error
	// Save overrides the default table save. previous is nil on create.
	Save func(ctx context.Context, previous, m *M) error
	// Deleted is called with the rows removed by a delete request.
	Deleted func(ctx context.Context, rows []M) error
}

// PointInput is the location part of a payload for entities with a point
// geometry. Both coordinates must be given.
type PointInput struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (p PointInput) Location() (*types.Location, types.FieldErrors) {
	if p.Latitude == nil || p.Longitude == nil {
		return nil, types.FieldErrors{"latitude": "select a location on the map or enter coordinates"}
	}

	l, err := types.NewLocation(*p.Latitude, *p.Longitude)
	if err != nil {
		return nil, types.FieldErrors{"latitude": err.Error()}
	}

	return &l, nil
}

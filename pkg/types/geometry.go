package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

var ErrInvalidGeometry = errors.New("invalid geometry")

// Location is a WGS84 point.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func NewLocation(lat, lon float64) (Location, error) {
	if lat < -90 || lat > 90 {
		return Location{}, fmt.Errorf("%w: latitude %f out of range", ErrInvalidGeometry, lat)
	}
	if lon < -180 || lon > 180 {
		return Location{}, fmt.Errorf("%w: longitude %f out of range", ErrInvalidGeometry, lon)
	}
	return Location{Latitude: lat, Longitude: lon}, nil
}

// ParseLocation parses a latitude/longitude pair as sent by forms and query strings.
func ParseLocation(lat, lon string) (Location, error) {
	latitude, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return Location{}, fmt.Errorf("%w: bad latitude %q", ErrInvalidGeometry, lat)
	}

	longitude, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return Location{}, fmt.Errorf("%w: bad longitude %q", ErrInvalidGeometry, lon)
	}

	return NewLocation(latitude, longitude)
}

// Polygon is a WGS84 polygon stored as WKT text.
type Polygon struct {
	orb.Polygon
}

// ParsePolygon accepts WKT POLYGON text only. Every ring must be closed and
// have at least four positions.
func ParsePolygon(s string) (Polygon, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Polygon{}, fmt.Errorf("%w: empty polygon", ErrInvalidGeometry)
	}

	g, err := wkt.Unmarshal(s)
	if err != nil {
		return Polygon{}, fmt.Errorf("%w: %s", ErrInvalidGeometry, err.Error())
	}

	p, ok := g.(orb.Polygon)
	if !ok {
		return Polygon{}, fmt.Errorf("%w: expected POLYGON, got %s", ErrInvalidGeometry, strings.ToUpper(g.GeoJSONType()))
	}

	if len(p) == 0 {
		return Polygon{}, fmt.Errorf("%w: empty polygon", ErrInvalidGeometry)
	}

	for _, ring := range p {
		if len(ring) < 4 {
			return Polygon{}, fmt.Errorf("%w: ring must have at least 4 positions", ErrInvalidGeometry)
		}
		if !ring.Closed() {
			return Polygon{}, fmt.Errorf("%w: ring is not closed", ErrInvalidGeometry)
		}
		for _, pt := range ring {
			if _, err := NewLocation(pt.Lat(), pt.Lon()); err != nil {
				return Polygon{}, err
			}
		}
	}

	return Polygon{Polygon: p}, nil
}

func (p Polygon) IsEmpty() bool {
	return len(p.Polygon) == 0
}

func (p Polygon) WKT() string {
	if p.IsEmpty() {
		return ""
	}
	return wkt.MarshalString(p.Polygon)
}

// Coordinates returns the rings as GeoJSON positions.
func (p Polygon) Coordinates() [][][2]float64 {
	rings := make([][][2]float64, 0, len(p.Polygon))
	for _, r := range p.Polygon {
		ring := make([][2]float64, 0, len(r))
		for _, pt := range r {
			ring = append(ring, [2]float64{pt.Lon(), pt.Lat()})
		}
		rings = append(rings, ring)
	}
	return rings
}

func (Polygon) GormDataType() string {
	return "text"
}

func (p Polygon) Value() (driver.Value, error) {
	if p.IsEmpty() {
		return nil, nil
	}
	return p.WKT(), nil
}

func (p *Polygon) Scan(value any) error {
	var s string

	switch v := value.(type) {
	case nil:
		*p = Polygon{}
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("%w: cannot scan %T into polygon", ErrInvalidGeometry, value)
	}

	if strings.TrimSpace(s) == "" {
		*p = Polygon{}
		return nil
	}

	parsed, err := ParsePolygon(s)
	if err != nil {
		return err
	}

	*p = parsed
	return nil
}

func (p Polygon) MarshalJSON() ([]byte, error) {
	if p.IsEmpty() {
		return []byte("null"), nil
	}
	return json.Marshal(p.WKT())
}

func (p *Polygon) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil {
		*p = Polygon{}
		return nil
	}
	return p.Scan(*s)
}

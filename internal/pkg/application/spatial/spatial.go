package spatial

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/facility-mgmt/internal/pkg/application/assets"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/facility-mgmt/pkg/types"
	"github.com/samber/lo"
	"github.com/umahmood/haversine"
)

var ErrInvalidQuery = errors.New("invalid query")

const (
	LayerTrees     string = "trees"
	LayerDevices   string = "devices"
	LayerEquipment string = "equipment"
	LayerRooms     string = "rooms"
)

// metersPerDegree is the length of one degree of latitude on a sphere with
// the same radius as the haversine computation.
const metersPerDegree float64 = 6371000.0 * math.Pi / 180.0

var DefaultLayers = []string{LayerTrees, LayerDevices, LayerRooms}

type RadiusQuery struct {
	Center types.Location
	Radius float64
	Layers []string
}

// ParseRadiusQuery parses the query string values of a radius search. An
// empty layers value selects the default layers.
func ParseRadiusQuery(lat, lng, radius, layers string) (RadiusQuery, error) {
	center, err := types.ParseLocation(lat, lng)
	if err != nil {
		return RadiusQuery{}, fmt.Errorf("%w: %s", ErrInvalidQuery, err.Error())
	}

	r, err := strconv.ParseFloat(strings.TrimSpace(radius), 64)
	if err != nil || math.IsNaN(r) || math.IsInf(r, 0) {
		return RadiusQuery{}, fmt.Errorf("%w: bad radius %q", ErrInvalidQuery, radius)
	}

	if r < 0 {
		return RadiusQuery{}, fmt.Errorf("%w: radius must not be negative", ErrInvalidQuery)
	}

	q := RadiusQuery{Center: center, Radius: r, Layers: DefaultLayers}

	if strings.TrimSpace(layers) != "" {
		q.Layers = lo.Uniq(lo.FilterMap(strings.Split(layers, ","), func(l string, _ int) (string, bool) {
			l = strings.ToLower(strings.TrimSpace(l))
			return l, l != ""
		}))
	}

	return q, nil
}

type Dataset struct {
	Buildings types.FeatureCollection `json:"buildings"`
	Trees     types.FeatureCollection `json:"trees"`
	Rooms     types.FeatureCollection `json:"rooms"`
	Equipment types.FeatureCollection `json:"equipment"`
	Incidents types.FeatureCollection `json:"incidents"`
}

type Service interface {
	RadiusSearch(ctx context.Context, q RadiusQuery) (map[string]types.FeatureCollection, error)
	DangerousTrees(ctx context.Context) (types.FeatureCollection, error)
	DevicesToCheck(ctx context.Context) (types.FeatureCollection, error)
	MapDataset(ctx context.Context) (Dataset, error)
}

type service struct {
	repo database.FacilityRepository
}

func New(repo database.FacilityRepository) Service {
	return &service{repo: repo}
}

// DistanceInMeters returns the great-circle distance between a and b.
func DistanceInMeters(a, b types.Location) float64 {
	_, km := haversine.Distance(
		haversine.Coord{Lat: a.Latitude, Lon: a.Longitude},
		haversine.Coord{Lat: b.Latitude, Lon: b.Longitude},
	)
	return km * 1000.0
}

// BoundsAround returns a box that contains every point within radius meters
// of center, with a margin so that the exact distance check decides.
func BoundsAround(center types.Location, radius float64) database.Bounds {
	dLat := (radius / metersPerDegree) * 1.1

	cos := math.Cos(center.Latitude * math.Pi / 180.0)
	if cos < 0.01 {
		cos = 0.01
	}
	dLon := math.Min(dLat/cos, 180)

	b := database.Bounds{
		MinLat: center.Latitude - dLat,
		MaxLat: center.Latitude + dLat,
		MinLon: center.Longitude - dLon,
		MaxLon: center.Longitude + dLon,
	}

	// a box that crosses the antimeridian or a pole spans every longitude
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		b.MinLon, b.MaxLon = -180, 180
	}

	b.MinLat = math.Max(b.MinLat, -90)
	b.MaxLat = math.Min(b.MaxLat, 90)

	return b
}

func (s *service) RadiusSearch(ctx context.Context, q RadiusQuery) (map[string]types.FeatureCollection, error) {
	if q.Radius < 0 {
		return nil, fmt.Errorf("%w: radius must not be negative", ErrInvalidQuery)
	}

	bounds := BoundsAround(q.Center, q.Radius)
	inRange := func(l *types.Location) bool {
		return l != nil && DistanceInMeters(q.Center, *l) <= q.Radius
	}

	result := map[string]types.FeatureCollection{}

	for _, layer := range q.Layers {
		fc := types.NewFeatureCollection()

		switch layer {
		case LayerTrees:
			trees, err := s.repo.TreesWithin(ctx, bounds)
			if err != nil {
				return nil, err
			}
			for _, t := range trees {
				if inRange(t.Location()) {
					fc.Add(TreeFeature(t))
				}
			}
		case LayerDevices, LayerEquipment:
			equipment, err := s.repo.EquipmentWithin(ctx, bounds)
			if err != nil {
				return nil, err
			}
			for _, e := range equipment {
				if inRange(e.Location()) {
					fc.Add(EquipmentFeature(e))
				}
			}
		case LayerRooms:
			rooms, err := s.repo.RoomsWithin(ctx, bounds)
			if err != nil {
				return nil, err
			}
			for _, r := range rooms {
				if inRange(r.Location()) {
					fc.Add(RoomFeature(r))
				}
			}
		default:
			continue
		}

		result[layer] = fc
	}

	return result, nil
}

func (s *service) DangerousTrees(ctx context.Context) (types.FeatureCollection, error) {
	fc := types.NewFeatureCollection()

	trees, err := s.repo.GetTreesByHealthStatus(ctx, types.TreeDangerous)
	if err != nil {
		return fc, err
	}

	for _, t := range trees {
		if t.Location() != nil {
			fc.Add(TreeFeature(t))
		}
	}

	return fc, nil
}

func (s *service) DevicesToCheck(ctx context.Context) (types.FeatureCollection, error) {
	fc := types.NewFeatureCollection()

	equipment, err := s.repo.GetEquipmentNotInStatus(ctx, types.EquipmentGood)
	if err != nil {
		return fc, err
	}

	for _, e := range equipment {
		if e.Location() == nil {
			continue
		}

		f := EquipmentFeature(e)
		f.Properties["room"] = ""
		if e.Room != nil {
			f.Properties["room"] = e.Room.Name
		}

		fc.Add(f)
	}

	return fc, nil
}

func (s *service) MapDataset(ctx context.Context) (Dataset, error) {
	ds := Dataset{
		Buildings: types.NewFeatureCollection(),
		Trees:     types.NewFeatureCollection(),
		Rooms:     types.NewFeatureCollection(),
		Equipment: types.NewFeatureCollection(),
		Incidents: types.NewFeatureCollection(),
	}

	buildings, err := s.repo.GetBuildings(ctx)
	if err != nil {
		return ds, err
	}
	for _, b := range buildings {
		if !b.Geom.IsEmpty() {
			ds.Buildings.Add(BuildingFeature(b))
		}
	}

	trees, err := s.repo.GetTrees(ctx)
	if err != nil {
		return ds, err
	}
	for _, t := range trees {
		if t.Location() != nil {
			ds.Trees.Add(TreeFeature(t))
		}
	}

	rooms, err := s.repo.GetRooms(ctx)
	if err != nil {
		return ds, err
	}
	for _, r := range rooms {
		if r.Location() != nil {
			ds.Rooms.Add(RoomFeature(r))
		}
	}

	equipment, err := s.repo.GetEquipment(ctx)
	if err != nil {
		return ds, err
	}
	for _, e := range equipment {
		if e.Location() != nil {
			ds.Equipment.Add(EquipmentFeature(e))
		}
	}

	incidents, err := s.repo.GetIncidents(ctx)
	if err != nil {
		return ds, err
	}
	for _, i := range incidents {
		if i.Location() != nil {
			ds.Incidents.Add(IncidentFeature(i))
		}
	}

	return ds, nil
}

func TreeFeature(t database.Tree) types.Feature {
	return types.NewPointFeature(t.ID, *t.Location(), map[string]any{
		"id":            t.ID,
		"type":          "tree",
		"code":          t.Code,
		"species":       t.Species,
		"health_status": t.HealthStatus,
	})
}

func EquipmentFeature(e database.Equipment) types.Feature {
	return types.NewPointFeature(e.ID, *e.Location(), map[string]any{
		"id":             e.ID,
		"type":           "equipment",
		"code":           e.Code,
		"name":           e.Name,
		"equipment_type": e.EquipmentType,
		"status":         e.Status,
	})
}

func RoomFeature(r database.Room) types.Feature {
	building := ""
	if r.Building != nil {
		building = r.Building.Name
	}

	return types.NewPointFeature(r.ID, *r.Location(), map[string]any{
		"id":        r.ID,
		"type":      "room",
		"name":      r.Name,
		"room_type": r.RoomType,
		"status":    r.Status,
		"building":  building,
	})
}

func BuildingFeature(b database.Building) types.Feature {
	return types.NewPolygonFeature(b.ID, b.Geom, map[string]any{
		"id":          b.ID,
		"type":        "building",
		"name":        b.Name,
		"description": b.Description,
	})
}

func IncidentFeature(i database.Incident) types.Feature {
	props := map[string]any{
		"id":                 i.ID,
		"type":               "incident",
		"title":              i.Title,
		"description":        i.Description,
		"status":             i.Status,
		"status_label":       types.IncidentStatusLabel(i.Status),
		"priority":           i.Priority,
		"priority_label":     types.PriorityLabel(i.Priority),
		"reported_at":        i.ReportedAt.UTC().Format(time.RFC3339),
		"incident_type_name": "",
		"incident_type_code": "",
		"asset_id":           i.AssetID,
		"asset_type":         "",
		"asset_label":        "",
		"search_text":        "",
	}

	if i.IncidentType != nil {
		props["incident_type_name"] = i.IncidentType.Name
		props["incident_type_code"] = i.IncidentType.Code
	}

	if i.Asset != nil {
		props["asset_type"] = i.Asset.AssetType
		props["asset_label"] = assets.Label(*i.Asset)
		props["search_text"] = assets.SearchText(*i.Asset)
	}

	return types.NewPointFeature(i.ID, *i.Location(), props)
}

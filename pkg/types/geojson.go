package types

const (
	FeatureCollectionType string = "FeatureCollection"
	FeatureType           string = "Feature"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

func NewFeatureCollection() FeatureCollection {
	return FeatureCollection{
		Type:     FeatureCollectionType,
		Features: []Feature{},
	}
}

func (fc *FeatureCollection) Add(f Feature) {
	fc.Features = append(fc.Features, f)
}

type Feature struct {
	ID         uint           `json:"id"`
	Type       string         `json:"type"`
	Geometry   any            `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type PointGeometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

type PolygonGeometry struct {
	Type        string          `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

func NewPointFeature(id uint, location Location, properties map[string]any) Feature {
	return Feature{
		ID:   id,
		Type: FeatureType,
		Geometry: PointGeometry{
			Type:        "Point",
			Coordinates: [2]float64{location.Longitude, location.Latitude},
		},
		Properties: properties,
	}
}

func NewPolygonFeature(id uint, polygon Polygon, properties map[string]any) Feature {
	return Feature{
		ID:   id,
		Type: FeatureType,
		Geometry: PolygonGeometry{
			Type:        "Polygon",
			Coordinates: polygon.Coordinates(),
		},
		Properties: properties,
	}
}

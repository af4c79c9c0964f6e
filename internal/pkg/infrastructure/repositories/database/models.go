package database

import (
	"time"

	"github.com/diwise/facility-mgmt/pkg/types"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// PointGeometry is embedded by every entity that may carry a point location.
// Both columns are NULL when the location is unknown.
type PointGeometry struct {
	Latitude  *float64 `gorm:"index" json:"latitude"`
	Longitude *float64 `gorm:"index" json:"longitude"`
}

func (p PointGeometry) Location() *types.Location {
	if p.Latitude == nil || p.Longitude == nil {
		return nil
	}
	return &types.Location{Latitude: *p.Latitude, Longitude: *p.Longitude}
}

func (p *PointGeometry) SetLocation(l *types.Location) {
	if l == nil {
		p.Latitude, p.Longitude = nil, nil
		return
	}
	lat, lon := l.Latitude, l.Longitude
	p.Latitude, p.Longitude = &lat, &lon
}

func NewPointGeometry(lat, lon float64) PointGeometry {
	return PointGeometry{Latitude: &lat, Longitude: &lon}
}

type Building struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	Name        string        `gorm:"not null" json:"name"`
	Description string        `json:"description"`
	Geom        types.Polygon `json:"geom_wkt"`
	CreatedAt   time.Time     `json:"-"`
	UpdatedAt   time.Time     `json:"-"`
}

type Room struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"not null" json:"name"`
	RoomType   string    `gorm:"not null;default:classroom" json:"room_type"`
	Capacity   *int      `json:"capacity"`
	BuildingID uint      `gorm:"not null;index" json:"building_id"`
	Building   *Building `gorm:"constraint:OnDelete:CASCADE;" json:"building,omitempty"`
	PointGeometry
	Status    string      `gorm:"not null;default:available" json:"status"`
	Equipment []Equipment `gorm:"constraint:OnDelete:SET NULL;" json:"equipment,omitempty"`
	CreatedAt time.Time   `json:"-"`
	UpdatedAt time.Time   `json:"-"`
}

type Tree struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Code            string     `gorm:"uniqueIndex;not null" json:"code"`
	Species         string     `json:"species"`
	Height          *float64   `json:"height"`
	HealthStatus    string     `gorm:"not null;default:good" json:"health_status"`
	PlantedDate     *time.Time `json:"planted_date"`
	LastTrimmedDate *time.Time `json:"last_trimmed_date"`
	Note            string     `json:"note"`
	PointGeometry
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (Equipment) TableName() string {
	return "equipment"
}

type Equipment struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Code                string     `gorm:"uniqueIndex;not null" json:"code"`
	Name                string     `gorm:"not null" json:"name"`
	EquipmentType       string     `json:"equipment_type"`
	Status              string     `gorm:"not null;default:good" json:"status"`
	InstalledDate       *time.Time `json:"installed_date"`
	LastMaintenanceDate *time.Time `json:"last_maintenance_date"`
	RoomID              *uint      `gorm:"index" json:"room_id"`
	Room                *Room      `json:"room,omitempty"`
	PointGeometry
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

type Asset struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	AssetType   string     `gorm:"not null" json:"asset_type"`
	EquipmentID *uint      `gorm:"uniqueIndex" json:"equipment_id"`
	Equipment   *Equipment `gorm:"constraint:OnDelete:CASCADE;" json:"equipment,omitempty"`
	TreeID      *uint      `gorm:"uniqueIndex" json:"tree_id"`
	Tree        *Tree      `gorm:"constraint:OnDelete:CASCADE;" json:"tree,omitempty"`
	CreatedAt   time.Time  `json:"-"`
	UpdatedAt   time.Time  `json:"-"`
}

type IncidentType struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Code            string    `gorm:"uniqueIndex;not null" json:"code"`
	Name            string    `gorm:"not null" json:"name"`
	Description     string    `json:"description"`
	DefaultSeverity int       `gorm:"not null;default:1" json:"default_severity"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"-"`
}

type Incident struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	Title          string        `gorm:"not null" json:"title"`
	Description    string        `json:"description"`
	AssetID        uint          `gorm:"not null;index" json:"asset_id"`
	Asset          *Asset        `gorm:"constraint:OnDelete:CASCADE;" json:"asset,omitempty"`
	IncidentTypeID *uint         `gorm:"index" json:"incident_type_id"`
	IncidentType   *IncidentType `gorm:"constraint:OnDelete:SET NULL;" json:"incident_type,omitempty"`
	ReportedAt     time.Time     `gorm:"not null;<-:create" json:"reported_at"`
	Status         string        `gorm:"not null;default:open;index" json:"status"`
	Priority       string        `gorm:"not null;default:medium" json:"priority"`
	PointGeometry
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (i *Incident) BeforeCreate(tx *gorm.DB) error {
	if i.ReportedAt.IsZero() {
		i.ReportedAt = time.Now().UTC()
	}
	return nil
}

func (Maintenance) TableName() string {
	return "maintenance_records"
}

type Maintenance struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	AssetID         uint      `gorm:"not null;index" json:"asset_id"`
	Asset           *Asset    `gorm:"constraint:OnDelete:CASCADE;" json:"asset,omitempty"`
	MaintenanceType string    `gorm:"not null" json:"maintenance_type"`
	Date            time.Time `gorm:"not null" json:"date"`
	Cost            float64   `json:"cost"`
	StaffID         *uint     `gorm:"index" json:"staff_id"`
	Staff           *AppUser  `gorm:"constraint:OnDelete:SET NULL;" json:"staff,omitempty"`
	Note            string    `json:"note"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"-"`
}

type Role struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

type AppUser struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"not null" json:"-"`
	RoleID    *uint     `gorm:"index" json:"role_id"`
	Role      *Role     `gorm:"constraint:OnDelete:SET NULL;" json:"role,omitempty"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// PasswordCost is the bcrypt cost used when hashing AppUser passwords.
var PasswordCost = bcrypt.DefaultCost

// BeforeSave hashes the password unless it already is a bcrypt hash.
func (u *AppUser) BeforeSave(tx *gorm.DB) error {
	if u.Password == "" || IsPasswordHash(u.Password) {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), PasswordCost)
	if err != nil {
		return err
	}

	u.Password = string(hash)
	return nil
}

func (u AppUser) RoleName() string {
	if u.Role == nil {
		return ""
	}
	return u.Role.Name
}

func IsPasswordHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// Principal is the authentication identity. It is maintained from AppUser
// records and carries the platform level staff/superuser flags.
type Principal struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	IsStaff      bool       `json:"is_staff"`
	IsSuperuser  bool       `json:"is_superuser"`
	Active       bool       `json:"active"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `json:"-"`
	UpdatedAt    time.Time  `json:"-"`
}

type Summary struct {
	Buildings        int64 `json:"buildings"`
	Rooms            int64 `json:"rooms"`
	Trees            int64 `json:"trees"`
	Equipment        int64 `json:"equipment"`
	Assets           int64 `json:"assets"`
	Incidents        int64 `json:"incidents"`
	OpenIncidents    int64 `json:"open_incidents"`
	BrokenEquipment  int64 `json:"broken_equipment"`
	DangerousTrees   int64 `json:"dangerous_trees"`
	MaintenanceCount int64 `json:"maintenance"`
	Users            int64 `json:"users"`
}

// Bounds is a latitude/longitude box used to prefilter spatial queries.
type Bounds struct {
	MinLon float64
	MaxLon float64
	MinLat float64
	MaxLat float64
}

package crud

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/diwise/facility-mgmt/internal/pkg/application/assets"
	"github.com/diwise/facility-mgmt/internal/pkg/application/identity"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/facility-mgmt/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// RegisterResources mounts every admin resource on r.
func RegisterResources(r chi.Router, log zerolog.Logger, db *gorm.DB, users identity.Service) error {
	return errors.Join(
		Register(r, log, db, Buildings()),
		Register(r, log, db, Rooms(db)),
		Register(r, log, db, Trees()),
		Register(r, log, db, Equipment(db)),
		Register(r, log, db, Assets(db)),
		Register(r, log, db, IncidentTypes()),
		Register(r, log, db, Incidents(db)),
		Register(r, log, db, Maintenance(db)),
		Register(r, log, db, Roles()),
		Register(r, log, db, AppUsers(db, users)),
	)
}

type BuildingInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description"`
	GeomWKT     string `json:"geom_wkt"`
}

func Buildings() Resource[database.Building, BuildingInput] {
	return Resource[database.Building, BuildingInput]{
		Name:   "buildings",
		Search: []string{"buildings.name", "buildings.description"},
		Order:  "buildings.name",
		ID:     func(m *database.Building) uint { return m.ID },
		Bind: func(ctx context.Context, in BuildingInput, m *database.Building, creating bool) error {
			m.Name, m.Description = in.Name, in.Description

			if strings.TrimSpace(in.GeomWKT) == "" {
				if m.Geom.IsEmpty() {
					return types.FieldErrors{"geom_wkt": "enter a WKT polygon"}
				}
				return nil
			}

			p, err := types.ParsePolygon(in.GeomWKT)
			if err != nil {
				return types.FieldErrors{"geom_wkt": err.Error()}
			}
			m.Geom = p

			return nil
		},
	}
}

type RoomInput struct {
	Name       string `json:"name" validate:"required,max=100"`
	RoomType   string `json:"room_type" validate:"omitempty,oneof=classroom lab library office hall"`
	Capacity   *int   `json:"capacity" validate:"omitempty,gte=0"`
	BuildingID uint   `json:"building" validate:"required"`
	Status     string `json:"status" validate:"omitempty,oneof=available unavailable"`
	PointInput
}

var roomTypeLabels = map[string]string{
	types.RoomClassroom: "Classroom",
	types.RoomLab:       "Laboratory",
	types.RoomLibrary:   "Library",
	types.RoomOffice:    "Office",
	types.RoomHall:      "Hall",
}

func Rooms(db *gorm.DB) Resource[database.Room, RoomInput] {
	return Resource[database.Room, RoomInput]{
		Name:          "rooms",
		Search:        []string{"rooms.name", "buildings.name", "rooms.room_type"},
		SearchNumeric: []string{"rooms.capacity"},
		Labels:        map[string]map[string]string{"rooms.room_type": roomTypeLabels},
		Joins:         []string{"LEFT JOIN buildings ON buildings.id = rooms.building_id"},
		Filters: map[string]string{
			"room_type": "rooms.room_type",
			"building":  "rooms.building_id",
			"status":    "rooms.status",
		},
		Order:   "rooms.name",
		Preload: []string{"Building"},
		ID:      func(m *database.Room) uint { return m.ID },
		Bind: func(ctx context.Context, in RoomInput, m *database.Room, creating bool) error {
			location, fe := in.Location()
			if fe != nil {
				return fe
			}

			if err := mustExist[database.Building](ctx, db, "building", in.BuildingID); err != nil {
				return err
			}

			m.Name = in.Name
			m.RoomType = firstOf(in.RoomType, m.RoomType, types.RoomClassroom)
			m.Capacity = in.Capacity
			m.BuildingID = in.BuildingID
			m.Status = firstOf(in.Status, m.Status, types.RoomAvailable)
			m.SetLocation(location)

			return nil
		},
	}
}

type TreeInput struct {
	Code            string     `json:"code" validate:"required,max=50"`
	Species         string     `json:"species" validate:"max=200"`
	Height          *float64   `json:"height" validate:"omitempty,gte=0"`
	HealthStatus    string     `json:"health_status" validate:"omitempty,oneof=good diseased dangerous"`
	PlantedDate     *time.Time `json:"planted_date"`
	LastTrimmedDate *time.Time `json:"last_trimmed_date"`
	Note            string     `json:"note"`
	PointInput
}

func Trees() Resource[database.Tree, TreeInput] {
	return Resource[database.Tree, TreeInput]{
		Name:    "trees",
		Search:  []string{"trees.code", "trees.species"},
		Filters: map[string]string{"status": "trees.health_status"},
		Order:   "trees.code",
		Unique: []Unique[database.Tree]{
			{Field: "code", Column: "code", Value: func(m *database.Tree) any { return m.Code }},
		},
		ID: func(m *database.Tree) uint { return m.ID },
		Bind: func(ctx context.Context, in TreeInput, m *database.Tree, creating bool) error {
			location, fe := in.Location()
			if fe != nil {
				return fe
			}

			m.Code = strings.TrimSpace(in.Code)
			m.Species = in.Species
			m.Height = in.Height
			m.HealthStatus = firstOf(in.HealthStatus, m.HealthStatus, types.TreeGood)
			m.PlantedDate = in.PlantedDate
			m.LastTrimmedDate = in.LastTrimmedDate
			m.Note = in.Note
			m.SetLocation(location)

			return nil
		},
	}
}

type EquipmentInput struct {
	Code                string     `json:"code" validate:"required,max=50"`
	Name                string     `json:"name" validate:"required,max=200"`
	EquipmentType       string     `json:"equipment_type" validate:"max=100"`
	Status              string     `json:"status" validate:"omitempty,oneof=good broken maintenance"`
	InstalledDate       *time.Time `json:"installed_date"`
	LastMaintenanceDate *time.Time `json:"last_maintenance_date"`
	RoomID              *uint      `json:"room"`
	PointInput
}

func Equipment(db *gorm.DB) Resource[database.Equipment, EquipmentInput] {
	return Resource[database.Equipment, EquipmentInput]{
		Name:    "equipment",
		Search:  []string{"equipment.code", "equipment.name", "equipment.equipment_type", "rooms.name"},
		Joins:   []string{"LEFT JOIN rooms ON rooms.id = equipment.room_id"},
		Filters: map[string]string{"status": "equipment.status"},
		Order:   "equipment.code",
		Preload: []string{"Room"},
		Unique: []Unique[database.Equipment]{
			{Field: "code", Column: "code", Value: func(m *database.Equipment) any { return m.Code }},
		},
		ID: func(m *database.Equipment) uint { return m.ID },
		Bind: func(ctx context.Context, in EquipmentInput, m *database.Equipment, creating bool) error {
			location, fe := in.Location()
			if fe != nil {
				return fe
			}

			if in.RoomID != nil {
				if err := mustExist[database.Room](ctx, db, "room", *in.RoomID); err != nil {
					return err
				}
			}

			m.Code = strings.TrimSpace(in.Code)
			m.Name = in.Name
			m.EquipmentType = in.EquipmentType
			m.Status = firstOf(in.Status, m.Status, types.EquipmentGood)
			m.InstalledDate = in.InstalledDate
			m.LastMaintenanceDate = in.LastMaintenanceDate
			m.RoomID = in.RoomID
			m.SetLocation(location)

			return nil
		},
	}
}

type AssetInput struct {
	AssetType   string `json:"asset_type" validate:"required,oneof=equipment tree"`
	EquipmentID *uint  `json:"equipment"`
	TreeID      *uint  `json:"tree"`
}

func Assets(db *gorm.DB) Resource[database.Asset, AssetInput] {
	return Resource[database.Asset, AssetInput]{
		Name:    "assets",
		Filters: map[string]string{"asset_type": "assets.asset_type"},
		Order:   "assets.id",
		Preload: []string{"Equipment", "Tree"},
		Unique: []Unique[database.Asset]{
			{Field: "equipment", Column: "equipment_id", Value: func(m *database.Asset) any { return lo.FromPtr(m.EquipmentID) }},
			{Field: "tree", Column: "tree_id", Value: func(m *database.Asset) any { return lo.FromPtr(m.TreeID) }},
		},
		ID: func(m *database.Asset) uint { return m.ID },
		Bind: func(ctx context.Context, in AssetInput, m *database.Asset, creating bool) error {
			m.AssetType, m.EquipmentID, m.TreeID = in.AssetType, in.EquipmentID, in.TreeID
			m.Equipment, m.Tree = nil, nil

			if err := assets.Validate(*m); err != nil {
				return types.FieldErrors{"asset_type": err.Error()}
			}

			if m.EquipmentID != nil {
				return mustExist[database.Equipment](ctx, db, "equipment", *m.EquipmentID)
			}
			return mustExist[database.Tree](ctx, db, "tree", *m.TreeID)
		},
	}
}

type IncidentTypeInput struct {
	Code            string `json:"code" validate:"required,max=50"`
	Name            string `json:"name" validate:"required,max=200"`
	Description     string `json:"description"`
	DefaultSeverity int    `json:"default_severity" validate:"omitempty,min=1,max=5"`
}

func IncidentTypes() Resource[database.IncidentType, IncidentTypeInput] {
	return Resource[database.IncidentType, IncidentTypeInput]{
		Name:   "incident-types",
		Search: []string{"incident_types.code", "incident_types.name"},
		Order:  "incident_types.code",
		Unique: []Unique[database.IncidentType]{
			{Field: "code", Column: "code", Value: func(m *database.IncidentType) any { return m.Code }},
		},
		ID: func(m *database.IncidentType) uint { return m.ID },
		Bind: func(ctx context.Context, in IncidentTypeInput, m *database.IncidentType, creating bool) error {
			m.Code = strings.TrimSpace(in.Code)
			m.Name = in.Name
			m.Description = in.Description
			m.DefaultSeverity = lo.Ternary(in.DefaultSeverity == 0, 1, in.DefaultSeverity)
			return nil
		},
	}
}

type IncidentInput struct {
	Title          string `json:"title" validate:"required,max=200"`
	Description    string `json:"description"`
	Status         string `json:"status" validate:"omitempty,oneof=open processing closed"`
	Priority       string `json:"priority" validate:"omitempty,oneof=low medium high"`
	AssetID        uint   `json:"asset" validate:"required"`
	IncidentTypeID *uint  `json:"incident_type"`
	PointInput
}

func Incidents(db *gorm.DB) Resource[database.Incident, IncidentInput] {
	return Resource[database.Incident, IncidentInput]{
		Name: "incidents",
		Search: []string{
			"incidents.title", "incidents.description",
			"equipment.code", "equipment.name", "trees.code", "trees.species",
			"incident_types.name",
		},
		Labels: map[string]map[string]string{"incidents.priority": priorityLabels()},
		Joins: []string{
			"LEFT JOIN assets ON assets.id = incidents.asset_id",
			"LEFT JOIN equipment ON equipment.id = assets.equipment_id",
			"LEFT JOIN trees ON trees.id = assets.tree_id",
			"LEFT JOIN incident_types ON incident_types.id = incidents.incident_type_id",
		},
		Filters: map[string]string{"status": "incidents.status"},
		Order:   "incidents.reported_at DESC, incidents.id DESC",
		Preload: []string{"Asset", "Asset.Equipment", "Asset.Tree", "IncidentType"},
		ID:      func(m *database.Incident) uint { return m.ID },
		Bind: func(ctx context.Context, in IncidentInput, m *database.Incident, creating bool) error {
			location, fe := in.Location()
			if fe != nil {
				return fe
			}

			if err := mustExist[database.Asset](ctx, db, "asset", in.AssetID); err != nil {
				return err
			}

			if in.IncidentTypeID != nil {
				if err := mustExist[database.IncidentType](ctx, db, "incident_type", *in.IncidentTypeID); err != nil {
					return err
				}
			}

			m.Title = in.Title
			m.Description = in.Description
			m.Status = firstOf(in.Status, m.Status, types.IncidentOpen)
			m.Priority = firstOf(in.Priority, m.Priority, types.PriorityMedium)
			m.AssetID = in.AssetID
			m.IncidentTypeID = in.IncidentTypeID
			m.SetLocation(location)

			return nil
		},
	}
}

type MaintenanceInput struct {
	AssetID         uint       `json:"asset" validate:"required"`
	StaffID         *uint      `json:"staff"`
	MaintenanceType string     `json:"maintenance_type" validate:"required,oneof=repair inspection trim replace"`
	Date            *time.Time `json:"date"`
	Cost            float64    `json:"cost" validate:"gte=0"`
	Note            string     `json:"note"`
}

func Maintenance(db *gorm.DB) Resource[database.Maintenance, MaintenanceInput] {
	return Resource[database.Maintenance, MaintenanceInput]{
		Name:    "maintenance",
		Filters: map[string]string{"maintenance_type": "maintenance_records.maintenance_type"},
		Order:   "maintenance_records.date DESC, maintenance_records.id DESC",
		Preload: []string{"Asset", "Asset.Equipment", "Asset.Tree", "Staff"},
		ID:      func(m *database.Maintenance) uint { return m.ID },
		Bind: func(ctx context.Context, in MaintenanceInput, m *database.Maintenance, creating bool) error {
			if err := mustExist[database.Asset](ctx, db, "asset", in.AssetID); err != nil {
				return err
			}

			if in.StaffID != nil {
				if err := mustExist[database.AppUser](ctx, db, "staff", *in.StaffID); err != nil {
					return err
				}
			}

			m.AssetID = in.AssetID
			m.StaffID = in.StaffID
			m.MaintenanceType = in.MaintenanceType
			m.Cost = in.Cost
			m.Note = in.Note

			if in.Date != nil {
				m.Date = in.Date.UTC()
			} else if creating {
				m.Date = time.Now().UTC()
			}

			return nil
		},
	}
}

type RoleInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

func Roles() Resource[database.Role, RoleInput] {
	return Resource[database.Role, RoleInput]{
		Name:   "roles",
		Search: []string{"roles.name"},
		Order:  "roles.name",
		Unique: []Unique[database.Role]{
			{Field: "name", Column: "name", Value: func(m *database.Role) any { return m.Name }},
		},
		ID: func(m *database.Role) uint { return m.ID },
		Bind: func(ctx context.Context, in RoleInput, m *database.Role, creating bool) error {
			m.Name = strings.TrimSpace(in.Name)
			return nil
		},
	}
}

type AppUserInput struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password"`
	RoleID   *uint  `json:"role"`
}

// AppUsers saves through the identity service so that every change is
// mirrored into the authentication principal.
func AppUsers(db *gorm.DB, users identity.Service) Resource[database.AppUser, AppUserInput] {
	return Resource[database.AppUser, AppUserInput]{
		Name:    "users",
		Search:  []string{"app_users.username"},
		Filters: map[string]string{"role": "app_users.role_id"},
		Order:   "app_users.username",
		Preload: []string{"Role"},
		Unique: []Unique[database.AppUser]{
			{Field: "username", Column: "username", Value: func(m *database.AppUser) any { return m.Username }},
		},
		ID: func(m *database.AppUser) uint { return m.ID },
		Bind: func(ctx context.Context, in AppUserInput, m *database.AppUser, creating bool) error {
			if creating && in.Password == "" {
				return types.FieldErrors{"password": "this field is required"}
			}

			if in.RoleID != nil {
				if err := mustExist[database.Role](ctx, db, "role", *in.RoleID); err != nil {
					return err
				}
			}

			m.Username = strings.TrimSpace(in.Username)
			m.RoleID = in.RoleID
			m.Role = nil

			if in.Password != "" {
				m.Password = in.Password
			}

			return nil
		},
		Save: func(ctx context.Context, previous, m *database.AppUser) error {
			if err := users.SaveUser(ctx, m); err != nil {
				return err
			}

			if previous != nil && previous.Username != m.Username {
				return users.DeactivateUser(ctx, previous.Username)
			}

			return nil
		},
		Deleted: func(ctx context.Context, rows []database.AppUser) error {
			var errs []error
			for _, u := range rows {
				errs = append(errs, users.DeactivateUser(ctx, u.Username))
			}
			return errors.Join(errs...)
		},
	}
}

func priorityLabels() map[string]string {
	labels := map[string]string{}
	for _, p := range []string{types.PriorityLow, types.PriorityMedium, types.PriorityHigh} {
		labels[p] = types.PriorityLabel(p)
	}
	return labels
}

func mustExist[M any](ctx context.Context, db *gorm.DB, field string, id uint) error {
	var count int64

	err := db.WithContext(ctx).Model(new(M)).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return err
	}

	if count == 0 {
		return types.FieldErrors{field: "unknown " + strings.ReplaceAll(field, "_", " ")}
	}

	return nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

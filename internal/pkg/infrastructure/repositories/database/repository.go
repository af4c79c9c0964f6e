package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/facility-mgmt/pkg/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = fmt.Errorf("not found")
var ErrRepositoryError = fmt.Errorf("could not fetch data from repository")

// Models lists every entity managed by the store, in migration order.
func Models() []any {
	return []any{
		&Building{}, &Room{}, &Tree{}, &Equipment{}, &Asset{},
		&IncidentType{}, &Incident{}, &Role{}, &AppUser{}, &Maintenance{}, &Principal{},
	}
}

func New(connect ConnectorFunc) (FacilityRepository, error) {
	impl, _, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(Models()...)
	if err != nil {
		return nil, err
	}

	return &facilityRepository{
		db: impl,
	}, nil
}

type FacilityRepository interface {
	DB() *gorm.DB

	GetPrincipal(ctx context.Context, username string) (Principal, error)
	SavePrincipal(ctx context.Context, principal *Principal) error
	GetAppUser(ctx context.Context, username string) (AppUser, error)
	SaveAppUser(ctx context.Context, user *AppUser) error
	GetOrCreateRole(ctx context.Context, name string) (Role, error)

	GetBuildings(ctx context.Context) ([]Building, error)
	GetRooms(ctx context.Context) ([]Room, error)
	GetTrees(ctx context.Context) ([]Tree, error)
	GetEquipment(ctx context.Context) ([]Equipment, error)
	GetAssets(ctx context.Context) ([]Asset, error)
	GetAsset(ctx context.Context, id uint) (Asset, error)
	GetIncidentTypes(ctx context.Context) ([]IncidentType, error)
	GetIncidents(ctx context.Context, statuses ...string) ([]Incident, error)

	TreesWithin(ctx context.Context, b Bounds) ([]Tree, error)
	EquipmentWithin(ctx context.Context, b Bounds) ([]Equipment, error)
	RoomsWithin(ctx context.Context, b Bounds) ([]Room, error)
	GetTreesByHealthStatus(ctx context.Context, statuses ...string) ([]Tree, error)
	GetEquipmentNotInStatus(ctx context.Context, status string) ([]Equipment, error)

	AddIncident(ctx context.Context, incident *Incident) error
	AddMaintenance(ctx context.Context, maintenance *Maintenance) error
	GetRecentMaintenance(ctx context.Context, limit int) ([]Maintenance, error)

	GetSummary(ctx context.Context) (Summary, error)
}

type facilityRepository struct {
	db *gorm.DB
}

func (r *facilityRepository) DB() *gorm.DB {
	return r.db
}

func (r *facilityRepository) GetPrincipal(ctx context.Context, username string) (Principal, error) {
	p := Principal{}
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&p).Error
	return p, r.mapError(ctx, err)
}

func (r *facilityRepository) SavePrincipal(ctx context.Context, principal *Principal) error {
	if principal.ID == 0 {
		existing, err := r.GetPrincipal(ctx, principal.Username)
		if err == nil {
			principal.ID = existing.ID
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	return r.db.WithContext(ctx).Save(principal).Error
}

func (r *facilityRepository) GetAppUser(ctx context.Context, username string) (AppUser, error) {
	u := AppUser{}
	err := r.db.WithContext(ctx).
		Preload("Role").
		Where("username = ?", username).
		First(&u).Error
	return u, r.mapError(ctx, err)
}

func (r *facilityRepository) SaveAppUser(ctx context.Context, user *AppUser) error {
	if user.ID == 0 {
		existing, err := r.GetAppUser(ctx, user.Username)
		if err == nil {
			user.ID = existing.ID
			if user.Password == "" {
				user.Password = existing.Password
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	return r.db.WithContext(ctx).Omit(clause.Associations).Save(user).Error
}

func (r *facilityRepository) GetOrCreateRole(ctx context.Context, name string) (Role, error) {
	if strings.TrimSpace(name) == "" {
		return Role{}, fmt.Errorf("role name must not be empty")
	}

	role := Role{}
	err := r.db.WithContext(ctx).Where("name = ?", name).Attrs(Role{Name: name}).FirstOrCreate(&role).Error
	return role, err
}

func (r *facilityRepository) GetBuildings(ctx context.Context) ([]Building, error) {
	var buildings []Building
	err := r.db.WithContext(ctx).Order("id").Find(&buildings).Error
	return buildings, err
}

func (r *facilityRepository) GetRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	err := r.db.WithContext(ctx).
		Preload("Building").
		Preload("Equipment", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Order("id").
		Find(&rooms).Error
	return rooms, err
}

func (r *facilityRepository) GetTrees(ctx context.Context) ([]Tree, error) {
	var trees []Tree
	err := r.db.WithContext(ctx).Order("id").Find(&trees).Error
	return trees, err
}

func (r *facilityRepository) GetEquipment(ctx context.Context) ([]Equipment, error) {
	var equipment []Equipment
	err := r.db.WithContext(ctx).Preload("Room").Order("id").Find(&equipment).Error
	return equipment, err
}

func (r *facilityRepository) assets(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Equipment").
		Preload("Tree")
}

func (r *facilityRepository) GetAssets(ctx context.Context) ([]Asset, error) {
	var assets []Asset
	err := r.assets(ctx).Order("id").Find(&assets).Error
	return assets, err
}

func (r *facilityRepository) GetAsset(ctx context.Context, id uint) (Asset, error) {
	asset := Asset{}
	err := r.assets(ctx).First(&asset, id).Error
	return asset, r.mapError(ctx, err)
}

func (r *facilityRepository) GetIncidentTypes(ctx context.Context) ([]IncidentType, error) {
	var incidentTypes []IncidentType
	err := r.db.WithContext(ctx).Order("id").Find(&incidentTypes).Error
	return incidentTypes, err
}

func (r *facilityRepository) GetIncidents(ctx context.Context, statuses ...string) ([]Incident, error) {
	var incidents []Incident

	query := r.db.WithContext(ctx).
		Preload("Asset.Equipment").
		Preload("Asset.Tree").
		Preload("IncidentType")

	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	err := query.Order("id").Find(&incidents).Error
	return incidents, err
}

func within(db *gorm.DB, b Bounds) *gorm.DB {
	return db.
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Where("latitude BETWEEN ? AND ?", b.MinLat, b.MaxLat).
		Where("longitude BETWEEN ? AND ?", b.MinLon, b.MaxLon).
		Order("id")
}

func (r *facilityRepository) TreesWithin(ctx context.Context, b Bounds) ([]Tree, error) {
	var trees []Tree
	err := within(r.db.WithContext(ctx), b).Find(&trees).Error
	return trees, err
}

func (r *facilityRepository) EquipmentWithin(ctx context.Context, b Bounds) ([]Equipment, error) {
	var equipment []Equipment
	err := within(r.db.WithContext(ctx), b).Find(&equipment).Error
	return equipment, err
}

func (r *facilityRepository) RoomsWithin(ctx context.Context, b Bounds) ([]Room, error) {
	var rooms []Room
	err := within(r.db.WithContext(ctx).Preload("Building"), b).Find(&rooms).Error
	return rooms, err
}

func (r *facilityRepository) GetTreesByHealthStatus(ctx context.Context, statuses ...string) ([]Tree, error) {
	var trees []Tree
	err := r.db.WithContext(ctx).
		Where("health_status IN ?", statuses).
		Order("id").
		Find(&trees).Error
	return trees, err
}

func (r *facilityRepository) GetEquipmentNotInStatus(ctx context.Context, status string) ([]Equipment, error) {
	var equipment []Equipment
	err := r.db.WithContext(ctx).
		Preload("Room").
		Where("status <> ?", status).
		Order("id").
		Find(&equipment).Error
	return equipment, err
}

func (r *facilityRepository) AddIncident(ctx context.Context, incident *Incident) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(incident).Error
}

func (r *facilityRepository) AddMaintenance(ctx context.Context, maintenance *Maintenance) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(maintenance).Error
}

func (r *facilityRepository) GetRecentMaintenance(ctx context.Context, limit int) ([]Maintenance, error) {
	var records []Maintenance
	err := r.db.WithContext(ctx).
		Preload("Asset.Equipment").
		Preload("Asset.Tree").
		Preload("Staff").
		Order("date DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *facilityRepository) GetSummary(ctx context.Context) (Summary, error) {
	s := Summary{}
	db := r.db.WithContext(ctx)

	counts := []struct {
		dst   *int64
		model any
		where []any
	}{
		{&s.Buildings, &Building{}, nil},
		{&s.Rooms, &Room{}, nil},
		{&s.Trees, &Tree{}, nil},
		{&s.Equipment, &Equipment{}, nil},
		{&s.Assets, &Asset{}, nil},
		{&s.Incidents, &Incident{}, nil},
		{&s.OpenIncidents, &Incident{}, []any{"status = ?", types.IncidentOpen}},
		{&s.BrokenEquipment, &Equipment{}, []any{"status = ?", types.EquipmentBroken}},
		{&s.DangerousTrees, &Tree{}, []any{"health_status = ?", types.TreeDangerous}},
		{&s.MaintenanceCount, &Maintenance{}, nil},
		{&s.Users, &AppUser{}, nil},
	}

	for _, c := range counts {
		query := db.Model(c.model)
		if len(c.where) > 0 {
			query = query.Where(c.where[0], c.where[1:]...)
		}
		if err := query.Count(c.dst).Error; err != nil {
			return Summary{}, err
		}
	}

	return s, nil
}

func (r *facilityRepository) mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	logger := logging.GetFromContext(ctx)
	logger.Error().Err(err).Msg("gorm error")

	return fmt.Errorf("%w: %s", ErrRepositoryError, err.Error())
}

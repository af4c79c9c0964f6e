package facility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/facility-mgmt/internal/pkg/application/assets"
	"github.com/diwise/facility-mgmt/internal/pkg/application/events"
	"github.com/diwise/facility-mgmt/internal/pkg/application/identity"
	"github.com/diwise/facility-mgmt/internal/pkg/application/validation"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/facility-mgmt/pkg/types"
	"github.com/samber/lo"
)

const recentMaintenanceLimit int = 20

type IncidentReport struct {
	Title          string `json:"title" validate:"required,max=200"`
	Description    string `json:"description"`
	AssetID        uint   `json:"asset" validate:"required"`
	IncidentTypeID *uint  `json:"incident_type"`
	Priority       string `json:"priority" validate:"omitempty,oneof=low medium high"`

	// Submitted status and location are ignored, a new incident is always open
	// and located where its asset is.
	Status    string   `json:"status"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type MaintenanceEntry struct {
	AssetID         uint       `json:"asset" validate:"required"`
	MaintenanceType string     `json:"maintenance_type" validate:"required,oneof=repair inspection trim replace"`
	Date            *time.Time `json:"date"`
	Cost            float64    `json:"cost" validate:"gte=0"`
	Note            string     `json:"note"`
}

type AssetOverview struct {
	ID         uint            `json:"id"`
	AssetType  string          `json:"asset_type"`
	Label      string          `json:"label"`
	SearchText string          `json:"search_text"`
	Location   *types.Location `json:"location,omitempty"`
}

type Overview struct {
	Assets           []AssetOverview        `json:"assets"`
	Maintenance      []database.Maintenance `json:"maintenance"`
	OpenIncidents    []database.Incident    `json:"open_incidents"`
	MaintenanceTypes []string               `json:"maintenance_types"`
}

type IncidentsOverview struct {
	Incidents     []database.Incident     `json:"incidents"`
	Assets        []AssetOverview         `json:"assets"`
	IncidentTypes []database.IncidentType `json:"incident_types"`
	Priorities    []string                `json:"priorities"`
}

type RoomOverview struct {
	ID             uint       `json:"id"`
	Name           string     `json:"name"`
	RoomType       string     `json:"room_type"`
	Status         string     `json:"status"`
	Building       string     `json:"building"`
	EquipmentCount int        `json:"equipment_count"`
	Condition      RoomStatus `json:"condition"`
}

type Service interface {
	Overview(ctx context.Context) (Overview, error)
	LogMaintenance(ctx context.Context, staff identity.Identity, entry MaintenanceEntry) (database.Maintenance, error)
	Incidents(ctx context.Context) (IncidentsOverview, error)
	ReportIncident(ctx context.Context, reporter identity.Identity, report IncidentReport) (database.Incident, error)
	TeacherRooms(ctx context.Context) ([]RoomOverview, error)
	Summary(ctx context.Context) (database.Summary, error)
}

type service struct {
	repo   database.FacilityRepository
	sender events.EventSender
}

func New(repo database.FacilityRepository, sender events.EventSender) Service {
	return &service{
		repo:   repo,
		sender: sender,
	}
}

func (s *service) assetOverviews(ctx context.Context) ([]AssetOverview, error) {
	all, err := s.repo.GetAssets(ctx)
	if err != nil {
		return nil, err
	}

	return lo.Map(all, func(a database.Asset, _ int) AssetOverview {
		return AssetOverview{
			ID:         a.ID,
			AssetType:  a.AssetType,
			Label:      assets.Label(a),
			SearchText: assets.SearchText(a),
			Location:   assets.Location(a),
		}
	}), nil
}

func (s *service) Overview(ctx context.Context) (Overview, error) {
	list, err := s.assetOverviews(ctx)
	if err != nil {
		return Overview{}, err
	}

	maintenance, err := s.repo.GetRecentMaintenance(ctx, recentMaintenanceLimit)
	if err != nil {
		return Overview{}, err
	}

	incidents, err := s.repo.GetIncidents(ctx, types.IncidentOpen)
	if err != nil {
		return Overview{}, err
	}

	return Overview{
		Assets:        list,
		Maintenance:   maintenance,
		OpenIncidents: incidents,
		MaintenanceTypes: []string{
			types.MaintenanceRepair, types.MaintenanceInspection, types.MaintenanceTrim, types.MaintenanceReplace,
		},
	}, nil
}

func (s *service) LogMaintenance(ctx context.Context, staff identity.Identity, entry MaintenanceEntry) (database.Maintenance, error) {
	if fe := validation.Struct(entry); fe != nil {
		return database.Maintenance{}, fe
	}

	asset, _, err := s.asset(ctx, entry.AssetID)
	if err != nil {
		return database.Maintenance{}, err
	}

	m := database.Maintenance{
		AssetID:         asset.ID,
		MaintenanceType: entry.MaintenanceType,
		Date:            time.Now().UTC(),
		Cost:            entry.Cost,
		Note:            entry.Note,
	}

	if entry.Date != nil {
		m.Date = entry.Date.UTC()
	}

	if staff.AppUserID != 0 {
		id := staff.AppUserID
		m.StaffID = &id
	}

	if err := s.repo.AddMaintenance(ctx, &m); err != nil {
		return database.Maintenance{}, fmt.Errorf("failed to log maintenance: %w", err)
	}

	s.send(ctx, &types.MaintenanceLogged{
		MaintenanceID:   m.ID,
		AssetID:         m.AssetID,
		MaintenanceType: m.MaintenanceType,
		Staff:           staff.Username,
		Cost:            m.Cost,
		Timestamp:       m.Date,
	})

	return m, nil
}

func (s *service) Incidents(ctx context.Context) (IncidentsOverview, error) {
	incidents, err := s.repo.GetIncidents(ctx)
	if err != nil {
		return IncidentsOverview{}, err
	}

	list, err := s.assetOverviews(ctx)
	if err != nil {
		return IncidentsOverview{}, err
	}

	incidentTypes, err := s.repo.GetIncidentTypes(ctx)
	if err != nil {
		return IncidentsOverview{}, err
	}

	return IncidentsOverview{
		Incidents:     incidents,
		Assets:        list,
		IncidentTypes: incidentTypes,
		Priorities:    []string{types.PriorityLow, types.PriorityMedium, types.PriorityHigh},
	}, nil
}

// ReportIncident creates an open incident located at the current position of
// the referenced asset.
func (s *service) ReportIncident(ctx context.Context, reporter identity.Identity, report IncidentReport) (database.Incident, error) {
	if fe := validation.Struct(report); fe != nil {
		return database.Incident{}, fe
	}

	asset, kind, err := s.asset(ctx, report.AssetID)
	if err != nil {
		return database.Incident{}, err
	}

	location := assets.Location(asset)
	if location == nil {
		return database.Incident{}, types.FieldErrors{"asset": "the selected asset has no location"}
	}

	if report.IncidentTypeID != nil {
		known, err := s.repo.GetIncidentTypes(ctx)
		if err != nil {
			return database.Incident{}, err
		}
		if !lo.ContainsBy(known, func(it database.IncidentType) bool { return it.ID == *report.IncidentTypeID }) {
			return database.Incident{}, types.FieldErrors{"incident_type": "unknown incident type"}
		}
	}

	incident := database.Incident{
		Title:          report.Title,
		Description:    report.Description,
		AssetID:        asset.ID,
		IncidentTypeID: report.IncidentTypeID,
		ReportedAt:     time.Now().UTC(),
		Status:         types.IncidentOpen,
		Priority:       lo.Ternary(report.Priority == "", types.PriorityMedium, report.Priority),
	}
	incident.SetLocation(location)

	if err := s.repo.AddIncident(ctx, &incident); err != nil {
		return database.Incident{}, fmt.Errorf("failed to report incident: %w", err)
	}

	incident.Asset = &asset

	s.send(ctx, &types.IncidentReported{
		IncidentID: incident.ID,
		AssetID:    asset.ID,
		AssetType:  string(kind),
		Title:      incident.Title,
		Priority:   incident.Priority,
		ReportedBy: reporter.Username,
		Location:   location,
		Timestamp:  incident.ReportedAt,
	})

	return incident, nil
}

func (s *service) TeacherRooms(ctx context.Context) ([]RoomOverview, error) {
	rooms, err := s.repo.GetRooms(ctx)
	if err != nil {
		return nil, err
	}

	return lo.Map(rooms, func(r database.Room, _ int) RoomOverview {
		building := ""
		if r.Building != nil {
			building = r.Building.Name
		}

		statuses := lo.Map(r.Equipment, func(e database.Equipment, _ int) string { return e.Status })

		return RoomOverview{
			ID:             r.ID,
			Name:           r.Name,
			RoomType:       r.RoomType,
			Status:         r.Status,
			Building:       building,
			EquipmentCount: len(r.Equipment),
			Condition:      AggregateRoomStatus(statuses),
		}
	}), nil
}

func (s *service) Summary(ctx context.Context) (database.Summary, error) {
	return s.repo.GetSummary(ctx)
}

// asset loads an asset together with the equipment or tree it stands for.
func (s *service) asset(ctx context.Context, id uint) (database.Asset, assets.Kind, error) {
	asset, err := s.repo.GetAsset(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Asset{}, "", types.FieldErrors{"asset": "unknown asset"}
		}
		return database.Asset{}, "", err
	}

	kind, _, _, err := assets.Resolve(asset)
	if err != nil {
		return database.Asset{}, "", types.FieldErrors{"asset": err.Error()}
	}

	return asset, kind, nil
}

func (s *service) send(ctx context.Context, e events.Event) {
	if s.sender == nil {
		return
	}

	if err := s.sender.Send(ctx, e); err != nil {
		logger := logging.GetFromContext(ctx)
		logger.Warn().Err(err).Str("type", e.EventType()).Msg("failed to deliver event")
	}
}

package facility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diwise/facility-mgmt/internal/pkg/application/events"
	"github.com/diwise/facility-mgmt/internal/pkg/application/identity"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/facility-mgmt/pkg/types"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func TestAggregateRoomStatus(t *testing.T) {
	is := is.New(t)

	is.Equal(AggregateRoomStatus(nil), RoomStatus{"No equipment", "neutral"})
	is.Equal(AggregateRoomStatus([]string{"good", "good"}), RoomStatus{"Good", "success"})
	is.Equal(AggregateRoomStatus([]string{"good", "maintenance"}), RoomStatus{"Under repair", "warning"})
	is.Equal(AggregateRoomStatus([]string{"maintenance", "broken", "good"}), RoomStatus{"Broken", "danger"})
}

func TestReportIncidentCopiesAssetGeometryAndForcesOpen(t *testing.T) {
	is, ctx, svc, fixture := testSetup(t)

	lat, lon := 1.0, 2.0
	incident, err := svc.ReportIncident(ctx, staff, IncidentReport{
		Title:     "Projector flickers",
		AssetID:   fixture.equipmentAsset,
		Priority:  types.PriorityHigh,
		Status:    types.IncidentClosed,
		Latitude:  &lat,
		Longitude: &lon,
	})
	is.NoErr(err)

	is.Equal(incident.Status, types.IncidentOpen)
	is.Equal(*incident.Location(), types.Location{Latitude: 10.7626, Longitude: 106.6602})
	is.True(time.Since(incident.ReportedAt) < time.Minute)

	is.Equal(len(fixture.sender.SendCalls()), 1)
	evt := fixture.sender.SendCalls()[0].E.(*types.IncidentReported)
	is.Equal(evt.IncidentID, incident.ID)
	is.Equal(evt.ReportedBy, "staff1")
	is.Equal(evt.AssetType, "equipment")
}

func TestReportIncidentDefaultsToMediumPriority(t *testing.T) {
	is, ctx, svc, fixture := testSetup(t)

	incident, err := svc.ReportIncident(ctx, staff, IncidentReport{Title: "Leaning", AssetID: fixture.treeAsset})
	is.NoErr(err)
	is.Equal(incident.Priority, types.PriorityMedium)
	is.Equal(*incident.Location(), types.Location{Latitude: 10.7630, Longitude: 106.6610})
}

func TestReportIncidentRejectsAssetWithoutLocation(t *testing.T) {
	is, ctx, svc, fixture := testSetup(t)

	_, err := svc.ReportIncident(ctx, staff, IncidentReport{Title: "No power", AssetID: fixture.unplacedAsset})

	var fe types.FieldErrors
	is.True(errors.As(err, &fe))
	is.True(fe["asset"] != "")
	is.Equal(len(fixture.sender.SendCalls()), 0)
}

func TestReportIncidentValidatesPayload(t *testing.T) {
	is, ctx, svc, fixture := testSetup(t)

	_, err := svc.ReportIncident(ctx, staff, IncidentReport{AssetID: fixture.treeAsset, Priority: "urgent"})

	var fe types.FieldErrors
	is.True(errors.As(err, &fe))
	is.Equal(len(fe), 2) // title and priority

	_, err = svc.ReportIncident(ctx, staff, IncidentReport{Title: "x", AssetID: 4711})
	is.True(errors.As(err, &fe))
	is.Equal(fe["asset"], "unknown asset")

	unknownType := uint(4711)
	_, err = svc.ReportIncident(ctx, staff, IncidentReport{Title: "x", AssetID: fixture.treeAsset, IncidentTypeID: &unknownType})
	is.True(errors.As(err, &fe))
	is.Equal(fe["incident_type"], "unknown incident type")
}

func TestReportIncidentSucceedsWhenEventDeliveryFails(t *testing.T) {
	is, ctx, svc, fixture := testSetup(t)

	fixture.sender.SendFunc = func(ctx context.Context, e events.Event) error {
		return errors.New("subscriber down")
	}

	_, err := svc.ReportIncident(ctx, staff, IncidentReport{Title: "Leaning", AssetID: fixture.treeAsset})
	is.NoErr(err)
}

func TestLogMaintenance(t *testing.T) {
	is, ctx, svc, fixture := testSetup(t)

	m, err := svc.LogMaintenance(ctx, staff, MaintenanceEntry{
		AssetID:         fixture.treeAsset,
		MaintenanceType: types.MaintenanceTrim,
		Cost:            150000,
	})
	is.NoErr(err)
	is.True(m.ID != 0)
	is.Equal(*m.StaffID, staff.AppUserID)

	overview, err := svc.Overview(ctx)
	is.NoErr(err)
	is.Equal(len(overview.Maintenance), 1)
	is.Equal(overview.Maintenance[0].Staff.Username, "staff1")
	is.Equal(len(overview.Assets), 3)
	is.Equal(overview.Assets[1].Label, "Tree T-001 - Dipterocarpus alatus")

	evt := fixture.sender.SendCalls()[0].E.(*types.MaintenanceLogged)
	is.Equal(evt.MaintenanceType, "trim")

	_, err = svc.LogMaintenance(ctx, staff, MaintenanceEntry{AssetID: fixture.treeAsset, MaintenanceType: "paint"})
	var fe types.FieldErrors
	is.True(errors.As(err, &fe))
	is.True(fe["maintenance_type"] != "")
}

func TestTeacherRooms(t *testing.T) {
	is, ctx, svc, _ := testSetup(t)

	rooms, err := svc.TeacherRooms(ctx)
	is.NoErr(err)
	is.Equal(len(rooms), 2)

	is.Equal(rooms[0].Name, "A101")
	is.Equal(rooms[0].Building, "Building A")
	is.Equal(rooms[0].EquipmentCount, 2)
	is.Equal(rooms[0].Condition, RoomStatus{"Broken", "danger"})

	is.Equal(rooms[1].Name, "A102")
	is.Equal(rooms[1].Condition, RoomStatus{"No equipment", "neutral"})
}

func TestSummaryCountsOpenIncidents(t *testing.T) {
	is, ctx, svc, fixture := testSetup(t)

	_, err := svc.ReportIncident(ctx, staff, IncidentReport{Title: "Leaning", AssetID: fixture.treeAsset})
	is.NoErr(err)

	s, err := svc.Summary(ctx)
	is.NoErr(err)
	is.Equal(s.OpenIncidents, int64(1))
	is.Equal(s.BrokenEquipment, int64(1))
}

var staff identity.Identity

type testFixture struct {
	sender         *events.EventSenderMock
	equipmentAsset uint
	treeAsset      uint
	unplacedAsset  uint
}

func testSetup(t *testing.T) (*is.I, context.Context, Service, *testFixture) {
	is := is.New(t)
	ctx := context.Background()

	database.PasswordCost = bcrypt.MinCost

	repo, err := database.New(database.NewSQLiteConnector(zerolog.Logger{}, ""))
	is.NoErr(err)

	db := repo.DB()

	building := &database.Building{Name: "Building A"}
	is.NoErr(db.Create(building).Error)

	a101 := &database.Room{Name: "A101", BuildingID: building.ID}
	is.NoErr(db.Create(a101).Error)
	is.NoErr(db.Create(&database.Room{Name: "A102", BuildingID: building.ID}).Error)

	projector := &database.Equipment{Code: "EQ-001", Name: "Projector", Status: types.EquipmentBroken, RoomID: &a101.ID, PointGeometry: database.NewPointGeometry(10.7626, 106.6602)}
	is.NoErr(db.Create(projector).Error)
	fan := &database.Equipment{Code: "EQ-002", Name: "Fan", Status: types.EquipmentGood, RoomID: &a101.ID}
	is.NoErr(db.Create(fan).Error)
	tree := &database.Tree{Code: "T-001", Species: "Dipterocarpus alatus", HealthStatus: types.TreeGood, PointGeometry: database.NewPointGeometry(10.7630, 106.6610)}
	is.NoErr(db.Create(tree).Error)

	f := &testFixture{
		sender: &events.EventSenderMock{
			SendFunc: func(ctx context.Context, e events.Event) error { return nil },
		},
	}

	eqAsset := &database.Asset{AssetType: types.AssetEquipment, EquipmentID: &projector.ID}
	is.NoErr(db.Create(eqAsset).Error)
	treeAsset := &database.Asset{AssetType: types.AssetTree, TreeID: &tree.ID}
	is.NoErr(db.Create(treeAsset).Error)
	fanAsset := &database.Asset{AssetType: types.AssetEquipment, EquipmentID: &fan.ID}
	is.NoErr(db.Create(fanAsset).Error)

	f.equipmentAsset, f.treeAsset, f.unplacedAsset = eqAsset.ID, treeAsset.ID, fanAsset.ID

	role, err := repo.GetOrCreateRole(ctx, "facility_staff")
	is.NoErr(err)
	user := &database.AppUser{Username: "staff1", Password: "changeme", RoleID: &role.ID}
	is.NoErr(repo.SaveAppUser(ctx, user))

	staff = identity.Identity{Username: "staff1", Authenticated: true, Role: identity.FacilityStaff, AppUserID: user.ID}

	return is, ctx, New(repo, f.sender), f
}

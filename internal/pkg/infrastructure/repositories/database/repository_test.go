package database

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diwise/facility-mgmt/pkg/types"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func TestSeedCreatesTreesEquipmentAndAssets(t *testing.T) {
	is, ctx, repo := testSetup(t)

	assets, err := repo.GetAssets(ctx)
	is.NoErr(err)
	is.Equal(len(assets), 3)

	is.Equal(assets[0].AssetType, types.AssetTree)
	is.Equal(assets[0].Tree.Code, "T-001")
	is.Equal(assets[1].AssetType, types.AssetEquipment)
	is.Equal(assets[1].Equipment.Code, "EQ-001")
	is.True(assets[1].Equipment.RoomID != nil)
	is.True(assets[2].Equipment.Location() == nil)
}

func TestSeedIsIdempotent(t *testing.T) {
	is, ctx, repo := testSetup(t)

	is.NoErr(Seed(ctx, repo, bytes.NewBufferString(csvAssets)))

	assets, err := repo.GetAssets(ctx)
	is.NoErr(err)
	is.Equal(len(assets), 3)
}

func TestThatSeedFailsOnDuplicateCode(t *testing.T) {
	is, ctx, repo := testSetup(t)
	err := Seed(ctx, repo, bytes.NewBufferString(csvWithDuplicates))
	is.True(err != nil)
}

func TestThatSeedFailsOnBadLatitude(t *testing.T) {
	is, ctx, repo := testSetup(t)
	err := Seed(ctx, repo, bytes.NewBufferString(csvWithBadLatitude))
	is.True(errors.Is(err, types.ErrInvalidGeometry))
}

func TestThatSeedFailsOnUnknownKind(t *testing.T) {
	is, ctx, repo := testSetup(t)
	err := Seed(ctx, repo, bytes.NewBufferString(csvWithUnknownKind))
	is.True(err != nil)
}

func TestThatSeedFailsOnBadStatus(t *testing.T) {
	is, ctx, repo := testSetup(t)
	err := Seed(ctx, repo, bytes.NewBufferString(csvWithBadStatus))
	is.True(err != nil)
}

func TestDeletingEquipmentDeletesItsAsset(t *testing.T) {
	is, ctx, repo := testSetup(t)

	table, err := NewTable[Equipment](repo.DB())
	is.NoErr(err)

	eq, err := repo.GetEquipment(ctx)
	is.NoErr(err)

	n, err := table.Delete(ctx, eq[0].ID)
	is.NoErr(err)
	is.Equal(n, int64(1))

	assets, err := repo.GetAssets(ctx)
	is.NoErr(err)
	is.Equal(len(assets), 2)
}

func TestDeletingRoomKeepsEquipment(t *testing.T) {
	is, ctx, repo := testSetup(t)

	rooms, err := NewTable[Room](repo.DB())
	is.NoErr(err)

	_, err = rooms.Delete(ctx, 1)
	is.NoErr(err)

	eq, err := repo.GetEquipment(ctx)
	is.NoErr(err)
	is.Equal(len(eq), 2)
	is.True(eq[0].RoomID == nil)
}

func TestDeletingBuildingDeletesRooms(t *testing.T) {
	is, ctx, repo := testSetup(t)

	buildings, err := NewTable[Building](repo.DB())
	is.NoErr(err)

	_, err = buildings.Delete(ctx, 1)
	is.NoErr(err)

	rooms, err := repo.GetRooms(ctx)
	is.NoErr(err)
	is.Equal(len(rooms), 0)
}

func TestAppUserPasswordIsHashedOnlyOnce(t *testing.T) {
	is, ctx, repo := testSetup(t)

	u := &AppUser{Username: "thao", Password: "secret"}
	is.NoErr(repo.SaveAppUser(ctx, u))
	is.True(IsPasswordHash(u.Password))
	is.NoErr(bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("secret")))

	hash := u.Password
	is.NoErr(repo.SaveAppUser(ctx, u))

	fromDb, err := repo.GetAppUser(ctx, "thao")
	is.NoErr(err)
	is.Equal(fromDb.Password, hash)
}

func TestGetAppUserIsCaseSensitive(t *testing.T) {
	is, ctx, repo := testSetup(t)

	role, err := repo.GetOrCreateRole(ctx, "teacher")
	is.NoErr(err)

	is.NoErr(repo.SaveAppUser(ctx, &AppUser{Username: "Lan", Password: "pw", RoleID: &role.ID}))

	u, err := repo.GetAppUser(ctx, "Lan")
	is.NoErr(err)
	is.Equal(u.RoleName(), "teacher")

	_, err = repo.GetAppUser(ctx, "lan")
	is.True(errors.Is(err, ErrNotFound))
}

func TestBlankUsernameMatchesNobody(t *testing.T) {
	is, ctx, repo := testSetup(t)

	is.NoErr(repo.SaveAppUser(ctx, &AppUser{Username: "root", Password: "pw"}))
	is.NoErr(repo.SavePrincipal(ctx, &Principal{Username: "root", PasswordHash: "x", Active: true}))

	_, err := repo.GetAppUser(ctx, "")
	is.True(errors.Is(err, ErrNotFound))

	_, err = repo.GetPrincipal(ctx, "")
	is.True(errors.Is(err, ErrNotFound))

	teacher, err := repo.GetOrCreateRole(ctx, "teacher")
	is.NoErr(err)
	again, err := repo.GetOrCreateRole(ctx, "teacher")
	is.NoErr(err)
	is.Equal(again.ID, teacher.ID)

	_, err = repo.GetOrCreateRole(ctx, "")
	is.True(err != nil)
}

func TestWithinBoundsSkipsRowsWithoutLocation(t *testing.T) {
	is, ctx, repo := testSetup(t)

	b := Bounds{MinLat: 10.0, MaxLat: 11.0, MinLon: 106.0, MaxLon: 107.0}

	trees, err := repo.TreesWithin(ctx, b)
	is.NoErr(err)
	is.Equal(len(trees), 1)

	eq, err := repo.EquipmentWithin(ctx, b)
	is.NoErr(err)
	is.Equal(len(eq), 1)

	trees, err = repo.TreesWithin(ctx, Bounds{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1})
	is.NoErr(err)
	is.Equal(len(trees), 0)
}

func TestIncidentReportedAtCannotBeChanged(t *testing.T) {
	is, ctx, repo := testSetup(t)

	reported := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	incident := &Incident{Title: "Fallen branch", AssetID: 1, ReportedAt: reported, Status: types.IncidentOpen, Priority: types.PriorityHigh}
	is.NoErr(repo.AddIncident(ctx, incident))

	table, err := NewTable[Incident](repo.DB())
	is.NoErr(err)

	incident.ReportedAt = reported.Add(48 * time.Hour)
	incident.Status = types.IncidentClosed
	is.NoErr(table.Save(ctx, incident))

	fromDb, err := table.Get(ctx, incident.ID)
	is.NoErr(err)
	is.Equal(fromDb.Status, types.IncidentClosed)
	is.True(fromDb.ReportedAt.Equal(reported))
}

func TestTableFindSearchFilterAndPaging(t *testing.T) {
	is, ctx, repo := testSetup(t)

	table, err := NewTable[Equipment](repo.DB())
	is.NoErr(err)
	is.Equal(table.Name(), "equipment")

	result, err := table.Find(ctx, Query{Search: "PROJ", SearchColumns: []string{"equipment.name", "equipment.code"}})
	is.NoErr(err)
	is.Equal(result.TotalCount, uint64(1))
	is.Equal(result.Data[0].Code, "EQ-001")

	result, err = table.Find(ctx, Query{Filters: map[string]any{"equipment.status": types.EquipmentMaintenance}})
	is.NoErr(err)
	is.Equal(len(result.Data), 1)
	is.Equal(result.Data[0].Code, "EQ-002")

	result, err = table.Find(ctx, Query{
		Search:        "a101",
		SearchColumns: []string{"rooms.name"},
		Joins:         []string{"LEFT JOIN rooms ON rooms.id = equipment.room_id"},
		Preload:       []string{"Room"},
	})
	is.NoErr(err)
	is.Equal(len(result.Data), 1)
	is.Equal(result.Data[0].Room.Name, "A101")

	result, err = table.Find(ctx, Query{Offset: 1, Limit: 1})
	is.NoErr(err)
	is.Equal(result.TotalCount, uint64(2))
	is.Equal(len(result.Data), 1)
	is.Equal(result.Data[0].Code, "EQ-002")
}

func TestTableTaken(t *testing.T) {
	is, ctx, repo := testSetup(t)

	table, err := NewTable[Tree](repo.DB())
	is.NoErr(err)

	taken, err := table.Taken(ctx, "code", "T-001", 0)
	is.NoErr(err)
	is.True(taken)

	taken, err = table.Taken(ctx, "code", "T-001", 1)
	is.NoErr(err)
	is.True(!taken)

	_, err = table.Get(ctx, 4711)
	is.True(errors.Is(err, ErrNotFound))
}

func TestSummary(t *testing.T) {
	is, ctx, repo := testSetup(t)

	s, err := repo.GetSummary(ctx)
	is.NoErr(err)
	is.Equal(s.Buildings, int64(1))
	is.Equal(s.Rooms, int64(1))
	is.Equal(s.Trees, int64(1))
	is.Equal(s.Equipment, int64(2))
	is.Equal(s.Assets, int64(3))
	is.Equal(s.DangerousTrees, int64(1))
	is.Equal(s.BrokenEquipment, int64(1))
}

func testSetup(t *testing.T) (*is.I, context.Context, FacilityRepository) {
	is := is.New(t)
	ctx := context.Background()

	PasswordCost = bcrypt.MinCost

	repo, err := New(NewSQLiteConnector(zerolog.Logger{}, ""))
	is.NoErr(err)

	db := repo.DB()
	polygon, err := types.ParsePolygon("POLYGON((106.0 10.0, 106.1 10.0, 106.1 10.1, 106.0 10.0))")
	is.NoErr(err)

	building := &Building{Name: "Building A", Geom: polygon}
	is.NoErr(db.Create(building).Error)
	is.NoErr(db.Create(&Room{Name: "A101", BuildingID: building.ID, PointGeometry: NewPointGeometry(10.05, 106.05)}).Error)

	is.NoErr(Seed(ctx, repo, bytes.NewBufferString(csvAssets)))

	return is, ctx, repo
}

const csvAssets string = `kind;code;name;type;status;lat;lon;room
tree;T-001;Dipterocarpus alatus;;dangerous;10.7626;106.6602;
equipment;EQ-001;Projector;projector;broken;10.7627;106.6603;A101
equipment;EQ-002;Air conditioner;ac;maintenance;;;`

const csvWithDuplicates string = `kind;code;name;type;status;lat;lon;room
tree;T-002;Hopea odorata;;good;10.0;106.0;
tree;T-002;Hopea odorata;;good;10.0;106.0;`

const csvWithBadLatitude string = `kind;code;name;type;status;lat;lon;room
tree;T-002;Hopea odorata;;good;gurka;106.0;`

const csvWithUnknownKind string = `kind;code;name;type;status;lat;lon;room
bench;B-001;Bench;;good;10.0;106.0;`

const csvWithBadStatus string = `kind;code;name;type;status;lat;lon;room
tree;T-002;Hopea odorata;;gurka;10.0;106.0;`

package crud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/diwise/facility-mgmt/internal/pkg/application/identity"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/go-chi/chi/v5"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func TestCreateTreeRejectsDuplicateCode(t *testing.T) {
	is, h, _ := testSetup(t)

	tree := map[string]any{"code": "T-001", "species": "Hopea odorata", "latitude": 10.79, "longitude": 106.66}

	w := do(h, http.MethodPost, "/admin/trees/", tree)
	is.Equal(w.Code, http.StatusCreated)

	created := struct{ Data database.Tree }{}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &created))
	is.Equal(created.Data.Code, "T-001")
	is.Equal(created.Data.HealthStatus, "good")
	is.Equal(*created.Data.Latitude, 10.79)

	w = do(h, http.MethodPost, "/admin/trees/", tree)
	is.Equal(w.Code, http.StatusConflict)
	is.Equal(fieldErrors(t, w)["code"], "already exists")
}

func TestUpdateKeepsOwnCode(t *testing.T) {
	is, h, _ := testSetup(t)

	id := create(t, h, "trees", map[string]any{"code": "T-001", "latitude": 10.79, "longitude": 106.66})

	w := do(h, http.MethodPut, fmt.Sprintf("/admin/trees/%d", id), map[string]any{
		"code": "T-001", "health_status": "dangerous", "latitude": 10.8, "longitude": 106.7,
	})
	is.Equal(w.Code, http.StatusOK)

	updated := struct{ Data database.Tree }{}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &updated))
	is.Equal(updated.Data.HealthStatus, "dangerous")
	is.Equal(*updated.Data.Longitude, 106.7)
}

func TestPointEntitiesRequireBothCoordinates(t *testing.T) {
	is, h, _ := testSetup(t)

	w := do(h, http.MethodPost, "/admin/trees/", map[string]any{"code": "T-001", "latitude": 10.79})
	is.Equal(w.Code, http.StatusBadRequest)
	is.True(fieldErrors(t, w)["latitude"] != "")

	w = do(h, http.MethodPost, "/admin/trees/", map[string]any{"code": "T-001", "latitude": 91, "longitude": 106.66})
	is.Equal(w.Code, http.StatusBadRequest)
	is.True(fieldErrors(t, w)["latitude"] != "")
}

func TestPayloadIsValidated(t *testing.T) {
	is, h, _ := testSetup(t)

	w := do(h, http.MethodPost, "/admin/trees/", map[string]any{"health_status": "sick", "latitude": 10.79, "longitude": 106.66})
	is.Equal(w.Code, http.StatusBadRequest)

	fe := fieldErrors(t, w)
	is.Equal(fe["code"], "this field is required")
	is.Equal(fe["health_status"], "must be one of [good diseased dangerous]")

	req := httptest.NewRequest(http.MethodPost, "/admin/trees/", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	is.Equal(rec.Code, http.StatusBadRequest)
}

func TestBuildingGeometry(t *testing.T) {
	is, h, _ := testSetup(t)

	w := do(h, http.MethodPost, "/admin/buildings/", map[string]any{"name": "A"})
	is.Equal(w.Code, http.StatusBadRequest)
	is.Equal(fieldErrors(t, w)["geom_wkt"], "enter a WKT polygon")

	w = do(h, http.MethodPost, "/admin/buildings/", map[string]any{"name": "A", "geom_wkt": "POINT(106.665 10.798)"})
	is.Equal(w.Code, http.StatusBadRequest)
	is.True(fieldErrors(t, w)["geom_wkt"] != "")

	id := create(t, h, "buildings", map[string]any{
		"name":     "A",
		"geom_wkt": "POLYGON((106.665 10.798, 106.666 10.798, 106.666 10.799, 106.665 10.798))",
	})

	w = do(h, http.MethodPut, fmt.Sprintf("/admin/buildings/%d", id), map[string]any{"name": "Building A"})
	is.Equal(w.Code, http.StatusOK)

	updated := struct{ Data database.Building }{}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &updated))
	is.Equal(updated.Data.Name, "Building A")
	is.True(!updated.Data.Geom.IsEmpty())
}

func TestGetUnknownOrMalformedID(t *testing.T) {
	is, h, _ := testSetup(t)

	is.Equal(do(h, http.MethodGet, "/admin/buildings/4711", nil).Code, http.StatusNotFound)
	is.Equal(do(h, http.MethodGet, "/admin/buildings/abc", nil).Code, http.StatusBadRequest)
	is.Equal(do(h, http.MethodPut, "/admin/buildings/4711", map[string]any{"name": "x"}).Code, http.StatusNotFound)
	is.Equal(do(h, http.MethodDelete, "/admin/buildings/4711", nil).Code, http.StatusNotFound)
}

func TestListSearchFilterAndPaging(t *testing.T) {
	is, h, _ := testSetup(t)

	create(t, h, "trees", map[string]any{"code": "T-001", "species": "Hopea odorata", "latitude": 10.79, "longitude": 106.66})
	create(t, h, "trees", map[string]any{"code": "T-002", "species": "Dipterocarpus alatus", "health_status": "dangerous", "latitude": 10.79, "longitude": 106.66})
	create(t, h, "trees", map[string]any{"code": "T-003", "species": "Hopea odorata", "health_status": "dangerous", "latitude": 10.79, "longitude": 106.66})

	result := list[database.Tree](t, h, "/admin/trees/?q=HOPEA&status=dangerous")
	is.Equal(result.Meta.TotalRecords, uint64(1))
	is.Equal(result.Data[0].Code, "T-003")

	result = list[database.Tree](t, h, "/admin/trees/?limit=2")
	is.Equal(result.Meta.TotalRecords, uint64(3))
	is.Equal(result.Meta.Count, uint64(2))
	is.Equal(result.Data[0].Code, "T-001")
	is.Equal(*result.Links.Next, "/admin/trees/?limit=2&offset=2")
	is.Equal(result.Links.Prev, nil)

	result = list[database.Tree](t, h, "/admin/trees/?limit=2&offset=2")
	is.Equal(len(result.Data), 1)
	is.Equal(result.Links.Next, nil)

	is.Equal(do(h, http.MethodGet, "/admin/trees/?limit=-1", nil).Code, http.StatusBadRequest)
}

func TestRoomSearchMatchesLabelsAndCapacity(t *testing.T) {
	is, h, repo := testSetup(t)

	db := repo.DB()
	building := &database.Building{Name: "Building A"}
	is.NoErr(db.Create(building).Error)

	forty, thirty := 40, 30
	is.NoErr(db.Create(&database.Room{Name: "Lab 1", RoomType: "lab", Capacity: &forty, BuildingID: building.ID}).Error)
	is.NoErr(db.Create(&database.Room{Name: "A101", RoomType: "classroom", Capacity: &thirty, BuildingID: building.ID}).Error)

	result := list[database.Room](t, h, "/admin/rooms/?q=labor")
	is.Equal(len(result.Data), 1)
	is.Equal(result.Data[0].Name, "Lab 1")
	is.Equal(result.Data[0].Building.Name, "Building A")

	result = list[database.Room](t, h, "/admin/rooms/?q=30")
	is.Equal(len(result.Data), 1)
	is.Equal(result.Data[0].Name, "A101")

	result = list[database.Room](t, h, "/admin/rooms/?q=building%20a")
	is.Equal(len(result.Data), 2)
	is.Equal(result.Data[0].Name, "A101")
}

func TestRoomRequiresKnownBuilding(t *testing.T) {
	is, h, _ := testSetup(t)

	w := do(h, http.MethodPost, "/admin/rooms/", map[string]any{"name": "A101", "building": 4711, "latitude": 10.79, "longitude": 106.66})
	is.Equal(w.Code, http.StatusBadRequest)
	is.Equal(fieldErrors(t, w)["building"], "unknown building")
}

func TestAssetReferencesExactlyOneRecord(t *testing.T) {
	is, h, _ := testSetup(t)

	treeID := create(t, h, "trees", map[string]any{"code": "T-001", "latitude": 10.79, "longitude": 106.66})

	w := do(h, http.MethodPost, "/admin/assets/", map[string]any{"asset_type": "equipment", "tree": treeID})
	is.Equal(w.Code, http.StatusBadRequest)
	is.True(fieldErrors(t, w)["asset_type"] != "")

	create(t, h, "assets", map[string]any{"asset_type": "tree", "tree": treeID})

	w = do(h, http.MethodPost, "/admin/assets/", map[string]any{"asset_type": "tree", "tree": treeID})
	is.Equal(w.Code, http.StatusConflict)
	is.Equal(fieldErrors(t, w)["tree"], "already exists")
}

func TestDeleteSelected(t *testing.T) {
	is, h, _ := testSetup(t)

	first := create(t, h, "roles", map[string]any{"name": "teacher"})
	second := create(t, h, "roles", map[string]any{"name": "facility_staff"})
	create(t, h, "roles", map[string]any{"name": "admin"})

	w := do(h, http.MethodPost, "/admin/roles/delete-selected", map[string]any{"ids": []uint{first, second}})
	is.Equal(w.Code, http.StatusOK)
	is.Equal(strings.TrimSpace(w.Body.String()), `{"deleted":2}`)

	result := list[database.Role](t, h, "/admin/roles/")
	is.Equal(len(result.Data), 1)
	is.Equal(result.Data[0].Name, "admin")

	w = do(h, http.MethodPost, "/admin/roles/delete-selected", map[string]any{"ids": []uint{}})
	is.Equal(w.Code, http.StatusBadRequest)
}

func TestAppUsersAreMirroredIntoPrincipals(t *testing.T) {
	is, h, repo := testSetup(t)
	ctx := context.Background()
	users := identity.New(repo)

	roleID := create(t, h, "roles", map[string]any{"name": "Giáo viên"})

	w := do(h, http.MethodPost, "/admin/users/", map[string]any{"username": "gv1", "role": roleID})
	is.Equal(w.Code, http.StatusBadRequest)
	is.Equal(fieldErrors(t, w)["password"], "this field is required")

	userID := create(t, h, "users", map[string]any{"username": "gv1", "password": "secret", "role": roleID})

	id, err := users.Authenticate(ctx, "gv1", "secret")
	is.NoErr(err)
	is.Equal(id.Role, identity.Teacher)

	w = do(h, http.MethodGet, fmt.Sprintf("/admin/users/%d", userID), nil)
	is.Equal(w.Code, http.StatusOK)
	is.True(!strings.Contains(w.Body.String(), "password"))

	w = do(h, http.MethodPut, fmt.Sprintf("/admin/users/%d", userID), map[string]any{"username": "gv2", "role": roleID})
	is.Equal(w.Code, http.StatusOK)

	_, err = users.Authenticate(ctx, "gv1", "secret")
	is.True(errors.Is(err, identity.ErrInvalidCredentials))
	_, err = users.Authenticate(ctx, "gv2", "secret")
	is.NoErr(err)

	is.Equal(do(h, http.MethodDelete, fmt.Sprintf("/admin/users/%d", userID), nil).Code, http.StatusNoContent)

	_, err = users.Authenticate(ctx, "gv2", "secret")
	is.True(errors.Is(err, identity.ErrInvalidCredentials))
}

type listResult[M any] struct {
	Meta struct {
		TotalRecords uint64 `json:"totalRecords"`
		Count        uint64 `json:"count"`
	} `json:"meta"`
	Data  []M `json:"data"`
	Links struct {
		Next *string `json:"next"`
		Prev *string `json:"prev"`
	} `json:"links"`
}

func list[M any](t *testing.T, h http.Handler, path string) listResult[M] {
	is := is.New(t)

	w := do(h, http.MethodGet, path, nil)
	is.Equal(w.Code, http.StatusOK)

	result := listResult[M]{}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

func create(t *testing.T, h http.Handler, resource string, body map[string]any) uint {
	is := is.New(t)

	w := do(h, http.MethodPost, "/admin/"+resource+"/", body)
	is.Equal(w.Code, http.StatusCreated)

	created := struct {
		Data struct {
			ID uint `json:"id"`
		} `json:"data"`
	}{}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &created))
	return created.Data.ID
}

func fieldErrors(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	fe := map[string]string{}
	is.New(t).NoErr(json.Unmarshal(w.Body.Bytes(), &fe))
	return fe
}

func do(h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader = http.NoBody
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	return w
}

func testSetup(t *testing.T) (*is.I, http.Handler, database.FacilityRepository) {
	is := is.New(t)

	database.PasswordCost = bcrypt.MinCost

	repo, err := database.New(database.NewSQLiteConnector(zerolog.Logger{}, ""))
	is.NoErr(err)

	r := chi.NewRouter()
	r.Route("/admin", func(r chi.Router) {
		is.NoErr(RegisterResources(r, zerolog.Logger{}, repo.DB(), identity.New(repo)))
	})

	return is, r, repo
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"dental-bot/internal/export"
	"dental-bot/internal/models"
	"dental-bot/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type brokenRepo struct{}

func (brokenRepo) Append(context.Context, models.VisitFields) (int64, error) {
	return 0, errors.New("database is locked")
}

func (brokenRepo) ListAll(context.Context) ([]models.PatientVisit, error) {
	return nil, errors.New("database is locked")
}

func setupRouter(t *testing.T, repo repository.VisitsRepository) *Router {
	t.Helper()
	r := NewRouter(zap.NewNop())
	r.RegisterHealthRoutes()
	r.RegisterVisitRoutes(NewVisitsHandler(repo, zap.NewNop()))
	return r
}

func seededRepo(t *testing.T, n int) *repository.MemoryVisitsRepository {
	t.Helper()
	repo := repository.NewMemoryVisitsRepository()
	for i := 0; i < n; i++ {
		_, err := repo.Append(context.Background(), models.VisitFields{
			Name: "Jane Doe", Date: "01.05.2025", Service: "Teeth cleaning", Cost: float64(50 + i), Paid: "yes",
		})
		require.NoError(t, err)
	}
	return repo
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	r := setupRouter(t, seededRepo(t, 0))

	rec := do(r, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var res Result[map[string]string]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, "ok", res.Result["status"])

	assert.Equal(t, http.StatusMethodNotAllowed, do(r, http.MethodPost, "/healthz").Code)
}

func TestListVisits(t *testing.T) {
	r := setupRouter(t, seededRepo(t, 3))

	rec := do(r, http.MethodGet, "/api/v1/visits")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res Result[VisitsList]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, 3, res.Result.Total)
	require.Len(t, res.Result.Items, 3)
	assert.Equal(t, int64(1), res.Result.Items[0].ID)
	assert.Equal(t, 52.0, res.Result.Items[2].Cost)
}

func TestListVisits_Limit(t *testing.T) {
	r := setupRouter(t, seededRepo(t, 5))

	var res Result[VisitsList]
	require.NoError(t, json.Unmarshal(do(r, http.MethodGet, "/api/v1/visits?limit=2").Body.Bytes(), &res))
	assert.Equal(t, 5, res.Result.Total)
	require.Len(t, res.Result.Items, 2)
	assert.Equal(t, int64(4), res.Result.Items[0].ID)
	assert.Equal(t, int64(5), res.Result.Items[1].ID)
}

func TestListVisits_Empty(t *testing.T) {
	r := setupRouter(t, seededRepo(t, 0))

	rec := do(r, http.MethodGet, "/api/v1/visits")
	assert.JSONEq(t, `{"code":2000,"type":"success","message":"ok","result":{"items":[],"total":0}}`, rec.Body.String())
}

func TestListVisits_StoreError(t *testing.T) {
	r := setupRouter(t, brokenRepo{})

	rec := do(r, http.MethodGet, "/api/v1/visits")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var res Result[any]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, ResultStoreUnavailable, res.Code)
	assert.Equal(t, "error", res.Type)
	assert.Contains(t, res.Message, "database is locked")
}

func TestListVisits_BadLimit(t *testing.T) {
	r := setupRouter(t, brokenRepo{})

	for _, q := range []string{"abc", "-1"} {
		rec := do(r, http.MethodGet, "/api/v1/visits?limit="+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)

		var res Result[any]
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		// rejected before the store is read
		assert.Equal(t, ResultBadRequest, res.Code, q)
	}
}

func TestExportVisits(t *testing.T) {
	r := setupRouter(t, seededRepo(t, 2))

	rec := do(r, http.MethodGet, "/api/v1/visits/export")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "patients_export.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.SheetName, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, export.VisitsHeader, rows[0])
	assert.Equal(t, []string{"2", "Jane Doe", "01.05.2025", "Teeth cleaning", "51", "yes"}, rows[2])
}

func TestExportVisits_StoreError(t *testing.T) {
	r := setupRouter(t, brokenRepo{})

	rec := do(r, http.MethodGet, "/api/v1/visits/export")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var res Result[any]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, ResultStoreUnavailable, res.Code)
}

func TestExportVisits_BuildError(t *testing.T) {
	h := NewVisitsHandler(seededRepo(t, 1), zap.NewNop())
	h.build = func([]models.PatientVisit) ([]byte, error) {
		return nil, errors.New("excelize: invalid sheet name")
	}
	r := NewRouter(zap.NewNop())
	r.RegisterVisitRoutes(h)

	rec := do(r, http.MethodGet, "/api/v1/visits/export")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res Result[any]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, ResultExportFailed, res.Code)
	assert.Contains(t, res.Message, "invalid sheet name")
}

func TestVisitRoutes_MethodNotAllowed(t *testing.T) {
	r := setupRouter(t, seededRepo(t, 0))
	assert.Equal(t, http.StatusMethodNotAllowed, do(r, http.MethodDelete, "/api/v1/visits").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(r, http.MethodPost, "/api/v1/visits/export").Code)
}

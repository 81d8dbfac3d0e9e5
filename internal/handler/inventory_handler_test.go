package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/agncf/netbackup/internal/models"
	apierrors "github.com/agncf/netbackup/internal/pkg/errors"
	"github.com/agncf/netbackup/internal/service"
)

// mockInventoryService implements service.InventoryService for handler tests.
type mockInventoryService struct {
	site    *models.Site
	sites   []*models.Site
	cred    *models.CredentialSet
	creds   []*models.CredentialSet
	device  *models.Device
	devices []*models.Device
	err     error

	credReq service.CreateCredentialRequest
}

func (m *mockInventoryService) CreateSite(ctx context.Context, req service.CreateSiteRequest) (*models.Site, error) {
	return m.site, m.err
}
func (m *mockInventoryService) ListSites(ctx context.Context) ([]*models.Site, error) {
	return m.sites, m.err
}
func (m *mockInventoryService) GetSite(ctx context.Context, id uuid.UUID) (*models.Site, error) {
	return m.site, m.err
}
func (m *mockInventoryService) DeleteSite(ctx context.Context, id uuid.UUID) error { return m.err }

func (m *mockInventoryService) CreateCredential(ctx context.Context, req service.CreateCredentialRequest) (*models.CredentialSet, error) {
	m.credReq = req
	return m.cred, m.err
}
func (m *mockInventoryService) ListCredentials(ctx context.Context) ([]*models.CredentialSet, error) {
	return m.creds, m.err
}
func (m *mockInventoryService) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	return m.err
}

func (m *mockInventoryService) CreateDevice(ctx context.Context, req service.CreateDeviceRequest) (*models.Device, error) {
	return m.device, m.err
}
func (m *mockInventoryService) ListDevices(ctx context.Context) ([]*models.Device, error) {
	return m.devices, m.err
}
func (m *mockInventoryService) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	return m.device, m.err
}
func (m *mockInventoryService) UpdateDevice(ctx context.Context, id uuid.UUID, req service.UpdateDeviceRequest) (*models.Device, error) {
	return m.device, m.err
}
func (m *mockInventoryService) DeleteDevice(ctx context.Context, id uuid.UUID) error { return m.err }

func TestCreateSiteHandler(t *testing.T) {
	svc := &mockInventoryService{site: &models.Site{ID: uuid.New(), Code: "nyc01", RepoName: "site-nyc01"}}
	h := NewInventoryHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"nyc01","name":"New York 01"}`))
	rec := httptest.NewRecorder()
	h.SiteRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "site-nyc01")
}

func TestCreateSiteBadJSON(t *testing.T) {
	h := NewInventoryHandler(&mockInventoryService{})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.SiteRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSiteNotFound(t *testing.T) {
	h := NewInventoryHandler(&mockInventoryService{err: apierrors.NewNotFoundError("Site")})

	req := httptest.NewRequest(http.MethodGet, "/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	h.SiteRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCredentialNeverEchoesPassword(t *testing.T) {
	svc := &mockInventoryService{cred: &models.CredentialSet{
		ID:             uuid.New(),
		Label:          "core-routers",
		Username:       "netops",
		SealedPassword: "sealed-envelope",
	}}
	h := NewInventoryHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/",
		strings.NewReader(`{"label":"core-routers","username":"netops","password":"hunter2"}`))
	rec := httptest.NewRecorder()
	h.CredentialRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "hunter2", svc.credReq.Password)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.NotContains(t, rec.Body.String(), "sealed-envelope",
		"sealed envelopes stay server-side")
}

func TestListDevicesEmptyIsArray(t *testing.T) {
	h := NewInventoryHandler(&mockInventoryService{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.DeviceRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestUpdateDeviceInvalidID(t *testing.T) {
	h := NewInventoryHandler(&mockInventoryService{})

	req := httptest.NewRequest(http.MethodPatch, "/nope", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.DeviceRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDeviceNoContent(t *testing.T) {
	h := NewInventoryHandler(&mockInventoryService{})

	req := httptest.NewRequest(http.MethodDelete, "/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	h.DeviceRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

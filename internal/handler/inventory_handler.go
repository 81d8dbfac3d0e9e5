package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agncf/netbackup/internal/models"
	apierrors "github.com/agncf/netbackup/internal/pkg/errors"
	"github.com/agncf/netbackup/internal/pkg/response"
	"github.com/agncf/netbackup/internal/service"
)

// InventoryHandler handles site, credential, and device HTTP requests.
type InventoryHandler struct {
	inventory service.InventoryService
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(inventory service.InventoryService) *InventoryHandler {
	return &InventoryHandler{inventory: inventory}
}

// SiteRoutes returns a chi router with site routes.
func (h *InventoryHandler) SiteRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListSites)
	r.Post("/", h.CreateSite)
	r.Get("/{id}", h.GetSite)
	r.Delete("/{id}", h.DeleteSite)
	return r
}

// CredentialRoutes returns a chi router with credential set routes.
func (h *InventoryHandler) CredentialRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListCredentials)
	r.Post("/", h.CreateCredential)
	r.Delete("/{id}", h.DeleteCredential)
	return r
}

// DeviceRoutes returns a chi router with device routes.
func (h *InventoryHandler) DeviceRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListDevices)
	r.Post("/", h.CreateDevice)
	r.Get("/{id}", h.GetDevice)
	r.Patch("/{id}", h.UpdateDevice)
	r.Delete("/{id}", h.DeleteDevice)
	return r
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return uuid.Nil, false
	}
	return id, true
}

// CreateSite handles POST /api/sites
func (h *InventoryHandler) CreateSite(w http.ResponseWriter, r *http.Request) {
	var req service.CreateSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	site, err := h.inventory.CreateSite(r.Context(), req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, site)
}

// ListSites handles GET /api/sites
func (h *InventoryHandler) ListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.inventory.ListSites(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	if sites == nil {
		sites = []*models.Site{}
	}
	response.OK(w, sites)
}

// GetSite handles GET /api/sites/{id}
func (h *InventoryHandler) GetSite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	site, err := h.inventory.GetSite(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, site)
}

// DeleteSite handles DELETE /api/sites/{id}
func (h *InventoryHandler) DeleteSite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.inventory.DeleteSite(r.Context(), id); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// CreateCredential handles POST /api/credentials
func (h *InventoryHandler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	cred, err := h.inventory.CreateCredential(r.Context(), req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, cred)
}

// ListCredentials handles GET /api/credentials
func (h *InventoryHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.inventory.ListCredentials(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	if creds == nil {
		creds = []*models.CredentialSet{}
	}
	response.OK(w, creds)
}

// DeleteCredential handles DELETE /api/credentials/{id}
func (h *InventoryHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.inventory.DeleteCredential(r.Context(), id); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// CreateDevice handles POST /api/devices
func (h *InventoryHandler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var req service.CreateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	device, err := h.inventory.CreateDevice(r.Context(), req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, device)
}

// ListDevices handles GET /api/devices
func (h *InventoryHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.inventory.ListDevices(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	if devices == nil {
		devices = []*models.Device{}
	}
	response.OK(w, devices)
}

// GetDevice handles GET /api/devices/{id}
func (h *InventoryHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	device, err := h.inventory.GetDevice(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, device)
}

// UpdateDevice handles PATCH /api/devices/{id}
func (h *InventoryHandler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req service.UpdateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	device, err := h.inventory.UpdateDevice(r.Context(), id, req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, device)
}

// DeleteDevice handles DELETE /api/devices/{id}
func (h *InventoryHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.inventory.DeleteDevice(r.Context(), id); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

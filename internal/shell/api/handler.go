// Package api provides the HTTP surface over the lifecycle layer. Handlers
// stay thin: decode, resolve the caller, delegate, translate errors.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/nubo/internal/core/catalog"
	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/lifecycle"
	"github.com/artpar/nubo/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// DriverInfo answers configuration queries for the provider listing.
// Satisfied by driver.Registry.
type DriverInfo interface {
	Configured(p domain.Provider) bool
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	lifecycle *lifecycle.Service
	store     store.Store
	catalog   *catalog.Catalog
	drivers   DriverInfo
	logger    *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(lc *lifecycle.Service, s store.Store, cat *catalog.Catalog, drivers DriverInfo, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		lifecycle: lc,
		store:     s,
		catalog:   cat,
		drivers:   drivers,
		logger:    l.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Catalog
		r.Get("/providers", h.handleListProviders)

		// Instance routes
		r.Route("/instances", func(r chi.Router) {
			r.Post("/", h.handleCreateInstance)
			r.Get("/", h.handleListInstances)
			r.Get("/{id}", h.handleGetInstance)
			r.Delete("/{id}", h.handleDeleteInstance)
			r.Post("/{id}/actions/{action}", h.handleInstanceAction)
			r.Post("/{id}/refresh", h.handleRefreshInstance)
			r.Post("/{id}/transfer", h.handleTransferInstance)
		})

		// Bucket routes
		r.Route("/buckets", func(r chi.Router) {
			r.Post("/", h.handleCreateBucket)
			r.Get("/", h.handleListBuckets)
			r.Get("/{id}", h.handleGetBucket)
			r.Delete("/{id}", h.handleDeleteBucket)
			r.Post("/{id}/credentials", h.handleRotateBucketCredentials)
			r.Post("/{id}/refresh", h.handleRefreshBucket)
			r.Post("/{id}/transfer", h.handleTransferBucket)
		})

		// Registry routes
		r.Route("/registries", func(r chi.Router) {
			r.Post("/", h.handleCreateRegistry)
			r.Get("/", h.handleListRegistries)
			r.Get("/{id}", h.handleGetRegistry)
			r.Delete("/{id}", h.handleDeleteRegistry)
			r.Post("/{id}/credentials", h.handleRotateRegistryCredentials)
			r.Post("/{id}/refresh", h.handleRefreshRegistry)
			r.Post("/{id}/transfer", h.handleTransferRegistry)
		})

		// Environment routes
		r.Route("/environments", func(r chi.Router) {
			r.Post("/", h.handleCreateEnvironment)
			r.Get("/", h.handleListEnvironments)
			r.Get("/{id}", h.handleGetEnvironment)
			r.Delete("/{id}", h.handleDeleteEnvironment)
		})

		// Billing
		r.Get("/consumptions", h.handleListConsumptions)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if _, err := h.store.ListPendingTeardowns(r.Context(), 1); err != nil {
		checks["database"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["database"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Catalog Handlers
// =============================================================================

func (h *Handler) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers := h.catalog.Providers()
	resp := make([]ProviderResponse, 0, len(providers))

	for _, name := range providers {
		p, err := h.catalog.Provider(name)
		if err != nil {
			continue
		}
		resp = append(resp, h.providerToResponse(p))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Instance Handlers
// =============================================================================

func (h *Handler) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	inst, err := h.lifecycle.CreateInstance(r.Context(), lifecycle.CreateInstanceParams{
		UserID:        userID,
		Name:          req.Name,
		Provider:      domain.Provider(req.Provider),
		Region:        req.Region,
		Zone:          req.Zone,
		Type:          req.Type,
		Image:         req.Image,
		ProjectID:     req.ProjectID,
		EnvironmentID: req.EnvironmentID,
		RootDNSZone:   req.RootDNSZone,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, instanceToResponse(inst))
}

func (h *Handler) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	inst, err := h.lifecycle.GetInstance(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, instanceToResponse(inst))
}

func (h *Handler) handleListInstances(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}
	opts := listOptions(r)

	instances, err := h.lifecycle.ListInstances(r.Context(), userID, opts)
	if err != nil {
		h.logger.Error("failed to list instances", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list instances", "internal_error")
		return
	}

	resp := ListInstancesResponse{
		Instances: make([]InstanceResponse, 0, len(instances)),
		Total:     len(instances),
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	}
	for i := range instances {
		resp.Instances = append(resp.Instances, instanceToResponse(&instances[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleInstanceAction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	action := domain.Action(chi.URLParam(r, "action"))

	inst, err := h.lifecycle.UpdateInstanceStatus(r.Context(), id, action)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, instanceToResponse(inst))
}

func (h *Handler) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.lifecycle.DeleteInstance(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefreshInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	inst, err := h.lifecycle.RefreshInstance(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, instanceToResponse(inst))
}

func (h *Handler) handleTransferInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "email is required", "validation_error")
		return
	}

	if err := h.lifecycle.TransferInstance(r.Context(), id, req.Email); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Bucket Handlers
// =============================================================================

func (h *Handler) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var req CreateBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	bucket, err := h.lifecycle.CreateBucket(r.Context(), lifecycle.CreateBucketParams{
		UserID:   userID,
		Name:     req.Name,
		Provider: domain.Provider(req.Provider),
		Region:   req.Region,
		Type:     req.Type,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, bucketToResponse(bucket, false))
}

func (h *Handler) handleGetBucket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	bucket, err := h.lifecycle.GetBucket(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, bucketToResponse(bucket, false))
}

func (h *Handler) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}
	opts := listOptions(r)

	buckets, err := h.lifecycle.ListBuckets(r.Context(), userID, opts)
	if err != nil {
		h.logger.Error("failed to list buckets", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list buckets", "internal_error")
		return
	}

	resp := ListBucketsResponse{
		Buckets: make([]BucketResponse, 0, len(buckets)),
		Total:   len(buckets),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}
	for i := range buckets {
		resp.Buckets = append(resp.Buckets, bucketToResponse(&buckets[i], false))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRotateBucketCredentials(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	bucket, err := h.lifecycle.RotateBucketCredentials(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	// Rotation is the one response that includes the secret; it cannot be
	// read back later.
	h.writeJSON(w, http.StatusOK, bucketToResponse(bucket, true))
}

func (h *Handler) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.lifecycle.DeleteBucket(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefreshBucket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	bucket, err := h.lifecycle.RefreshBucket(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, bucketToResponse(bucket, false))
}

func (h *Handler) handleTransferBucket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "email is required", "validation_error")
		return
	}

	if err := h.lifecycle.TransferBucket(r.Context(), id, req.Email); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Registry Handlers
// =============================================================================

func (h *Handler) handleCreateRegistry(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var req CreateRegistryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	registry, err := h.lifecycle.CreateRegistry(r.Context(), lifecycle.CreateRegistryParams{
		UserID:   userID,
		Name:     req.Name,
		Provider: domain.Provider(req.Provider),
		Region:   req.Region,
		Type:     req.Type,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, registryToResponse(registry, false))
}

func (h *Handler) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	registry, err := h.lifecycle.GetRegistry(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, registryToResponse(registry, false))
}

func (h *Handler) handleListRegistries(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}
	opts := listOptions(r)

	registries, err := h.lifecycle.ListRegistries(r.Context(), userID, opts)
	if err != nil {
		h.logger.Error("failed to list registries", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list registries", "internal_error")
		return
	}

	resp := ListRegistriesResponse{
		Registries: make([]RegistryResponse, 0, len(registries)),
		Total:      len(registries),
		Limit:      opts.Limit,
		Offset:     opts.Offset,
	}
	for i := range registries {
		resp.Registries = append(resp.Registries, registryToResponse(&registries[i], false))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRotateRegistryCredentials(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	registry, err := h.lifecycle.RotateRegistryCredentials(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, registryToResponse(registry, true))
}

func (h *Handler) handleDeleteRegistry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.lifecycle.DeleteRegistry(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefreshRegistry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	registry, err := h.lifecycle.RefreshRegistry(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, registryToResponse(registry, false))
}

func (h *Handler) handleTransferRegistry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "email is required", "validation_error")
		return
	}

	if err := h.lifecycle.TransferRegistry(r.Context(), id, req.Email); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Environment Handlers
// =============================================================================

func (h *Handler) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req CreateEnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if req.Name == "" || req.Path == "" {
		h.writeError(w, http.StatusBadRequest, "name and path are required", "validation_error")
		return
	}

	env := &domain.Environment{
		Name:       req.Name,
		Path:       req.Path,
		Subdomains: req.Subdomains,
	}
	if err := h.store.CreateEnvironment(r.Context(), env); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, environmentToResponse(env))
}

func (h *Handler) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	env, err := h.store.GetEnvironment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, environmentToResponse(env))
}

func (h *Handler) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := h.store.ListEnvironments(r.Context(), listOptions(r))
	if err != nil {
		h.logger.Error("failed to list environments", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list environments", "internal_error")
		return
	}

	resp := make([]EnvironmentResponse, 0, len(envs))
	for i := range envs {
		resp = append(resp, environmentToResponse(&envs[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteEnvironment(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Billing Handlers
// =============================================================================

func (h *Handler) handleListConsumptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}
	opts := listOptions(r)

	records, err := h.store.ListConsumptions(r.Context(), userID, opts)
	if err != nil {
		h.logger.Error("failed to list consumptions", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list consumptions", "internal_error")
		return
	}

	resp := ListConsumptionsResponse{
		Consumptions: make([]ConsumptionResponse, 0, len(records)),
		Total:        len(records),
		Limit:        opts.Limit,
		Offset:       opts.Offset,
	}
	for _, c := range records {
		resp.Consumptions = append(resp.Consumptions, ConsumptionResponse{
			ID:           c.ID,
			ResourceType: c.ResourceType,
			ResourceID:   c.ResourceID,
			Provider:     string(c.Provider),
			InstanceType: c.InstanceType,
			FromDate:     c.FromDate,
			ToDate:       c.ToDate,
			PriceHourly:  c.PriceHourly,
			Amount:       c.Amount,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

// resolveUser maps the gateway-injected email header to the local user id,
// creating the user row on first sight.
func (h *Handler) resolveUser(w http.ResponseWriter, r *http.Request) (int, bool) {
	email := r.Header.Get("X-User-Email")
	if email == "" {
		h.writeError(w, http.StatusUnauthorized, "missing X-User-Email header", "unauthenticated")
		return 0, false
	}

	userID, err := h.store.ResolveUser(r.Context(), email, r.Header.Get("X-User-Name"))
	if err != nil {
		h.logger.Error("failed to resolve user", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to resolve user", "internal_error")
		return 0, false
	}
	return userID, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid id", "validation_error")
		return 0, false
	}
	return id, true
}

func listOptions(r *http.Request) store.ListOptions {
	opts := store.DefaultListOptions()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	return opts.Normalize()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeServiceError translates typed errors from the layers below into
// status codes, preserving their machine-readable codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var lcErr *lifecycle.Error
	if errors.As(err, &lcErr) {
		h.writeError(w, lifecycleStatus(lcErr.Code), lcErr.Message, lcErr.Code)
		return
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		h.writeError(w, http.StatusConflict, trErr.Error(), trErr.Code)
		return
	}

	var lookupErr *catalog.LookupError
	if errors.As(err, &lookupErr) {
		h.writeError(w, http.StatusBadRequest, lookupErr.What, lookupErr.Code)
		return
	}

	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "resource not found", "not_found")
		case errors.Is(err, store.ErrDuplicate):
			h.writeError(w, http.StatusConflict, "resource already exists", "duplicate")
		default:
			h.logger.Error("store error", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
		}
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidProvider),
		errors.Is(err, domain.ErrRegionRequired),
		errors.Is(err, domain.ErrZoneRequired),
		errors.Is(err, domain.ErrTypeRequired),
		errors.Is(err, domain.ErrOwnerRequired),
		errors.Is(err, domain.ErrNameRequired),
		errors.Is(err, domain.ErrNameTooLong),
		errors.Is(err, domain.ErrNameForbidden):
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
	default:
		h.logger.Error("unhandled service error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
	}
}

func lifecycleStatus(code string) int {
	switch code {
	case lifecycle.CodeInstanceNotFound,
		lifecycle.CodeBucketNotFound,
		lifecycle.CodeRegistryNotFound,
		lifecycle.CodeEnvironmentNotFound:
		return http.StatusNotFound
	case lifecycle.CodeInvalidAction:
		return http.StatusBadRequest
	default:
		// Protected, deleted, already-active, missing VM: the request was
		// well-formed but conflicts with current state.
		return http.StatusConflict
	}
}

// =============================================================================
// Response Mapping
// =============================================================================

func instanceToResponse(inst *domain.Instance) InstanceResponse {
	return InstanceResponse{
		ID:               inst.ID,
		Name:             inst.Name,
		CompositeName:    inst.CompositeName(),
		Provider:         string(inst.Provider),
		Region:           inst.Region,
		Zone:             inst.Zone,
		Type:             inst.Type,
		Image:            inst.Image,
		Status:           string(inst.Status),
		IPAddress:        inst.IPAddress,
		ProjectID:        inst.ProjectID,
		EnvironmentID:    inst.EnvironmentID,
		RootDNSZone:      inst.RootDNSZone,
		IsProtected:      inst.IsProtected,
		CreatedAt:        inst.CreatedAt,
		ModificationDate: inst.ModificationDate,
	}
}

func bucketToResponse(b *domain.Bucket, withSecret bool) BucketResponse {
	resp := BucketResponse{
		ID:               b.ID,
		Name:             b.Name,
		CompositeName:    b.CompositeName(),
		Provider:         string(b.Provider),
		Region:           b.Region,
		Type:             b.Type,
		Status:           string(b.Status),
		Endpoint:         b.Endpoint,
		AccessKey:        b.AccessKey,
		CreatedAt:        b.CreatedAt,
		ModificationDate: b.ModificationDate,
	}
	if withSecret {
		resp.SecretKey = b.SecretKey
	}
	return resp
}

func registryToResponse(reg *domain.Registry, withSecret bool) RegistryResponse {
	resp := RegistryResponse{
		ID:               reg.ID,
		Name:             reg.Name,
		CompositeName:    reg.CompositeName(),
		Provider:         string(reg.Provider),
		Region:           reg.Region,
		Type:             reg.Type,
		Status:           string(reg.Status),
		Endpoint:         reg.Endpoint,
		AccessKey:        reg.AccessKey,
		CreatedAt:        reg.CreatedAt,
		ModificationDate: reg.ModificationDate,
	}
	if withSecret {
		resp.SecretKey = reg.SecretKey
	}
	return resp
}

func environmentToResponse(env *domain.Environment) EnvironmentResponse {
	resp := EnvironmentResponse{
		ID:         env.ID,
		Name:       env.Name,
		Path:       env.Path,
		Subdomains: env.Subdomains,
	}
	if resp.Subdomains == nil {
		resp.Subdomains = []string{}
	}
	return resp
}

func (h *Handler) providerToResponse(p *catalog.ProviderConfig) ProviderResponse {
	resp := ProviderResponse{
		Name:                     p.Name,
		BucketTypes:              emptyIfNil(p.BucketTypes),
		BucketAvailableRegions:   emptyIfNil(p.BucketAvailableRegions),
		RegistryTypes:            emptyIfNil(p.RegistryTypes),
		RegistryAvailableRegions: emptyIfNil(p.RegistryAvailableRegions),
		Regions:                  make([]RegionResponse, 0, len(p.InstanceConfigs)),
		Configured:               h.drivers.Configured(domain.Provider(p.Name)),
	}
	for _, ic := range p.InstanceConfigs {
		region := RegionResponse{
			Name:  ic.Region,
			Zones: make([]ZoneResponse, 0, len(ic.Zones)),
		}
		for _, z := range ic.Zones {
			zone := ZoneResponse{
				Name:          z.Name,
				InstanceTypes: make([]InstanceTypeResponse, 0, len(z.InstanceTypes)),
			}
			for _, it := range z.InstanceTypes {
				zone.InstanceTypes = append(zone.InstanceTypes, InstanceTypeResponse{
					Type:        it.Type,
					PriceHourly: it.PriceVariable,
					Disabled:    it.Disabled,
				})
			}
			region.Zones = append(region.Zones, zone)
		}
		resp.Regions = append(resp.Regions, region)
	}
	return resp
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/nubo/internal/core/catalog"
	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/driver"
	"github.com/artpar/nubo/internal/shell/lifecycle"
	"github.com/artpar/nubo/internal/shell/store"
)

const apiCatalogYAML = `
providers:
  - name: aws
    bucket_types: [private]
    bucket_available_regions: [eu-west-3]
    registry_types: [private]
    registry_available_regions: [eu-west-3]
    instance_configs:
      - region: eu-west-3
        zones:
          - name: eu-west-3a
            sg: sg-test
            subnet: subnet-test
            instance_types:
              - type: t2.micro
                price_variable: 0.05
`

// =============================================================================
// Fakes
// =============================================================================

// apiFakeDriver serves the handler tests. The VM state field drives the
// power-action guards.
type apiFakeDriver struct {
	vm    *driver.VirtualMachine
	creds *driver.Credentials
}

func (d *apiFakeDriver) Provider() domain.Provider { return domain.ProviderAWS }

func (d *apiFakeDriver) CreateInstance(context.Context, driver.CreateInstanceRequest) (*driver.CreateInstanceResult, error) {
	return &driver.CreateInstanceResult{IP: "203.0.113.10"}, nil
}

func (d *apiFakeDriver) RefreshInstance(context.Context, driver.RefreshInstanceRequest) (*driver.RefreshInstanceResult, error) {
	return nil, nil
}

func (d *apiFakeDriver) GetVirtualMachine(context.Context, string, string, string) (*driver.VirtualMachine, error) {
	return d.vm, nil
}

func (d *apiFakeDriver) UpdateVirtualMachineStatus(context.Context, string, string, string, domain.Action) error {
	return nil
}

func (d *apiFakeDriver) ServerState(vm *driver.VirtualMachine) domain.ServerState {
	return domain.ServerState(vm.State)
}

func (d *apiFakeDriver) DeleteInstance(context.Context, string, string, string) error {
	return nil
}

func (d *apiFakeDriver) CreateBucket(context.Context, driver.CreateBucketRequest) (*driver.Credentials, error) {
	return d.creds, nil
}

func (d *apiFakeDriver) UpdateBucketCredentials(context.Context, *domain.Bucket) (*driver.Credentials, error) {
	return d.creds, nil
}

func (d *apiFakeDriver) DeleteBucket(context.Context, *domain.Bucket, string) error { return nil }

func (d *apiFakeDriver) RefreshBucket(context.Context, string, int, string) (*driver.RefreshResult, error) {
	return nil, nil
}

func (d *apiFakeDriver) CreateRegistry(context.Context, driver.CreateRegistryRequest) (*driver.Credentials, error) {
	return d.creds, nil
}

func (d *apiFakeDriver) UpdateRegistryCredentials(context.Context, *domain.Registry) (*driver.Credentials, error) {
	return d.creds, nil
}

func (d *apiFakeDriver) DeleteRegistry(context.Context, *domain.Registry, string) error { return nil }

func (d *apiFakeDriver) RefreshRegistry(context.Context, string, int, string) (*driver.RefreshResult, error) {
	return nil, nil
}

func (d *apiFakeDriver) CreateDNSRecords(context.Context, driver.DNSRecordRequest) error { return nil }

func (d *apiFakeDriver) CloudInitScript() string { return "cloud-init-test.sh" }

type apiFakeResolver struct {
	d driver.Driver
}

func (r *apiFakeResolver) ForProvider(domain.Provider) driver.Driver { return r.d }

func (r *apiFakeResolver) Configured(p domain.Provider) bool { return p == domain.ProviderAWS }

// =============================================================================
// Helpers
// =============================================================================

func setupHandler(t *testing.T) (*Handler, *apiFakeDriver, store.Store) {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cat, err := catalog.Parse([]byte(apiCatalogYAML))
	require.NoError(t, err)

	fake := &apiFakeDriver{
		vm: &driver.VirtualMachine{ID: "i-test", State: string(domain.StateRunning)},
		creds: &driver.Credentials{
			Endpoint:  "https://endpoint.example.com",
			AccessKey: "AKIATEST",
			SecretKey: "rotated-secret",
		},
	}
	resolver := &apiFakeResolver{d: fake}

	lc := lifecycle.NewService(st, resolver, cat, slog.Default())
	return NewHandler(lc, st, cat, resolver, slog.Default()), fake, st
}

func doRequest(t *testing.T, h *Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-Email", "api@example.com")
	req.Header.Set("X-User-Name", "API Tester")

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func createInstanceViaAPI(t *testing.T, h *Handler) InstanceResponse {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/v1/instances", CreateInstanceRequest{
		Name:     "web",
		Provider: "aws",
		Region:   "eu-west-3",
		Zone:     "eu-west-3a",
		Type:     "t2.micro",
		Image:    "ami-test",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[InstanceResponse](t, rec)
}

// =============================================================================
// Health
// =============================================================================

func TestHandleHealth(t *testing.T) {
	h, _, _ := setupHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
}

func TestHandleReady(t *testing.T) {
	h, _, _ := setupHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ReadyResponse](t, rec)
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
}

// =============================================================================
// Instances
// =============================================================================

func TestCreateInstance(t *testing.T) {
	h, _, _ := setupHandler(t)

	inst := createInstanceViaAPI(t, h)
	assert.Equal(t, "web", inst.Name)
	assert.Equal(t, "starting", inst.Status)
	assert.True(t, strings.HasPrefix(inst.CompositeName, "web-"))
	assert.Len(t, inst.CompositeName, len("web-")+8)
}

func TestCreateInstance_UnknownType(t *testing.T) {
	h, _, _ := setupHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/instances", CreateInstanceRequest{
		Name:     "web",
		Provider: "aws",
		Region:   "eu-west-3",
		Zone:     "eu-west-3a",
		Type:     "m5.gigantic",
		Image:    "ami-test",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "instance_type_unknown", resp.Code)
}

func TestCreateInstance_MissingUserHeader(t *testing.T) {
	h, _, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/instances", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "unauthenticated", resp.Code)
}

func TestGetInstance_NotFound(t *testing.T) {
	h, _, _ := setupHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/instances/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "instance_not_found", resp.Code)
}

func TestInstanceAction_PowerOff(t *testing.T) {
	h, _, _ := setupHandler(t)
	inst := createInstanceViaAPI(t, h)

	rec := doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/v1/instances/%d/actions/poweroff", inst.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decode[InstanceResponse](t, rec)
	assert.Equal(t, "poweredoff", resp.Status)
}

func TestInstanceAction_AlreadyStopped(t *testing.T) {
	h, fake, _ := setupHandler(t)
	inst := createInstanceViaAPI(t, h)
	fake.vm.State = string(domain.StateStopped)

	rec := doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/v1/instances/%d/actions/poweroff", inst.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "instance_already_stopped", resp.Code)
}

func TestInstanceAction_TransientStateBlocked(t *testing.T) {
	h, fake, _ := setupHandler(t)
	inst := createInstanceViaAPI(t, h)
	fake.vm.State = string(domain.StateStarting)

	rec := doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/v1/instances/%d/actions/reboot", inst.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "instance_state_transient", resp.Code)
}

func TestInstanceAction_Unknown(t *testing.T) {
	h, _, _ := setupHandler(t)
	inst := createInstanceViaAPI(t, h)

	rec := doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/v1/instances/%d/actions/explode", inst.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_action", resp.Code)
}

func TestDeleteInstance_SoftDeletesAndVanishesFromList(t *testing.T) {
	h, _, st := setupHandler(t)
	inst := createInstanceViaAPI(t, h)

	rec := doRequest(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/instances/%d", inst.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// The row survives for billing history; reads still work.
	rec = doRequest(t, h, http.MethodGet, fmt.Sprintf("/api/v1/instances/%d", inst.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	got := decode[InstanceResponse](t, rec)
	assert.Equal(t, "deleted", got.Status)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/instances", nil)
	list := decode[ListInstancesResponse](t, rec)
	assert.Empty(t, list.Instances)

	// Second delete is a no-op.
	rec = doRequest(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/instances/%d", inst.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	teardowns, err := st.ListPendingTeardowns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, teardowns, 1)
}

func TestDeleteInstance_TransientStateConflict(t *testing.T) {
	h, fake, st := setupHandler(t)
	inst := createInstanceViaAPI(t, h)
	fake.vm.State = string(domain.StateRebooting)

	rec := doRequest(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/instances/%d", inst.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "instance_state_transient", resp.Code)

	rec = doRequest(t, h, http.MethodGet, fmt.Sprintf("/api/v1/instances/%d", inst.ID), nil)
	got := decode[InstanceResponse](t, rec)
	assert.NotEqual(t, "deleted", got.Status)

	teardowns, err := st.ListPendingTeardowns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, teardowns)
}

func TestListInstances_ScopedToCaller(t *testing.T) {
	h, _, _ := setupHandler(t)
	createInstanceViaAPI(t, h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/instances", nil)
	req.Header.Set("X-User-Email", "someone-else@example.com")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListInstancesResponse](t, rec)
	assert.Empty(t, list.Instances)
}

// =============================================================================
// Buckets
// =============================================================================

func TestBucketLifecycleViaAPI(t *testing.T) {
	h, _, _ := setupHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/buckets", CreateBucketRequest{
		Name:     "data",
		Provider: "aws",
		Region:   "eu-west-3",
		Type:     "private",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	bucket := decode[BucketResponse](t, rec)
	assert.Equal(t, "starting", bucket.Status)
	assert.Empty(t, bucket.SecretKey)

	// Rotation is the only response carrying the secret.
	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/v1/buckets/%d/credentials", bucket.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decode[BucketResponse](t, rec)
	assert.Equal(t, "AKIATEST", rotated.AccessKey)
	assert.Equal(t, "rotated-secret", rotated.SecretKey)

	rec = doRequest(t, h, http.MethodGet, fmt.Sprintf("/api/v1/buckets/%d", bucket.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[BucketResponse](t, rec)
	assert.Empty(t, got.SecretKey)

	rec = doRequest(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/buckets/%d", bucket.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCreateBucket_UnknownType(t *testing.T) {
	h, _, _ := setupHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/buckets", CreateBucketRequest{
		Name:     "data",
		Provider: "aws",
		Region:   "eu-west-3",
		Type:     "glacier",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "bucket_type_unknown", resp.Code)
}

// =============================================================================
// Registries
// =============================================================================

func TestRegistryLifecycleViaAPI(t *testing.T) {
	h, _, _ := setupHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/registries", CreateRegistryRequest{
		Name:     "images",
		Provider: "aws",
		Region:   "eu-west-3",
		Type:     "private",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	registry := decode[RegistryResponse](t, rec)
	assert.Equal(t, "starting", registry.Status)

	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/v1/registries/%d/credentials", registry.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decode[RegistryResponse](t, rec)
	assert.Equal(t, "rotated-secret", rotated.SecretKey)

	rec = doRequest(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/registries/%d", registry.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// =============================================================================
// Environments
// =============================================================================

func TestEnvironmentCRUDViaAPI(t *testing.T) {
	h, _, _ := setupHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/environments", CreateEnvironmentRequest{
		Name:       "production",
		Path:       "prod",
		Subdomains: []string{"api", "grafana"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	env := decode[EnvironmentResponse](t, rec)
	assert.NotZero(t, env.ID)

	rec = doRequest(t, h, http.MethodGet, fmt.Sprintf("/api/v1/environments/%d", env.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[EnvironmentResponse](t, rec)
	assert.Equal(t, "production", got.Name)
	assert.Equal(t, []string{"api", "grafana"}, got.Subdomains)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/environments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]EnvironmentResponse](t, rec)
	assert.Len(t, list, 1)

	rec = doRequest(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/environments/%d", env.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCreateEnvironment_MissingFields(t *testing.T) {
	h, _, _ := setupHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/environments", CreateEnvironmentRequest{Name: "prod"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Providers / Consumptions
// =============================================================================

func TestListProviders(t *testing.T) {
	h, _, _ := setupHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	providers := decode[[]ProviderResponse](t, rec)
	require.Len(t, providers, 1)
	assert.Equal(t, "aws", providers[0].Name)
	assert.True(t, providers[0].Configured)
	require.Len(t, providers[0].Regions, 1)
	require.Len(t, providers[0].Regions[0].Zones, 1)
	assert.Equal(t, 0.05, providers[0].Regions[0].Zones[0].InstanceTypes[0].PriceHourly)
}

func TestListConsumptions_AfterPowerOff(t *testing.T) {
	h, _, _ := setupHandler(t)
	inst := createInstanceViaAPI(t, h)

	rec := doRequest(t, h, http.MethodPost, fmt.Sprintf("/api/v1/instances/%d/actions/poweroff", inst.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/consumptions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[ListConsumptionsResponse](t, rec)
	require.Len(t, list.Consumptions, 1)
	assert.Equal(t, "instance", list.Consumptions[0].ResourceType)
	assert.Equal(t, inst.ID, list.Consumptions[0].ResourceID)
	assert.Equal(t, 0.05, list.Consumptions[0].PriceHourly)
}

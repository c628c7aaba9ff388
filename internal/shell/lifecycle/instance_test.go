package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/nubo/internal/core/catalog"
	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/driver"
	"github.com/artpar/nubo/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

const testCatalogYAML = `
providers:
  - name: aws
    bucket_types: [private, public]
    bucket_available_regions: [eu-west-3]
    registry_types: [private, public]
    registry_available_regions: [eu-west-3]
    instance_configs:
      - region: eu-west-3
        zones:
          - name: eu-west-3a
            sg: sg-123
            subnet: subnet-456
            instance_types:
              - type: t2.micro
                price_variable: 0.05
              - type: t2.large
                price_variable: 0.20
                disabled: true
dns_zones:
  - name: example.com
    driver: aws
`

// fakeDriver is a scriptable in-memory Driver.
type fakeDriver struct {
	provider domain.Provider
	vm       *driver.VirtualMachine
	vmErr    error

	powerActions []domain.Action

	creds          driver.Credentials
	credsErr       error
	refreshInst    *driver.RefreshInstanceResult
	refreshInstErr error
	refreshRes     *driver.RefreshResult
}

func (d *fakeDriver) Provider() domain.Provider { return d.provider }

func (d *fakeDriver) CreateInstance(ctx context.Context, req driver.CreateInstanceRequest) (*driver.CreateInstanceResult, error) {
	return &driver.CreateInstanceResult{IP: "192.0.2.1"}, nil
}

func (d *fakeDriver) RefreshInstance(ctx context.Context, req driver.RefreshInstanceRequest) (*driver.RefreshInstanceResult, error) {
	return d.refreshInst, d.refreshInstErr
}

func (d *fakeDriver) GetVirtualMachine(ctx context.Context, region, zone, compositeName string) (*driver.VirtualMachine, error) {
	return d.vm, d.vmErr
}

func (d *fakeDriver) UpdateVirtualMachineStatus(ctx context.Context, region, zone, serverID string, action domain.Action) error {
	d.powerActions = append(d.powerActions, action)
	return nil
}

func (d *fakeDriver) ServerState(vm *driver.VirtualMachine) domain.ServerState {
	return domain.ServerState(vm.State)
}

func (d *fakeDriver) DeleteInstance(ctx context.Context, region, zone, compositeName string) error {
	return nil
}

func (d *fakeDriver) CreateBucket(ctx context.Context, req driver.CreateBucketRequest) (*driver.Credentials, error) {
	return &d.creds, d.credsErr
}

func (d *fakeDriver) UpdateBucketCredentials(ctx context.Context, bucket *domain.Bucket) (*driver.Credentials, error) {
	return &d.creds, d.credsErr
}

func (d *fakeDriver) DeleteBucket(ctx context.Context, bucket *domain.Bucket, ownerEmail string) error {
	return nil
}

func (d *fakeDriver) RefreshBucket(ctx context.Context, ownerEmail string, bucketID int, compositeName string) (*driver.RefreshResult, error) {
	return d.refreshRes, nil
}

func (d *fakeDriver) CreateRegistry(ctx context.Context, req driver.CreateRegistryRequest) (*driver.Credentials, error) {
	return &d.creds, d.credsErr
}

func (d *fakeDriver) UpdateRegistryCredentials(ctx context.Context, registry *domain.Registry) (*driver.Credentials, error) {
	return &d.creds, d.credsErr
}

func (d *fakeDriver) DeleteRegistry(ctx context.Context, registry *domain.Registry, ownerEmail string) error {
	return nil
}

func (d *fakeDriver) RefreshRegistry(ctx context.Context, ownerEmail string, registryID int, compositeName string) (*driver.RefreshResult, error) {
	return d.refreshRes, nil
}

func (d *fakeDriver) CreateDNSRecords(ctx context.Context, req driver.DNSRecordRequest) error {
	return nil
}

func (d *fakeDriver) CloudInitScript() string { return "cloud-init.sh" }

type fakeResolver struct {
	d driver.Driver
}

func (r *fakeResolver) ForProvider(p domain.Provider) driver.Driver { return r.d }

func setupService(t *testing.T) (*Service, store.Store, *fakeDriver) {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cat, err := catalog.Parse([]byte(testCatalogYAML))
	require.NoError(t, err)

	fd := &fakeDriver{provider: domain.ProviderAWS}
	svc := NewService(st, &fakeResolver{d: fd}, cat, slog.Default())
	return svc, st, fd
}

func registerInstance(t *testing.T, svc *Service, st store.Store) *domain.Instance {
	t.Helper()
	userID, err := st.ResolveUser(context.Background(), "owner@example.com", "Owner")
	require.NoError(t, err)

	inst, err := svc.CreateInstance(context.Background(), CreateInstanceParams{
		UserID:   userID,
		Name:     "web-server",
		Provider: domain.ProviderAWS,
		Region:   "eu-west-3",
		Zone:     "eu-west-3a",
		Type:     "t2.micro",
		Image:    "debian-12",
	})
	require.NoError(t, err)
	return inst
}

// =============================================================================
// Create Tests
// =============================================================================

func TestCreateInstance_RegistersStarting(t *testing.T) {
	svc, st, _ := setupService(t)

	inst := registerInstance(t, svc, st)

	assert.NotZero(t, inst.ID)
	assert.Len(t, inst.Hash, 8)
	assert.Equal(t, domain.StatusStarting, inst.Status)
	assert.Empty(t, inst.IPAddress)

	got, err := st.GetInstance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarting, got.Status)
}

func TestCreateInstance_UnknownInstanceType(t *testing.T) {
	svc, st, _ := setupService(t)
	userID, err := st.ResolveUser(context.Background(), "owner@example.com", "Owner")
	require.NoError(t, err)

	_, err = svc.CreateInstance(context.Background(), CreateInstanceParams{
		UserID:   userID,
		Name:     "web-server",
		Provider: domain.ProviderAWS,
		Region:   "eu-west-3",
		Zone:     "eu-west-3a",
		Type:     "m5.24xlarge",
		Image:    "debian-12",
	})
	var lookupErr *catalog.LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, "instance_type_unknown", lookupErr.Code)
}

func TestCreateInstance_DisabledInstanceType(t *testing.T) {
	svc, st, _ := setupService(t)
	userID, err := st.ResolveUser(context.Background(), "owner@example.com", "Owner")
	require.NoError(t, err)

	_, err = svc.CreateInstance(context.Background(), CreateInstanceParams{
		UserID:   userID,
		Name:     "web-server",
		Provider: domain.ProviderAWS,
		Region:   "eu-west-3",
		Zone:     "eu-west-3a",
		Type:     "t2.large",
		Image:    "debian-12",
	})
	var lookupErr *catalog.LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, "instance_type_disabled", lookupErr.Code)
}

func TestCreateInstance_UnknownEnvironment(t *testing.T) {
	svc, st, _ := setupService(t)
	userID, err := st.ResolveUser(context.Background(), "owner@example.com", "Owner")
	require.NoError(t, err)

	envID := 999
	_, err = svc.CreateInstance(context.Background(), CreateInstanceParams{
		UserID:        userID,
		Name:          "web-server",
		Provider:      domain.ProviderAWS,
		Region:        "eu-west-3",
		Zone:          "eu-west-3a",
		Type:          "t2.micro",
		EnvironmentID: &envID,
	})
	var lcErr *Error
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, CodeEnvironmentNotFound, lcErr.Code)
}

// =============================================================================
// Power Action Tests
// =============================================================================

func TestUpdateInstanceStatus_PowerOffFromRunning(t *testing.T) {
	svc, st, fd := setupService(t)
	ctx := context.Background()
	inst := registerInstance(t, svc, st)

	require.NoError(t, st.UpdateInstanceStatus(ctx, inst.ID, domain.StatusActive, time.Now().Add(-time.Hour)))
	fd.vm = &driver.VirtualMachine{ID: "i-123", State: string(domain.StateRunning)}

	got, err := svc.UpdateInstanceStatus(ctx, inst.ID, domain.ActionPowerOff)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPoweredOff, got.Status)
	assert.Equal(t, []domain.Action{domain.ActionPowerOff}, fd.powerActions)

	// Power-off closes the open usage window
	consumptions, err := st.ListConsumptions(ctx, inst.UserID, store.DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, consumptions, 1)
	assert.Equal(t, domain.ResourceTypeInstance, consumptions[0].ResourceType)
	assert.InDelta(t, 0.05, consumptions[0].PriceHourly, 0.0001)
	assert.Greater(t, consumptions[0].Amount, 0.0)
}

func TestUpdateInstanceStatus_PowerOffAlreadyStopped(t *testing.T) {
	svc, st, fd := setupService(t)
	inst := registerInstance(t, svc, st)
	fd.vm = &driver.VirtualMachine{ID: "i-123", State: string(domain.StateStopped)}

	_, err := svc.UpdateInstanceStatus(context.Background(), inst.ID, domain.ActionPowerOff)
	var trErr *domain.TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, "instance_already_stopped", trErr.Code)
	assert.Empty(t, fd.powerActions)
}

func TestUpdateInstanceStatus_TransientStateBlocks(t *testing.T) {
	svc, st, fd := setupService(t)
	inst := registerInstance(t, svc, st)
	fd.vm = &driver.VirtualMachine{ID: "i-123", State: string(domain.StateRebooting)}

	for _, action := range []domain.Action{domain.ActionPowerOff, domain.ActionPowerOn, domain.ActionReboot} {
		_, err := svc.UpdateInstanceStatus(context.Background(), inst.ID, action)
		var trErr *domain.TransitionError
		require.ErrorAs(t, err, &trErr, "action %s", action)
	}
	assert.Empty(t, fd.powerActions)
}

func TestUpdateInstanceStatus_VMNotFound(t *testing.T) {
	svc, st, fd := setupService(t)
	inst := registerInstance(t, svc, st)
	fd.vm = nil

	_, err := svc.UpdateInstanceStatus(context.Background(), inst.ID, domain.ActionPowerOn)
	var lcErr *Error
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, CodeVirtualMachineMissing, lcErr.Code)
}

func TestUpdateInstanceStatus_ActivateIsLogical(t *testing.T) {
	svc, st, fd := setupService(t)
	inst := registerInstance(t, svc, st)

	got, err := svc.UpdateInstanceStatus(context.Background(), inst.ID, domain.ActionActivate)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Empty(t, fd.powerActions)

	// Second activate is rejected
	_, err = svc.UpdateInstanceStatus(context.Background(), inst.ID, domain.ActionActivate)
	var lcErr *Error
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, CodeInstanceAlreadyActive, lcErr.Code)
}

func TestUpdateInstanceStatus_UnknownAction(t *testing.T) {
	svc, st, _ := setupService(t)
	inst := registerInstance(t, svc, st)

	_, err := svc.UpdateInstanceStatus(context.Background(), inst.ID, domain.Action("hibernate"))
	var lcErr *Error
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, CodeInvalidAction, lcErr.Code)
}

func TestUpdateInstanceStatus_NotFound(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.UpdateInstanceStatus(context.Background(), 42, domain.ActionPowerOn)
	var lcErr *Error
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, CodeInstanceNotFound, lcErr.Code)
}

// =============================================================================
// Delete Tests
// =============================================================================

func TestDeleteInstance_SoftDeletesAndEnqueuesTeardown(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()
	inst := registerInstance(t, svc, st)

	require.NoError(t, svc.DeleteInstance(ctx, inst.ID))

	got, err := st.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, got.Status)

	pending, err := st.ListPendingTeardowns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, inst.CompositeName(), pending[0].CompositeName)
	assert.Equal(t, "owner@example.com", pending[0].OwnerEmail)

	// Idempotent: second delete is a no-op, no second teardown
	require.NoError(t, svc.DeleteInstance(ctx, inst.ID))
	pending, err = st.ListPendingTeardowns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDeleteInstance_ProtectedRejected(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()
	inst := registerInstance(t, svc, st)

	protected, err := domain.NewInstance(inst.UserID, "guarded", domain.ProviderAWS, "eu-west-3", "eu-west-3a", "t2.micro", "debian-12")
	require.NoError(t, err)
	protected.IsProtected = true
	require.NoError(t, st.CreateInstance(ctx, protected))

	err = svc.DeleteInstance(ctx, protected.ID)
	var lcErr *Error
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, CodeInstanceProtected, lcErr.Code)

	fresh, err := st.GetInstance(ctx, protected.ID)
	require.NoError(t, err)
	assert.NotEqual(t, domain.StatusDeleted, fresh.Status)
}

func TestDeleteInstance_TransientStateRejected(t *testing.T) {
	svc, st, fd := setupService(t)
	ctx := context.Background()
	inst := registerInstance(t, svc, st)

	for _, state := range []domain.ServerState{domain.StateStarting, domain.StateStopping, domain.StateRebooting} {
		fd.vm = &driver.VirtualMachine{ID: "i-123", State: string(state)}

		err := svc.DeleteInstance(ctx, inst.ID)
		var trErr *domain.TransitionError
		require.ErrorAs(t, err, &trErr, "state %s", state)
		assert.Equal(t, "instance_state_transient", trErr.Code)
	}

	// The action path hits the same guard
	fd.vm = &driver.VirtualMachine{ID: "i-123", State: string(domain.StateRebooting)}
	_, err := svc.UpdateInstanceStatus(ctx, inst.ID, domain.ActionDelete)
	var trErr *domain.TransitionError
	require.ErrorAs(t, err, &trErr)

	fresh, err := st.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.NotEqual(t, domain.StatusDeleted, fresh.Status)

	pending, err := st.ListPendingTeardowns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDeleteInstance_AllowedFromStopped(t *testing.T) {
	svc, st, fd := setupService(t)
	ctx := context.Background()
	inst := registerInstance(t, svc, st)
	fd.vm = &driver.VirtualMachine{ID: "i-123", State: string(domain.StateStopped)}

	require.NoError(t, svc.DeleteInstance(ctx, inst.ID))

	got, err := st.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, got.Status)
}

func TestDeleteInstance_VMGoneIsCleanup(t *testing.T) {
	svc, st, fd := setupService(t)
	ctx := context.Background()
	inst := registerInstance(t, svc, st)

	// Provider still lists the machine but reports it gone
	fd.vm = &driver.VirtualMachine{ID: "i-123", State: string(domain.StateDeleted)}

	require.NoError(t, svc.DeleteInstance(ctx, inst.ID))

	got, err := st.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, got.Status)
}

func TestDeleteInstance_ActiveClosesUsageWindow(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()
	inst := registerInstance(t, svc, st)

	require.NoError(t, st.UpdateInstanceStatus(ctx, inst.ID, domain.StatusActive, time.Now().Add(-30*time.Minute)))
	require.NoError(t, svc.DeleteInstance(ctx, inst.ID))

	consumptions, err := st.ListConsumptions(ctx, inst.UserID, store.DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, consumptions, 1)
	assert.Greater(t, consumptions[0].Amount, 0.0)
}

// =============================================================================
// Refresh / Transfer Tests
// =============================================================================

func TestRefreshInstance_PatchesDrift(t *testing.T) {
	svc, st, fd := setupService(t)
	ctx := context.Background()
	inst := registerInstance(t, svc, st)

	fd.refreshInst = &driver.RefreshInstanceResult{Type: "t2.small", IP: "198.51.100.9"}

	got, err := svc.RefreshInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "t2.small", got.Type)
	assert.Equal(t, "198.51.100.9", got.IPAddress)

	fresh, err := st.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "t2.small", fresh.Type)
	assert.Equal(t, "198.51.100.9", fresh.IPAddress)
}

func TestRefreshInstance_Unsupported(t *testing.T) {
	svc, st, fd := setupService(t)
	inst := registerInstance(t, svc, st)
	fd.refreshInst = nil

	got, err := svc.RefreshInstance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.Type, got.Type)
}

func TestRefreshInstance_DriverError(t *testing.T) {
	svc, st, fd := setupService(t)
	inst := registerInstance(t, svc, st)
	fd.refreshInstErr = errors.New("api unreachable")

	_, err := svc.RefreshInstance(context.Background(), inst.ID)
	assert.Error(t, err)
}

func TestTransferInstance(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()
	inst := registerInstance(t, svc, st)

	require.NoError(t, svc.TransferInstance(ctx, inst.ID, "new-owner@example.com"))

	got, err := st.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.NotEqual(t, inst.UserID, got.UserID)

	email, err := st.GetUserEmail(ctx, got.UserID)
	require.NoError(t, err)
	assert.Equal(t, "new-owner@example.com", email)
}

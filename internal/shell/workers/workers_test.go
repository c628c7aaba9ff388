package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/nubo/internal/core/catalog"
	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/driver"
	"github.com/artpar/nubo/internal/shell/store"
)

const workerCatalogYAML = `
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

// fakeWorkerDriver records calls so tests can assert what the workers
// dispatched. Guarded by a mutex because the provisioner fans out.
type fakeWorkerDriver struct {
	mu sync.Mutex

	createIP  string
	createErr error

	bucketCreds   *driver.Credentials
	bucketErr     error
	registryCreds *driver.Credentials

	// deleteFailures makes the first N delete calls fail.
	deleteFailures int

	instanceCreates     []driver.CreateInstanceRequest
	bucketCreates       []driver.CreateBucketRequest
	registryCreates     []driver.CreateRegistryRequest
	deleteInstanceCalls []string
	deleteBucketCalls   []string
	deleteRegistryCalls []string
}

func (d *fakeWorkerDriver) Provider() domain.Provider { return domain.ProviderAWS }

func (d *fakeWorkerDriver) CreateInstance(_ context.Context, req driver.CreateInstanceRequest) (*driver.CreateInstanceResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instanceCreates = append(d.instanceCreates, req)
	if d.createErr != nil {
		return nil, d.createErr
	}
	return &driver.CreateInstanceResult{IP: d.createIP}, nil
}

func (d *fakeWorkerDriver) RefreshInstance(context.Context, driver.RefreshInstanceRequest) (*driver.RefreshInstanceResult, error) {
	return nil, nil
}

func (d *fakeWorkerDriver) GetVirtualMachine(context.Context, string, string, string) (*driver.VirtualMachine, error) {
	return nil, nil
}

func (d *fakeWorkerDriver) UpdateVirtualMachineStatus(context.Context, string, string, string, domain.Action) error {
	return nil
}

func (d *fakeWorkerDriver) ServerState(*driver.VirtualMachine) domain.ServerState {
	return domain.StateRunning
}

func (d *fakeWorkerDriver) DeleteInstance(_ context.Context, _, _, compositeName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleteInstanceCalls = append(d.deleteInstanceCalls, compositeName)
	if len(d.deleteInstanceCalls) <= d.deleteFailures {
		return errors.New("terminate failed")
	}
	return nil
}

func (d *fakeWorkerDriver) CreateBucket(_ context.Context, req driver.CreateBucketRequest) (*driver.Credentials, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bucketCreates = append(d.bucketCreates, req)
	if d.bucketErr != nil {
		return nil, d.bucketErr
	}
	return d.bucketCreds, nil
}

func (d *fakeWorkerDriver) UpdateBucketCredentials(context.Context, *domain.Bucket) (*driver.Credentials, error) {
	return d.bucketCreds, nil
}

func (d *fakeWorkerDriver) DeleteBucket(_ context.Context, bucket *domain.Bucket, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleteBucketCalls = append(d.deleteBucketCalls, bucket.CompositeName())
	if len(d.deleteBucketCalls) <= d.deleteFailures {
		return errors.New("bucket delete failed")
	}
	return nil
}

func (d *fakeWorkerDriver) RefreshBucket(context.Context, string, int, string) (*driver.RefreshResult, error) {
	return nil, nil
}

func (d *fakeWorkerDriver) CreateRegistry(_ context.Context, req driver.CreateRegistryRequest) (*driver.Credentials, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registryCreates = append(d.registryCreates, req)
	return d.registryCreds, nil
}

func (d *fakeWorkerDriver) UpdateRegistryCredentials(context.Context, *domain.Registry) (*driver.Credentials, error) {
	return d.registryCreds, nil
}

func (d *fakeWorkerDriver) DeleteRegistry(_ context.Context, registry *domain.Registry, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleteRegistryCalls = append(d.deleteRegistryCalls, registry.CompositeName())
	return nil
}

func (d *fakeWorkerDriver) RefreshRegistry(context.Context, string, int, string) (*driver.RefreshResult, error) {
	return nil, nil
}

func (d *fakeWorkerDriver) CreateDNSRecords(context.Context, driver.DNSRecordRequest) error {
	return nil
}

func (d *fakeWorkerDriver) CloudInitScript() string { return "cloud-init-test.sh" }

type fakeWorkerResolver struct {
	d driver.Driver
}

func (r *fakeWorkerResolver) ForProvider(domain.Provider) driver.Driver { return r.d }

// =============================================================================
// Helpers
// =============================================================================

func setupWorkerTest(t *testing.T) (store.Store, *fakeWorkerDriver, *catalog.Catalog) {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cat, err := catalog.Parse([]byte(workerCatalogYAML))
	require.NoError(t, err)

	return st, &fakeWorkerDriver{createIP: "203.0.113.10"}, cat
}

func createWorkerUser(t *testing.T, st store.Store) int {
	t.Helper()
	userID, err := st.ResolveUser(context.Background(), "worker@example.com", "Worker")
	require.NoError(t, err)
	return userID
}

func createStartingInstance(t *testing.T, st store.Store, userID int) *domain.Instance {
	t.Helper()
	inst, err := domain.NewInstance(userID, "web", domain.ProviderAWS, "eu-west-3", "eu-west-3a", "t2.micro", "ami-test")
	require.NoError(t, err)
	require.NoError(t, st.CreateInstance(context.Background(), inst))
	return inst
}

// =============================================================================
// Provisioner Tests
// =============================================================================

func TestProvisioner_InstanceGetsIPAndStaysStarting(t *testing.T) {
	st, d, cat := setupWorkerTest(t)
	userID := createWorkerUser(t, st)
	inst := createStartingInstance(t, st, userID)

	p := NewProvisioner(st, &fakeWorkerResolver{d: d}, cat, DefaultProvisionerConfig(), slog.Default())
	p.RunCycle(context.Background())

	got, err := st.GetInstance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.10", got.IPAddress)
	assert.Equal(t, domain.StatusStarting, got.Status)

	require.Len(t, d.instanceCreates, 1)
	assert.Equal(t, inst.CompositeName(), d.instanceCreates[0].CompositeName)
	assert.Equal(t, "eu-west-3a", d.instanceCreates[0].Zone)
	assert.False(t, d.instanceCreates[0].GenerateDNS)

	// With the IP recorded the instance drops out of the polling set.
	pending, err := st.ListProvisioningInstances(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProvisioner_InstanceCreateFailureLeavesRowForRetry(t *testing.T) {
	st, d, cat := setupWorkerTest(t)
	d.createErr = errors.New("quota exceeded")
	userID := createWorkerUser(t, st)
	inst := createStartingInstance(t, st, userID)

	p := NewProvisioner(st, &fakeWorkerResolver{d: d}, cat, DefaultProvisionerConfig(), slog.Default())
	p.RunCycle(context.Background())

	got, err := st.GetInstance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Empty(t, got.IPAddress)

	pending, err := st.ListProvisioningInstances(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// Next cycle picks it up again.
	d.createErr = nil
	p.RunCycle(context.Background())

	got, err = st.GetInstance(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.10", got.IPAddress)
}

func TestProvisioner_BucketGetsCredentialsAndActivates(t *testing.T) {
	st, d, cat := setupWorkerTest(t)
	d.bucketCreds = &driver.Credentials{
		Endpoint:  "https://data.s3.eu-west-3.amazonaws.com",
		AccessKey: "AKIATEST",
		SecretKey: "secret",
	}
	userID := createWorkerUser(t, st)

	bucket, err := domain.NewBucket(userID, "data", domain.ProviderAWS, "eu-west-3", "private")
	require.NoError(t, err)
	require.NoError(t, st.CreateBucket(context.Background(), bucket))

	p := NewProvisioner(st, &fakeWorkerResolver{d: d}, cat, DefaultProvisionerConfig(), slog.Default())
	p.RunCycle(context.Background())

	got, err := st.GetBucket(context.Background(), bucket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, "https://data.s3.eu-west-3.amazonaws.com", got.Endpoint)
	assert.Equal(t, "AKIATEST", got.AccessKey)

	require.Len(t, d.bucketCreates, 1)
	assert.Equal(t, "worker@example.com", d.bucketCreates[0].OwnerEmail)

	pending, err := st.ListProvisioningBuckets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProvisioner_RegistryGetsCredentialsAndActivates(t *testing.T) {
	st, d, cat := setupWorkerTest(t)
	d.registryCreds = &driver.Credentials{
		Endpoint:  "123456789.dkr.ecr.eu-west-3.amazonaws.com",
		AccessKey: "AKIATEST",
		SecretKey: "secret",
	}
	userID := createWorkerUser(t, st)

	registry, err := domain.NewRegistry(userID, "images", domain.ProviderAWS, "eu-west-3", "private")
	require.NoError(t, err)
	require.NoError(t, st.CreateRegistry(context.Background(), registry))

	p := NewProvisioner(st, &fakeWorkerResolver{d: d}, cat, DefaultProvisionerConfig(), slog.Default())
	p.RunCycle(context.Background())

	got, err := st.GetRegistry(context.Background(), registry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, "123456789.dkr.ecr.eu-west-3.amazonaws.com", got.Endpoint)

	require.Len(t, d.registryCreates, 1)
	assert.Equal(t, "worker@example.com", d.registryCreates[0].OwnerEmail)
}

// =============================================================================
// Reaper Tests
// =============================================================================

func enqueueInstanceTeardown(t *testing.T, st store.Store, inst *domain.Instance) *domain.Teardown {
	t.Helper()
	td := &domain.Teardown{
		ResourceType:  domain.ResourceTypeInstance,
		ResourceID:    inst.ID,
		CompositeName: inst.CompositeName(),
		Provider:      inst.Provider,
		Region:        inst.Region,
		Zone:          inst.Zone,
		OwnerEmail:    "worker@example.com",
	}
	require.NoError(t, st.CreateTeardown(context.Background(), td))
	return td
}

func TestReaper_InstanceTeardownDequeuesOnSuccess(t *testing.T) {
	st, d, _ := setupWorkerTest(t)
	userID := createWorkerUser(t, st)
	inst := createStartingInstance(t, st, userID)
	enqueueInstanceTeardown(t, st, inst)

	r := NewReaper(st, &fakeWorkerResolver{d: d}, DefaultReaperConfig(), slog.Default())
	r.RunCycle(context.Background())

	assert.Equal(t, []string{inst.CompositeName()}, d.deleteInstanceCalls)

	pending, err := st.ListPendingTeardowns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReaper_LinearBackoffThenGiveUp(t *testing.T) {
	st, d, _ := setupWorkerTest(t)
	d.deleteFailures = 100 // never succeeds
	userID := createWorkerUser(t, st)
	inst := createStartingInstance(t, st, userID)
	enqueueInstanceTeardown(t, st, inst)

	config := ReaperConfig{Interval: time.Hour, BatchSize: 10, MaxRetry: 3, WaitTime: 2 * time.Second}
	r := NewReaper(st, &fakeWorkerResolver{d: d}, config, slog.Default())

	var sleeps []time.Duration
	r.sleep = func(_ context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		return nil
	}

	r.RunCycle(context.Background())

	// Three attempts, waiting wait×1 then wait×2 in between; no sleep
	// after the final failure.
	assert.Len(t, d.deleteInstanceCalls, 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps)

	// Abandoned jobs leave the queue.
	pending, err := st.ListPendingTeardowns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReaper_ResumesFromPersistedAttempts(t *testing.T) {
	st, d, _ := setupWorkerTest(t)
	d.deleteFailures = 100
	userID := createWorkerUser(t, st)
	inst := createStartingInstance(t, st, userID)
	td := enqueueInstanceTeardown(t, st, inst)
	require.NoError(t, st.UpdateTeardownAttempts(context.Background(), td.ID, 2))

	config := ReaperConfig{Interval: time.Hour, BatchSize: 10, MaxRetry: 3, WaitTime: time.Second}
	r := NewReaper(st, &fakeWorkerResolver{d: d}, config, slog.Default())

	var sleeps []time.Duration
	r.sleep = func(_ context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		return nil
	}

	r.RunCycle(context.Background())

	// Two attempts already burned before the restart; only one remains.
	assert.Len(t, d.deleteInstanceCalls, 1)
	assert.Empty(t, sleeps)
}

func TestReaper_RecoversAfterTransientFailure(t *testing.T) {
	st, d, _ := setupWorkerTest(t)
	d.deleteFailures = 1 // first call fails, second succeeds
	userID := createWorkerUser(t, st)
	inst := createStartingInstance(t, st, userID)
	enqueueInstanceTeardown(t, st, inst)

	config := ReaperConfig{Interval: time.Hour, BatchSize: 10, MaxRetry: 5, WaitTime: time.Second}
	r := NewReaper(st, &fakeWorkerResolver{d: d}, config, slog.Default())
	r.sleep = func(context.Context, time.Duration) error { return nil }

	r.RunCycle(context.Background())

	assert.Len(t, d.deleteInstanceCalls, 2)

	pending, err := st.ListPendingTeardowns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReaper_BucketTeardownLoadsRowForDriver(t *testing.T) {
	st, d, _ := setupWorkerTest(t)
	userID := createWorkerUser(t, st)

	bucket, err := domain.NewBucket(userID, "data", domain.ProviderAWS, "eu-west-3", "private")
	require.NoError(t, err)
	require.NoError(t, st.CreateBucket(context.Background(), bucket))
	require.NoError(t, st.UpdateBucketStatus(context.Background(), bucket.ID, domain.StatusDeleted, time.Now()))

	td := &domain.Teardown{
		ResourceType:  domain.ResourceTypeBucket,
		ResourceID:    bucket.ID,
		CompositeName: bucket.CompositeName(),
		Provider:      bucket.Provider,
		Region:        bucket.Region,
		OwnerEmail:    "worker@example.com",
	}
	require.NoError(t, st.CreateTeardown(context.Background(), td))

	r := NewReaper(st, &fakeWorkerResolver{d: d}, DefaultReaperConfig(), slog.Default())
	r.RunCycle(context.Background())

	assert.Equal(t, []string{bucket.CompositeName()}, d.deleteBucketCalls)

	pending, err := st.ListPendingTeardowns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReaper_SleepAbortsOnContextCancel(t *testing.T) {
	st, d, _ := setupWorkerTest(t)
	d.deleteFailures = 100
	userID := createWorkerUser(t, st)
	inst := createStartingInstance(t, st, userID)
	enqueueInstanceTeardown(t, st, inst)

	config := ReaperConfig{Interval: time.Hour, BatchSize: 10, MaxRetry: 5, WaitTime: time.Hour}
	r := NewReaper(st, &fakeWorkerResolver{d: d}, config, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	r.RunCycle(ctx)

	// One attempt, then the cancelled sleep stops the loop. The job keeps
	// its budget for the next cycle.
	assert.Len(t, d.deleteInstanceCalls, 1)

	pending, err := st.ListPendingTeardowns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestReaper_StartStop(t *testing.T) {
	st, d, _ := setupWorkerTest(t)

	r := NewReaper(st, &fakeWorkerResolver{d: d}, ReaperConfig{Interval: time.Hour}, slog.Default())
	r.Start()
	r.Stop()
}

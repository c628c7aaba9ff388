package driver

import (
	"context"
	"log/slog"

	"github.com/artpar/nubo/internal/core/domain"
)

// VoidDriver is the always-succeeds, no-op backend used when a provider is
// unconfigured or disabled. It lets the system run in degraded/offline mode
// (CI, local development, a provider temporarily deconfigured) without
// special-casing callers: every operation returns harmless placeholder data
// rather than failing. This is a documented policy, distinct from the real
// drivers' fail-loud behavior.
type VoidDriver struct {
	logger *slog.Logger
}

// NewVoidDriver creates the no-op driver.
func NewVoidDriver(logger *slog.Logger) *VoidDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoidDriver{logger: logger.With("provider", "void")}
}

var _ Driver = (*VoidDriver)(nil)

func (d *VoidDriver) Provider() domain.Provider {
	return domain.ProviderVoid
}

func (d *VoidDriver) CreateInstance(_ context.Context, req CreateInstanceRequest) (*CreateInstanceResult, error) {
	d.logger.Debug("void create instance", "name", req.CompositeName)
	return &CreateInstanceResult{IP: "0.0.0.0"}, nil
}

func (d *VoidDriver) RefreshInstance(_ context.Context, _ RefreshInstanceRequest) (*RefreshInstanceResult, error) {
	return nil, nil
}

func (d *VoidDriver) GetVirtualMachine(_ context.Context, _, _, compositeName string) (*VirtualMachine, error) {
	return &VirtualMachine{ID: "void-" + compositeName, State: "running"}, nil
}

func (d *VoidDriver) UpdateVirtualMachineStatus(_ context.Context, _, _, serverID string, action domain.Action) error {
	d.logger.Debug("void power action", "server_id", serverID, "action", action)
	return nil
}

func (d *VoidDriver) ServerState(_ *VirtualMachine) domain.ServerState {
	return domain.StateRunning
}

func (d *VoidDriver) DeleteInstance(_ context.Context, _, _, compositeName string) error {
	d.logger.Debug("void delete instance", "name", compositeName)
	return nil
}

func (d *VoidDriver) CreateBucket(_ context.Context, req CreateBucketRequest) (*Credentials, error) {
	d.logger.Debug("void create bucket", "name", req.CompositeName)
	return &Credentials{
		Endpoint:  "https://void.invalid/" + req.CompositeName,
		AccessKey: "void-access-key",
		SecretKey: "void-secret-key",
		Status:    domain.StatusActive,
	}, nil
}

func (d *VoidDriver) UpdateBucketCredentials(_ context.Context, bucket *domain.Bucket) (*Credentials, error) {
	return &Credentials{
		Endpoint:  bucket.Endpoint,
		AccessKey: "void-access-key",
		SecretKey: "void-secret-key",
		Status:    domain.StatusActive,
	}, nil
}

func (d *VoidDriver) DeleteBucket(_ context.Context, bucket *domain.Bucket, _ string) error {
	d.logger.Debug("void delete bucket", "name", bucket.CompositeName())
	return nil
}

func (d *VoidDriver) RefreshBucket(_ context.Context, _ string, _ int, _ string) (*RefreshResult, error) {
	return nil, nil
}

func (d *VoidDriver) CreateRegistry(_ context.Context, req CreateRegistryRequest) (*Credentials, error) {
	d.logger.Debug("void create registry", "name", req.CompositeName)
	return &Credentials{
		Endpoint:  "https://void.invalid/registry/" + req.CompositeName,
		AccessKey: "void-access-key",
		SecretKey: "void-secret-key",
		Status:    domain.StatusActive,
	}, nil
}

func (d *VoidDriver) UpdateRegistryCredentials(_ context.Context, registry *domain.Registry) (*Credentials, error) {
	return &Credentials{
		Endpoint:  registry.Endpoint,
		AccessKey: "void-access-key",
		SecretKey: "void-secret-key",
		Status:    domain.StatusActive,
	}, nil
}

func (d *VoidDriver) DeleteRegistry(_ context.Context, registry *domain.Registry, _ string) error {
	d.logger.Debug("void delete registry", "name", registry.CompositeName())
	return nil
}

func (d *VoidDriver) RefreshRegistry(_ context.Context, _ string, _ int, _ string) (*RefreshResult, error) {
	return nil, nil
}

func (d *VoidDriver) CreateDNSRecords(_ context.Context, req DNSRecordRequest) error {
	d.logger.Debug("void dns records", "name", req.CompositeName, "zone", req.RootDNSZone)
	return nil
}

func (d *VoidDriver) CloudInitScript() string {
	return "cloud-init-void.sh"
}

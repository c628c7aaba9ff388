// Package workers holds the long-lived background loops: the provisioner
// that performs cloud-side creation after the synchronous row insert, and
// the reaper that retries scheduled teardowns.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/nubo/internal/core/catalog"
	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/driver"
	"github.com/artpar/nubo/internal/shell/store"
)

// DriverResolver resolves the driver for a provider. Satisfied by
// driver.Registry; tests substitute a fake.
type DriverResolver interface {
	ForProvider(p domain.Provider) driver.Driver
}

// ProvisionerConfig configures the provisioner worker.
type ProvisionerConfig struct {
	Interval      time.Duration
	MaxConcurrent int
}

// DefaultProvisionerConfig returns default configuration.
func DefaultProvisionerConfig() ProvisionerConfig {
	return ProvisionerConfig{
		Interval:      5 * time.Second,
		MaxConcurrent: 3,
	}
}

// Provisioner polls for rows in starting status and performs the
// cloud-side create the synchronous request path deferred. The HTTP
// caller got its id back already; failures here leave the row in
// starting for a later cycle or a refresh call to notice.
type Provisioner struct {
	store   store.Store
	drivers DriverResolver
	catalog *catalog.Catalog
	config  ProvisionerConfig
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProvisioner creates a new provisioner worker.
func NewProvisioner(s store.Store, drivers DriverResolver, cat *catalog.Catalog, config ProvisionerConfig, logger *slog.Logger) *Provisioner {
	if config.Interval == 0 {
		config.Interval = 5 * time.Second
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provisioner{
		store:   s,
		drivers: drivers,
		catalog: cat,
		config:  config,
		logger:  logger.With("component", "provisioner"),
	}
}

// Start begins the provisioner background goroutine.
func (p *Provisioner) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.run()
	p.logger.Info("provisioner started", "interval", p.config.Interval, "max_concurrent", p.config.MaxConcurrent)
}

// Stop gracefully stops the provisioner.
func (p *Provisioner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("provisioner stopped")
}

func (p *Provisioner) run() {
	defer p.wg.Done()

	// Run immediately on start
	p.RunCycle(p.ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.RunCycle(p.ctx)
		}
	}
}

// RunCycle performs one polling pass over all three resource kinds.
// Exported so tests and operator tooling can drive the worker without
// the ticker.
func (p *Provisioner) RunCycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Minute)
	defer cancel()

	p.provisionInstances(ctx)
	p.provisionBuckets(ctx)
	p.provisionRegistries(ctx)
}

func (p *Provisioner) provisionInstances(ctx context.Context) {
	instances, err := p.store.ListProvisioningInstances(ctx)
	if err != nil {
		p.logger.Error("failed to list provisioning instances", "error", err)
		return
	}
	if len(instances) == 0 {
		return
	}

	p.logger.Debug("provisioning instances", "count", len(instances))

	sem := make(chan struct{}, p.config.MaxConcurrent)
	var wg sync.WaitGroup
	for i := range instances {
		inst := &instances[i]
		wg.Add(1)
		go func(inst *domain.Instance) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}
			p.provisionInstance(ctx, inst)
		}(inst)
	}
	wg.Wait()
}

func (p *Provisioner) provisionInstance(ctx context.Context, inst *domain.Instance) {
	logger := p.logger.With("instance", inst.CompositeName(), "provider", inst.Provider)

	env := driver.Environment{}
	if inst.EnvironmentID != nil {
		stored, err := p.store.GetEnvironment(ctx, *inst.EnvironmentID)
		if err != nil {
			logger.Error("environment lookup failed", "error", err)
			return
		}
		env = driver.Environment{Name: stored.Name, Path: stored.Path, Subdomains: stored.Subdomains}
	}

	d := p.drivers.ForProvider(inst.Provider)
	result, err := d.CreateInstance(ctx, driver.CreateInstanceRequest{
		InstanceID:    inst.ID,
		Image:         inst.Image,
		CompositeName: inst.CompositeName(),
		Environment:   env,
		Region:        inst.Region,
		Zone:          inst.Zone,
		InstanceType:  inst.Type,
		GenerateDNS:   inst.RootDNSZone != "" && p.catalog.HasDNSZones(),
		RootDNSZone:   inst.RootDNSZone,
	})
	if err != nil {
		logger.Error("instance provisioning failed", "error", err)
		return
	}

	if err := p.store.UpdateInstanceIP(ctx, inst.ID, result.IP); err != nil {
		logger.Error("failed to record instance ip", "error", err)
		return
	}
	// Status stays starting until an explicit activate action; only the IP
	// marks the cloud-side create as done.
	logger.Info("instance provisioned", "ip", result.IP)
}

func (p *Provisioner) provisionBuckets(ctx context.Context) {
	buckets, err := p.store.ListProvisioningBuckets(ctx)
	if err != nil {
		p.logger.Error("failed to list provisioning buckets", "error", err)
		return
	}

	for i := range buckets {
		bucket := &buckets[i]
		logger := p.logger.With("bucket", bucket.CompositeName(), "provider", bucket.Provider)

		ownerEmail, err := p.store.GetUserEmail(ctx, bucket.UserID)
		if err != nil {
			logger.Error("owner lookup failed", "error", err)
			continue
		}

		d := p.drivers.ForProvider(bucket.Provider)
		creds, err := d.CreateBucket(ctx, driver.CreateBucketRequest{
			OwnerEmail:    ownerEmail,
			BucketID:      bucket.ID,
			CompositeName: bucket.CompositeName(),
			Region:        bucket.Region,
			Type:          bucket.Type,
		})
		if err != nil {
			logger.Error("bucket provisioning failed", "error", err)
			continue
		}

		if err := p.store.UpdateBucketCredentials(ctx, bucket.ID, creds.Endpoint, creds.AccessKey, creds.SecretKey); err != nil {
			logger.Error("failed to record bucket credentials", "error", err)
			continue
		}

		status := creds.Status
		if !status.IsValid() {
			status = domain.StatusActive
		}
		if err := p.store.UpdateBucketStatus(ctx, bucket.ID, status, time.Now()); err != nil {
			logger.Error("failed to record bucket status", "error", err)
			continue
		}
		logger.Info("bucket provisioned", "endpoint", creds.Endpoint)
	}
}

func (p *Provisioner) provisionRegistries(ctx context.Context) {
	registries, err := p.store.ListProvisioningRegistries(ctx)
	if err != nil {
		p.logger.Error("failed to list provisioning registries", "error", err)
		return
	}

	for i := range registries {
		registry := &registries[i]
		logger := p.logger.With("registry", registry.CompositeName(), "provider", registry.Provider)

		ownerEmail, err := p.store.GetUserEmail(ctx, registry.UserID)
		if err != nil {
			logger.Error("owner lookup failed", "error", err)
			continue
		}

		d := p.drivers.ForProvider(registry.Provider)
		creds, err := d.CreateRegistry(ctx, driver.CreateRegistryRequest{
			OwnerEmail:    ownerEmail,
			RegistryID:    registry.ID,
			CompositeName: registry.CompositeName(),
			Region:        registry.Region,
			Type:          registry.Type,
		})
		if err != nil {
			logger.Error("registry provisioning failed", "error", err)
			continue
		}

		if err := p.store.UpdateRegistryCredentials(ctx, registry.ID, creds.Endpoint, creds.AccessKey, creds.SecretKey); err != nil {
			logger.Error("failed to record registry credentials", "error", err)
			continue
		}

		status := creds.Status
		if !status.IsValid() {
			status = domain.StatusActive
		}
		if err := p.store.UpdateRegistryStatus(ctx, registry.ID, status, time.Now()); err != nil {
			logger.Error("failed to record registry status", "error", err)
			continue
		}
		logger.Info("registry provisioned", "endpoint", creds.Endpoint)
	}
}

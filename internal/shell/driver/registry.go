package driver

import (
	"fmt"
	"log/slog"

	"github.com/artpar/nubo/internal/core/catalog"
	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/cache"
	"github.com/artpar/nubo/internal/shell/stack"
)

// =============================================================================
// Configuration
// =============================================================================

// Config enables and configures the concrete backends. A nil entry leaves
// that provider disabled; the registry serves the Void driver in its place
// so callers need no special-casing for degraded/offline mode.
type Config struct {
	AWS      *AWSConfig
	Azure    *AzureConfig
	GCP      *GCPConfig
	OVH      *OVHConfig
	Scaleway *ScalewayConfig
}

// Deps are the collaborators shared by all drivers.
type Deps struct {
	Stacks  *stack.Engine
	Cache   cache.Cache
	Catalog *catalog.Catalog
	Logger  *slog.Logger
}

// DNSRouter resolves the driver owning a root DNS zone. The DNS-capable
// driver may differ from the compute provider of a resource.
type DNSRouter interface {
	DNSDriver(rootZone string) (Driver, error)
}

// =============================================================================
// Registry
// =============================================================================

// Registry is the compile-time mapping from provider identifier to driver.
// Adding a provider means adding a case to build and a config field; there
// is no runtime string-to-implementation resolution.
type Registry struct {
	drivers map[domain.Provider]Driver
	catalog *catalog.Catalog
	void    *VoidDriver
}

// NewRegistry constructs drivers for every configured provider.
func NewRegistry(cfg Config, deps Deps) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := &Registry{
		drivers: make(map[domain.Provider]Driver),
		catalog: deps.Catalog,
		void:    NewVoidDriver(deps.Logger),
	}
	r.drivers[domain.ProviderVoid] = r.void

	for _, p := range []domain.Provider{
		domain.ProviderAWS,
		domain.ProviderAzure,
		domain.ProviderGCP,
		domain.ProviderOVH,
		domain.ProviderScaleway,
	} {
		d, err := build(p, cfg, deps, r)
		if err != nil {
			return nil, fmt.Errorf("failed to configure %s driver: %w", p, err)
		}
		if d != nil {
			r.drivers[p] = d
		}
	}

	return r, nil
}

// build returns (nil, nil) for providers left unconfigured.
func build(p domain.Provider, cfg Config, deps Deps, router DNSRouter) (Driver, error) {
	switch p {
	case domain.ProviderAWS:
		if cfg.AWS == nil {
			return nil, nil
		}
		return NewAWSDriver(*cfg.AWS, deps, router), nil

	case domain.ProviderAzure:
		if cfg.Azure == nil {
			return nil, nil
		}
		return NewAzureDriver(*cfg.Azure, deps, router)

	case domain.ProviderGCP:
		if cfg.GCP == nil {
			return nil, nil
		}
		return NewGCPDriver(*cfg.GCP, deps, router)

	case domain.ProviderOVH:
		if cfg.OVH == nil {
			return nil, nil
		}
		return NewOVHDriver(*cfg.OVH, deps, router)

	case domain.ProviderScaleway:
		if cfg.Scaleway == nil {
			return nil, nil
		}
		return NewScalewayDriver(*cfg.Scaleway, deps, router)

	default:
		return nil, fmt.Errorf("unsupported provider %q", p)
	}
}

// ForProvider resolves the driver for a provider. Unconfigured providers
// get the Void driver, which succeeds trivially with placeholder data.
func (r *Registry) ForProvider(p domain.Provider) Driver {
	if d, ok := r.drivers[p]; ok {
		return d
	}
	return r.void
}

// Configured reports whether a real backend is wired for the provider.
func (r *Registry) Configured(p domain.Provider) bool {
	if p == domain.ProviderVoid {
		return true
	}
	_, ok := r.drivers[p]
	return ok
}

// DNSDriver resolves which driver owns a root DNS zone via the catalog.
func (r *Registry) DNSDriver(rootZone string) (Driver, error) {
	owner, err := r.catalog.DNSZoneDriver(rootZone)
	if err != nil {
		return nil, err
	}
	return r.ForProvider(owner), nil
}

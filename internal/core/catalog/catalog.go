// Package catalog holds the declarative per-provider capability and pricing
// catalog. It is loaded once at process start into an explicit object and
// passed by injection; Reload replaces the document under a lock when an
// operator wants config changes without a restart.
package catalog

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/artpar/nubo/internal/core/domain"
)

// =============================================================================
// Document Types
// =============================================================================

// Document is the parsed cloud_environments.yml.
type Document struct {
	Providers []ProviderConfig `yaml:"providers"`
	DNSZones  []DNSZone        `yaml:"dns_zones"`
}

// ProviderConfig describes one cloud provider's capabilities and pricing.
type ProviderConfig struct {
	Name                     string           `yaml:"name"`
	BucketTypes              []string         `yaml:"bucket_types"`
	BucketAvailableRegions   []string         `yaml:"bucket_available_regions"`
	RegistryTypes            []string         `yaml:"registry_types"`
	RegistryAvailableRegions []string         `yaml:"registry_available_regions"`
	InstanceConfigs          []InstanceConfig `yaml:"instance_configs"`
}

// InstanceConfig lists the zones and instance types offered in one region.
type InstanceConfig struct {
	Region string       `yaml:"region"`
	Zones  []ZoneConfig `yaml:"zones"`
}

// ZoneConfig carries per-zone network wiring and the instance type menu.
type ZoneConfig struct {
	Name          string         `yaml:"name"`
	SecurityGroup string         `yaml:"sg"`
	Subnet        string         `yaml:"subnet"`
	InstanceTypes []InstanceType `yaml:"instance_types"`
}

// InstanceType is one sellable instance size with its hourly price.
type InstanceType struct {
	Type          string  `yaml:"type"`
	PriceVariable float64 `yaml:"price_variable"`
	Disabled      bool    `yaml:"disabled"`
}

// DNSZone maps a root DNS zone to the provider driver that owns it.
type DNSZone struct {
	Name   string `yaml:"name"`
	Driver string `yaml:"driver"`
}

// =============================================================================
// Errors
// =============================================================================

// LookupError reports an unknown provider/region/zone/type lookup.
type LookupError struct {
	Code string
	What string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.What)
}

func notFound(code, format string, args ...any) *LookupError {
	return &LookupError{Code: code, What: fmt.Sprintf(format, args...)}
}

// =============================================================================
// Catalog
// =============================================================================

// Catalog is the queryable, process-wide provider catalog.
type Catalog struct {
	mu   sync.RWMutex
	path string
	doc  Document
}

// Load reads and parses the catalog file.
func Load(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse builds a catalog from raw YAML, used by tests and embedded defaults.
func Parse(raw []byte) (*Catalog, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &Catalog{doc: doc}, nil
}

// Reload re-reads the catalog file and atomically replaces the document.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog %s: %w", c.path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse catalog %s: %w", c.path, err)
	}

	c.mu.Lock()
	c.doc = doc
	c.mu.Unlock()
	return nil
}

// =============================================================================
// Lookups
// =============================================================================

// Provider returns the configuration for a provider by name.
func (c *Catalog) Provider(name domain.Provider) (*ProviderConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.doc.Providers {
		if c.doc.Providers[i].Name == string(name) {
			p := c.doc.Providers[i]
			return &p, nil
		}
	}
	return nil, notFound("provider_unknown", "provider %q is not configured", name)
}

// Providers returns the names of all configured providers.
func (c *Catalog) Providers() []domain.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]domain.Provider, 0, len(c.doc.Providers))
	for i := range c.doc.Providers {
		names = append(names, domain.Provider(c.doc.Providers[i].Name))
	}
	return names
}

// Zone resolves a provider+region+zone triple.
func (c *Catalog) Zone(provider domain.Provider, region, zone string) (*ZoneConfig, error) {
	p, err := c.Provider(provider)
	if err != nil {
		return nil, err
	}

	for i := range p.InstanceConfigs {
		if p.InstanceConfigs[i].Region != region {
			continue
		}
		for j := range p.InstanceConfigs[i].Zones {
			if p.InstanceConfigs[i].Zones[j].Name == zone {
				z := p.InstanceConfigs[i].Zones[j]
				return &z, nil
			}
		}
		return nil, notFound("zone_unknown", "zone %q is not available in %s/%s", zone, provider, region)
	}
	return nil, notFound("region_unknown", "region %q is not available on %s", region, provider)
}

// InstanceType resolves an instance type within a zone. Disabled types are
// rejected the same way as unknown ones so they cannot be provisioned.
func (c *Catalog) InstanceType(provider domain.Provider, region, zone, instanceType string) (*InstanceType, error) {
	z, err := c.Zone(provider, region, zone)
	if err != nil {
		return nil, err
	}

	for i := range z.InstanceTypes {
		if z.InstanceTypes[i].Type != instanceType {
			continue
		}
		if z.InstanceTypes[i].Disabled {
			return nil, notFound("instance_type_disabled", "instance type %q is disabled in %s/%s/%s", instanceType, provider, region, zone)
		}
		it := z.InstanceTypes[i]
		return &it, nil
	}
	return nil, notFound("instance_type_unknown", "instance type %q is not available in %s/%s/%s", instanceType, provider, region, zone)
}

// InstancePrice returns the hourly unit price of an instance type.
func (c *Catalog) InstancePrice(provider domain.Provider, region, zone, instanceType string) (float64, error) {
	it, err := c.InstanceType(provider, region, zone, instanceType)
	if err != nil {
		return 0, err
	}
	return it.PriceVariable, nil
}

// ValidateBucket checks that a provider sells the bucket type in the region.
func (c *Catalog) ValidateBucket(provider domain.Provider, region, bucketType string) error {
	p, err := c.Provider(provider)
	if err != nil {
		return err
	}
	if !contains(p.BucketTypes, bucketType) {
		return notFound("bucket_type_unknown", "bucket type %q is not available on %s", bucketType, provider)
	}
	if !contains(p.BucketAvailableRegions, region) {
		return notFound("region_unknown", "buckets are not available in %s/%s", provider, region)
	}
	return nil
}

// ValidateRegistry checks that a provider sells the registry type in the region.
func (c *Catalog) ValidateRegistry(provider domain.Provider, region, registryType string) error {
	p, err := c.Provider(provider)
	if err != nil {
		return err
	}
	if !contains(p.RegistryTypes, registryType) {
		return notFound("registry_type_unknown", "registry type %q is not available on %s", registryType, provider)
	}
	if !contains(p.RegistryAvailableRegions, region) {
		return notFound("region_unknown", "registries are not available in %s/%s", provider, region)
	}
	return nil
}

// =============================================================================
// DNS Zones
// =============================================================================

// DNSZoneNames returns all configured root DNS zones.
func (c *Catalog) DNSZoneNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.doc.DNSZones))
	for _, z := range c.doc.DNSZones {
		names = append(names, z.Name)
	}
	return names
}

// HasDNSZones reports whether any DNS zone is configured; callers use this
// to compute the generate-DNS flag for instance creation.
func (c *Catalog) HasDNSZones() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.doc.DNSZones) > 0
}

// DNSZoneDriver resolves which provider owns a root DNS zone. The owning
// provider may differ from the compute provider of the resource.
func (c *Catalog) DNSZoneDriver(zoneName string) (domain.Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, z := range c.doc.DNSZones {
		if z.Name == zoneName {
			return domain.Provider(z.Driver), nil
		}
	}
	return "", notFound("dns_zone_unknown", "dns zone %q is not configured", zoneName)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

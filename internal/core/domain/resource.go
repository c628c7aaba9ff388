// Package domain contains the core domain types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"time"
)

// =============================================================================
// Provider Types
// =============================================================================

// Provider identifies a cloud infrastructure provider.
type Provider string

const (
	ProviderAWS      Provider = "aws"
	ProviderAzure    Provider = "azure"
	ProviderGCP      Provider = "gcp"
	ProviderOVH      Provider = "ovh"
	ProviderScaleway Provider = "scaleway"

	// ProviderVoid is the no-op provider used when a provider is
	// unconfigured or disabled. Every operation succeeds trivially.
	ProviderVoid Provider = "void"
)

// IsValid checks if the provider is supported.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderAWS, ProviderAzure, ProviderGCP, ProviderOVH, ProviderScaleway, ProviderVoid:
		return true
	default:
		return false
	}
}

// DisplayName returns a human-readable name for the provider.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderAWS:
		return "AWS"
	case ProviderAzure:
		return "Azure"
	case ProviderGCP:
		return "GCP"
	case ProviderOVH:
		return "OVH"
	case ProviderScaleway:
		return "Scaleway"
	case ProviderVoid:
		return "Void"
	default:
		return string(p)
	}
}

// =============================================================================
// Resource Status
// =============================================================================

// ResourceStatus is the persisted lifecycle status of a managed resource.
type ResourceStatus string

const (
	// StatusStarting is the interim status between row registration and
	// the completion of cloud-side provisioning.
	StatusStarting ResourceStatus = "starting"

	// StatusActive means the resource is provisioned and billable.
	StatusActive ResourceStatus = "active"

	// StatusPoweredOff means the instance exists but is powered off.
	StatusPoweredOff ResourceStatus = "poweredoff"

	// StatusDeleted is terminal. Rows are never hard-deleted; this status
	// excludes the resource from every active listing.
	StatusDeleted ResourceStatus = "deleted"
)

// IsValid checks if the status belongs to the instance vocabulary.
func (s ResourceStatus) IsValid() bool {
	switch s {
	case StatusStarting, StatusActive, StatusPoweredOff, StatusDeleted:
		return true
	default:
		return false
	}
}

// IsTerminal returns true when no further driver operations may be issued.
func (s ResourceStatus) IsTerminal() bool {
	return s == StatusDeleted
}

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInvalidProvider     = errors.New("invalid provider")
	ErrRegionRequired      = errors.New("region is required")
	ErrZoneRequired        = errors.New("zone is required")
	ErrTypeRequired        = errors.New("type is required")
	ErrOwnerRequired       = errors.New("owner is required")
	ErrResourceDeleted     = errors.New("resource is deleted")
	ErrHashAlreadyAssigned = errors.New("resource hash is immutable once assigned")
)

// =============================================================================
// Instance
// =============================================================================

// Instance is a managed virtual machine resource.
type Instance struct {
	ID   int    `json:"id"`
	Hash string `json:"hash"`
	Name string `json:"name"`

	Provider Provider `json:"provider"`
	Region   string   `json:"region"`
	Zone     string   `json:"zone"`
	Type     string   `json:"type"`
	Image    string   `json:"image"`

	Status    ResourceStatus `json:"status"`
	IPAddress string         `json:"ip_address,omitempty"`

	UserID        int    `json:"-"`
	ProjectID     *int   `json:"project_id,omitempty"`
	EnvironmentID *int   `json:"environment_id,omitempty"`
	RootDNSZone   string `json:"root_dns_zone,omitempty"`
	IsProtected   bool   `json:"is_protected"`

	CreatedAt        time.Time `json:"created_at"`
	ModificationDate time.Time `json:"modification_date"`
}

// NewInstance creates an instance in the starting state with a fresh hash.
// The name is normalized and validated; the hash is immutable afterwards.
func NewInstance(userID int, name string, provider Provider, region, zone, instanceType, image string) (*Instance, error) {
	name = NormalizeResourceName(name)
	if err := ValidateResourceName(name); err != nil {
		return nil, err
	}
	if !provider.IsValid() {
		return nil, ErrInvalidProvider
	}
	if region == "" {
		return nil, ErrRegionRequired
	}
	if zone == "" {
		return nil, ErrZoneRequired
	}
	if instanceType == "" {
		return nil, ErrTypeRequired
	}
	if userID == 0 {
		return nil, ErrOwnerRequired
	}

	now := time.Now()
	return &Instance{
		Hash:             GenerateHash(),
		Name:             name,
		Provider:         provider,
		Region:           region,
		Zone:             zone,
		Type:             instanceType,
		Image:            image,
		Status:           StatusStarting,
		UserID:           userID,
		CreatedAt:        now,
		ModificationDate: now,
	}, nil
}

// CompositeName returns the externally visible cloud object name.
func (i *Instance) CompositeName() string {
	return CompositeName(i.Name, i.Hash)
}

// IsDeleted reports whether the instance reached its terminal status.
func (i *Instance) IsDeleted() bool {
	return i.Status == StatusDeleted
}

// =============================================================================
// Bucket
// =============================================================================

// Bucket is a managed object-storage resource.
type Bucket struct {
	ID   int    `json:"id"`
	Hash string `json:"hash"`
	Name string `json:"name"`

	Provider Provider `json:"provider"`
	Region   string   `json:"region"`
	Type     string   `json:"type"`

	Status    ResourceStatus `json:"status"`
	Endpoint  string         `json:"endpoint,omitempty"`
	AccessKey string         `json:"access_key,omitempty"`
	SecretKey string         `json:"-"`

	UserID int `json:"-"`

	CreatedAt        time.Time `json:"created_at"`
	ModificationDate time.Time `json:"modification_date"`
}

// NewBucket creates a bucket in the starting state with a fresh hash.
func NewBucket(userID int, name string, provider Provider, region, bucketType string) (*Bucket, error) {
	name = NormalizeResourceName(name)
	if err := ValidateResourceName(name); err != nil {
		return nil, err
	}
	if !provider.IsValid() {
		return nil, ErrInvalidProvider
	}
	if region == "" {
		return nil, ErrRegionRequired
	}
	if bucketType == "" {
		return nil, ErrTypeRequired
	}
	if userID == 0 {
		return nil, ErrOwnerRequired
	}

	now := time.Now()
	return &Bucket{
		Hash:             GenerateHash(),
		Name:             name,
		Provider:         provider,
		Region:           region,
		Type:             bucketType,
		Status:           StatusStarting,
		UserID:           userID,
		CreatedAt:        now,
		ModificationDate: now,
	}, nil
}

// CompositeName returns the externally visible cloud object name.
func (b *Bucket) CompositeName() string {
	return CompositeName(b.Name, b.Hash)
}

// IsDeleted reports whether the bucket reached its terminal status.
func (b *Bucket) IsDeleted() bool {
	return b.Status == StatusDeleted
}

// =============================================================================
// Registry
// =============================================================================

// Registry is a managed container-registry resource.
type Registry struct {
	ID   int    `json:"id"`
	Hash string `json:"hash"`
	Name string `json:"name"`

	Provider Provider `json:"provider"`
	Region   string   `json:"region"`
	Type     string   `json:"type"` // visibility: private | public

	Status    ResourceStatus `json:"status"`
	Endpoint  string         `json:"endpoint,omitempty"`
	AccessKey string         `json:"access_key,omitempty"`
	SecretKey string         `json:"-"`

	UserID int `json:"-"`

	CreatedAt        time.Time `json:"created_at"`
	ModificationDate time.Time `json:"modification_date"`
}

// NewRegistry creates a registry in the starting state with a fresh hash.
func NewRegistry(userID int, name string, provider Provider, region, registryType string) (*Registry, error) {
	name = NormalizeResourceName(name)
	if err := ValidateResourceName(name); err != nil {
		return nil, err
	}
	if !provider.IsValid() {
		return nil, ErrInvalidProvider
	}
	if region == "" {
		return nil, ErrRegionRequired
	}
	if registryType == "" {
		return nil, ErrTypeRequired
	}
	if userID == 0 {
		return nil, ErrOwnerRequired
	}

	now := time.Now()
	return &Registry{
		Hash:             GenerateHash(),
		Name:             name,
		Provider:         provider,
		Region:           region,
		Type:             registryType,
		Status:           StatusStarting,
		UserID:           userID,
		CreatedAt:        now,
		ModificationDate: now,
	}, nil
}

// CompositeName returns the externally visible cloud object name.
func (r *Registry) CompositeName() string {
	return CompositeName(r.Name, r.Hash)
}

// IsDeleted reports whether the registry reached its terminal status.
func (r *Registry) IsDeleted() bool {
	return r.Status == StatusDeleted
}

// =============================================================================
// Environment
// =============================================================================

// Environment is a deployment target template attached to instances.
// Path is the base subdomain path registered in DNS; Subdomains lists
// additional records created alongside the apex record.
type Environment struct {
	ID         int      `json:"id"`
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Subdomains []string `json:"subdomains,omitempty"`
}

// =============================================================================
// Teardown
// =============================================================================

// Teardown is a scheduled background deletion of cloud-side infrastructure.
// The SQL row of the resource is already marked deleted when a teardown is
// enqueued; the teardown is best-effort with bounded retry.
type Teardown struct {
	ID            int       `json:"id"`
	ResourceType  string    `json:"resource_type"` // instance | bucket | registry
	ResourceID    int       `json:"resource_id"`
	CompositeName string    `json:"composite_name"`
	Provider      Provider  `json:"provider"`
	Region        string    `json:"region"`
	Zone          string    `json:"zone,omitempty"`
	OwnerEmail    string    `json:"-"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"created_at"`
}

// Resource type names used by teardowns and consumption records.
const (
	ResourceTypeInstance = "instance"
	ResourceTypeBucket   = "bucket"
	ResourceTypeRegistry = "registry"
)

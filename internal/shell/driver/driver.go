// Package driver implements the per-provider capability interface and its
// concrete cloud backends. This is part of the Imperative Shell - it talks
// to cloud vendor APIs. Callers never branch on provider identity; they
// resolve a Driver once through the Registry and call through the interface.
package driver

import (
	"context"
	"errors"

	"github.com/artpar/nubo/internal/core/domain"
)

// =============================================================================
// Request / Result Types
// =============================================================================

// Environment describes the deployment target attached to an instance.
// Path is the DNS apex label; Subdomains get one record each.
type Environment struct {
	Name       string
	Path       string
	Subdomains []string
}

// CreateInstanceRequest carries everything a driver needs to provision a VM.
type CreateInstanceRequest struct {
	InstanceID    int
	Image         string // provider-native base image reference
	CompositeName string
	Environment   Environment
	Region        string
	Zone          string
	InstanceType  string
	GenerateDNS   bool
	RootDNSZone   string
}

// CreateInstanceResult is the captured output of instance provisioning.
type CreateInstanceResult struct {
	IP string
}

// RefreshInstanceRequest identifies an instance for a best-effort re-read.
type RefreshInstanceRequest struct {
	InstanceID    int
	CompositeName string
	Environment   Environment
	Region        string
	Zone          string
}

// RefreshInstanceResult carries drift detected by a refresh. A nil result
// means the provider does not support refresh.
type RefreshInstanceResult struct {
	Type string
	IP   string
}

// VirtualMachine is the provider-native live descriptor of a VM. State is
// the vendor's raw status string; translate it with Driver.ServerState.
type VirtualMachine struct {
	ID    string
	State string
}

// CreateBucketRequest carries everything a driver needs for a bucket.
type CreateBucketRequest struct {
	OwnerEmail    string
	BucketID      int
	CompositeName string
	Region        string
	Type          string
}

// CreateRegistryRequest carries everything a driver needs for a registry.
type CreateRegistryRequest struct {
	OwnerEmail    string
	RegistryID    int
	CompositeName string
	Region        string
	Type          string // visibility
}

// Credentials is the provisioning output for buckets and registries.
// AccessKey/SecretKey stay empty where the provider has no concept of
// static per-resource keys.
type Credentials struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Status    domain.ResourceStatus
}

// RefreshResult carries drift detected by a bucket/registry refresh.
// A nil result means the provider does not support refresh.
type RefreshResult struct {
	Type string
}

// DNSRecordRequest registers the apex record plus one record per subdomain.
type DNSRecordRequest struct {
	CompositeName string
	Environment   Environment
	IP            string
	RootDNSZone   string
}

// =============================================================================
// Errors
// =============================================================================

// ErrDNSNotSupported is returned by drivers that cannot manage DNS zones.
// The registry routes DNS work to the driver owning the root zone, so this
// only surfaces on catalog misconfiguration.
var ErrDNSNotSupported = errors.New("provider does not manage dns zones")

// =============================================================================
// Driver Interface
// =============================================================================

// Driver is the uniform contract every cloud backend satisfies.
//
// Failure policy: create/update operations surface errors and the caller
// (a background worker) owns retry. GetVirtualMachine normalizes every
// vendor "not found" shape into (nil, nil), never an error. Delete
// operations are idempotent: re-invocation after a partial failure must
// not fail on already-gone objects. Refresh operations are best-effort
// and return nil results where unsupported.
type Driver interface {
	// Provider identifies the backend.
	Provider() domain.Provider

	// CreateInstance provisions a VM plus its public IP and security
	// wiring, records the footprint in the stack keyed by the composite
	// name, and returns the captured public IP.
	CreateInstance(ctx context.Context, req CreateInstanceRequest) (*CreateInstanceResult, error)

	// RefreshInstance re-reads instance type and IP. Best-effort.
	RefreshInstance(ctx context.Context, req RefreshInstanceRequest) (*RefreshInstanceResult, error)

	// GetVirtualMachine returns the live provider-native descriptor, or
	// (nil, nil) when the VM does not exist.
	GetVirtualMachine(ctx context.Context, region, zone, compositeName string) (*VirtualMachine, error)

	// UpdateVirtualMachineStatus issues a power action against a VM by its
	// provider-native server ID. Side-effecting only.
	UpdateVirtualMachineStatus(ctx context.Context, region, zone, serverID string, action domain.Action) error

	// ServerState translates the descriptor's raw state into the canonical
	// vocabulary. Pure function, no I/O.
	ServerState(vm *VirtualMachine) domain.ServerState

	// DeleteInstance tears down the VM and every footprint resource
	// recorded under the composite name. Idempotent.
	DeleteInstance(ctx context.Context, region, zone, compositeName string) error

	// CreateBucket provisions object storage plus scoped credentials.
	CreateBucket(ctx context.Context, req CreateBucketRequest) (*Credentials, error)

	// UpdateBucketCredentials revokes the old key and mints a new one.
	// Never both valid simultaneously.
	UpdateBucketCredentials(ctx context.Context, bucket *domain.Bucket) (*Credentials, error)

	// DeleteBucket tears down the bucket and its credentials. Idempotent.
	DeleteBucket(ctx context.Context, bucket *domain.Bucket, ownerEmail string) error

	// RefreshBucket re-reads bucket classification. Best-effort.
	RefreshBucket(ctx context.Context, ownerEmail string, bucketID int, compositeName string) (*RefreshResult, error)

	// CreateRegistry provisions a container registry plus credentials.
	CreateRegistry(ctx context.Context, req CreateRegistryRequest) (*Credentials, error)

	// UpdateRegistryCredentials revokes the old key and mints a new one.
	UpdateRegistryCredentials(ctx context.Context, registry *domain.Registry) (*Credentials, error)

	// DeleteRegistry tears down the registry. Idempotent.
	DeleteRegistry(ctx context.Context, registry *domain.Registry, ownerEmail string) error

	// RefreshRegistry re-reads registry visibility. Best-effort.
	RefreshRegistry(ctx context.Context, ownerEmail string, registryID int, compositeName string) (*RefreshResult, error)

	// CreateDNSRecords registers the apex A record plus one per subdomain
	// in a root zone this driver owns.
	CreateDNSRecords(ctx context.Context, req DNSRecordRequest) error

	// CloudInitScript names the boot script template for this provider.
	CloudInitScript() string
}

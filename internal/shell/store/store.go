package store

import (
	"context"
	"time"

	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/stack"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for nubo entities. Resource rows
// are soft-deleted: status moves to deleted and active listings exclude
// them, but the row survives for billing history.
type Store interface {
	// User resolution (upsert by email)
	ResolveUser(ctx context.Context, email, name string) (int, error)
	GetUserEmail(ctx context.Context, userID int) (string, error)

	// Environment operations
	CreateEnvironment(ctx context.Context, env *domain.Environment) error
	GetEnvironment(ctx context.Context, id int) (*domain.Environment, error)
	ListEnvironments(ctx context.Context, opts ListOptions) ([]domain.Environment, error)
	DeleteEnvironment(ctx context.Context, id int) error

	// Instance operations
	CreateInstance(ctx context.Context, inst *domain.Instance) error
	GetInstance(ctx context.Context, id int) (*domain.Instance, error)
	UpdateInstanceStatus(ctx context.Context, id int, status domain.ResourceStatus, modifiedAt time.Time) error
	UpdateInstanceIP(ctx context.Context, id int, ip string) error
	UpdateInstanceType(ctx context.Context, id int, instanceType string) error
	UpdateInstanceOwner(ctx context.Context, id int, userID int) error
	ListInstances(ctx context.Context, userID int, opts ListOptions) ([]domain.Instance, error)
	ListProvisioningInstances(ctx context.Context) ([]domain.Instance, error)

	// Bucket operations
	CreateBucket(ctx context.Context, bucket *domain.Bucket) error
	GetBucket(ctx context.Context, id int) (*domain.Bucket, error)
	UpdateBucketStatus(ctx context.Context, id int, status domain.ResourceStatus, modifiedAt time.Time) error
	UpdateBucketCredentials(ctx context.Context, id int, endpoint, accessKey, secretKey string) error
	UpdateBucketType(ctx context.Context, id int, bucketType string) error
	UpdateBucketOwner(ctx context.Context, id int, userID int) error
	ListBuckets(ctx context.Context, userID int, opts ListOptions) ([]domain.Bucket, error)
	ListProvisioningBuckets(ctx context.Context) ([]domain.Bucket, error)

	// Registry operations
	CreateRegistry(ctx context.Context, registry *domain.Registry) error
	GetRegistry(ctx context.Context, id int) (*domain.Registry, error)
	UpdateRegistryStatus(ctx context.Context, id int, status domain.ResourceStatus, modifiedAt time.Time) error
	UpdateRegistryCredentials(ctx context.Context, id int, endpoint, accessKey, secretKey string) error
	UpdateRegistryType(ctx context.Context, id int, registryType string) error
	UpdateRegistryOwner(ctx context.Context, id int, userID int) error
	ListRegistries(ctx context.Context, userID int, opts ListOptions) ([]domain.Registry, error)
	ListProvisioningRegistries(ctx context.Context) ([]domain.Registry, error)

	// Consumption operations (usage-based billing)
	CreateConsumption(ctx context.Context, c *domain.Consumption) error
	ListConsumptions(ctx context.Context, userID int, opts ListOptions) ([]domain.Consumption, error)
	GetUnreportedConsumptions(ctx context.Context, limit int) ([]domain.Consumption, error)
	MarkConsumptionsReported(ctx context.Context, ids []string, reportedAt time.Time) error

	// Teardown queue operations
	CreateTeardown(ctx context.Context, td *domain.Teardown) error
	ListPendingTeardowns(ctx context.Context, limit int) ([]domain.Teardown, error)
	UpdateTeardownAttempts(ctx context.Context, id int, attempts int) error
	DeleteTeardown(ctx context.Context, id int) error

	// Stack footprints (implements stack.Store)
	GetStack(ctx context.Context, name string) (*stack.Stack, error)
	SaveStack(ctx context.Context, st *stack.Stack) error
	DeleteStack(ctx context.Context, name string) error

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

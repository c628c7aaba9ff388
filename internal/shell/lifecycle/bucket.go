package lifecycle

import (
	"context"
	"time"

	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/store"
)

// =============================================================================
// Bucket Create
// =============================================================================

// CreateBucketParams carries caller input for bucket registration.
type CreateBucketParams struct {
	UserID   int
	Name     string
	Provider domain.Provider
	Region   string
	Type     string
}

// CreateBucket validates against the catalog and registers the row in
// starting status. Cloud-side provisioning happens asynchronously.
func (s *Service) CreateBucket(ctx context.Context, params CreateBucketParams) (*domain.Bucket, error) {
	if err := s.catalog.ValidateBucket(params.Provider, params.Region, params.Type); err != nil {
		return nil, err
	}

	bucket, err := domain.NewBucket(params.UserID, params.Name, params.Provider, params.Region, params.Type)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateBucket(ctx, bucket); err != nil {
		return nil, err
	}

	s.logger.Info("bucket registered",
		"bucket", bucket.CompositeName(),
		"provider", bucket.Provider,
		"region", bucket.Region)
	return bucket, nil
}

// GetBucket loads a bucket by id.
func (s *Service) GetBucket(ctx context.Context, id int) (*domain.Bucket, error) {
	bucket, err := s.store.GetBucket(ctx, id)
	if err != nil {
		return nil, newError(CodeBucketNotFound, "bucket %d does not exist", id)
	}
	return bucket, nil
}

// ListBuckets returns the caller's non-deleted buckets.
func (s *Service) ListBuckets(ctx context.Context, userID int, opts store.ListOptions) ([]domain.Bucket, error) {
	return s.store.ListBuckets(ctx, userID, opts)
}

// =============================================================================
// Bucket Credentials
// =============================================================================

// RotateBucketCredentials revokes the bucket's access key and mints a new
// one, persisting the replacement. The old key is dead before the new one
// is returned.
func (s *Service) RotateBucketCredentials(ctx context.Context, id int) (*domain.Bucket, error) {
	bucket, err := s.store.GetBucket(ctx, id)
	if err != nil {
		return nil, newError(CodeBucketNotFound, "bucket %d does not exist", id)
	}
	if bucket.IsDeleted() {
		return nil, newError(CodeResourceDeleted, "bucket %s is deleted", bucket.CompositeName())
	}

	d := s.drivers.ForProvider(bucket.Provider)
	creds, err := d.UpdateBucketCredentials(ctx, bucket)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateBucketCredentials(ctx, id, creds.Endpoint, creds.AccessKey, creds.SecretKey); err != nil {
		return nil, err
	}
	bucket.Endpoint = creds.Endpoint
	bucket.AccessKey = creds.AccessKey
	bucket.SecretKey = creds.SecretKey

	s.logger.Info("bucket credentials rotated", "bucket", bucket.CompositeName())
	return bucket, nil
}

// =============================================================================
// Bucket Delete / Refresh
// =============================================================================

// DeleteBucket soft-deletes the row and enqueues the cloud-side teardown.
// Idempotent.
func (s *Service) DeleteBucket(ctx context.Context, id int) error {
	bucket, err := s.store.GetBucket(ctx, id)
	if err != nil {
		return newError(CodeBucketNotFound, "bucket %d does not exist", id)
	}
	if bucket.IsDeleted() {
		return nil
	}

	ownerEmail, err := s.store.GetUserEmail(ctx, bucket.UserID)
	if err != nil {
		s.logger.Warn("owner email unresolved for teardown", "bucket", bucket.CompositeName(), "error", err)
	}

	now := time.Now()
	return s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateBucketStatus(ctx, id, domain.StatusDeleted, now); err != nil {
			return err
		}
		return tx.CreateTeardown(ctx, &domain.Teardown{
			ResourceType:  domain.ResourceTypeBucket,
			ResourceID:    bucket.ID,
			CompositeName: bucket.CompositeName(),
			Provider:      bucket.Provider,
			Region:        bucket.Region,
			OwnerEmail:    ownerEmail,
			CreatedAt:     now,
		})
	})
}

// RefreshBucket re-reads the bucket classification from the provider and
// patches drift back into the row. Best-effort.
func (s *Service) RefreshBucket(ctx context.Context, id int) (*domain.Bucket, error) {
	bucket, err := s.store.GetBucket(ctx, id)
	if err != nil {
		return nil, newError(CodeBucketNotFound, "bucket %d does not exist", id)
	}
	if bucket.IsDeleted() {
		return nil, newError(CodeResourceDeleted, "bucket %s is deleted", bucket.CompositeName())
	}

	ownerEmail, err := s.store.GetUserEmail(ctx, bucket.UserID)
	if err != nil {
		return nil, err
	}

	d := s.drivers.ForProvider(bucket.Provider)
	result, err := d.RefreshBucket(ctx, ownerEmail, bucket.ID, bucket.CompositeName())
	if err != nil {
		return nil, err
	}
	if result == nil || result.Type == "" || result.Type == bucket.Type {
		return bucket, nil
	}

	if err := s.store.UpdateBucketType(ctx, id, result.Type); err != nil {
		return nil, err
	}
	bucket.Type = result.Type
	return bucket, nil
}

// TransferBucket reassigns ownership to the user behind email.
func (s *Service) TransferBucket(ctx context.Context, id int, email string) error {
	bucket, err := s.store.GetBucket(ctx, id)
	if err != nil {
		return newError(CodeBucketNotFound, "bucket %d does not exist", id)
	}
	if bucket.IsDeleted() {
		return newError(CodeResourceDeleted, "bucket %s is deleted", bucket.CompositeName())
	}

	userID, err := s.store.ResolveUser(ctx, email, "")
	if err != nil {
		return err
	}
	return s.store.UpdateBucketOwner(ctx, id, userID)
}

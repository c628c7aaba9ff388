package lifecycle

import (
	"context"
	"time"

	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/store"
)

// =============================================================================
// Registry Create
// =============================================================================

// CreateRegistryParams carries caller input for registry registration.
type CreateRegistryParams struct {
	UserID   int
	Name     string
	Provider domain.Provider
	Region   string
	Type     string // visibility: private | public
}

// CreateRegistry validates against the catalog and registers the row in
// starting status. Cloud-side provisioning happens asynchronously.
func (s *Service) CreateRegistry(ctx context.Context, params CreateRegistryParams) (*domain.Registry, error) {
	if err := s.catalog.ValidateRegistry(params.Provider, params.Region, params.Type); err != nil {
		return nil, err
	}

	registry, err := domain.NewRegistry(params.UserID, params.Name, params.Provider, params.Region, params.Type)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateRegistry(ctx, registry); err != nil {
		return nil, err
	}

	s.logger.Info("registry registered",
		"registry", registry.CompositeName(),
		"provider", registry.Provider,
		"region", registry.Region)
	return registry, nil
}

// GetRegistry loads a registry by id.
func (s *Service) GetRegistry(ctx context.Context, id int) (*domain.Registry, error) {
	registry, err := s.store.GetRegistry(ctx, id)
	if err != nil {
		return nil, newError(CodeRegistryNotFound, "registry %d does not exist", id)
	}
	return registry, nil
}

// ListRegistries returns the caller's non-deleted registries.
func (s *Service) ListRegistries(ctx context.Context, userID int, opts store.ListOptions) ([]domain.Registry, error) {
	return s.store.ListRegistries(ctx, userID, opts)
}

// =============================================================================
// Registry Credentials
// =============================================================================

// RotateRegistryCredentials revokes the registry's access key and mints a
// new one, persisting the replacement.
func (s *Service) RotateRegistryCredentials(ctx context.Context, id int) (*domain.Registry, error) {
	registry, err := s.store.GetRegistry(ctx, id)
	if err != nil {
		return nil, newError(CodeRegistryNotFound, "registry %d does not exist", id)
	}
	if registry.IsDeleted() {
		return nil, newError(CodeResourceDeleted, "registry %s is deleted", registry.CompositeName())
	}

	d := s.drivers.ForProvider(registry.Provider)
	creds, err := d.UpdateRegistryCredentials(ctx, registry)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateRegistryCredentials(ctx, id, creds.Endpoint, creds.AccessKey, creds.SecretKey); err != nil {
		return nil, err
	}
	registry.Endpoint = creds.Endpoint
	registry.AccessKey = creds.AccessKey
	registry.SecretKey = creds.SecretKey

	s.logger.Info("registry credentials rotated", "registry", registry.CompositeName())
	return registry, nil
}

// =============================================================================
// Registry Delete / Refresh
// =============================================================================

// DeleteRegistry soft-deletes the row and enqueues the cloud-side
// teardown. Idempotent.
func (s *Service) DeleteRegistry(ctx context.Context, id int) error {
	registry, err := s.store.GetRegistry(ctx, id)
	if err != nil {
		return newError(CodeRegistryNotFound, "registry %d does not exist", id)
	}
	if registry.IsDeleted() {
		return nil
	}

	ownerEmail, err := s.store.GetUserEmail(ctx, registry.UserID)
	if err != nil {
		s.logger.Warn("owner email unresolved for teardown", "registry", registry.CompositeName(), "error", err)
	}

	now := time.Now()
	return s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateRegistryStatus(ctx, id, domain.StatusDeleted, now); err != nil {
			return err
		}
		return tx.CreateTeardown(ctx, &domain.Teardown{
			ResourceType:  domain.ResourceTypeRegistry,
			ResourceID:    registry.ID,
			CompositeName: registry.CompositeName(),
			Provider:      registry.Provider,
			Region:        registry.Region,
			OwnerEmail:    ownerEmail,
			CreatedAt:     now,
		})
	})
}

// RefreshRegistry re-reads the registry visibility from the provider and
// patches drift back into the row. Best-effort.
func (s *Service) RefreshRegistry(ctx context.Context, id int) (*domain.Registry, error) {
	registry, err := s.store.GetRegistry(ctx, id)
	if err != nil {
		return nil, newError(CodeRegistryNotFound, "registry %d does not exist", id)
	}
	if registry.IsDeleted() {
		return nil, newError(CodeResourceDeleted, "registry %s is deleted", registry.CompositeName())
	}

	ownerEmail, err := s.store.GetUserEmail(ctx, registry.UserID)
	if err != nil {
		return nil, err
	}

	d := s.drivers.ForProvider(registry.Provider)
	result, err := d.RefreshRegistry(ctx, ownerEmail, registry.ID, registry.CompositeName())
	if err != nil {
		return nil, err
	}
	if result == nil || result.Type == "" || result.Type == registry.Type {
		return registry, nil
	}

	if err := s.store.UpdateRegistryType(ctx, id, result.Type); err != nil {
		return nil, err
	}
	registry.Type = result.Type
	return registry, nil
}

// TransferRegistry reassigns ownership to the user behind email.
func (s *Service) TransferRegistry(ctx context.Context, id int, email string) error {
	registry, err := s.store.GetRegistry(ctx, id)
	if err != nil {
		return newError(CodeRegistryNotFound, "registry %d does not exist", id)
	}
	if registry.IsDeleted() {
		return newError(CodeResourceDeleted, "registry %s is deleted", registry.CompositeName())
	}

	userID, err := s.store.ResolveUser(ctx, email, "")
	if err != nil {
		return err
	}
	return s.store.UpdateRegistryOwner(ctx, id, userID)
}

package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/artpar/nubo/internal/core/catalog"
	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/driver"
	"github.com/artpar/nubo/internal/shell/store"
)

// =============================================================================
// Service
// =============================================================================

// DriverResolver resolves the driver for a provider. Satisfied by
// driver.Registry; tests substitute a fake.
type DriverResolver interface {
	ForProvider(p domain.Provider) driver.Driver
}

// Service orchestrates resource lifecycles. Create paths insert the row
// synchronously in starting status and leave cloud-side provisioning to
// the background provisioner; mutating paths guard against the live
// provider-observed state before issuing any driver call.
type Service struct {
	store   store.Store
	drivers DriverResolver
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewService creates a lifecycle service.
func NewService(s store.Store, drivers DriverResolver, cat *catalog.Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   s,
		drivers: drivers,
		catalog: cat,
		logger:  logger.With("component", "lifecycle"),
	}
}

// =============================================================================
// Instance Create
// =============================================================================

// CreateInstanceParams carries caller input for instance registration.
type CreateInstanceParams struct {
	UserID        int
	Name          string
	Provider      domain.Provider
	Region        string
	Zone          string
	Type          string
	Image         string
	ProjectID     *int
	EnvironmentID *int
	RootDNSZone   string
}

// CreateInstance validates the request against the catalog, registers the
// row in starting status and returns immediately. The provisioner picks
// the row up and performs the cloud-side create asynchronously.
func (s *Service) CreateInstance(ctx context.Context, params CreateInstanceParams) (*domain.Instance, error) {
	if _, err := s.catalog.InstanceType(params.Provider, params.Region, params.Zone, params.Type); err != nil {
		return nil, err
	}

	if params.EnvironmentID != nil {
		if _, err := s.store.GetEnvironment(ctx, *params.EnvironmentID); err != nil {
			return nil, newError(CodeEnvironmentNotFound, "environment %d does not exist", *params.EnvironmentID)
		}
	}

	inst, err := domain.NewInstance(params.UserID, params.Name, params.Provider,
		params.Region, params.Zone, params.Type, params.Image)
	if err != nil {
		return nil, err
	}
	inst.ProjectID = params.ProjectID
	inst.EnvironmentID = params.EnvironmentID
	inst.RootDNSZone = params.RootDNSZone

	if err := s.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}

	s.logger.Info("instance registered",
		"instance", inst.CompositeName(),
		"provider", inst.Provider,
		"region", inst.Region)
	return inst, nil
}

// GetInstance loads an instance by id.
func (s *Service) GetInstance(ctx context.Context, id int) (*domain.Instance, error) {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, newError(CodeInstanceNotFound, "instance %d does not exist", id)
	}
	return inst, nil
}

// ListInstances returns the caller's non-deleted instances.
func (s *Service) ListInstances(ctx context.Context, userID int, opts store.ListOptions) ([]domain.Instance, error) {
	return s.store.ListInstances(ctx, userID, opts)
}

// =============================================================================
// Instance Power Actions
// =============================================================================

// UpdateInstanceStatus applies a power or logical action to an instance.
// The provider-observed state gates the transition; transient states
// reject every action.
func (s *Service) UpdateInstanceStatus(ctx context.Context, id int, action domain.Action) (*domain.Instance, error) {
	if !action.IsValid() {
		return nil, newError(CodeInvalidAction, "unknown action %q", action)
	}

	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, newError(CodeInstanceNotFound, "instance %d does not exist", id)
	}
	if inst.IsDeleted() {
		return nil, newError(CodeInstanceDeleted, "instance %s is deleted", inst.CompositeName())
	}

	if action == domain.ActionDelete {
		if err := s.DeleteInstance(ctx, id); err != nil {
			return nil, err
		}
		return s.store.GetInstance(ctx, id)
	}

	if action == domain.ActionActivate {
		if inst.Status == domain.StatusActive {
			return nil, newError(CodeInstanceAlreadyActive, "instance %s is already active", inst.CompositeName())
		}
		now := time.Now()
		if err := s.store.UpdateInstanceStatus(ctx, id, domain.StatusActive, now); err != nil {
			return nil, err
		}
		inst.Status = domain.StatusActive
		inst.ModificationDate = now
		return inst, nil
	}

	d := s.drivers.ForProvider(inst.Provider)
	vm, err := d.GetVirtualMachine(ctx, inst.Region, inst.Zone, inst.CompositeName())
	if err != nil {
		return nil, err
	}
	if vm == nil {
		return nil, newError(CodeVirtualMachineMissing, "no virtual machine found for %s", inst.CompositeName())
	}

	state := d.ServerState(vm)
	if err := domain.ValidateAction(state, action); err != nil {
		return nil, err
	}

	now := time.Now()

	// A power-off closes the open usage window.
	if action == domain.ActionPowerOff {
		s.recordConsumption(ctx, inst, now)
	}

	if err := d.UpdateVirtualMachineStatus(ctx, inst.Region, inst.Zone, vm.ID, action); err != nil {
		return nil, err
	}

	status := statusAfter(action)
	if err := s.store.UpdateInstanceStatus(ctx, id, status, now); err != nil {
		return nil, err
	}
	inst.Status = status
	inst.ModificationDate = now

	s.logger.Info("instance action applied",
		"instance", inst.CompositeName(),
		"action", action,
		"status", status)
	return inst, nil
}

// statusAfter maps a successfully issued action to the persisted status.
func statusAfter(action domain.Action) domain.ResourceStatus {
	switch action {
	case domain.ActionPowerOff:
		return domain.StatusPoweredOff
	case domain.ActionPowerOn, domain.ActionReboot, domain.ActionActivate:
		return domain.StatusActive
	default:
		return domain.StatusStarting
	}
}

// recordConsumption writes the billing line item for the window from the
// last status transition to now. Billing failures never block the action;
// they are logged and the window is lost.
func (s *Service) recordConsumption(ctx context.Context, inst *domain.Instance, now time.Time) {
	price, err := s.catalog.InstancePrice(inst.Provider, inst.Region, inst.Zone, inst.Type)
	if err != nil {
		s.logger.Warn("no catalog price for instance, skipping consumption",
			"instance", inst.CompositeName(), "error", err)
		return
	}

	c, err := domain.NewConsumption(inst, price, inst.ModificationDate, now)
	if err != nil {
		s.logger.Warn("failed to build consumption record",
			"instance", inst.CompositeName(), "error", err)
		return
	}

	if err := s.store.CreateConsumption(ctx, c); err != nil {
		s.logger.Error("failed to persist consumption record",
			"instance", inst.CompositeName(), "error", err)
	}
}

// =============================================================================
// Instance Delete
// =============================================================================

// DeleteInstance soft-deletes the row immediately and enqueues the
// cloud-side teardown. Idempotent: deleting a deleted instance is a no-op.
// The provider-observed state gates the delete like any other action; a
// machine the provider no longer reports is cleanup and stays deletable.
func (s *Service) DeleteInstance(ctx context.Context, id int) error {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return newError(CodeInstanceNotFound, "instance %d does not exist", id)
	}
	if inst.IsDeleted() {
		return nil
	}
	if inst.IsProtected {
		return newError(CodeInstanceProtected, "instance %s is protected from deletion", inst.CompositeName())
	}

	d := s.drivers.ForProvider(inst.Provider)
	vm, err := d.GetVirtualMachine(ctx, inst.Region, inst.Zone, inst.CompositeName())
	if err != nil {
		return err
	}
	if vm != nil {
		if state := d.ServerState(vm); state != domain.StateDeleted {
			if err := domain.ValidateAction(state, domain.ActionDelete); err != nil {
				return err
			}
		}
	}

	now := time.Now()

	// Deletion closes the open usage window while the instance was active.
	if inst.Status == domain.StatusActive {
		s.recordConsumption(ctx, inst, now)
	}

	ownerEmail, err := s.store.GetUserEmail(ctx, inst.UserID)
	if err != nil {
		s.logger.Warn("owner email unresolved for teardown", "instance", inst.CompositeName(), "error", err)
	}

	return s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateInstanceStatus(ctx, id, domain.StatusDeleted, now); err != nil {
			return err
		}
		return tx.CreateTeardown(ctx, &domain.Teardown{
			ResourceType:  domain.ResourceTypeInstance,
			ResourceID:    inst.ID,
			CompositeName: inst.CompositeName(),
			Provider:      inst.Provider,
			Region:        inst.Region,
			Zone:          inst.Zone,
			OwnerEmail:    ownerEmail,
			CreatedAt:     now,
		})
	})
}

// =============================================================================
// Instance Refresh / Transfer
// =============================================================================

// RefreshInstance re-reads type and IP from the provider and patches any
// drift back into the row. Best-effort: providers without refresh support
// leave the row untouched.
func (s *Service) RefreshInstance(ctx context.Context, id int) (*domain.Instance, error) {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, newError(CodeInstanceNotFound, "instance %d does not exist", id)
	}
	if inst.IsDeleted() {
		return nil, newError(CodeInstanceDeleted, "instance %s is deleted", inst.CompositeName())
	}

	env, err := s.environmentFor(ctx, inst)
	if err != nil {
		return nil, err
	}

	d := s.drivers.ForProvider(inst.Provider)
	result, err := d.RefreshInstance(ctx, driver.RefreshInstanceRequest{
		InstanceID:    inst.ID,
		CompositeName: inst.CompositeName(),
		Environment:   env,
		Region:        inst.Region,
		Zone:          inst.Zone,
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return inst, nil
	}

	if result.Type != "" && result.Type != inst.Type {
		if err := s.store.UpdateInstanceType(ctx, id, result.Type); err != nil {
			return nil, err
		}
		inst.Type = result.Type
	}
	if result.IP != "" && result.IP != inst.IPAddress {
		if err := s.store.UpdateInstanceIP(ctx, id, result.IP); err != nil {
			return nil, err
		}
		inst.IPAddress = result.IP
	}
	return inst, nil
}

// TransferInstance reassigns ownership to the user behind email, creating
// the user row on first sight.
func (s *Service) TransferInstance(ctx context.Context, id int, email string) error {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return newError(CodeInstanceNotFound, "instance %d does not exist", id)
	}
	if inst.IsDeleted() {
		return newError(CodeInstanceDeleted, "instance %s is deleted", inst.CompositeName())
	}

	userID, err := s.store.ResolveUser(ctx, email, "")
	if err != nil {
		return err
	}
	return s.store.UpdateInstanceOwner(ctx, id, userID)
}

// environmentFor resolves the deployment environment attached to an
// instance, or a zero environment when none is attached.
func (s *Service) environmentFor(ctx context.Context, inst *domain.Instance) (driver.Environment, error) {
	if inst.EnvironmentID == nil {
		return driver.Environment{}, nil
	}
	env, err := s.store.GetEnvironment(ctx, *inst.EnvironmentID)
	if err != nil {
		return driver.Environment{}, newError(CodeEnvironmentNotFound, "environment %d does not exist", *inst.EnvironmentID)
	}
	return driver.Environment{
		Name:       env.Name,
		Path:       env.Path,
		Subdomains: env.Subdomains,
	}, nil
}

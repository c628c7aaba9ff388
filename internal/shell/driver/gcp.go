package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	artifactregistry "google.golang.org/api/artifactregistry/v1"
	compute "google.golang.org/api/compute/v1"
	dns "google.golang.org/api/dns/v1"
	"google.golang.org/api/googleapi"
	iam "google.golang.org/api/iam/v1"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/stack"
)

// gcpStateTable maps Compute Engine statuses to the canonical vocabulary.
// SUSPENDED and TERMINATED both present as stopped; a TERMINATED GCE
// instance still exists and can be started again.
var gcpStateTable = domain.StateTable{
	"PROVISIONING": domain.StateStarting,
	"STAGING":      domain.StateStarting,
	"REPAIRING":    domain.StateStarting,
	"RUNNING":      domain.StateRunning,
	"STOPPING":     domain.StateStopping,
	"SUSPENDING":   domain.StateStopping,
	"SUSPENDED":    domain.StateStopped,
	"TERMINATED":   domain.StateStopped,
}

// GCPConfig holds the target project and service account credentials.
// CredentialsFile points at a service account JSON key; when empty the
// client libraries fall back to application default credentials.
type GCPConfig struct {
	ProjectID       string
	CredentialsFile string
	Timeout         time.Duration
}

// GCPDriver implements Driver against Compute Engine, Cloud Storage,
// Artifact Registry, IAM and Cloud DNS.
type GCPDriver struct {
	cfg    GCPConfig
	deps   Deps
	dns    DNSRouter
	logger *slog.Logger

	compute    *compute.Service
	storage    *storage.Service
	iam        *iam.Service
	registries *artifactregistry.Service
	zones      *dns.Service
}

// NewGCPDriver builds the Google API services once at startup.
func NewGCPDriver(cfg GCPConfig, deps Deps, dnsRouter DNSRouter) (*GCPDriver, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	computeSvc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build compute service: %w", err)
	}
	storageSvc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage service: %w", err)
	}
	iamSvc, err := iam.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build iam service: %w", err)
	}
	registrySvc, err := artifactregistry.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build artifact registry service: %w", err)
	}
	dnsSvc, err := dns.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build dns service: %w", err)
	}

	return &GCPDriver{
		cfg:        cfg,
		deps:       deps,
		dns:        dnsRouter,
		logger:     deps.Logger.With("provider", "gcp"),
		compute:    computeSvc,
		storage:    storageSvc,
		iam:        iamSvc,
		registries: registrySvc,
		zones:      dnsSvc,
	}, nil
}

var _ Driver = (*GCPDriver)(nil)

func (d *GCPDriver) Provider() domain.Provider {
	return domain.ProviderGCP
}

func (d *GCPDriver) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.Timeout)
}

// isGCPNotFound matches the googleapi 404 shape.
func isGCPNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}

// waitZoneOperation polls a zonal operation until it finishes.
func (d *GCPDriver) waitZoneOperation(ctx context.Context, zone, opName string) error {
	for {
		op, err := d.compute.ZoneOperations.Wait(d.cfg.ProjectID, zone, opName).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed waiting for operation %s: %w", opName, err)
		}
		if op.Status == "DONE" {
			if op.Error != nil && len(op.Error.Errors) > 0 {
				return fmt.Errorf("operation %s failed: %s", opName, op.Error.Errors[0].Message)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// serviceAccountID derives an account id from a composite name. GCP caps
// these at 30 characters.
func serviceAccountID(compositeName string) string {
	id := strings.ToLower(compositeName)
	if len(id) > 30 {
		id = id[:30]
	}
	return strings.TrimRight(id, "-")
}

func (d *GCPDriver) serviceAccountEmail(accountID string) string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", accountID, d.cfg.ProjectID)
}

func (d *GCPDriver) serviceAccountResource(email string) string {
	return fmt.Sprintf("projects/%s/serviceAccounts/%s", d.cfg.ProjectID, email)
}

// =============================================================================
// Instances
// =============================================================================

// CreateInstance provisions a GCE instance with an ephemeral external IP
// and the boot script injected as startup-script metadata.
func (d *GCPDriver) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*CreateInstanceResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderGCP))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	zone, err := d.deps.Catalog.Zone(domain.ProviderGCP, req.Region, req.Zone)
	if err != nil {
		return nil, err
	}

	script, err := cloudInitData(d.CloudInitScript(), req.Environment)
	if err != nil {
		return nil, err
	}

	netIface := &compute.NetworkInterface{
		AccessConfigs: []*compute.AccessConfig{
			{Type: "ONE_TO_ONE_NAT", Name: "External NAT"},
		},
	}
	if zone.Subnet != "" {
		netIface.Subnetwork = zone.Subnet
	}

	inst := &compute.Instance{
		Name:        req.CompositeName,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", req.Zone, req.InstanceType),
		Labels:      map[string]string{"managed-by": "nubo"},
		Disks: []*compute.AttachedDisk{
			{
				Boot:       true,
				AutoDelete: true,
				InitializeParams: &compute.AttachedDiskInitializeParams{
					SourceImage: req.Image,
				},
			},
		},
		NetworkInterfaces: []*compute.NetworkInterface{netIface},
		Metadata: &compute.Metadata{
			Items: []*compute.MetadataItems{
				{Key: "startup-script", Value: &script},
			},
		},
	}

	op, err := d.compute.Instances.Insert(d.cfg.ProjectID, req.Zone, inst).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	tx.Add(stack.Resource{Kind: "instance", ID: req.CompositeName, Region: req.Zone})

	if err := d.waitZoneOperation(ctx, req.Zone, op.Name); err != nil {
		return nil, err
	}
	d.logger.Info("GCE instance created", "instance", req.CompositeName, "zone", req.Zone)

	created, err := d.compute.Instances.Get(d.cfg.ProjectID, req.Zone, req.CompositeName).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read created instance: %w", err)
	}

	publicIP := ""
	for _, iface := range created.NetworkInterfaces {
		for _, ac := range iface.AccessConfigs {
			if ac.NatIP != "" {
				publicIP = ac.NatIP
			}
		}
	}
	tx.SetOutput("ip", publicIP)

	if req.GenerateDNS && req.RootDNSZone != "" {
		dnsDriver, err := d.dns.DNSDriver(req.RootDNSZone)
		if err != nil {
			return nil, err
		}
		if err := dnsDriver.CreateDNSRecords(ctx, DNSRecordRequest{
			CompositeName: req.CompositeName,
			Environment:   req.Environment,
			IP:            publicIP,
			RootDNSZone:   req.RootDNSZone,
		}); err != nil {
			return nil, fmt.Errorf("failed to create dns records: %w", err)
		}
	}

	return &CreateInstanceResult{IP: publicIP}, nil
}

// RefreshInstance re-reads machine type and external IP.
func (d *GCPDriver) RefreshInstance(ctx context.Context, req RefreshInstanceRequest) (*RefreshInstanceResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	inst, err := d.compute.Instances.Get(d.cfg.ProjectID, req.Zone, req.CompositeName).Context(ctx).Do()
	if err != nil {
		if isGCPNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read instance: %w", err)
	}

	result := &RefreshInstanceResult{}
	if idx := strings.LastIndex(inst.MachineType, "/"); idx >= 0 {
		result.Type = inst.MachineType[idx+1:]
	}
	for _, iface := range inst.NetworkInterfaces {
		for _, ac := range iface.AccessConfigs {
			if ac.NatIP != "" {
				result.IP = ac.NatIP
			}
		}
	}
	return result, nil
}

// GetVirtualMachine reads the live instance, or (nil, nil) when absent.
func (d *GCPDriver) GetVirtualMachine(ctx context.Context, _, zone string, compositeName string) (*VirtualMachine, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	inst, err := d.compute.Instances.Get(d.cfg.ProjectID, zone, compositeName).Context(ctx).Do()
	if err != nil {
		if isGCPNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read instance: %w", err)
	}
	return &VirtualMachine{ID: inst.Name, State: inst.Status}, nil
}

// UpdateVirtualMachineStatus issues a power action against a GCE instance.
func (d *GCPDriver) UpdateVirtualMachineStatus(ctx context.Context, _, zone string, serverID string, action domain.Action) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var (
		op  *compute.Operation
		err error
	)
	switch action {
	case domain.ActionPowerOff:
		op, err = d.compute.Instances.Stop(d.cfg.ProjectID, zone, serverID).Context(ctx).Do()
	case domain.ActionPowerOn:
		op, err = d.compute.Instances.Start(d.cfg.ProjectID, zone, serverID).Context(ctx).Do()
	case domain.ActionReboot:
		op, err = d.compute.Instances.Reset(d.cfg.ProjectID, zone, serverID).Context(ctx).Do()
	default:
		return fmt.Errorf("action %q does not touch the virtual machine", action)
	}
	if err != nil {
		return fmt.Errorf("failed to %s instance %s: %w", action, serverID, err)
	}

	if err := d.waitZoneOperation(ctx, zone, op.Name); err != nil {
		return err
	}
	d.logger.Info("GCE power action issued", "instance", serverID, "action", action)
	return nil
}

// ServerState translates a GCE status into the canonical vocabulary.
func (d *GCPDriver) ServerState(vm *VirtualMachine) domain.ServerState {
	return gcpStateTable.Canonical(vm.State)
}

// DeleteInstance tears down the GCE instance recorded in the footprint.
// Idempotent.
func (d *GCPDriver) DeleteInstance(ctx context.Context, _, zone string, compositeName string) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Open(ctx, compositeName)
	if err != nil {
		return err
	}
	if tx == nil {
		d.logger.Info("instance stack already gone", "instance", compositeName)
		return nil
	}

	op, err := d.compute.Instances.Delete(d.cfg.ProjectID, zone, compositeName).Context(ctx).Do()
	if err != nil && !isGCPNotFound(err) {
		tx.Release()
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	if err == nil {
		if err := d.waitZoneOperation(ctx, zone, op.Name); err != nil {
			tx.Release()
			return err
		}
	}

	d.logger.Info("GCE instance torn down", "instance", compositeName)
	return tx.Destroy(ctx)
}

// =============================================================================
// Buckets
// =============================================================================

// CreateBucket provisions a Cloud Storage bucket and a dedicated service
// account granted objectAdmin on exactly that bucket. The service account
// key is the secret handed back to the owner.
func (d *GCPDriver) CreateBucket(ctx context.Context, req CreateBucketRequest) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderGCP))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	_, err = d.storage.Buckets.Insert(d.cfg.ProjectID, &storage.Bucket{
		Name:     req.CompositeName,
		Location: req.Region,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	tx.Add(stack.Resource{Kind: "bucket", ID: req.CompositeName, Region: req.Region})

	accountID := serviceAccountID(req.CompositeName)
	sa, err := d.iam.Projects.ServiceAccounts.Create("projects/"+d.cfg.ProjectID, &iam.CreateServiceAccountRequest{
		AccountId: accountID,
		ServiceAccount: &iam.ServiceAccount{
			DisplayName: req.CompositeName,
		},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create service account: %w", err)
	}
	tx.Add(stack.Resource{Kind: "service-account", ID: sa.Email})

	policy, err := d.storage.Buckets.GetIamPolicy(req.CompositeName).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read bucket iam policy: %w", err)
	}
	policy.Bindings = append(policy.Bindings, &storage.PolicyBindings{
		Role:    "roles/storage.objectAdmin",
		Members: []string{"serviceAccount:" + sa.Email},
	})
	if _, err := d.storage.Buckets.SetIamPolicy(req.CompositeName, policy).Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("failed to bind bucket iam policy: %w", err)
	}

	key, err := d.iam.Projects.ServiceAccounts.Keys.Create(d.serviceAccountResource(sa.Email),
		&iam.CreateServiceAccountKeyRequest{}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create service account key: %w", err)
	}

	endpoint := "https://storage.googleapis.com/" + req.CompositeName
	tx.SetOutput("endpoint", endpoint)

	d.logger.Info("storage bucket created", "bucket", req.CompositeName, "region", req.Region)
	return &Credentials{
		Endpoint:  endpoint,
		AccessKey: sa.Email,
		SecretKey: key.PrivateKeyData,
		Status:    domain.StatusActive,
	}, nil
}

// rotateServiceAccountKey deletes every user-managed key of the account,
// then mints a new one.
func (d *GCPDriver) rotateServiceAccountKey(ctx context.Context, email string) (string, error) {
	resource := d.serviceAccountResource(email)

	keys, err := d.iam.Projects.ServiceAccounts.Keys.List(resource).
		KeyTypes("USER_MANAGED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to list service account keys: %w", err)
	}
	for _, k := range keys.Keys {
		if _, err := d.iam.Projects.ServiceAccounts.Keys.Delete(k.Name).Context(ctx).Do(); err != nil && !isGCPNotFound(err) {
			return "", fmt.Errorf("failed to revoke service account key: %w", err)
		}
	}

	key, err := d.iam.Projects.ServiceAccounts.Keys.Create(resource,
		&iam.CreateServiceAccountKeyRequest{}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create service account key: %w", err)
	}
	return key.PrivateKeyData, nil
}

// UpdateBucketCredentials rotates the bucket's service account key.
func (d *GCPDriver) UpdateBucketCredentials(ctx context.Context, bucket *domain.Bucket) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	email := bucket.AccessKey
	if email == "" {
		email = d.serviceAccountEmail(serviceAccountID(bucket.CompositeName()))
	}

	secretKey, err := d.rotateServiceAccountKey(ctx, email)
	if err != nil {
		return nil, err
	}
	return &Credentials{
		Endpoint:  bucket.Endpoint,
		AccessKey: email,
		SecretKey: secretKey,
		Status:    domain.StatusActive,
	}, nil
}

// DeleteBucket removes the bucket and its service account. Idempotent.
func (d *GCPDriver) DeleteBucket(ctx context.Context, bucket *domain.Bucket, _ string) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	name := bucket.CompositeName()
	tx, err := d.deps.Stacks.Open(ctx, name)
	if err != nil {
		return err
	}
	if tx == nil {
		d.logger.Info("bucket stack already gone", "bucket", name)
		return nil
	}

	if err := d.storage.Buckets.Delete(name).Context(ctx).Do(); err != nil && !isGCPNotFound(err) {
		tx.Release()
		return fmt.Errorf("failed to delete bucket: %w", err)
	}

	email := d.serviceAccountEmail(serviceAccountID(name))
	if res, ok := tx.Stack().Resource("service-account"); ok {
		email = res.ID
	}
	_, err = d.iam.Projects.ServiceAccounts.Delete(d.serviceAccountResource(email)).Context(ctx).Do()
	if err != nil && !isGCPNotFound(err) {
		tx.Release()
		return fmt.Errorf("failed to delete service account: %w", err)
	}

	d.logger.Info("storage bucket deleted", "bucket", name)
	return tx.Destroy(ctx)
}

// RefreshBucket re-reads the bucket's visibility from its IAM policy.
func (d *GCPDriver) RefreshBucket(ctx context.Context, _ string, _ int, compositeName string) (*RefreshResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	policy, err := d.storage.Buckets.GetIamPolicy(compositeName).Context(ctx).Do()
	if err != nil {
		if isGCPNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read bucket iam policy: %w", err)
	}

	bucketType := "private"
	for _, binding := range policy.Bindings {
		for _, member := range binding.Members {
			if member == "allUsers" {
				bucketType = "public"
			}
		}
	}
	return &RefreshResult{Type: bucketType}, nil
}

// =============================================================================
// Registries
// =============================================================================

func (d *GCPDriver) repositoryResource(region, compositeName string) string {
	return fmt.Sprintf("projects/%s/locations/%s/repositories/%s", d.cfg.ProjectID, region, compositeName)
}

// CreateRegistry provisions an Artifact Registry Docker repository and a
// service account granted admin on exactly that repository.
func (d *GCPDriver) CreateRegistry(ctx context.Context, req CreateRegistryRequest) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderGCP))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	parent := fmt.Sprintf("projects/%s/locations/%s", d.cfg.ProjectID, req.Region)
	op, err := d.registries.Projects.Locations.Repositories.Create(parent, &artifactregistry.Repository{
		Format: "DOCKER",
	}).RepositoryId(req.CompositeName).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}
	tx.Add(stack.Resource{Kind: "registry", ID: req.CompositeName, Region: req.Region})

	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
		op, err = d.registries.Projects.Locations.Operations.Get(op.Name).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed waiting for repository: %w", err)
		}
	}
	if op.Error != nil {
		return nil, fmt.Errorf("repository creation failed: %s", op.Error.Message)
	}

	accountID := serviceAccountID(req.CompositeName)
	sa, err := d.iam.Projects.ServiceAccounts.Create("projects/"+d.cfg.ProjectID, &iam.CreateServiceAccountRequest{
		AccountId: accountID,
		ServiceAccount: &iam.ServiceAccount{
			DisplayName: req.CompositeName,
		},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create service account: %w", err)
	}
	tx.Add(stack.Resource{Kind: "service-account", ID: sa.Email})

	repoResource := d.repositoryResource(req.Region, req.CompositeName)
	_, err = d.registries.Projects.Locations.Repositories.SetIamPolicy(repoResource,
		&artifactregistry.SetIamPolicyRequest{
			Policy: &artifactregistry.Policy{
				Bindings: []*artifactregistry.Binding{
					{
						Role:    "roles/artifactregistry.repoAdmin",
						Members: []string{"serviceAccount:" + sa.Email},
					},
				},
			},
		}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to bind repository iam policy: %w", err)
	}

	key, err := d.iam.Projects.ServiceAccounts.Keys.Create(d.serviceAccountResource(sa.Email),
		&iam.CreateServiceAccountKeyRequest{}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create service account key: %w", err)
	}

	endpoint := fmt.Sprintf("%s-docker.pkg.dev/%s/%s", req.Region, d.cfg.ProjectID, req.CompositeName)
	tx.SetOutput("endpoint", endpoint)

	d.logger.Info("artifact repository created", "registry", req.CompositeName, "region", req.Region)
	return &Credentials{
		Endpoint:  endpoint,
		AccessKey: sa.Email,
		SecretKey: key.PrivateKeyData,
		Status:    domain.StatusActive,
	}, nil
}

// UpdateRegistryCredentials rotates the registry's service account key.
func (d *GCPDriver) UpdateRegistryCredentials(ctx context.Context, registry *domain.Registry) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	email := registry.AccessKey
	if email == "" {
		email = d.serviceAccountEmail(serviceAccountID(registry.CompositeName()))
	}

	secretKey, err := d.rotateServiceAccountKey(ctx, email)
	if err != nil {
		return nil, err
	}
	return &Credentials{
		Endpoint:  registry.Endpoint,
		AccessKey: email,
		SecretKey: secretKey,
		Status:    domain.StatusActive,
	}, nil
}

// DeleteRegistry removes the repository and its service account. Idempotent.
func (d *GCPDriver) DeleteRegistry(ctx context.Context, registry *domain.Registry, _ string) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	name := registry.CompositeName()
	tx, err := d.deps.Stacks.Open(ctx, name)
	if err != nil {
		return err
	}
	if tx == nil {
		d.logger.Info("registry stack already gone", "registry", name)
		return nil
	}

	region := registry.Region
	if res, ok := tx.Stack().Resource("registry"); ok && res.Region != "" {
		region = res.Region
	}

	_, err = d.registries.Projects.Locations.Repositories.Delete(d.repositoryResource(region, name)).Context(ctx).Do()
	if err != nil && !isGCPNotFound(err) {
		tx.Release()
		return fmt.Errorf("failed to delete repository: %w", err)
	}

	email := d.serviceAccountEmail(serviceAccountID(name))
	if res, ok := tx.Stack().Resource("service-account"); ok {
		email = res.ID
	}
	_, err = d.iam.Projects.ServiceAccounts.Delete(d.serviceAccountResource(email)).Context(ctx).Do()
	if err != nil && !isGCPNotFound(err) {
		tx.Release()
		return fmt.Errorf("failed to delete service account: %w", err)
	}

	d.logger.Info("artifact repository deleted", "registry", name)
	return tx.Destroy(ctx)
}

// RefreshRegistry confirms the repository exists. Artifact Registry Docker
// repositories are private unless a policy says otherwise.
func (d *GCPDriver) RefreshRegistry(ctx context.Context, _ string, _ int, compositeName string) (*RefreshResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	st, err := d.deps.Stacks.Get(ctx, compositeName)
	if err != nil || st == nil {
		return nil, err
	}
	regRes, ok := st.Resource("registry")
	if !ok {
		return nil, nil
	}

	_, err = d.registries.Projects.Locations.Repositories.Get(d.repositoryResource(regRes.Region, compositeName)).Context(ctx).Do()
	if err != nil {
		if isGCPNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read repository: %w", err)
	}
	return &RefreshResult{Type: "private"}, nil
}

// =============================================================================
// DNS
// =============================================================================

// CreateDNSRecords upserts the apex A record plus one per subdomain in a
// Cloud DNS managed zone. Cloud DNS changes are additions plus deletions,
// so existing record sets with the same name are replaced.
func (d *GCPDriver) CreateDNSRecords(ctx context.Context, req DNSRecordRequest) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	zonesResp, err := d.zones.ManagedZones.List(d.cfg.ProjectID).DnsName(req.RootDNSZone + ".").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to list managed zones: %w", err)
	}
	if len(zonesResp.ManagedZones) == 0 {
		return fmt.Errorf("managed zone %s not found", req.RootDNSZone)
	}
	zoneName := zonesResp.ManagedZones[0].Name

	fqdns := []string{fmt.Sprintf("%s.%s.", req.CompositeName, req.RootDNSZone)}
	for _, sub := range req.Environment.Subdomains {
		fqdns = append(fqdns, fmt.Sprintf("%s.%s.%s.", sub, req.CompositeName, req.RootDNSZone))
	}

	change := &dns.Change{}
	for _, fqdn := range fqdns {
		existing, err := d.zones.ResourceRecordSets.List(d.cfg.ProjectID, zoneName).
			Name(fqdn).Type("A").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to list record sets: %w", err)
		}
		change.Deletions = append(change.Deletions, existing.Rrsets...)
		change.Additions = append(change.Additions, &dns.ResourceRecordSet{
			Name:    fqdn,
			Type:    "A",
			Ttl:     300,
			Rrdatas: []string{req.IP},
		})
	}

	if _, err := d.zones.Changes.Create(d.cfg.ProjectID, zoneName, change).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to apply dns change: %w", err)
	}

	d.logger.Info("DNS records registered", "zone", req.RootDNSZone, "records", len(fqdns))
	return nil
}

// CloudInitScript names the GCP boot script template.
func (d *GCPDriver) CloudInitScript() string {
	return "cloud-init-gcp.sh"
}

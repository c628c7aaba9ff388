package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	domainapi "github.com/scaleway/scaleway-sdk-go/api/domain/v2beta1"
	"github.com/scaleway/scaleway-sdk-go/api/instance/v1"
	"github.com/scaleway/scaleway-sdk-go/api/registry/v1"
	"github.com/scaleway/scaleway-sdk-go/scw"

	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/stack"
)

// scalewayStateTable maps Scaleway server states to the canonical
// vocabulary.
var scalewayStateTable = domain.StateTable{
	"running":          domain.StateRunning,
	"starting":         domain.StateStarting,
	"stopping":         domain.StateStopping,
	"stopped":          domain.StateStopped,
	"stopped in place": domain.StateStopped,
	"locked":           domain.StateStopped,
}

// ScalewayConfig holds the API keypair and target project.
type ScalewayConfig struct {
	AccessKey string
	SecretKey string
	ProjectID string
	Timeout   time.Duration
}

// ScalewayDriver implements Driver against the Scaleway instance, registry
// and domain APIs. Object storage is S3-compatible and driven through
// minio using the project keypair; per-bucket credentials do not exist on
// Scaleway, so bucket credentials stay empty.
type ScalewayDriver struct {
	cfg    ScalewayConfig
	deps   Deps
	dns    DNSRouter
	logger *slog.Logger

	instances  *instance.API
	registries *registry.API
	zones      *domainapi.API
}

// NewScalewayDriver authenticates the SDK client once.
func NewScalewayDriver(cfg ScalewayConfig, deps Deps, dns DNSRouter) (*ScalewayDriver, error) {
	client, err := scw.NewClient(
		scw.WithAuth(cfg.AccessKey, cfg.SecretKey),
		scw.WithDefaultProjectID(cfg.ProjectID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build scaleway client: %w", err)
	}

	return &ScalewayDriver{
		cfg:        cfg,
		deps:       deps,
		dns:        dns,
		logger:     deps.Logger.With("provider", "scaleway"),
		instances:  instance.NewAPI(client),
		registries: registry.NewAPI(client),
		zones:      domainapi.NewAPI(client),
	}, nil
}

var _ Driver = (*ScalewayDriver)(nil)

func (d *ScalewayDriver) Provider() domain.Provider {
	return domain.ProviderScaleway
}

func (d *ScalewayDriver) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.Timeout)
}

// isScalewayNotFound matches the SDK not-found shape.
func isScalewayNotFound(err error) bool {
	notFound := &scw.ResourceNotFoundError{}
	return errors.As(err, &notFound)
}

// =============================================================================
// Instances
// =============================================================================

// CreateInstance provisions a server with a dynamic public IP, injects the
// boot script as cloud-init user data and powers it on.
func (d *ScalewayDriver) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*CreateInstanceResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderScaleway))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	zone := scw.Zone(req.Zone)

	created, err := d.instances.CreateServer(&instance.CreateServerRequest{
		Zone:              zone,
		Name:              req.CompositeName,
		CommercialType:    req.InstanceType,
		Image:             scw.StringPtr(req.Image),
		DynamicIPRequired: scw.BoolPtr(true),
		Tags:              []string{"managed-by=nubo"},
	}, scw.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	serverID := created.Server.ID
	tx.Add(stack.Resource{Kind: "instance", ID: serverID, Region: req.Zone})
	d.logger.Info("server created", "server_id", serverID, "zone", req.Zone)

	script, err := cloudInitData(d.CloudInitScript(), req.Environment)
	if err != nil {
		return nil, err
	}
	err = d.instances.SetServerUserData(&instance.SetServerUserDataRequest{
		Zone:     zone,
		ServerID: serverID,
		Key:      "cloud-init",
		Content:  strings.NewReader(script),
	}, scw.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to set cloud-init data: %w", err)
	}

	_, err = d.instances.ServerAction(&instance.ServerActionRequest{
		Zone:     zone,
		ServerID: serverID,
		Action:   instance.ServerActionPoweron,
	}, scw.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to power on server: %w", err)
	}

	server, err := d.instances.WaitForServer(&instance.WaitForServerRequest{
		Zone:     zone,
		ServerID: serverID,
	}, scw.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed waiting for server: %w", err)
	}

	publicIP := ""
	if server.PublicIP != nil && server.PublicIP.Address != nil {
		publicIP = server.PublicIP.Address.String()
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

func (d *ScalewayDriver) findServer(ctx context.Context, zone, compositeName string) (*instance.Server, error) {
	resp, err := d.instances.ListServers(&instance.ListServersRequest{
		Zone: scw.Zone(zone),
		Name: scw.StringPtr(compositeName),
	}, scw.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	for _, s := range resp.Servers {
		if s.Name == compositeName {
			return s, nil
		}
	}
	return nil, nil
}

// RefreshInstance re-reads commercial type and public IP.
func (d *ScalewayDriver) RefreshInstance(ctx context.Context, req RefreshInstanceRequest) (*RefreshInstanceResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	server, err := d.findServer(ctx, req.Zone, req.CompositeName)
	if err != nil || server == nil {
		return nil, err
	}

	result := &RefreshInstanceResult{Type: server.CommercialType}
	if server.PublicIP != nil && server.PublicIP.Address != nil {
		result.IP = server.PublicIP.Address.String()
	}
	return result, nil
}

// GetVirtualMachine returns the live descriptor, or (nil, nil) when the
// server does not exist.
func (d *ScalewayDriver) GetVirtualMachine(ctx context.Context, _, zone string, compositeName string) (*VirtualMachine, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	server, err := d.findServer(ctx, zone, compositeName)
	if err != nil || server == nil {
		return nil, err
	}
	return &VirtualMachine{ID: server.ID, State: string(server.State)}, nil
}

// UpdateVirtualMachineStatus issues a power action.
func (d *ScalewayDriver) UpdateVirtualMachineStatus(ctx context.Context, _, zone string, serverID string, action domain.Action) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var serverAction instance.ServerAction
	switch action {
	case domain.ActionPowerOff:
		serverAction = instance.ServerActionPoweroff
	case domain.ActionPowerOn:
		serverAction = instance.ServerActionPoweron
	case domain.ActionReboot:
		serverAction = instance.ServerActionReboot
	default:
		return fmt.Errorf("action %q does not touch the virtual machine", action)
	}

	_, err := d.instances.ServerAction(&instance.ServerActionRequest{
		Zone:     scw.Zone(zone),
		ServerID: serverID,
		Action:   serverAction,
	}, scw.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to %s server %s: %w", action, serverID, err)
	}

	d.logger.Info("power action issued", "server_id", serverID, "action", action)
	return nil
}

// ServerState translates a server state into the canonical vocabulary.
func (d *ScalewayDriver) ServerState(vm *VirtualMachine) domain.ServerState {
	return scalewayStateTable.Canonical(vm.State)
}

// DeleteInstance terminates the server recorded in the footprint.
// Terminate also reclaims the attached volumes and dynamic IP. Idempotent.
func (d *ScalewayDriver) DeleteInstance(ctx context.Context, _, zone string, compositeName string) error {
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

	for _, res := range tx.Stack().Resources {
		if res.Kind != "instance" {
			continue
		}
		_, err := d.instances.ServerAction(&instance.ServerActionRequest{
			Zone:     scw.Zone(zone),
			ServerID: res.ID,
			Action:   instance.ServerActionTerminate,
		}, scw.WithContext(ctx))
		if err != nil && !isScalewayNotFound(err) {
			tx.Release()
			return fmt.Errorf("failed to terminate server: %w", err)
		}
	}

	d.logger.Info("server torn down", "instance", compositeName)
	return tx.Destroy(ctx)
}

// =============================================================================
// Buckets
// =============================================================================

func (d *ScalewayDriver) s3Endpoint(region string) string {
	return fmt.Sprintf("s3.%s.scw.cloud", region)
}

func (d *ScalewayDriver) minioClient(region string) (*minio.Client, error) {
	return minio.New(d.s3Endpoint(region), &minio.Options{
		Creds:  miniocreds.NewStaticV4(d.cfg.AccessKey, d.cfg.SecretKey, ""),
		Secure: true,
		Region: region,
	})
}

// CreateBucket provisions an object-storage bucket over S3. Scaleway has
// no per-bucket credentials, so the returned keys are empty and access
// goes through the project keypair.
func (d *ScalewayDriver) CreateBucket(ctx context.Context, req CreateBucketRequest) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderScaleway))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	mc, err := d.minioClient(req.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to build s3 client: %w", err)
	}
	err = mc.MakeBucket(ctx, req.CompositeName, minio.MakeBucketOptions{Region: req.Region})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	tx.Add(stack.Resource{Kind: "bucket", ID: req.CompositeName, Region: req.Region})

	endpoint := fmt.Sprintf("https://%s/%s", d.s3Endpoint(req.Region), req.CompositeName)
	tx.SetOutput("endpoint", endpoint)

	d.logger.Info("bucket created", "bucket", req.CompositeName, "region", req.Region)
	return &Credentials{
		Endpoint: endpoint,
		Status:   domain.StatusActive,
	}, nil
}

// UpdateBucketCredentials is a no-op on Scaleway: there is no per-bucket
// keypair to rotate.
func (d *ScalewayDriver) UpdateBucketCredentials(_ context.Context, bucket *domain.Bucket) (*Credentials, error) {
	return &Credentials{
		Endpoint: bucket.Endpoint,
		Status:   domain.StatusActive,
	}, nil
}

// DeleteBucket removes the bucket over S3. Idempotent.
func (d *ScalewayDriver) DeleteBucket(ctx context.Context, bucket *domain.Bucket, _ string) error {
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

	mc, err := d.minioClient(bucket.Region)
	if err != nil {
		tx.Release()
		return fmt.Errorf("failed to build s3 client: %w", err)
	}
	if err := mc.RemoveBucket(ctx, name); err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code != "NoSuchBucket" {
			tx.Release()
			return fmt.Errorf("failed to remove bucket: %w", err)
		}
	}

	d.logger.Info("bucket deleted", "bucket", name)
	return tx.Destroy(ctx)
}

// RefreshBucket confirms the bucket still exists.
func (d *ScalewayDriver) RefreshBucket(ctx context.Context, _ string, _ int, compositeName string) (*RefreshResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	st, err := d.deps.Stacks.Get(ctx, compositeName)
	if err != nil || st == nil {
		return nil, err
	}
	res, ok := st.Resource("bucket")
	if !ok {
		return nil, nil
	}

	mc, err := d.minioClient(res.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to build s3 client: %w", err)
	}
	exists, err := mc.BucketExists(ctx, compositeName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, nil
	}
	return &RefreshResult{Type: "private"}, nil
}

// =============================================================================
// Registries
// =============================================================================

// CreateRegistry provisions a private registry namespace. Docker logins
// against it use the project keypair, so the returned keys stay empty.
func (d *ScalewayDriver) CreateRegistry(ctx context.Context, req CreateRegistryRequest) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderScaleway))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	ns, err := d.registries.CreateNamespace(&registry.CreateNamespaceRequest{
		Region:   scw.Region(req.Region),
		Name:     req.CompositeName,
		IsPublic: req.Type == "public",
	}, scw.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create registry namespace: %w", err)
	}
	tx.Add(stack.Resource{Kind: "registry", ID: ns.ID, Region: req.Region})
	tx.SetOutput("endpoint", ns.Endpoint)

	d.logger.Info("registry namespace created", "namespace_id", ns.ID, "region", req.Region)
	return &Credentials{
		Endpoint: ns.Endpoint,
		Status:   domain.StatusActive,
	}, nil
}

// UpdateRegistryCredentials is a no-op on Scaleway: namespaces have no
// dedicated keypair.
func (d *ScalewayDriver) UpdateRegistryCredentials(_ context.Context, reg *domain.Registry) (*Credentials, error) {
	return &Credentials{
		Endpoint: reg.Endpoint,
		Status:   domain.StatusActive,
	}, nil
}

// DeleteRegistry removes the namespace. Idempotent.
func (d *ScalewayDriver) DeleteRegistry(ctx context.Context, reg *domain.Registry, _ string) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	name := reg.CompositeName()
	tx, err := d.deps.Stacks.Open(ctx, name)
	if err != nil {
		return err
	}
	if tx == nil {
		d.logger.Info("registry stack already gone", "registry", name)
		return nil
	}

	if res, ok := tx.Stack().Resource("registry"); ok {
		_, err := d.registries.DeleteNamespace(&registry.DeleteNamespaceRequest{
			Region:      scw.Region(res.Region),
			NamespaceID: res.ID,
		}, scw.WithContext(ctx))
		if err != nil && !isScalewayNotFound(err) {
			tx.Release()
			return fmt.Errorf("failed to delete registry namespace: %w", err)
		}
	}

	d.logger.Info("registry namespace deleted", "registry", name)
	return tx.Destroy(ctx)
}

// RefreshRegistry re-reads the namespace visibility.
func (d *ScalewayDriver) RefreshRegistry(ctx context.Context, _ string, _ int, compositeName string) (*RefreshResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	st, err := d.deps.Stacks.Get(ctx, compositeName)
	if err != nil || st == nil {
		return nil, err
	}
	res, ok := st.Resource("registry")
	if !ok {
		return nil, nil
	}

	ns, err := d.registries.GetNamespace(&registry.GetNamespaceRequest{
		Region:      scw.Region(res.Region),
		NamespaceID: res.ID,
	}, scw.WithContext(ctx))
	if err != nil {
		if isScalewayNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read registry namespace: %w", err)
	}

	nsType := "private"
	if ns.IsPublic {
		nsType = "public"
	}
	return &RefreshResult{Type: nsType}, nil
}

// =============================================================================
// DNS
// =============================================================================

// CreateDNSRecords upserts the apex A record plus one per subdomain in a
// Scaleway DNS zone. The set change replaces any existing record with the
// same name and type.
func (d *ScalewayDriver) CreateDNSRecords(ctx context.Context, req DNSRecordRequest) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	names := []string{req.CompositeName}
	for _, sub := range req.Environment.Subdomains {
		names = append(names, sub+"."+req.CompositeName)
	}

	changes := make([]*domainapi.RecordChange, 0, len(names))
	for _, name := range names {
		changes = append(changes, &domainapi.RecordChange{
			Set: &domainapi.RecordChangeSet{
				IDFields: &domainapi.RecordIdentifier{
					Name: name,
					Type: domainapi.RecordTypeA,
				},
				Records: []*domainapi.Record{
					{
						Name: name,
						Type: domainapi.RecordTypeA,
						Data: req.IP,
						TTL:  300,
					},
				},
			},
		})
	}

	_, err := d.zones.UpdateDNSZoneRecords(&domainapi.UpdateDNSZoneRecordsRequest{
		DNSZone: req.RootDNSZone,
		Changes: changes,
	}, scw.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to update dns zone: %w", err)
	}

	d.logger.Info("DNS records registered", "zone", req.RootDNSZone, "records", len(names))
	return nil
}

// CloudInitScript names the Scaleway boot script template.
func (d *ScalewayDriver) CloudInitScript() string {
	return "cloud-init-scaleway.sh"
}

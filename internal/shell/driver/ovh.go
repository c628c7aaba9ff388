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
	"github.com/ovh/go-ovh/ovh"

	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/stack"
)

// ovhStateTable maps OpenStack-style instance statuses to the canonical
// vocabulary.
var ovhStateTable = domain.StateTable{
	"ACTIVE":       domain.StateRunning,
	"BUILD":        domain.StateStarting,
	"BUILDING":     domain.StateStarting,
	"REBOOT":       domain.StateRebooting,
	"HARD_REBOOT":  domain.StateRebooting,
	"SHUTOFF":      domain.StateStopped,
	"STOPPED":      domain.StateStopped,
	"SUSPENDED":    domain.StateStopped,
	"PAUSED":       domain.StateStopped,
	"DELETED":      domain.StateDeleted,
	"SOFT_DELETED": domain.StateDeleted,
}

// OVHConfig holds the API keypair and the public cloud project.
type OVHConfig struct {
	Endpoint          string // e.g. "ovh-eu"
	ApplicationKey    string
	ApplicationSecret string
	ConsumerKey       string
	ServiceName       string // public cloud project id
	Timeout           time.Duration
}

// OVHDriver implements Driver against the OVH public cloud REST API.
// Object storage is S3-compatible and driven through minio.
type OVHDriver struct {
	cfg    OVHConfig
	deps   Deps
	dns    DNSRouter
	logger *slog.Logger
	client *ovh.Client
}

// NewOVHDriver authenticates the REST client.
func NewOVHDriver(cfg OVHConfig, deps Deps, dns DNSRouter) (*OVHDriver, error) {
	client, err := ovh.NewClient(cfg.Endpoint, cfg.ApplicationKey, cfg.ApplicationSecret, cfg.ConsumerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build ovh client: %w", err)
	}
	return &OVHDriver{
		cfg:    cfg,
		deps:   deps,
		dns:    dns,
		logger: deps.Logger.With("provider", "ovh"),
		client: client,
	}, nil
}

var _ Driver = (*OVHDriver)(nil)

func (d *OVHDriver) Provider() domain.Provider {
	return domain.ProviderOVH
}

func (d *OVHDriver) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.Timeout)
}

// isOVHNotFound matches the API 404 shape.
func isOVHNotFound(err error) bool {
	var apiErr *ovh.APIError
	return errors.As(err, &apiErr) && apiErr.Code == 404
}

func (d *OVHDriver) projectURL(format string, args ...any) string {
	return fmt.Sprintf("/cloud/project/%s"+format, append([]any{d.cfg.ServiceName}, args...)...)
}

// =============================================================================
// API payloads
// =============================================================================

type ovhInstance struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	IPAddresses []struct {
		IP   string `json:"ip"`
		Type string `json:"type"`
	} `json:"ipAddresses"`
	FlavorID string `json:"flavorId"`
}

type ovhFlavor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

type ovhImage struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

type ovhUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type ovhS3Credential struct {
	Access string `json:"access"`
	Secret string `json:"secret"`
	UserID int    `json:"userId"`
}

type ovhRegistry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	URL    string `json:"url"`
}

type ovhRegistryUser struct {
	ID       string `json:"id"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// =============================================================================
// Instances
// =============================================================================

func (d *OVHDriver) resolveFlavorID(ctx context.Context, region, flavorName string) (string, error) {
	var flavors []ovhFlavor
	if err := d.client.GetWithContext(ctx, d.projectURL("/flavor?region=%s", region), &flavors); err != nil {
		return "", fmt.Errorf("failed to list flavors: %w", err)
	}
	for _, f := range flavors {
		if f.Name == flavorName {
			return f.ID, nil
		}
	}
	return "", fmt.Errorf("flavor %s not found in region %s", flavorName, region)
}

func (d *OVHDriver) resolveImageID(ctx context.Context, region, imageName string) (string, error) {
	var images []ovhImage
	if err := d.client.GetWithContext(ctx, d.projectURL("/image?region=%s", region), &images); err != nil {
		return "", fmt.Errorf("failed to list images: %w", err)
	}
	for _, img := range images {
		if strings.EqualFold(img.Name, imageName) {
			return img.ID, nil
		}
	}
	return "", fmt.Errorf("image %s not found in region %s", imageName, region)
}

// CreateInstance provisions an instance and waits for it to come up with a
// public address.
func (d *OVHDriver) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*CreateInstanceResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderOVH))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	flavorID, err := d.resolveFlavorID(ctx, req.Region, req.InstanceType)
	if err != nil {
		return nil, err
	}
	imageID, err := d.resolveImageID(ctx, req.Region, req.Image)
	if err != nil {
		return nil, err
	}

	script, err := cloudInitData(d.CloudInitScript(), req.Environment)
	if err != nil {
		return nil, err
	}

	var created ovhInstance
	err = d.client.PostWithContext(ctx, d.projectURL("/instance"), map[string]any{
		"name":     req.CompositeName,
		"flavorId": flavorID,
		"imageId":  imageID,
		"region":   req.Region,
		"userData": script,
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	tx.Add(stack.Resource{Kind: "instance", ID: created.ID, Region: req.Region})
	d.logger.Info("instance created", "instance_id", created.ID, "region", req.Region)

	publicIP, err := d.waitForActive(ctx, created.ID)
	if err != nil {
		return nil, err
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

func (d *OVHDriver) waitForActive(ctx context.Context, instanceID string) (string, error) {
	for i := 0; i < 60; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}

		var inst ovhInstance
		if err := d.client.GetWithContext(ctx, d.projectURL("/instance/%s", instanceID), &inst); err != nil {
			continue
		}
		if inst.Status == "ERROR" {
			return "", fmt.Errorf("instance %s entered ERROR state", instanceID)
		}
		if inst.Status != "ACTIVE" {
			continue
		}
		for _, addr := range inst.IPAddresses {
			if addr.Type == "public" {
				return addr.IP, nil
			}
		}
	}
	return "", errors.New("timed out waiting for instance to become active")
}

func (d *OVHDriver) findInstance(ctx context.Context, compositeName string) (*ovhInstance, error) {
	var instances []ovhInstance
	if err := d.client.GetWithContext(ctx, d.projectURL("/instance"), &instances); err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	for i := range instances {
		if instances[i].Name == compositeName {
			return &instances[i], nil
		}
	}
	return nil, nil
}

// RefreshInstance re-reads flavor and public IP.
func (d *OVHDriver) RefreshInstance(ctx context.Context, req RefreshInstanceRequest) (*RefreshInstanceResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	inst, err := d.findInstance(ctx, req.CompositeName)
	if err != nil || inst == nil {
		return nil, err
	}

	result := &RefreshInstanceResult{Type: inst.FlavorID}
	for _, addr := range inst.IPAddresses {
		if addr.Type == "public" {
			result.IP = addr.IP
		}
	}
	return result, nil
}

// GetVirtualMachine returns the live descriptor, or (nil, nil) when the
// instance does not exist.
func (d *OVHDriver) GetVirtualMachine(ctx context.Context, _, _ string, compositeName string) (*VirtualMachine, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	inst, err := d.findInstance(ctx, compositeName)
	if err != nil || inst == nil {
		return nil, err
	}
	return &VirtualMachine{ID: inst.ID, State: inst.Status}, nil
}

// UpdateVirtualMachineStatus issues a power action.
func (d *OVHDriver) UpdateVirtualMachineStatus(ctx context.Context, _, _ string, serverID string, action domain.Action) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var err error
	switch action {
	case domain.ActionPowerOff:
		err = d.client.PostWithContext(ctx, d.projectURL("/instance/%s/stop", serverID), nil, nil)
	case domain.ActionPowerOn:
		err = d.client.PostWithContext(ctx, d.projectURL("/instance/%s/start", serverID), nil, nil)
	case domain.ActionReboot:
		err = d.client.PostWithContext(ctx, d.projectURL("/instance/%s/reboot", serverID),
			map[string]string{"type": "soft"}, nil)
	default:
		return fmt.Errorf("action %q does not touch the virtual machine", action)
	}

	if err != nil {
		return fmt.Errorf("failed to %s instance %s: %w", action, serverID, err)
	}
	d.logger.Info("power action issued", "instance_id", serverID, "action", action)
	return nil
}

// ServerState translates an instance status into the canonical vocabulary.
func (d *OVHDriver) ServerState(vm *VirtualMachine) domain.ServerState {
	return ovhStateTable.Canonical(vm.State)
}

// DeleteInstance tears down the instance recorded in the footprint.
// Idempotent.
func (d *OVHDriver) DeleteInstance(ctx context.Context, _, _, compositeName string) error {
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
		err := d.client.DeleteWithContext(ctx, d.projectURL("/instance/%s", res.ID), nil)
		if err != nil && !isOVHNotFound(err) {
			tx.Release()
			return fmt.Errorf("failed to delete instance: %w", err)
		}
	}

	d.logger.Info("instance torn down", "instance", compositeName)
	return tx.Destroy(ctx)
}

// =============================================================================
// Buckets
// =============================================================================

func (d *OVHDriver) s3Endpoint(region string) string {
	return fmt.Sprintf("s3.%s.io.cloud.ovh.net", strings.ToLower(region))
}

func (d *OVHDriver) minioClient(region, accessKey, secretKey string) (*minio.Client, error) {
	return minio.New(d.s3Endpoint(region), &minio.Options{
		Creds:  miniocreds.NewStaticV4(accessKey, secretKey, ""),
		Secure: true,
		Region: strings.ToLower(region),
	})
}

// CreateBucket provisions a dedicated object-storage user, mints its S3
// credential and creates the bucket with it over the S3 protocol.
func (d *OVHDriver) CreateBucket(ctx context.Context, req CreateBucketRequest) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderOVH))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	var user ovhUser
	err = d.client.PostWithContext(ctx, d.projectURL("/user"), map[string]any{
		"description": req.CompositeName,
		"roles":       []string{"objectstore_operator"},
	}, &user)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage user: %w", err)
	}
	tx.Add(stack.Resource{Kind: "user", ID: fmt.Sprintf("%d", user.ID)})

	var cred ovhS3Credential
	err = d.client.PostWithContext(ctx, d.projectURL("/user/%d/s3Credentials", user.ID), nil, &cred)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 credential: %w", err)
	}

	mc, err := d.minioClient(req.Region, cred.Access, cred.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to build s3 client: %w", err)
	}
	err = mc.MakeBucket(ctx, req.CompositeName, minio.MakeBucketOptions{Region: strings.ToLower(req.Region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	tx.Add(stack.Resource{Kind: "bucket", ID: req.CompositeName, Region: req.Region})

	endpoint := fmt.Sprintf("https://%s/%s", d.s3Endpoint(req.Region), req.CompositeName)
	tx.SetOutput("endpoint", endpoint)

	d.logger.Info("bucket created", "bucket", req.CompositeName, "region", req.Region)
	return &Credentials{
		Endpoint:  endpoint,
		AccessKey: cred.Access,
		SecretKey: cred.Secret,
		Status:    domain.StatusActive,
	}, nil
}

func (d *OVHDriver) storageUserID(ctx context.Context, compositeName string) (int, error) {
	st, err := d.deps.Stacks.Get(ctx, compositeName)
	if err != nil {
		return 0, err
	}
	if st == nil {
		return 0, fmt.Errorf("no footprint recorded for %s", compositeName)
	}
	res, ok := st.Resource("user")
	if !ok {
		return 0, fmt.Errorf("no storage user recorded for %s", compositeName)
	}
	var id int
	if _, err := fmt.Sscanf(res.ID, "%d", &id); err != nil {
		return 0, fmt.Errorf("malformed storage user id %q: %w", res.ID, err)
	}
	return id, nil
}

// UpdateBucketCredentials revokes every S3 credential of the bucket's user
// and mints a fresh one.
func (d *OVHDriver) UpdateBucketCredentials(ctx context.Context, bucket *domain.Bucket) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	userID, err := d.storageUserID(ctx, bucket.CompositeName())
	if err != nil {
		return nil, err
	}

	var existing []ovhS3Credential
	err = d.client.GetWithContext(ctx, d.projectURL("/user/%d/s3Credentials", userID), &existing)
	if err != nil && !isOVHNotFound(err) {
		return nil, fmt.Errorf("failed to list s3 credentials: %w", err)
	}
	for _, cred := range existing {
		err := d.client.DeleteWithContext(ctx, d.projectURL("/user/%d/s3Credentials/%s", userID, cred.Access), nil)
		if err != nil && !isOVHNotFound(err) {
			return nil, fmt.Errorf("failed to revoke s3 credential: %w", err)
		}
	}

	var fresh ovhS3Credential
	err = d.client.PostWithContext(ctx, d.projectURL("/user/%d/s3Credentials", userID), nil, &fresh)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 credential: %w", err)
	}

	return &Credentials{
		Endpoint:  bucket.Endpoint,
		AccessKey: fresh.Access,
		SecretKey: fresh.Secret,
		Status:    domain.StatusActive,
	}, nil
}

// DeleteBucket removes the bucket over S3 with a short-lived credential,
// then deletes the storage user. Idempotent.
func (d *OVHDriver) DeleteBucket(ctx context.Context, bucket *domain.Bucket, _ string) error {
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

	if res, ok := tx.Stack().Resource("user"); ok {
		var userID int
		if _, err := fmt.Sscanf(res.ID, "%d", &userID); err == nil {
			var cred ovhS3Credential
			err = d.client.PostWithContext(ctx, d.projectURL("/user/%d/s3Credentials", userID), nil, &cred)
			if err == nil {
				mc, mErr := d.minioClient(bucket.Region, cred.Access, cred.Secret)
				if mErr == nil {
					if rmErr := mc.RemoveBucket(ctx, name); rmErr != nil {
						errResp := minio.ToErrorResponse(rmErr)
						if errResp.Code != "NoSuchBucket" {
							tx.Release()
							return fmt.Errorf("failed to remove bucket: %w", rmErr)
						}
					}
				}
			} else if !isOVHNotFound(err) {
				tx.Release()
				return fmt.Errorf("failed to mint teardown credential: %w", err)
			}

			err = d.client.DeleteWithContext(ctx, d.projectURL("/user/%d", userID), nil)
			if err != nil && !isOVHNotFound(err) {
				tx.Release()
				return fmt.Errorf("failed to delete storage user: %w", err)
			}
		}
	}

	d.logger.Info("bucket deleted", "bucket", name)
	return tx.Destroy(ctx)
}

// RefreshBucket confirms the bucket exists. OVH S3 buckets are private by
// default and this control plane never changes that.
func (d *OVHDriver) RefreshBucket(ctx context.Context, _ string, _ int, compositeName string) (*RefreshResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	st, err := d.deps.Stacks.Get(ctx, compositeName)
	if err != nil || st == nil {
		return nil, err
	}
	if _, ok := st.Resource("bucket"); !ok {
		return nil, nil
	}
	return &RefreshResult{Type: "private"}, nil
}

// =============================================================================
// Registries
// =============================================================================

// CreateRegistry provisions a managed container registry and its first
// user.
func (d *OVHDriver) CreateRegistry(ctx context.Context, req CreateRegistryRequest) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderOVH))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	var created ovhRegistry
	err = d.client.PostWithContext(ctx, d.projectURL("/containerRegistry"), map[string]string{
		"name":   req.CompositeName,
		"region": req.Region,
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("failed to create container registry: %w", err)
	}
	tx.Add(stack.Resource{Kind: "registry", ID: created.ID, Region: req.Region})

	endpoint, err := d.waitForRegistry(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	tx.SetOutput("endpoint", endpoint)

	var user ovhRegistryUser
	err = d.client.PostWithContext(ctx, d.projectURL("/containerRegistry/%s/users", created.ID), map[string]string{
		"email": req.OwnerEmail,
		"login": req.CompositeName,
	}, &user)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry user: %w", err)
	}

	d.logger.Info("container registry created", "registry_id", created.ID, "region", req.Region)
	return &Credentials{
		Endpoint:  endpoint,
		AccessKey: user.User,
		SecretKey: user.Password,
		Status:    domain.StatusActive,
	}, nil
}

func (d *OVHDriver) waitForRegistry(ctx context.Context, registryID string) (string, error) {
	for i := 0; i < 60; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}

		var reg ovhRegistry
		if err := d.client.GetWithContext(ctx, d.projectURL("/containerRegistry/%s", registryID), &reg); err != nil {
			continue
		}
		if reg.Status == "ERROR" {
			return "", fmt.Errorf("registry %s entered ERROR state", registryID)
		}
		if reg.Status == "READY" && reg.URL != "" {
			return reg.URL, nil
		}
	}
	return "", errors.New("timed out waiting for container registry")
}

func (d *OVHDriver) registryID(ctx context.Context, compositeName string) (string, error) {
	st, err := d.deps.Stacks.Get(ctx, compositeName)
	if err != nil {
		return "", err
	}
	if st == nil {
		return "", fmt.Errorf("no footprint recorded for %s", compositeName)
	}
	res, ok := st.Resource("registry")
	if !ok {
		return "", fmt.Errorf("no registry recorded for %s", compositeName)
	}
	return res.ID, nil
}

// UpdateRegistryCredentials drops every registry user and creates a fresh
// one.
func (d *OVHDriver) UpdateRegistryCredentials(ctx context.Context, registry *domain.Registry) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	name := registry.CompositeName()
	regID, err := d.registryID(ctx, name)
	if err != nil {
		return nil, err
	}

	var users []ovhRegistryUser
	err = d.client.GetWithContext(ctx, d.projectURL("/containerRegistry/%s/users", regID), &users)
	if err != nil && !isOVHNotFound(err) {
		return nil, fmt.Errorf("failed to list registry users: %w", err)
	}
	for _, u := range users {
		err := d.client.DeleteWithContext(ctx, d.projectURL("/containerRegistry/%s/users/%s", regID, u.ID), nil)
		if err != nil && !isOVHNotFound(err) {
			return nil, fmt.Errorf("failed to delete registry user: %w", err)
		}
	}

	var fresh ovhRegistryUser
	err = d.client.PostWithContext(ctx, d.projectURL("/containerRegistry/%s/users", regID), map[string]string{
		"login": name,
	}, &fresh)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry user: %w", err)
	}

	return &Credentials{
		Endpoint:  registry.Endpoint,
		AccessKey: fresh.User,
		SecretKey: fresh.Password,
		Status:    domain.StatusActive,
	}, nil
}

// DeleteRegistry removes the managed registry. Idempotent.
func (d *OVHDriver) DeleteRegistry(ctx context.Context, registry *domain.Registry, _ string) error {
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

	if res, ok := tx.Stack().Resource("registry"); ok {
		err := d.client.DeleteWithContext(ctx, d.projectURL("/containerRegistry/%s", res.ID), nil)
		if err != nil && !isOVHNotFound(err) {
			tx.Release()
			return fmt.Errorf("failed to delete container registry: %w", err)
		}
	}

	d.logger.Info("container registry deleted", "registry", name)
	return tx.Destroy(ctx)
}

// RefreshRegistry confirms the registry is still READY.
func (d *OVHDriver) RefreshRegistry(ctx context.Context, _ string, _ int, compositeName string) (*RefreshResult, error) {
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

	var reg ovhRegistry
	if err := d.client.GetWithContext(ctx, d.projectURL("/containerRegistry/%s", res.ID), &reg); err != nil {
		if isOVHNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read container registry: %w", err)
	}
	return &RefreshResult{Type: "private"}, nil
}

// =============================================================================
// DNS
// =============================================================================

type ovhDNSRecord struct {
	ID        int    `json:"id"`
	SubDomain string `json:"subDomain"`
	Target    string `json:"target"`
	TTL       int    `json:"ttl"`
	FieldType string `json:"fieldType"`
}

// CreateDNSRecords upserts the apex A record plus one per subdomain in an
// OVH-managed zone, then refreshes the zone so the change propagates.
func (d *OVHDriver) CreateDNSRecords(ctx context.Context, req DNSRecordRequest) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	subdomains := []string{req.CompositeName}
	for _, sub := range req.Environment.Subdomains {
		subdomains = append(subdomains, sub+"."+req.CompositeName)
	}

	for _, sub := range subdomains {
		var existing []int
		err := d.client.GetWithContext(ctx,
			fmt.Sprintf("/domain/zone/%s/record?fieldType=A&subDomain=%s", req.RootDNSZone, sub), &existing)
		if err != nil && !isOVHNotFound(err) {
			return fmt.Errorf("failed to list dns records: %w", err)
		}

		if len(existing) > 0 {
			err = d.client.PutWithContext(ctx,
				fmt.Sprintf("/domain/zone/%s/record/%d", req.RootDNSZone, existing[0]),
				map[string]any{"target": req.IP, "ttl": 300}, nil)
			if err != nil {
				return fmt.Errorf("failed to update dns record %s: %w", sub, err)
			}
			continue
		}

		err = d.client.PostWithContext(ctx,
			fmt.Sprintf("/domain/zone/%s/record", req.RootDNSZone),
			map[string]any{
				"fieldType": "A",
				"subDomain": sub,
				"target":    req.IP,
				"ttl":       300,
			}, nil)
		if err != nil {
			return fmt.Errorf("failed to create dns record %s: %w", sub, err)
		}
	}

	if err := d.client.PostWithContext(ctx, fmt.Sprintf("/domain/zone/%s/refresh", req.RootDNSZone), nil, nil); err != nil {
		return fmt.Errorf("failed to refresh dns zone: %w", err)
	}

	d.logger.Info("DNS records registered", "zone", req.RootDNSZone, "records", len(subdomains))
	return nil
}

// CloudInitScript names the OVH boot script template.
func (d *OVHDriver) CloudInitScript() string {
	return "cloud-init-ovh.sh"
}

package driver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/containerregistry/armcontainerregistry"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/dns/armdns"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"

	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/cache"
	"github.com/artpar/nubo/internal/shell/stack"
)

// azureStateTable maps instance-view power state codes to the canonical
// vocabulary. Deallocating/deallocated count as stopped.
var azureStateTable = domain.StateTable{
	"PowerState/starting":     domain.StateStarting,
	"PowerState/running":      domain.StateRunning,
	"PowerState/stopping":     domain.StateStopping,
	"PowerState/stopped":      domain.StateStopped,
	"PowerState/deallocating": domain.StateStopping,
	"PowerState/deallocated":  domain.StateStopped,
}

// AzureConfig holds the service principal and deployment target.
type AzureConfig struct {
	SubscriptionID string
	TenantID       string
	ClientID       string
	ClientSecret   string
	ResourceGroup  string
	Timeout        time.Duration
}

// AzureDriver implements Driver against ARM compute, network, storage,
// container registry and DNS.
type AzureDriver struct {
	cfg    AzureConfig
	deps   Deps
	dns    DNSRouter
	logger *slog.Logger

	compute    *armcompute.ClientFactory
	network    *armnetwork.ClientFactory
	storage    *armstorage.ClientFactory
	registries *armcontainerregistry.ClientFactory
	zones      *armdns.ClientFactory
}

// NewAzureDriver authenticates a service principal and builds the ARM
// client factories once.
func NewAzureDriver(cfg AzureConfig, deps Deps, dns DNSRouter) (*AzureDriver, error) {
	cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build azure credential: %w", err)
	}

	computeFactory, err := armcompute.NewClientFactory(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build compute clients: %w", err)
	}
	networkFactory, err := armnetwork.NewClientFactory(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build network clients: %w", err)
	}
	storageFactory, err := armstorage.NewClientFactory(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage clients: %w", err)
	}
	registryFactory, err := armcontainerregistry.NewClientFactory(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry clients: %w", err)
	}
	dnsFactory, err := armdns.NewClientFactory(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build dns clients: %w", err)
	}

	return &AzureDriver{
		cfg:        cfg,
		deps:       deps,
		dns:        dns,
		logger:     deps.Logger.With("provider", "azure"),
		compute:    computeFactory,
		network:    networkFactory,
		storage:    storageFactory,
		registries: registryFactory,
		zones:      dnsFactory,
	}, nil
}

var _ Driver = (*AzureDriver)(nil)

func (d *AzureDriver) Provider() domain.Provider {
	return domain.ProviderAzure
}

func (d *AzureDriver) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.Timeout)
}

// isAzureNotFound matches the ARM 404 shape.
func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

// storageAccountName derives an account name from a composite name.
// Azure caps account names at 24 lowercase alphanumerics, so hyphens are
// stripped and the result truncated. The actual name is remembered in the
// cache so later operations resolve the same account.
func storageAccountName(compositeName string) string {
	name := strings.ToLower(strings.ReplaceAll(compositeName, "-", ""))
	if len(name) > 24 {
		name = name[:24]
	}
	return name
}

func (d *AzureDriver) accountNameKey(compositeName string) string {
	return "azure:storage-account:" + compositeName
}

func (d *AzureDriver) resolveAccountName(ctx context.Context, compositeName string) string {
	if name, ok, err := d.deps.Cache.Get(ctx, d.accountNameKey(compositeName)); err == nil && ok {
		return name
	}
	return storageAccountName(compositeName)
}

// =============================================================================
// Instances
// =============================================================================

// CreateInstance provisions a public IP, a NIC on the catalog subnet and a
// Linux VM booted with the cloud-init script.
func (d *AzureDriver) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*CreateInstanceResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderAzure))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	zone, err := d.deps.Catalog.Zone(domain.ProviderAzure, req.Region, req.Zone)
	if err != nil {
		return nil, err
	}

	ipName := req.CompositeName + "-ip"
	ipPoller, err := d.network.NewPublicIPAddressesClient().BeginCreateOrUpdate(ctx, d.cfg.ResourceGroup, ipName,
		armnetwork.PublicIPAddress{
			Location: to.Ptr(req.Region),
			Properties: &armnetwork.PublicIPAddressPropertiesFormat{
				PublicIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodStatic),
			},
		}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create public ip: %w", err)
	}
	ipResp, err := ipPoller.PollUntilDone(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for public ip: %w", err)
	}
	tx.Add(stack.Resource{Kind: "public-ip", ID: ipName, Region: req.Region})

	nicName := req.CompositeName + "-nic"
	nicProps := &armnetwork.InterfacePropertiesFormat{
		IPConfigurations: []*armnetwork.InterfaceIPConfiguration{
			{
				Name: to.Ptr("primary"),
				Properties: &armnetwork.InterfaceIPConfigurationPropertiesFormat{
					Subnet:          &armnetwork.Subnet{ID: to.Ptr(zone.Subnet)},
					PublicIPAddress: &armnetwork.PublicIPAddress{ID: ipResp.ID},
				},
			},
		},
	}
	if zone.SecurityGroup != "" {
		nicProps.NetworkSecurityGroup = &armnetwork.SecurityGroup{ID: to.Ptr(zone.SecurityGroup)}
	}
	nicPoller, err := d.network.NewInterfacesClient().BeginCreateOrUpdate(ctx, d.cfg.ResourceGroup, nicName,
		armnetwork.Interface{
			Location:   to.Ptr(req.Region),
			Properties: nicProps,
		}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create network interface: %w", err)
	}
	nicResp, err := nicPoller.PollUntilDone(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for network interface: %w", err)
	}
	tx.Add(stack.Resource{Kind: "nic", ID: nicName, Region: req.Region})

	script, err := cloudInitData(d.CloudInitScript(), req.Environment)
	if err != nil {
		return nil, err
	}

	imageRef, err := parseAzureImage(req.Image)
	if err != nil {
		return nil, err
	}

	vmPoller, err := d.compute.NewVirtualMachinesClient().BeginCreateOrUpdate(ctx, d.cfg.ResourceGroup, req.CompositeName,
		armcompute.VirtualMachine{
			Location: to.Ptr(req.Region),
			Tags:     map[string]*string{"ManagedBy": to.Ptr("nubo")},
			Properties: &armcompute.VirtualMachineProperties{
				HardwareProfile: &armcompute.HardwareProfile{
					VMSize: to.Ptr(armcompute.VirtualMachineSizeTypes(req.InstanceType)),
				},
				StorageProfile: &armcompute.StorageProfile{
					ImageReference: imageRef,
					OSDisk: &armcompute.OSDisk{
						CreateOption: to.Ptr(armcompute.DiskCreateOptionTypesFromImage),
						ManagedDisk: &armcompute.ManagedDiskParameters{
							StorageAccountType: to.Ptr(armcompute.StorageAccountTypesStandardSSDLRS),
						},
					},
				},
				OSProfile: &armcompute.OSProfile{
					ComputerName:  to.Ptr(req.CompositeName),
					AdminUsername: to.Ptr("nubo"),
					CustomData:    to.Ptr(base64.StdEncoding.EncodeToString([]byte(script))),
					LinuxConfiguration: &armcompute.LinuxConfiguration{
						DisablePasswordAuthentication: to.Ptr(true),
						ProvisionVMAgent:              to.Ptr(true),
					},
				},
				NetworkProfile: &armcompute.NetworkProfile{
					NetworkInterfaces: []*armcompute.NetworkInterfaceReference{
						{
							ID: nicResp.ID,
							Properties: &armcompute.NetworkInterfaceReferenceProperties{
								Primary: to.Ptr(true),
							},
						},
					},
				},
			},
		}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual machine: %w", err)
	}
	if _, err := vmPoller.PollUntilDone(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed waiting for virtual machine: %w", err)
	}
	tx.Add(stack.Resource{Kind: "instance", ID: req.CompositeName, Region: req.Region})
	d.logger.Info("virtual machine created", "vm", req.CompositeName, "region", req.Region)

	publicIP := ""
	if ipResp.Properties != nil && ipResp.Properties.IPAddress != nil {
		publicIP = *ipResp.Properties.IPAddress
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

// parseAzureImage splits a "publisher:offer:sku:version" image reference.
func parseAzureImage(image string) (*armcompute.ImageReference, error) {
	parts := strings.Split(image, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("image %q is not publisher:offer:sku:version", image)
	}
	return &armcompute.ImageReference{
		Publisher: to.Ptr(parts[0]),
		Offer:     to.Ptr(parts[1]),
		SKU:       to.Ptr(parts[2]),
		Version:   to.Ptr(parts[3]),
	}, nil
}

// RefreshInstance re-reads VM size and public IP.
func (d *AzureDriver) RefreshInstance(ctx context.Context, req RefreshInstanceRequest) (*RefreshInstanceResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	vmResp, err := d.compute.NewVirtualMachinesClient().Get(ctx, d.cfg.ResourceGroup, req.CompositeName, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read virtual machine: %w", err)
	}

	result := &RefreshInstanceResult{}
	if vmResp.Properties != nil && vmResp.Properties.HardwareProfile != nil && vmResp.Properties.HardwareProfile.VMSize != nil {
		result.Type = string(*vmResp.Properties.HardwareProfile.VMSize)
	}

	ipResp, err := d.network.NewPublicIPAddressesClient().Get(ctx, d.cfg.ResourceGroup, req.CompositeName+"-ip", nil)
	if err == nil && ipResp.Properties != nil && ipResp.Properties.IPAddress != nil {
		result.IP = *ipResp.Properties.IPAddress
	}
	return result, nil
}

// GetVirtualMachine reads the instance view and reports the power state
// code, or (nil, nil) when the VM does not exist.
func (d *AzureDriver) GetVirtualMachine(ctx context.Context, _, _ string, compositeName string) (*VirtualMachine, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	view, err := d.compute.NewVirtualMachinesClient().InstanceView(ctx, d.cfg.ResourceGroup, compositeName, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read instance view: %w", err)
	}

	state := ""
	for _, status := range view.Statuses {
		if status.Code != nil && strings.HasPrefix(*status.Code, "PowerState/") {
			state = *status.Code
			break
		}
	}
	return &VirtualMachine{ID: compositeName, State: state}, nil
}

// UpdateVirtualMachineStatus issues a power action. Power-off deallocates
// so the stopped VM does not keep accruing compute charges.
func (d *AzureDriver) UpdateVirtualMachineStatus(ctx context.Context, _, _ string, serverID string, action domain.Action) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	client := d.compute.NewVirtualMachinesClient()

	switch action {
	case domain.ActionPowerOff:
		poller, err := client.BeginDeallocate(ctx, d.cfg.ResourceGroup, serverID, nil)
		if err != nil {
			return fmt.Errorf("failed to deallocate %s: %w", serverID, err)
		}
		if _, err := poller.PollUntilDone(ctx, nil); err != nil {
			return fmt.Errorf("failed waiting for deallocate of %s: %w", serverID, err)
		}
	case domain.ActionPowerOn:
		poller, err := client.BeginStart(ctx, d.cfg.ResourceGroup, serverID, nil)
		if err != nil {
			return fmt.Errorf("failed to start %s: %w", serverID, err)
		}
		if _, err := poller.PollUntilDone(ctx, nil); err != nil {
			return fmt.Errorf("failed waiting for start of %s: %w", serverID, err)
		}
	case domain.ActionReboot:
		poller, err := client.BeginRestart(ctx, d.cfg.ResourceGroup, serverID, nil)
		if err != nil {
			return fmt.Errorf("failed to restart %s: %w", serverID, err)
		}
		if _, err := poller.PollUntilDone(ctx, nil); err != nil {
			return fmt.Errorf("failed waiting for restart of %s: %w", serverID, err)
		}
	default:
		return fmt.Errorf("action %q does not touch the virtual machine", action)
	}

	d.logger.Info("power action issued", "vm", serverID, "action", action)
	return nil
}

// ServerState translates a power state code into the canonical vocabulary.
func (d *AzureDriver) ServerState(vm *VirtualMachine) domain.ServerState {
	return azureStateTable.Canonical(vm.State)
}

// DeleteInstance tears down the VM, then its NIC and public IP in reverse
// creation order. Idempotent.
func (d *AzureDriver) DeleteInstance(ctx context.Context, _, _, compositeName string) error {
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

	hasVM := false
	for _, res := range tx.Stack().Resources {
		if res.Kind == "instance" {
			hasVM = true
		}
	}

	if hasVM {
		poller, err := d.compute.NewVirtualMachinesClient().BeginDelete(ctx, d.cfg.ResourceGroup, compositeName, nil)
		if err != nil && !isAzureNotFound(err) {
			tx.Release()
			return fmt.Errorf("failed to delete vm: %w", err)
		}
		if err == nil {
			if _, err := poller.PollUntilDone(ctx, nil); err != nil {
				tx.Release()
				return fmt.Errorf("failed waiting for vm deletion: %w", err)
			}
		}
	}

	for _, res := range tx.Stack().Resources {
		if res.Kind != "nic" {
			continue
		}
		poller, err := d.network.NewInterfacesClient().BeginDelete(ctx, d.cfg.ResourceGroup, res.ID, nil)
		if err != nil && !isAzureNotFound(err) {
			tx.Release()
			return fmt.Errorf("failed to delete network interface: %w", err)
		}
		if err == nil {
			if _, err := poller.PollUntilDone(ctx, nil); err != nil {
				tx.Release()
				return fmt.Errorf("failed waiting for nic deletion: %w", err)
			}
		}
	}

	for _, res := range tx.Stack().Resources {
		if res.Kind != "public-ip" {
			continue
		}
		poller, err := d.network.NewPublicIPAddressesClient().BeginDelete(ctx, d.cfg.ResourceGroup, res.ID, nil)
		if err != nil && !isAzureNotFound(err) {
			tx.Release()
			return fmt.Errorf("failed to delete public ip: %w", err)
		}
		if err == nil {
			if _, err := poller.PollUntilDone(ctx, nil); err != nil {
				tx.Release()
				return fmt.Errorf("failed waiting for public ip deletion: %w", err)
			}
		}
	}

	d.logger.Info("VM torn down", "instance", compositeName)
	return tx.Destroy(ctx)
}

// =============================================================================
// Buckets
// =============================================================================

// CreateBucket provisions a storage account. The account name Azure accepts
// differs from the composite name, so the mapping is remembered in the cache.
func (d *AzureDriver) CreateBucket(ctx context.Context, req CreateBucketRequest) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderAzure))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	accountName := storageAccountName(req.CompositeName)
	client := d.storage.NewAccountsClient()

	poller, err := client.BeginCreate(ctx, d.cfg.ResourceGroup, accountName,
		armstorage.AccountCreateParameters{
			Location: to.Ptr(req.Region),
			Kind:     to.Ptr(armstorage.KindStorageV2),
			SKU:      &armstorage.SKU{Name: to.Ptr(armstorage.SKUNameStandardLRS)},
			Properties: &armstorage.AccountPropertiesCreateParameters{
				AllowBlobPublicAccess: to.Ptr(req.Type == "public"),
			},
		}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage account: %w", err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed waiting for storage account: %w", err)
	}
	tx.Add(stack.Resource{Kind: "bucket", ID: accountName, Region: req.Region})

	if err := d.deps.Cache.Set(ctx, d.accountNameKey(req.CompositeName), accountName, cache.ProvisionedNameTTL); err != nil {
		d.logger.Warn("failed to cache storage account name", "error", err)
	}

	keysResp, err := client.ListKeys(ctx, d.cfg.ResourceGroup, accountName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage keys: %w", err)
	}
	secretKey := ""
	if len(keysResp.Keys) > 0 && keysResp.Keys[0].Value != nil {
		secretKey = *keysResp.Keys[0].Value
	}

	endpoint := fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	tx.SetOutput("endpoint", endpoint)

	d.logger.Info("storage account created", "account", accountName, "region", req.Region)
	return &Credentials{
		Endpoint:  endpoint,
		AccessKey: accountName,
		SecretKey: secretKey,
		Status:    domain.StatusActive,
	}, nil
}

// UpdateBucketCredentials regenerates the primary storage key. The old key
// stops working the moment the new one is issued.
func (d *AzureDriver) UpdateBucketCredentials(ctx context.Context, bucket *domain.Bucket) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	accountName := d.resolveAccountName(ctx, bucket.CompositeName())
	client := d.storage.NewAccountsClient()

	keysResp, err := client.RegenerateKey(ctx, d.cfg.ResourceGroup, accountName,
		armstorage.AccountRegenerateKeyParameters{KeyName: to.Ptr("key1")}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to regenerate storage key: %w", err)
	}
	secretKey := ""
	if len(keysResp.Keys) > 0 && keysResp.Keys[0].Value != nil {
		secretKey = *keysResp.Keys[0].Value
	}

	return &Credentials{
		Endpoint:  bucket.Endpoint,
		AccessKey: accountName,
		SecretKey: secretKey,
		Status:    domain.StatusActive,
	}, nil
}

// DeleteBucket removes the storage account. Idempotent.
func (d *AzureDriver) DeleteBucket(ctx context.Context, bucket *domain.Bucket, _ string) error {
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

	accountName := d.resolveAccountName(ctx, name)
	if res, ok := tx.Stack().Resource("bucket"); ok {
		accountName = res.ID
	}

	_, err = d.storage.NewAccountsClient().Delete(ctx, d.cfg.ResourceGroup, accountName, nil)
	if err != nil && !isAzureNotFound(err) {
		tx.Release()
		return fmt.Errorf("failed to delete storage account: %w", err)
	}

	if err := d.deps.Cache.Delete(ctx, d.accountNameKey(name)); err != nil {
		d.logger.Warn("failed to drop cached account name", "error", err)
	}

	d.logger.Info("storage account deleted", "account", accountName)
	return tx.Destroy(ctx)
}

// RefreshBucket re-reads the account's public access setting.
func (d *AzureDriver) RefreshBucket(ctx context.Context, _ string, _ int, compositeName string) (*RefreshResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	accountName := d.resolveAccountName(ctx, compositeName)
	resp, err := d.storage.NewAccountsClient().GetProperties(ctx, d.cfg.ResourceGroup, accountName, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read storage account: %w", err)
	}

	bucketType := "private"
	if resp.Properties != nil && resp.Properties.AllowBlobPublicAccess != nil && *resp.Properties.AllowBlobPublicAccess {
		bucketType = "public"
	}
	return &RefreshResult{Type: bucketType}, nil
}

// =============================================================================
// Registries
// =============================================================================

// registryName derives an ACR name. Same constraints as storage accounts:
// alphanumeric only, here capped at 50 characters.
func registryName(compositeName string) string {
	name := strings.ReplaceAll(compositeName, "-", "")
	if len(name) > 50 {
		name = name[:50]
	}
	return name
}

// CreateRegistry provisions a container registry with the admin user
// enabled so it has static credentials to hand out.
func (d *AzureDriver) CreateRegistry(ctx context.Context, req CreateRegistryRequest) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderAzure))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	acrName := registryName(req.CompositeName)
	client := d.registries.NewRegistriesClient()

	poller, err := client.BeginCreate(ctx, d.cfg.ResourceGroup, acrName,
		armcontainerregistry.Registry{
			Location: to.Ptr(req.Region),
			SKU:      &armcontainerregistry.SKU{Name: to.Ptr(armcontainerregistry.SKUNameBasic)},
			Properties: &armcontainerregistry.RegistryProperties{
				AdminUserEnabled: to.Ptr(true),
			},
		}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create container registry: %w", err)
	}
	createResp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for container registry: %w", err)
	}
	tx.Add(stack.Resource{Kind: "registry", ID: acrName, Region: req.Region})

	credsResp, err := client.ListCredentials(ctx, d.cfg.ResourceGroup, acrName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry credentials: %w", err)
	}

	endpoint := ""
	if createResp.Properties != nil && createResp.Properties.LoginServer != nil {
		endpoint = *createResp.Properties.LoginServer
	}
	tx.SetOutput("endpoint", endpoint)

	accessKey := ""
	if credsResp.Username != nil {
		accessKey = *credsResp.Username
	}
	secretKey := ""
	if len(credsResp.Passwords) > 0 && credsResp.Passwords[0].Value != nil {
		secretKey = *credsResp.Passwords[0].Value
	}

	d.logger.Info("container registry created", "registry", acrName, "region", req.Region)
	return &Credentials{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Status:    domain.StatusActive,
	}, nil
}

// UpdateRegistryCredentials regenerates the admin password.
func (d *AzureDriver) UpdateRegistryCredentials(ctx context.Context, registry *domain.Registry) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	acrName := registryName(registry.CompositeName())
	credsResp, err := d.registries.NewRegistriesClient().RegenerateCredential(ctx, d.cfg.ResourceGroup, acrName,
		armcontainerregistry.RegenerateCredentialParameters{
			Name: to.Ptr(armcontainerregistry.PasswordNamePassword),
		}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to regenerate registry credential: %w", err)
	}

	accessKey := ""
	if credsResp.Username != nil {
		accessKey = *credsResp.Username
	}
	secretKey := ""
	if len(credsResp.Passwords) > 0 && credsResp.Passwords[0].Value != nil {
		secretKey = *credsResp.Passwords[0].Value
	}

	return &Credentials{
		Endpoint:  registry.Endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Status:    domain.StatusActive,
	}, nil
}

// DeleteRegistry removes the container registry. Idempotent.
func (d *AzureDriver) DeleteRegistry(ctx context.Context, registry *domain.Registry, _ string) error {
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

	acrName := registryName(name)
	if res, ok := tx.Stack().Resource("registry"); ok {
		acrName = res.ID
	}

	poller, err := d.registries.NewRegistriesClient().BeginDelete(ctx, d.cfg.ResourceGroup, acrName, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return tx.Destroy(ctx)
		}
		tx.Release()
		return fmt.Errorf("failed to delete container registry: %w", err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		tx.Release()
		return fmt.Errorf("failed waiting for registry deletion: %w", err)
	}

	d.logger.Info("container registry deleted", "registry", acrName)
	return tx.Destroy(ctx)
}

// RefreshRegistry confirms the registry exists. ACR has no per-registry
// visibility setting, so the type is always private.
func (d *AzureDriver) RefreshRegistry(ctx context.Context, _ string, _ int, compositeName string) (*RefreshResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	_, err := d.registries.NewRegistriesClient().Get(ctx, d.cfg.ResourceGroup, registryName(compositeName), nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read container registry: %w", err)
	}
	return &RefreshResult{Type: "private"}, nil
}

// =============================================================================
// DNS
// =============================================================================

// CreateDNSRecords upserts the apex A record plus one per subdomain in an
// Azure DNS zone. Record names are relative to the zone.
func (d *AzureDriver) CreateDNSRecords(ctx context.Context, req DNSRecordRequest) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	client := d.zones.NewRecordSetsClient()

	names := []string{req.CompositeName}
	for _, sub := range req.Environment.Subdomains {
		names = append(names, sub+"."+req.CompositeName)
	}

	for _, name := range names {
		_, err := client.CreateOrUpdate(ctx, d.cfg.ResourceGroup, req.RootDNSZone, name, armdns.RecordTypeA,
			armdns.RecordSet{
				Properties: &armdns.RecordSetProperties{
					TTL:      to.Ptr[int64](300),
					ARecords: []*armdns.ARecord{{IPv4Address: to.Ptr(req.IP)}},
				},
			}, nil)
		if err != nil {
			return fmt.Errorf("failed to upsert record %s.%s: %w", name, req.RootDNSZone, err)
		}
	}

	d.logger.Info("DNS records registered", "zone", req.RootDNSZone, "records", len(names))
	return nil
}

// CloudInitScript names the Azure boot script template.
func (d *AzureDriver) CloudInitScript() string {
	return "cloud-init-azure.sh"
}

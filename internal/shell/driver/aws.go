package driver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	route53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/stack"
)

// awsStateTable maps EC2 instance states to the canonical vocabulary.
// shutting-down and stopping both collapse to stopped: the guards only
// make coarse decisions.
var awsStateTable = domain.StateTable{
	"pending":       domain.StateStarting,
	"running":       domain.StateRunning,
	"shutting-down": domain.StateStopped,
	"stopping":      domain.StateStopped,
	"stopped":       domain.StateStopped,
	"terminated":    domain.StateDeleted,
}

// AWSConfig holds static credentials and the per-call timeout.
type AWSConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Timeout         time.Duration
}

// AWSDriver implements Driver against EC2, S3, ECR, IAM and Route 53.
type AWSDriver struct {
	cfg    AWSConfig
	deps   Deps
	dns    DNSRouter
	logger *slog.Logger
}

// NewAWSDriver creates the AWS backend.
func NewAWSDriver(cfg AWSConfig, deps Deps, dns DNSRouter) *AWSDriver {
	return &AWSDriver{
		cfg:    cfg,
		deps:   deps,
		dns:    dns,
		logger: deps.Logger.With("provider", "aws"),
	}
}

var _ Driver = (*AWSDriver)(nil)

func (d *AWSDriver) Provider() domain.Provider {
	return domain.ProviderAWS
}

func (d *AWSDriver) creds() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(d.cfg.AccessKeyID, d.cfg.SecretAccessKey, "")
}

func (d *AWSDriver) ec2Client(region string) *ec2.Client {
	return ec2.New(ec2.Options{Region: region, Credentials: d.creds()})
}

func (d *AWSDriver) s3Client(region string) *s3.Client {
	return s3.New(s3.Options{Region: region, Credentials: d.creds()})
}

func (d *AWSDriver) ecrClient(region string) *ecr.Client {
	return ecr.New(ecr.Options{Region: region, Credentials: d.creds()})
}

func (d *AWSDriver) iamClient() *iam.Client {
	return iam.New(iam.Options{Region: "us-east-1", Credentials: d.creds()})
}

func (d *AWSDriver) route53Client() *route53.Client {
	return route53.New(route53.Options{Region: "us-east-1", Credentials: d.creds()})
}

func (d *AWSDriver) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.Timeout)
}

// isAWSErrorCode matches a wrapped AWS API error against known codes.
func isAWSErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

// =============================================================================
// Instances
// =============================================================================

// CreateInstance launches an EC2 instance with an elastic IP and security
// group, records the footprint in the stack, and returns the public IP.
func (d *AWSDriver) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*CreateInstanceResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderAWS))
	if err != nil {
		return nil, err
	}
	// Partial footprints are persisted too so teardown can find what was
	// made before a failure.
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	client := d.ec2Client(req.Region)

	zone, err := d.deps.Catalog.Zone(domain.ProviderAWS, req.Region, req.Zone)
	if err != nil {
		return nil, err
	}

	securityGroupID := zone.SecurityGroup
	if securityGroupID == "" {
		sgOut, err := client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
			GroupName:   aws.String(req.CompositeName),
			Description: aws.String("nubo managed instance - " + req.CompositeName),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create security group: %w", err)
		}
		securityGroupID = aws.ToString(sgOut.GroupId)
		tx.Add(stack.Resource{Kind: "security-group", ID: securityGroupID, Region: req.Region})

		_, err = client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId: sgOut.GroupId,
			IpPermissions: []ec2types.IpPermission{
				{
					IpProtocol: aws.String("tcp"),
					FromPort:   aws.Int32(22),
					ToPort:     aws.Int32(22),
					IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0"), Description: aws.String("SSH")}},
				},
				{
					IpProtocol: aws.String("tcp"),
					FromPort:   aws.Int32(80),
					ToPort:     aws.Int32(80),
					IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0"), Description: aws.String("HTTP")}},
				},
				{
					IpProtocol: aws.String("tcp"),
					FromPort:   aws.Int32(443),
					ToPort:     aws.Int32(443),
					IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0"), Description: aws.String("HTTPS")}},
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure security group: %w", err)
		}
	}

	script, err := cloudInitData(d.CloudInitScript(), req.Environment)
	if err != nil {
		return nil, err
	}

	runInput := &ec2.RunInstancesInput{
		ImageId:          aws.String(req.Image),
		InstanceType:     ec2types.InstanceType(req.InstanceType),
		SecurityGroupIds: []string{securityGroupID},
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		UserData:         aws.String(base64.StdEncoding.EncodeToString([]byte(script))),
		Placement:        &ec2types.Placement{AvailabilityZone: aws.String(req.Zone)},
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String(req.CompositeName)},
					{Key: aws.String("ManagedBy"), Value: aws.String("nubo")},
				},
			},
		},
	}
	if zone.Subnet != "" {
		runInput.SubnetId = aws.String(zone.Subnet)
	}

	runOut, err := client.RunInstances(ctx, runInput)
	if err != nil {
		return nil, fmt.Errorf("failed to launch instance: %w", err)
	}
	if len(runOut.Instances) == 0 {
		return nil, errors.New("no instance returned from RunInstances")
	}

	instanceID := aws.ToString(runOut.Instances[0].InstanceId)
	tx.Add(stack.Resource{Kind: "instance", ID: instanceID, Region: req.Region})
	d.logger.Info("EC2 instance launched", "instance_id", instanceID, "region", req.Region)

	if err := d.waitForRunning(ctx, client, instanceID); err != nil {
		return nil, err
	}

	allocOut, err := client.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		Domain: ec2types.DomainTypeVpc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate elastic IP: %w", err)
	}
	tx.Add(stack.Resource{Kind: "elastic-ip", ID: aws.ToString(allocOut.AllocationId), Region: req.Region})

	_, err = client.AssociateAddress(ctx, &ec2.AssociateAddressInput{
		AllocationId: allocOut.AllocationId,
		InstanceId:   aws.String(instanceID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to associate elastic IP: %w", err)
	}

	publicIP := aws.ToString(allocOut.PublicIp)
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

func (d *AWSDriver) waitForRunning(ctx context.Context, client *ec2.Client, instanceID string) error {
	for i := 0; i < 60; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}

		out, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			continue
		}
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				if inst.State != nil && inst.State.Name == ec2types.InstanceStateNameRunning {
					return nil
				}
			}
		}
	}
	return errors.New("timed out waiting for instance to run")
}

// RefreshInstance re-reads instance type and public IP from EC2.
func (d *AWSDriver) RefreshInstance(ctx context.Context, req RefreshInstanceRequest) (*RefreshInstanceResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	inst, err := d.findInstance(ctx, req.Region, req.CompositeName)
	if err != nil || inst == nil {
		return nil, err
	}
	return &RefreshInstanceResult{
		Type: string(inst.InstanceType),
		IP:   aws.ToString(inst.PublicIpAddress),
	}, nil
}

func (d *AWSDriver) findInstance(ctx context.Context, region, compositeName string) (*ec2types.Instance, error) {
	out, err := d.ec2Client(region).DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:Name"), Values: []string{compositeName}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running", "shutting-down", "stopping", "stopped"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instances: %w", err)
	}
	for _, res := range out.Reservations {
		for i := range res.Instances {
			return &res.Instances[i], nil
		}
	}
	return nil, nil
}

// GetVirtualMachine returns the live EC2 descriptor, or (nil, nil) when
// the instance does not exist.
func (d *AWSDriver) GetVirtualMachine(ctx context.Context, region, _ string, compositeName string) (*VirtualMachine, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	inst, err := d.findInstance(ctx, region, compositeName)
	if err != nil || inst == nil {
		return nil, err
	}

	state := ""
	if inst.State != nil {
		state = string(inst.State.Name)
	}
	return &VirtualMachine{ID: aws.ToString(inst.InstanceId), State: state}, nil
}

// UpdateVirtualMachineStatus issues a power action against an EC2 instance.
func (d *AWSDriver) UpdateVirtualMachineStatus(ctx context.Context, region, _ string, serverID string, action domain.Action) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	client := d.ec2Client(region)
	var err error

	switch action {
	case domain.ActionPowerOff:
		_, err = client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{serverID}})
	case domain.ActionPowerOn:
		_, err = client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{serverID}})
	case domain.ActionReboot:
		_, err = client.RebootInstances(ctx, &ec2.RebootInstancesInput{InstanceIds: []string{serverID}})
	default:
		return fmt.Errorf("action %q does not touch the virtual machine", action)
	}

	if err != nil {
		return fmt.Errorf("failed to %s instance %s: %w", action, serverID, err)
	}
	d.logger.Info("EC2 power action issued", "instance_id", serverID, "action", action)
	return nil
}

// ServerState translates a raw EC2 state into the canonical vocabulary.
func (d *AWSDriver) ServerState(vm *VirtualMachine) domain.ServerState {
	return awsStateTable.Canonical(vm.State)
}

// DeleteInstance tears down every footprint resource recorded under the
// composite name: the EC2 instance, its elastic IP and any managed
// security group. Idempotent.
func (d *AWSDriver) DeleteInstance(ctx context.Context, region, _ string, compositeName string) error {
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

	client := d.ec2Client(region)

	var instanceID string
	for _, res := range tx.Stack().Resources {
		if res.Kind == "instance" {
			instanceID = res.ID
		}
	}

	if instanceID != "" {
		_, err = client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil && !isAWSErrorCode(err, "InvalidInstanceID.NotFound") {
			tx.Release()
			return fmt.Errorf("failed to terminate instance: %w", err)
		}
		if err := d.waitForTerminated(ctx, client, instanceID); err != nil {
			tx.Release()
			return err
		}
	}

	for _, res := range tx.Stack().Resources {
		switch res.Kind {
		case "elastic-ip":
			_, err := client.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{
				AllocationId: aws.String(res.ID),
			})
			if err != nil && !isAWSErrorCode(err, "InvalidAllocationID.NotFound") {
				tx.Release()
				return fmt.Errorf("failed to release elastic IP: %w", err)
			}
		case "security-group":
			_, err := client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
				GroupId: aws.String(res.ID),
			})
			if err != nil && !isAWSErrorCode(err, "InvalidGroup.NotFound") {
				tx.Release()
				return fmt.Errorf("failed to delete security group: %w", err)
			}
		}
	}

	d.logger.Info("EC2 instance torn down", "instance", compositeName)
	return tx.Destroy(ctx)
}

func (d *AWSDriver) waitForTerminated(ctx context.Context, client *ec2.Client, instanceID string) error {
	for i := 0; i < 60; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}

		out, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			if isAWSErrorCode(err, "InvalidInstanceID.NotFound") {
				return nil
			}
			continue
		}
		terminated := true
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				if inst.State == nil || inst.State.Name != ec2types.InstanceStateNameTerminated {
					terminated = false
				}
			}
		}
		if terminated {
			return nil
		}
	}
	return errors.New("timed out waiting for instance termination")
}

// =============================================================================
// Buckets
// =============================================================================

// CreateBucket provisions an S3 bucket and a dedicated IAM user whose
// inline policy is scoped to exactly that bucket, bounding the blast
// radius of a leaked key to one resource.
func (d *AWSDriver) CreateBucket(ctx context.Context, req CreateBucketRequest) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderAWS))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	client := d.s3Client(req.Region)

	createInput := &s3.CreateBucketInput{Bucket: aws.String(req.CompositeName)}
	if req.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(req.Region),
		}
	}
	if _, err := client.CreateBucket(ctx, createInput); err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	tx.Add(stack.Resource{Kind: "bucket", ID: req.CompositeName, Region: req.Region})

	accessKey, secretKey, err := d.createScopedUser(ctx, tx, req.CompositeName,
		fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"s3:*","Resource":["arn:aws:s3:::%s","arn:aws:s3:::%s/*"]}]}`,
			req.CompositeName, req.CompositeName))
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("https://%s.s3.%s.amazonaws.com", req.CompositeName, req.Region)
	tx.SetOutput("endpoint", endpoint)

	d.logger.Info("S3 bucket created", "bucket", req.CompositeName, "region", req.Region)
	return &Credentials{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Status:    domain.StatusActive,
	}, nil
}

// createScopedUser creates a per-resource IAM user with an inline policy
// and mints its first access key.
func (d *AWSDriver) createScopedUser(ctx context.Context, tx *stack.Tx, userName, policyJSON string) (string, string, error) {
	client := d.iamClient()

	if _, err := client.CreateUser(ctx, &iam.CreateUserInput{UserName: aws.String(userName)}); err != nil {
		return "", "", fmt.Errorf("failed to create IAM user: %w", err)
	}
	tx.Add(stack.Resource{Kind: "iam-user", ID: userName})

	_, err := client.PutUserPolicy(ctx, &iam.PutUserPolicyInput{
		UserName:       aws.String(userName),
		PolicyName:     aws.String(userName),
		PolicyDocument: aws.String(policyJSON),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to attach IAM policy: %w", err)
	}

	keyOut, err := client.CreateAccessKey(ctx, &iam.CreateAccessKeyInput{UserName: aws.String(userName)})
	if err != nil {
		return "", "", fmt.Errorf("failed to create access key: %w", err)
	}
	return aws.ToString(keyOut.AccessKey.AccessKeyId), aws.ToString(keyOut.AccessKey.SecretAccessKey), nil
}

// rotateAccessKey deletes every existing key of the user, then mints a new
// one. Destructive-then-additive: IAM caps concurrent keys per user at two
// and no overlap window is needed. The revoke step is idempotent.
func (d *AWSDriver) rotateAccessKey(ctx context.Context, userName string) (string, string, error) {
	client := d.iamClient()

	listOut, err := client.ListAccessKeys(ctx, &iam.ListAccessKeysInput{UserName: aws.String(userName)})
	if err != nil && !isAWSErrorCode(err, "NoSuchEntity") {
		return "", "", fmt.Errorf("failed to list access keys: %w", err)
	}
	if listOut != nil {
		for _, md := range listOut.AccessKeyMetadata {
			_, err := client.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
				UserName:    aws.String(userName),
				AccessKeyId: md.AccessKeyId,
			})
			if err != nil && !isAWSErrorCode(err, "NoSuchEntity") {
				return "", "", fmt.Errorf("failed to revoke access key: %w", err)
			}
		}
	}

	keyOut, err := client.CreateAccessKey(ctx, &iam.CreateAccessKeyInput{UserName: aws.String(userName)})
	if err != nil {
		return "", "", fmt.Errorf("failed to create access key: %w", err)
	}
	return aws.ToString(keyOut.AccessKey.AccessKeyId), aws.ToString(keyOut.AccessKey.SecretAccessKey), nil
}

// deleteScopedUser removes the per-resource IAM user and everything
// attached to it, tolerating already-gone entities.
func (d *AWSDriver) deleteScopedUser(ctx context.Context, userName string) error {
	client := d.iamClient()

	listOut, err := client.ListAccessKeys(ctx, &iam.ListAccessKeysInput{UserName: aws.String(userName)})
	if err != nil {
		if isAWSErrorCode(err, "NoSuchEntity") {
			return nil
		}
		return fmt.Errorf("failed to list access keys: %w", err)
	}
	for _, md := range listOut.AccessKeyMetadata {
		_, err := client.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
			UserName:    aws.String(userName),
			AccessKeyId: md.AccessKeyId,
		})
		if err != nil && !isAWSErrorCode(err, "NoSuchEntity") {
			return fmt.Errorf("failed to delete access key: %w", err)
		}
	}

	_, err = client.DeleteUserPolicy(ctx, &iam.DeleteUserPolicyInput{
		UserName:   aws.String(userName),
		PolicyName: aws.String(userName),
	})
	if err != nil && !isAWSErrorCode(err, "NoSuchEntity") {
		return fmt.Errorf("failed to delete IAM policy: %w", err)
	}

	_, err = client.DeleteUser(ctx, &iam.DeleteUserInput{UserName: aws.String(userName)})
	if err != nil && !isAWSErrorCode(err, "NoSuchEntity") {
		return fmt.Errorf("failed to delete IAM user: %w", err)
	}
	return nil
}

// UpdateBucketCredentials rotates the bucket's IAM access key.
func (d *AWSDriver) UpdateBucketCredentials(ctx context.Context, bucket *domain.Bucket) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	accessKey, secretKey, err := d.rotateAccessKey(ctx, bucket.CompositeName())
	if err != nil {
		return nil, err
	}
	return &Credentials{
		Endpoint:  bucket.Endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Status:    domain.StatusActive,
	}, nil
}

// DeleteBucket tears down the bucket and its IAM user. Idempotent.
func (d *AWSDriver) DeleteBucket(ctx context.Context, bucket *domain.Bucket, _ string) error {
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

	_, err = d.s3Client(bucket.Region).DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)})
	if err != nil && !isAWSErrorCode(err, "NoSuchBucket") {
		tx.Release()
		return fmt.Errorf("failed to delete bucket: %w", err)
	}

	if err := d.deleteScopedUser(ctx, name); err != nil {
		tx.Release()
		return err
	}

	d.logger.Info("S3 bucket deleted", "bucket", name)
	return tx.Destroy(ctx)
}

// RefreshBucket re-reads the bucket's visibility from its ACL.
func (d *AWSDriver) RefreshBucket(ctx context.Context, _ string, _ int, compositeName string) (*RefreshResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	st, err := d.deps.Stacks.Get(ctx, compositeName)
	if err != nil || st == nil {
		return nil, err
	}

	bucketRes, ok := st.Resource("bucket")
	if !ok {
		return nil, nil
	}

	aclOut, err := d.s3Client(bucketRes.Region).GetBucketAcl(ctx, &s3.GetBucketAclInput{
		Bucket: aws.String(compositeName),
	})
	if err != nil {
		if isAWSErrorCode(err, "NoSuchBucket") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read bucket acl: %w", err)
	}

	bucketType := "private"
	for _, grant := range aclOut.Grants {
		if grant.Grantee != nil && strings.Contains(aws.ToString(grant.Grantee.URI), "AllUsers") {
			bucketType = "public"
			break
		}
	}
	return &RefreshResult{Type: bucketType}, nil
}

// =============================================================================
// Registries
// =============================================================================

// CreateRegistry provisions an ECR repository and a dedicated IAM user
// scoped to exactly that repository.
func (d *AWSDriver) CreateRegistry(ctx context.Context, req CreateRegistryRequest) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.deps.Stacks.Begin(ctx, req.CompositeName, string(domain.ProviderAWS))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Commit(ctx); err != nil {
			d.logger.Error("failed to persist stack footprint", "stack", req.CompositeName, "error", err)
		}
	}()

	out, err := d.ecrClient(req.Region).CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(req.CompositeName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}
	tx.Add(stack.Resource{Kind: "registry", ID: req.CompositeName, Region: req.Region})

	repoARN := aws.ToString(out.Repository.RepositoryArn)
	accessKey, secretKey, err := d.createScopedUser(ctx, tx, req.CompositeName,
		fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"ecr:*","Resource":"%s"},{"Effect":"Allow","Action":"ecr:GetAuthorizationToken","Resource":"*"}]}`, repoARN))
	if err != nil {
		return nil, err
	}

	endpoint := aws.ToString(out.Repository.RepositoryUri)
	tx.SetOutput("endpoint", endpoint)

	d.logger.Info("ECR repository created", "registry", req.CompositeName, "region", req.Region)
	return &Credentials{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Status:    domain.StatusActive,
	}, nil
}

// UpdateRegistryCredentials rotates the registry's IAM access key.
func (d *AWSDriver) UpdateRegistryCredentials(ctx context.Context, registry *domain.Registry) (*Credentials, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	accessKey, secretKey, err := d.rotateAccessKey(ctx, registry.CompositeName())
	if err != nil {
		return nil, err
	}
	return &Credentials{
		Endpoint:  registry.Endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Status:    domain.StatusActive,
	}, nil
}

// DeleteRegistry tears down the repository and its IAM user. Idempotent.
func (d *AWSDriver) DeleteRegistry(ctx context.Context, registry *domain.Registry, _ string) error {
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

	_, err = d.ecrClient(registry.Region).DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: aws.String(name),
		Force:          true,
	})
	if err != nil && !isAWSErrorCode(err, "RepositoryNotFoundException") {
		tx.Release()
		return fmt.Errorf("failed to delete repository: %w", err)
	}

	if err := d.deleteScopedUser(ctx, name); err != nil {
		tx.Release()
		return err
	}

	d.logger.Info("ECR repository deleted", "registry", name)
	return tx.Destroy(ctx)
}

// RefreshRegistry confirms the repository still exists. ECR repositories
// are always private.
func (d *AWSDriver) RefreshRegistry(ctx context.Context, _ string, _ int, compositeName string) (*RefreshResult, error) {
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

	_, err = d.ecrClient(regRes.Region).DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{compositeName},
	})
	if err != nil {
		if isAWSErrorCode(err, "RepositoryNotFoundException") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe repository: %w", err)
	}
	return &RefreshResult{Type: "private"}, nil
}

// =============================================================================
// DNS
// =============================================================================

// CreateDNSRecords upserts the apex A record plus one per subdomain in a
// Route 53 hosted zone.
func (d *AWSDriver) CreateDNSRecords(ctx context.Context, req DNSRecordRequest) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	client := d.route53Client()

	zonesOut, err := client.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
		DNSName: aws.String(req.RootDNSZone),
	})
	if err != nil {
		return fmt.Errorf("failed to list hosted zones: %w", err)
	}

	var zoneID string
	for _, z := range zonesOut.HostedZones {
		if aws.ToString(z.Name) == req.RootDNSZone+"." {
			zoneID = aws.ToString(z.Id)
			break
		}
	}
	if zoneID == "" {
		return fmt.Errorf("hosted zone %s not found", req.RootDNSZone)
	}

	names := []string{fmt.Sprintf("%s.%s", req.CompositeName, req.RootDNSZone)}
	for _, sub := range req.Environment.Subdomains {
		names = append(names, fmt.Sprintf("%s.%s.%s", sub, req.CompositeName, req.RootDNSZone))
	}

	changes := make([]route53types.Change, 0, len(names))
	for _, name := range names {
		changes = append(changes, route53types.Change{
			Action: route53types.ChangeActionUpsert,
			ResourceRecordSet: &route53types.ResourceRecordSet{
				Name:            aws.String(name),
				Type:            route53types.RRTypeA,
				TTL:             aws.Int64(300),
				ResourceRecords: []route53types.ResourceRecord{{Value: aws.String(req.IP)}},
			},
		})
	}

	_, err = client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch:  &route53types.ChangeBatch{Changes: changes},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert dns records: %w", err)
	}

	d.logger.Info("DNS records registered", "zone", req.RootDNSZone, "records", len(names))
	return nil
}

// CloudInitScript names the AWS boot script template.
func (d *AWSDriver) CloudInitScript() string {
	return "cloud-init-aws.sh"
}

// Package ec2 implements cloud.Cloud on AWS: disks are EBS volumes,
// snapshots are EBS snapshots and stemcells are AMIs.
package ec2

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/smithy-go"

	"github.com/dray-io/reclaim/internal/cloud"
)

// Config configures the EC2 client.
type Config struct {
	// Region defaults to us-east-1.
	Region string

	// Endpoint overrides the AWS endpoint.
	Endpoint string

	// AccessKeyID and SecretAccessKey select static credentials. When either
	// is empty the default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// API is the subset of the EC2 client used here.
type API interface {
	DeleteVolume(ctx context.Context, in *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	DeleteSnapshot(ctx context.Context, in *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error)
	DeregisterImage(ctx context.Context, in *ec2.DeregisterImageInput, optFns ...func(*ec2.Options)) (*ec2.DeregisterImageOutput, error)
}

// Cloud deletes EC2 resources.
type Cloud struct {
	api API
}

// New creates a Cloud from cfg.
func New(ctx context.Context, cfg Config) (*Cloud, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ec2: failed to load AWS config: %w", err)
	}
	client := ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithAPI(client), nil
}

// NewWithAPI wraps an existing EC2 client.
func NewWithAPI(api API) *Cloud {
	return &Cloud{api: api}
}

func (c *Cloud) DeleteDisk(ctx context.Context, cid string) error {
	_, err := c.api.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(cid)})
	if err != nil {
		return wrapError("DeleteDisk", cid, err)
	}
	return nil
}

func (c *Cloud) DeleteSnapshot(ctx context.Context, cid string) error {
	_, err := c.api.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(cid)})
	if err != nil {
		return wrapError("DeleteSnapshot", cid, err)
	}
	return nil
}

// DeleteStemcell deregisters the stemcell's AMI.
func (c *Cloud) DeleteStemcell(ctx context.Context, cid string) error {
	_, err := c.api.DeregisterImage(ctx, &ec2.DeregisterImageInput{ImageId: aws.String(cid)})
	if err != nil {
		return wrapError("DeleteStemcell", cid, err)
	}
	return nil
}

func wrapError(op, cid string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidVolume.NotFound", "InvalidSnapshot.NotFound",
			"InvalidAMIID.NotFound", "InvalidAMIID.Unavailable":
			return &cloud.ResourceError{Op: op, CID: cid, Err: cloud.ErrNotFound}
		case "VolumeInUse", "InvalidSnapshot.InUse":
			return &cloud.ResourceError{Op: op, CID: cid, Err: fmt.Errorf("%w: %s", cloud.ErrInUse, apiErr.ErrorMessage())}
		}
	}
	return &cloud.ResourceError{Op: op, CID: cid, Err: err}
}

var _ cloud.Cloud = (*Cloud)(nil)

package testkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bronystylecrazy/suitekit/resource"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultMinIOImage          = "minio/minio:RELEASE.2025-07-23T15-54-02Z"
	defaultMinIOAPIPort        = "9000/tcp"
	defaultMinIOConsolePort    = "9001/tcp"
	defaultMinIOAccessKey      = "minioadmin"
	defaultMinIOSecretKey      = "minioadmin"
	defaultMinIOStartupTimeout = 2 * time.Minute
)

// MinIOOptions controls how the MinIO container is started.
type MinIOOptions struct {
	Image          string        `mapstructure:"image"`
	AccessKey      string        `mapstructure:"access_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	Region         string        `mapstructure:"region"`
	Buckets        []string      `mapstructure:"buckets"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	Prefix         string        `mapstructure:"prefix"`
}

// MinIO is an S3-compatible MinIO container resource whose handle is an *s3.Client.
type MinIO struct {
	opts      MinIOOptions
	container *Container

	mu              sync.RWMutex
	endpoint        string
	consoleEndpoint string
	client          *s3.Client
}

func NewMinIO(opts MinIOOptions) *MinIO {
	opts = withMinIODefaults(opts)
	return &MinIO{
		opts: opts,
		container: NewContainerFromRequest(testcontainers.ContainerRequest{
			Image:        opts.Image,
			ExposedPorts: []string{defaultMinIOAPIPort, defaultMinIOConsolePort},
			Env: map[string]string{
				"MINIO_ROOT_USER":     opts.AccessKey,
				"MINIO_ROOT_PASSWORD": opts.SecretKey,
			},
			Cmd: []string{"server", "/data", "--console-address", ":9001"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(defaultMinIOAPIPort),
				wait.ForHTTP("/minio/health/ready").WithPort(defaultMinIOAPIPort),
			).WithStartupTimeout(opts.StartupTimeout),
		}, ""),
	}
}

// Start runs the container, builds an S3 client and creates the configured buckets.
func (m *MinIO) Start(ctx context.Context) error {
	if err := m.container.Start(ctx); err != nil {
		return err
	}
	endpoint, err := m.container.Endpoint("http", defaultMinIOAPIPort)
	if err != nil {
		return err
	}
	console, err := m.container.Endpoint("http", defaultMinIOConsolePort)
	if err != nil {
		return err
	}

	cfg, err := loadAWSConfig(ctx, m.opts.Region, endpoint, m.opts.AccessKey, m.opts.SecretKey)
	if err != nil {
		return fmt.Errorf("load aws config for minio: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	m.mu.Lock()
	m.endpoint = endpoint
	m.consoleEndpoint = console
	m.client = client
	m.mu.Unlock()

	for _, b := range m.opts.Buckets {
		if err := createBucket(ctx, client, b); err != nil {
			return err
		}
	}
	return nil
}

func (m *MinIO) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.client = nil
	m.mu.Unlock()
	return m.container.Stop(ctx)
}

func (m *MinIO) Handle() any { return m.Client() }

func (m *MinIO) Client() *s3.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Endpoint returns the S3 API endpoint URL.
func (m *MinIO) Endpoint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endpoint
}

func (m *MinIO) Properties() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.endpoint == "" {
		return nil
	}
	pre := m.opts.Prefix
	return map[string]string{
		prop(pre, "endpoint"):         m.endpoint,
		prop(pre, "console_endpoint"): m.consoleEndpoint,
		prop(pre, "access_key"):       m.opts.AccessKey,
		prop(pre, "secret_key"):       m.opts.SecretKey,
		prop(pre, "region"):           m.opts.Region,
		prop(pre, "buckets"):          strings.Join(m.opts.Buckets, ","),
	}
}

// Bucket returns a factory for per-class buckets on m. The bucket and
// everything in it are deleted on Stop.
func (m *MinIO) Bucket(prefix string) resource.Factory {
	return func(resource.Options) (resource.Resource, error) {
		return &MinIOBucket{
			client: m.Client,
			name:   makeMinIOBucketName(prefix, strings.ReplaceAll(uuid.NewString()[:8], "-", "")),
		}, nil
	}
}

// MinIOBucket is a bucket reserved for one class.
type MinIOBucket struct {
	client  func() *s3.Client
	name    string
	created bool
}

func (b *MinIOBucket) Start(ctx context.Context) error {
	client := b.client()
	if client == nil {
		return fmt.Errorf("bucket %q: server %w", b.name, ErrNotStarted)
	}
	if err := createBucket(ctx, client, b.name); err != nil {
		return err
	}
	b.created = true
	return nil
}

func (b *MinIOBucket) Stop(ctx context.Context) error {
	client := b.client()
	if !b.created || client == nil {
		return nil
	}
	b.created = false
	return deleteBucketRecursive(ctx, client, b.name)
}

func (b *MinIOBucket) Handle() any { return b }

// Name returns the bucket name.
func (b *MinIOBucket) Name() string { return b.name }

// Client returns the server client.
func (b *MinIOBucket) Client() *s3.Client { return b.client() }

func createBucket(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !isAPIError(err, "BucketAlreadyOwnedByYou") {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return nil
}

func deleteBucketRecursive(ctx context.Context, client *s3.Client, bucket string) error {
	var token *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &bucket,
			ContinuationToken: token,
		})
		if err != nil {
			return err
		}

		if len(out.Contents) > 0 {
			objects := make([]s3types.ObjectIdentifier, 0, len(out.Contents))
			for _, obj := range out.Contents {
				if obj.Key == nil {
					continue
				}
				objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
			}
			if len(objects) > 0 {
				if _, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
					Bucket: &bucket,
					Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
				}); err != nil {
					return err
				}
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	_, err := client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &bucket})
	return err
}

func makeMinIOBucketName(prefix, fragment string) string {
	base := cleanIDFragment(prefix + "-" + fragment)
	base = strings.ReplaceAll(base, "_", "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "it-case"
	}
	if len(base) < 3 {
		base = base + strings.Repeat("a", 3-len(base))
	}
	if len(base) > 63 {
		base = base[:63]
	}
	return base
}

func withMinIODefaults(opts MinIOOptions) MinIOOptions {
	if opts.Image == "" {
		opts.Image = defaultMinIOImage
	}
	if opts.AccessKey == "" {
		opts.AccessKey = defaultMinIOAccessKey
	}
	if opts.SecretKey == "" {
		opts.SecretKey = defaultMinIOSecretKey
	}
	if opts.Region == "" {
		opts.Region = defaultAWSRegion
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultMinIOStartupTimeout
	}
	return opts
}

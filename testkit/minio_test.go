package testkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
)

func TestWithMinIODefaults(t *testing.T) {
	opts := withMinIODefaults(MinIOOptions{})

	if opts.Image != defaultMinIOImage {
		t.Fatalf("unexpected image: got=%q want=%q", opts.Image, defaultMinIOImage)
	}
	if opts.AccessKey != defaultMinIOAccessKey {
		t.Fatalf("unexpected access key: got=%q want=%q", opts.AccessKey, defaultMinIOAccessKey)
	}
	if opts.SecretKey != defaultMinIOSecretKey {
		t.Fatalf("unexpected secret key: got=%q want=%q", opts.SecretKey, defaultMinIOSecretKey)
	}
	if opts.Region != defaultAWSRegion {
		t.Fatalf("unexpected region: got=%q want=%q", opts.Region, defaultAWSRegion)
	}
	if opts.StartupTimeout != defaultMinIOStartupTimeout {
		t.Fatalf("unexpected startup timeout: got=%s want=%s", opts.StartupTimeout, defaultMinIOStartupTimeout)
	}
}

func TestWithMinIODefaultsKeepsProvidedValues(t *testing.T) {
	opts := withMinIODefaults(MinIOOptions{
		Image:          "minio/minio:latest",
		AccessKey:      "a",
		SecretKey:      "b",
		Region:         "eu-west-1",
		StartupTimeout: 7 * time.Second,
	})
	if opts.Image != "minio/minio:latest" || opts.AccessKey != "a" || opts.SecretKey != "b" ||
		opts.Region != "eu-west-1" || opts.StartupTimeout != 7*time.Second {
		t.Fatalf("options mutated unexpectedly: %+v", opts)
	}
}

func TestMakeMinIOBucketName(t *testing.T) {
	if got := makeMinIOBucketName("Orders", "Case_1"); got != "orders-case-1" {
		t.Fatalf("unexpected bucket: got=%q want=%q", got, "orders-case-1")
	}
	if got := makeMinIOBucketName("", ""); got != "it-case" {
		t.Fatalf("unexpected empty bucket: got=%q", got)
	}
	if got := makeMinIOBucketName("a", ""); got != "aaa" {
		t.Fatalf("short bucket not padded: got=%q", got)
	}
	if got := makeMinIOBucketName("p", strings.Repeat("x", 100)); len(got) != 63 {
		t.Fatalf("bucket not truncated: len=%d", len(got))
	}
}

func TestMinIOBucketRequiresRunningServer(t *testing.T) {
	m := NewMinIO(MinIOOptions{})
	r, err := m.Bucket("uploads")(nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	b := r.(*MinIOBucket)
	if !strings.HasPrefix(b.Name(), "uploads-") {
		t.Fatalf("unexpected bucket name %q", b.Name())
	}
	if err := b.Start(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Start: got=%v want=%v", err, ErrNotStarted)
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestIsAPIError(t *testing.T) {
	err := fmt.Errorf("create: %w", &smithy.GenericAPIError{Code: "BucketAlreadyOwnedByYou"})
	if !isAPIError(err, "BucketAlreadyExists", "BucketAlreadyOwnedByYou") {
		t.Fatal("expected wrapped API error to match")
	}
	if isAPIError(err, "NoSuchBucket") {
		t.Fatal("unexpected match for other code")
	}
	if isAPIError(errors.New("plain"), "BucketAlreadyOwnedByYou") {
		t.Fatal("plain error must not match")
	}
}

package testkit

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/smithy-go"
)

const defaultAWSRegion = "us-east-1"

// loadAWSConfig builds an SDK config pointed at a local endpoint with static credentials.
func loadAWSConfig(ctx context.Context, region, endpoint, accessKey, secretKey string) (aws.Config, error) {
	if region == "" {
		region = defaultAWSRegion
	}
	return config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
}

// isAPIError reports whether err carries one of the given service error codes.
func isAPIError(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}

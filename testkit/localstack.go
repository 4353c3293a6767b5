package testkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultLocalStackImage          = "localstack/localstack:4.4"
	defaultLocalStackPort           = "4566/tcp"
	defaultLocalStackServices       = "sqs,sns,dynamodb"
	defaultLocalStackStartupTimeout = 3 * time.Minute
	defaultTableHashKey             = "id"
)

// LocalStackOptions controls the LocalStack container and what is
// provisioned in it on Start.
type LocalStackOptions struct {
	Image          string        `mapstructure:"image"`
	Services       string        `mapstructure:"services"`
	Region         string        `mapstructure:"region"`
	Queues         []string      `mapstructure:"queues"`
	Topics         []string      `mapstructure:"topics"`
	Tables         []string      `mapstructure:"tables"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	Prefix         string        `mapstructure:"prefix"`
}

// LocalStack runs AWS service emulation and provisions SQS queues, SNS topics
// and DynamoDB tables. Its handle is the *LocalStack itself.
type LocalStack struct {
	opts      LocalStackOptions
	container *Container

	mu        sync.RWMutex
	endpoint  string
	cfg       aws.Config
	sqs       *sqs.Client
	sns       *sns.Client
	dynamo    *dynamodb.Client
	queueURLs map[string]string
	topicARNs map[string]string
}

func NewLocalStack(opts LocalStackOptions) *LocalStack {
	opts = withLocalStackDefaults(opts)
	return &LocalStack{
		opts: opts,
		container: NewContainerFromRequest(testcontainers.ContainerRequest{
			Image:        opts.Image,
			ExposedPorts: []string{defaultLocalStackPort},
			Env: map[string]string{
				"SERVICES":       opts.Services,
				"DEFAULT_REGION": opts.Region,
			},
			WaitingFor: wait.ForHTTP("/_localstack/health").
				WithPort(defaultLocalStackPort).
				WithStartupTimeout(opts.StartupTimeout),
		}, ""),
	}
}

func (l *LocalStack) Start(ctx context.Context) error {
	if err := l.container.Start(ctx); err != nil {
		return err
	}
	endpoint, err := l.container.Endpoint("http", defaultLocalStackPort)
	if err != nil {
		return err
	}
	cfg, err := loadAWSConfig(ctx, l.opts.Region, endpoint, "test", "test")
	if err != nil {
		return fmt.Errorf("load aws config for localstack: %w", err)
	}

	sqsClient := sqs.NewFromConfig(cfg)
	snsClient := sns.NewFromConfig(cfg)
	dynamoClient := dynamodb.NewFromConfig(cfg)

	l.mu.Lock()
	l.endpoint = endpoint
	l.cfg = cfg
	l.sqs = sqsClient
	l.sns = snsClient
	l.dynamo = dynamoClient
	l.queueURLs = map[string]string{}
	l.topicARNs = map[string]string{}
	l.mu.Unlock()

	for _, q := range l.opts.Queues {
		out, err := sqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(q)})
		if err != nil {
			return fmt.Errorf("create queue %q: %w", q, err)
		}
		l.mu.Lock()
		l.queueURLs[q] = aws.ToString(out.QueueUrl)
		l.mu.Unlock()
	}
	for _, name := range l.opts.Topics {
		out, err := snsClient.CreateTopic(ctx, &sns.CreateTopicInput{Name: aws.String(name)})
		if err != nil {
			return fmt.Errorf("create topic %q: %w", name, err)
		}
		l.mu.Lock()
		l.topicARNs[name] = aws.ToString(out.TopicArn)
		l.mu.Unlock()
	}
	for _, table := range l.opts.Tables {
		if err := createTable(ctx, dynamoClient, table); err != nil {
			return err
		}
	}
	return nil
}

func (l *LocalStack) Stop(ctx context.Context) error {
	return l.container.Stop(ctx)
}

// Config returns the SDK config pointed at the container.
func (l *LocalStack) Config() aws.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *LocalStack) SQS() *sqs.Client {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sqs
}

func (l *LocalStack) SNS() *sns.Client {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sns
}

func (l *LocalStack) DynamoDB() *dynamodb.Client {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dynamo
}

// QueueURL returns the URL of a queue created on Start.
func (l *LocalStack) QueueURL(name string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.queueURLs[name]
	return u, ok
}

// TopicARN returns the ARN of a topic created on Start.
func (l *LocalStack) TopicARN(name string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	arn, ok := l.topicARNs[name]
	return arn, ok
}

func (l *LocalStack) Properties() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.endpoint == "" {
		return nil
	}
	pre := l.opts.Prefix
	props := map[string]string{
		prop(pre, "endpoint"): l.endpoint,
		prop(pre, "region"):   l.opts.Region,
	}
	for name, u := range l.queueURLs {
		props[prop(pre, "queue."+name)] = u
	}
	for name, arn := range l.topicARNs {
		props[prop(pre, "topic."+name)] = arn
	}
	for _, table := range l.opts.Tables {
		props[prop(pre, "table."+table)] = table
	}
	return props
}

func createTable(ctx context.Context, client *dynamodb.Client, table string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String(defaultTableHashKey), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String(defaultTableHashKey), KeyType: ddbtypes.KeyTypeHash},
		},
		BillingMode: ddbtypes.BillingModePayPerRequest,
	})
	if err != nil && !isAPIError(err, "ResourceInUseException") {
		return fmt.Errorf("create table %q: %w", table, err)
	}
	return nil
}

func withLocalStackDefaults(opts LocalStackOptions) LocalStackOptions {
	if opts.Image == "" {
		opts.Image = defaultLocalStackImage
	}
	if strings.TrimSpace(opts.Services) == "" {
		opts.Services = defaultLocalStackServices
	}
	if opts.Region == "" {
		opts.Region = defaultAWSRegion
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultLocalStackStartupTimeout
	}
	return opts
}

package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/shotlocker/pkg/shotlocker"
)

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm
}

// Backend is an S3 implementation of the shotlocker.ObjectStore interface
type Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	config   Config
}

// LoadAWSConfig builds an aws.Config from static credentials when given,
// otherwise from the default credential chain.
func LoadAWSConfig(ctx context.Context, region, accessKeyID, secretAccessKey string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// New creates a new S3 object store
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	awsCfg, err := LoadAWSConfig(ctx, config.Region, config.AccessKeyID, config.SecretAccessKey)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(awsCfg, config), nil
}

// NewFromConfig creates a new S3 object store from a loaded aws.Config
func NewFromConfig(awsCfg aws.Config, config Config) *Backend {
	var s3Options []func(*s3.Options)

	// Custom endpoint for S3-compatible services (MinIO, etc.)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)
	return &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		config:   config,
	}
}

// classify wraps an SDK error with its shotlocker kind.
func classify(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	kind := shotlocker.ErrStoreFailure
	var canceled *aws.RequestCanceledError
	var apiErr smithy.APIError
	var respErr *awshttp.ResponseError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.As(err, &canceled):
		kind = shotlocker.ErrStoreTimeout
	case errors.As(err, &apiErr) && isNotFoundCode(apiErr.ErrorCode()):
		kind = shotlocker.ErrNotFound
	case errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound:
		kind = shotlocker.ErrNotFound
	}
	return shotlocker.NewStoreError(op, bucket, key, kind, err)
}

func isNotFoundCode(code string) bool {
	switch code {
	case "NoSuchKey", "NotFound", "NoSuchBucket", "NoSuchBucketPolicy", "NoSuchTagSet", "NoSuchTagSetError":
		return true
	}
	return false
}

func isCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}

// ListBuckets returns the names of all buckets visible to the caller
func (b *Backend) ListBuckets(ctx context.Context) ([]string, error) {
	var names []string
	p := s3.NewListBucketsPaginator(b.client, &s3.ListBucketsInput{})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("ListBuckets", "", "", err)
		}
		for _, bk := range out.Buckets {
			names = append(names, aws.ToString(bk.Name))
		}
	}
	return names, nil
}

// ListObjects pages through objects under prefix
func (b *Backend) ListObjects(ctx context.Context, bucket, prefix string, recursive bool, fn func([]shotlocker.ObjectInfo) error) error {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}
	p := s3.NewListObjectsV2Paginator(b.client, input)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return classify("ListObjectsV2", bucket, prefix, err)
		}
		page := make([]shotlocker.ObjectInfo, 0, len(out.Contents))
		for _, o := range out.Contents {
			page = append(page, shotlocker.ObjectInfo{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
		if len(page) == 0 {
			continue
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

// ListPrefixes returns the common prefixes directly under prefix
func (b *Backend) ListPrefixes(ctx context.Context, bucket, prefix string) ([]string, error) {
	var prefixes []string
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("ListObjectsV2", bucket, prefix, err)
		}
		for _, cp := range out.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(cp.Prefix))
		}
	}
	return prefixes, nil
}

// HeadObject returns object metadata
func (b *Backend) HeadObject(ctx context.Context, bucket, key string) (*shotlocker.ObjectInfo, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("HeadObject", bucket, key, err)
	}
	return &shotlocker.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// GetObject reads a whole object
func (b *Backend) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("GetObject", bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, classify("GetObject", bucket, key, err)
	}
	return data, nil
}

// PutObject writes a whole object through the upload manager
func (b *Backend) PutObject(ctx context.Context, bucket, key string, body []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}

	// Add server-side encryption if enabled
	if b.config.EnableSSE {
		switch b.config.SSEAlgorithm {
		case "AES256":
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		case "aws:kms":
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			if b.config.SSEKMSKeyID != "" {
				input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
			}
		}
	}

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return classify("PutObject", bucket, key, err)
	}
	return nil
}

func fromTagSet(set []types.Tag) []shotlocker.Tag {
	tags := make([]shotlocker.Tag, 0, len(set))
	for _, t := range set {
		tags = append(tags, shotlocker.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return tags
}

func toTagSet(tags []shotlocker.Tag) []types.Tag {
	set := make([]types.Tag, 0, len(tags))
	for _, t := range tags {
		set = append(set, types.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)})
	}
	return set
}

// GetObjectTags returns the object's tag set
func (b *Backend) GetObjectTags(ctx context.Context, bucket, key string) ([]shotlocker.Tag, error) {
	out, err := b.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("GetObjectTagging", bucket, key, err)
	}
	return fromTagSet(out.TagSet), nil
}

// PutObjectTags replaces the object's tag set
func (b *Backend) PutObjectTags(ctx context.Context, bucket, key string, tags []shotlocker.Tag) error {
	_, err := b.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(bucket),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: toTagSet(tags)},
	})
	return classify("PutObjectTagging", bucket, key, err)
}

// GetBucketTags returns the bucket's tag set, empty when none is set
func (b *Backend) GetBucketTags(ctx context.Context, bucket string) ([]shotlocker.Tag, error) {
	out, err := b.client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		if isCode(err, "NoSuchTagSet") || isCode(err, "NoSuchTagSetError") {
			return []shotlocker.Tag{}, nil
		}
		return nil, classify("GetBucketTagging", bucket, "", err)
	}
	return fromTagSet(out.TagSet), nil
}

// PutBucketTags replaces the bucket's tag set
func (b *Backend) PutBucketTags(ctx context.Context, bucket string, tags []shotlocker.Tag) error {
	_, err := b.client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(bucket),
		Tagging: &types.Tagging{TagSet: toTagSet(tags)},
	})
	return classify("PutBucketTagging", bucket, "", err)
}

// GetBucketPolicy returns the policy document or ErrNotFound when absent
func (b *Backend) GetBucketPolicy(ctx context.Context, bucket string) ([]byte, error) {
	out, err := b.client.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, classify("GetBucketPolicy", bucket, "", err)
	}
	return []byte(aws.ToString(out.Policy)), nil
}

// PutBucketPolicy replaces the policy document
func (b *Backend) PutBucketPolicy(ctx context.Context, bucket string, policy []byte) error {
	_, err := b.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(string(policy)),
	})
	return classify("PutBucketPolicy", bucket, "", err)
}

// DeleteBucketPolicy removes the policy document
func (b *Backend) DeleteBucketPolicy(ctx context.Context, bucket string) error {
	_, err := b.client.DeleteBucketPolicy(ctx, &s3.DeleteBucketPolicyInput{
		Bucket: aws.String(bucket),
	})
	return classify("DeleteBucketPolicy", bucket, "", err)
}

// passthrough keeps the notification targets this package does not manage
type passthrough struct {
	topics      []types.TopicConfiguration
	queues      []types.QueueConfiguration
	eventBridge *types.EventBridgeConfiguration
}

// GetBucketNotification returns the bucket's notification configuration.
// Topic, queue and EventBridge targets ride along untouched.
func (b *Backend) GetBucketNotification(ctx context.Context, bucket string) (*shotlocker.NotificationConfig, error) {
	out, err := b.client.GetBucketNotificationConfiguration(ctx, &s3.GetBucketNotificationConfigurationInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, classify("GetBucketNotificationConfiguration", bucket, "", err)
	}

	cfg := &shotlocker.NotificationConfig{
		Passthrough: passthrough{
			topics:      out.TopicConfigurations,
			queues:      out.QueueConfigurations,
			eventBridge: out.EventBridgeConfiguration,
		},
	}
	for _, lc := range out.LambdaFunctionConfigurations {
		n := shotlocker.LambdaNotification{
			ID:          aws.ToString(lc.Id),
			FunctionARN: aws.ToString(lc.LambdaFunctionArn),
		}
		for _, e := range lc.Events {
			n.Events = append(n.Events, string(e))
		}
		if lc.Filter != nil && lc.Filter.Key != nil {
			for _, r := range lc.Filter.Key.FilterRules {
				switch types.FilterRuleName(strings.ToLower(string(r.Name))) {
				case types.FilterRuleNamePrefix:
					n.Prefix = aws.ToString(r.Value)
				case types.FilterRuleNameSuffix:
					n.Suffix = aws.ToString(r.Value)
				}
			}
		}
		cfg.Lambda = append(cfg.Lambda, n)
	}
	return cfg, nil
}

// PutBucketNotification replaces the bucket's notification configuration
func (b *Backend) PutBucketNotification(ctx context.Context, bucket string, cfg *shotlocker.NotificationConfig) error {
	nc := &types.NotificationConfiguration{}
	if pt, ok := cfg.Passthrough.(passthrough); ok {
		nc.TopicConfigurations = pt.topics
		nc.QueueConfigurations = pt.queues
		nc.EventBridgeConfiguration = pt.eventBridge
	}
	for _, n := range cfg.Lambda {
		lc := types.LambdaFunctionConfiguration{
			LambdaFunctionArn: aws.String(n.FunctionARN),
		}
		if n.ID != "" {
			lc.Id = aws.String(n.ID)
		}
		for _, e := range n.Events {
			lc.Events = append(lc.Events, types.Event(e))
		}
		var rules []types.FilterRule
		if n.Prefix != "" {
			rules = append(rules, types.FilterRule{Name: types.FilterRuleNamePrefix, Value: aws.String(n.Prefix)})
		}
		if n.Suffix != "" {
			rules = append(rules, types.FilterRule{Name: types.FilterRuleNameSuffix, Value: aws.String(n.Suffix)})
		}
		if len(rules) > 0 {
			lc.Filter = &types.NotificationConfigurationFilter{Key: &types.S3KeyFilter{FilterRules: rules}}
		}
		nc.LambdaFunctionConfigurations = append(nc.LambdaFunctionConfigurations, lc)
	}

	_, err := b.client.PutBucketNotificationConfiguration(ctx, &s3.PutBucketNotificationConfigurationInput{
		Bucket:                    aws.String(bucket),
		NotificationConfiguration: nc,
	})
	return classify("PutBucketNotificationConfiguration", bucket, "", err)
}

var _ shotlocker.ObjectStore = (*Backend)(nil)

// Package store implements the Object Store Gateway: key-addressed storage
// of status records, artifacts and logs in an S3-compatible bucket.
package store

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec -- used only for the S3 ContentMD5 integrity header, not for security
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"code.cloudfoundry.org/lager/v3"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/arXiv/arxiv-compiler/compiler"
)

// Config describes how to reach the bucket backing the store.
type Config struct {
	Bucket          string `long:"store-bucket"            description:"bucket name backing the object store"`
	Region          string `long:"store-region"             description:"AWS region" default:"us-east-1"`
	Endpoint        string `long:"store-endpoint"           description:"S3-compatible endpoint override (empty for real AWS S3)"`
	AccessKeyID     string `long:"store-access-key-id"      description:"static access key id"`
	SecretAccessKey string `long:"store-secret-access-key"  description:"static secret access key"`
	UsePathStyle    bool   `long:"store-use-path-style"     description:"use path-style bucket addressing (required by most S3-compatible stores)"`
}

// API is the subset of the S3 client the gateway depends on, narrowed so
// tests can supply an in-memory fake without standing up a real endpoint.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Gateway is the Object Store Gateway.
type Gateway struct {
	logger lager.Logger
	cfg    Config
	client API
}

// NewClient builds the AWS SDK v2 S3 client for cfg. It is split out from
// New so tests can construct a Gateway around a fake API instead.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

func New(logger lager.Logger, cfg Config, client API) *Gateway {
	return &Gateway{logger: logger.Session("store"), cfg: cfg, client: client}
}

func statusKey(sourceID, checksum string, format compiler.Format) string {
	return fmt.Sprintf("%s/%s/%s/status.json", sourceID, checksum, format)
}

func artifactKey(sourceID, checksum string, format compiler.Format) string {
	props := compiler.Props(format)
	return fmt.Sprintf("%s/%s/%s/%s.%s", sourceID, checksum, format, sourceID, props.Ext)
}

func logKey(sourceID, checksum string, format compiler.Format) string {
	return artifactKey(sourceID, checksum, format) + ".log"
}

// GetStatus reads the Task record for a triple. It returns
// compiler.DoesNotExistError when no record has been written yet.
func (g *Gateway) GetStatus(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Task, error) {
	key := statusKey(sourceID, checksum, format)
	body, _, err := g.get(ctx, key)
	if err != nil {
		return compiler.Task{}, err
	}
	defer body.Close()

	var task compiler.Task
	if err := json.NewDecoder(body).Decode(&task); err != nil {
		return compiler.Task{}, fmt.Errorf("store: decoding status at %s: %w", key, err)
	}
	return task, nil
}

// SetStatus writes the Task record for a triple. Per the store invariant,
// callers must not call this for a triple already in a terminal state
// unless the request is an explicit force=true recompilation; the gateway
// itself does not enforce that — it is last-write-wins by key.
func (g *Gateway) SetStatus(ctx context.Context, task compiler.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("store: encoding status: %w", err)
	}
	key := statusKey(task.SourceID, task.Checksum, task.OutputFormat)
	return g.put(ctx, key, body, "application/json")
}

// StoreArtifact writes the compiled artifact for a completed task.
func (g *Gateway) StoreArtifact(ctx context.Context, sourceID, checksum string, format compiler.Format, content []byte) error {
	props := compiler.Props(format)
	return g.put(ctx, artifactKey(sourceID, checksum, format), content, props.ContentType)
}

// RetrieveArtifact returns the stored artifact and its strong etag.
func (g *Gateway) RetrieveArtifact(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Product, error) {
	return g.retrieve(ctx, artifactKey(sourceID, checksum, format))
}

// StoreLog writes the compilation log.
func (g *Gateway) StoreLog(ctx context.Context, sourceID, checksum string, format compiler.Format, content []byte) error {
	return g.put(ctx, logKey(sourceID, checksum, format), content, "text/plain")
}

// RetrieveLog returns the stored compilation log.
func (g *Gateway) RetrieveLog(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Product, error) {
	return g.retrieve(ctx, logKey(sourceID, checksum, format))
}

func (g *Gateway) retrieve(ctx context.Context, key string) (compiler.Product, error) {
	body, etag, err := g.get(ctx, key)
	if err != nil {
		return compiler.Product{}, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return compiler.Product{}, fmt.Errorf("store: reading %s: %w", key, err)
	}
	return compiler.Product{Stream: data, Checksum: etag}, nil
}

func (g *Gateway) get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &g.cfg.Bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", compiler.DoesNotExistError{Key: key}
		}
		return nil, "", fmt.Errorf("store: getting %s: %w", key, err)
	}

	etag := ""
	if out.ETag != nil {
		etag = trimQuotes(*out.ETag)
	}
	return out.Body, etag, nil
}

func (g *Gateway) put(ctx context.Context, key string, body []byte, contentType string) error {
	sum := md5.Sum(body) //nolint:gosec
	contentMD5 := base64.StdEncoding.EncodeToString(sum[:])

	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &g.cfg.Bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentMD5:  &contentMD5,
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("store: putting %s: %w", key, err)
	}
	return nil
}

// Initialize creates the bucket if it does not already exist and blocks
// until HeadBucket succeeds. It is idempotent.
func (g *Gateway) Initialize(ctx context.Context) error {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &g.cfg.Bucket})
	if err == nil {
		return nil
	}

	g.logger.Info("creating-bucket", lager.Data{"bucket": g.cfg.Bucket})
	_, err = g.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &g.cfg.Bucket})
	var alreadyOwned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &alreadyOwned) {
		return fmt.Errorf("store: creating bucket %s: %w", g.cfg.Bucket, err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &g.cfg.Bucket}); err == nil {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("store: bucket %s not reachable after creation", g.cfg.Bucket)
}

// IsAvailable performs a tiny PUT under a reserved key with a short
// timeout and no retries, for use during startup/health probing.
func (g *Gateway) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	key := ".compiler-health-check"
	body := []byte("ok")
	sum := md5.Sum(body) //nolint:gosec
	contentMD5 := base64.StdEncoding.EncodeToString(sum[:])
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:     &g.cfg.Bucket,
		Key:        &key,
		Body:       bytes.NewReader(body),
		ContentMD5: &contentMD5,
	}, func(o *s3.Options) { o.RetryMaxAttempts = 1 })
	if err != nil {
		g.logger.Info("not-available", lager.Data{"error": err.Error()})
		return false
	}
	return true
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

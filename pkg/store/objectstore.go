package store

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

const objectPrefix = "documents/"

// ObjectConfig configures an S3 compatible bucket
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectStore keeps one JSON object per namespace in an S3 compatible bucket
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore connects and creates the bucket if it does not exist
func NewObjectStore(ctx context.Context, cfg ObjectConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create object store client")
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "bucket %s", cfg.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "create bucket %s", cfg.Bucket)
		}
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func objectKey(namespace string) string {
	return objectPrefix + namespace + fileExt
}

func (o *ObjectStore) Get(ctx context.Context, namespace string) ([]byte, error) {
	obj, err := o.client.GetObject(ctx, o.bucket, objectKey(namespace), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", namespace)
	}
	defer obj.Close()

	doc, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "read %s", namespace)
	}
	return doc, nil
}

func (o *ObjectStore) Set(ctx context.Context, namespace string, doc []byte) error {
	if err := validNamespace(namespace); err != nil {
		return err
	}
	_, err := o.client.PutObject(ctx, o.bucket, objectKey(namespace),
		bytes.NewReader(doc), int64(len(doc)), minio.PutObjectOptions{ContentType: "application/json"})
	return errors.Wrapf(err, "put %s", namespace)
}

func (o *ObjectStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{Prefix: objectPrefix + prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, "list objects")
		}
		ns := strings.TrimSuffix(strings.TrimPrefix(obj.Key, objectPrefix), fileExt)
		keys = append(keys, ns)
	}
	return keys, nil
}

func (o *ObjectStore) Close() error { return nil }

package connector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go-graph-import/internal/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 downloads objects from an S3 compatible bucket
type S3 struct {
	client  *minio.Client
	Bucket  string
	Timeout time.Duration
}

// NewS3 reads endpoint, access_key, secret_key, region, use_ssl, bucket and timeout.
func NewS3(params map[string]string) (Connector, error) {
	endpoint := params["endpoint"]
	if endpoint == "" {
		return nil, errors.New("s3 connector requires endpoint")
	}
	secure := false
	if v := params["use_ssl"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("use_ssl %q: %w", v, err)
		}
		secure = b
	}
	timeout, err := timeoutParam(params)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(params["access_key"], params["secret_key"], ""),
		Secure: secure,
		Region: params["region"],
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &S3{client: client, Bucket: params["bucket"], Timeout: timeout}, nil
}

// locate accepts either a bare key or s3://bucket/key.
func (s *S3) locate(source string) (bucket, key string) {
	if rest, ok := strings.CutPrefix(source, "s3://"); ok {
		if b, k, found := strings.Cut(rest, "/"); found {
			return b, k
		}
		return rest, ""
	}
	return s.Bucket, strings.TrimPrefix(source, "/")
}

func (s *S3) Fetch(ctx context.Context, source, dest string) (model.FetchResult, error) {
	bucket, key := s.locate(source)
	subject := "s3://" + bucket + "/" + key
	if bucket == "" || key == "" {
		err := errors.New("bucket and object key are required")
		return model.FetchResult{Error: err.Error()}, model.NewError(model.KindConfiguration, model.CodeInvalidConfiguration, stage, subject, err)
	}

	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return model.FetchResult{Error: err.Error()}, s.classify(ctx, subject, started, err)
	}
	defer obj.Close()

	// GetObject is lazy; request errors surface on the first read.
	n, err := writeAtomically(ctx, dest, obj)
	if err != nil {
		return model.FetchResult{BytesTransferred: n, Error: err.Error()}, s.classify(ctx, subject, started, err)
	}
	return model.FetchResult{Success: true, LocalPath: dest, BytesTransferred: n}, nil
}

func (s *S3) classify(ctx context.Context, subject string, started time.Time, err error) error {
	if isTimeout(ctx, err) || errors.Is(err, context.Canceled) {
		return interrupted(ctx, subject, started, err)
	}
	return fetchError(s3Code(err), subject, err)
}

func s3Code(err error) string {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return model.CodeNotFound
	case "AccessDenied", "SignatureDoesNotMatch", "InvalidAccessKeyId", "ExpiredToken":
		return model.CodeAuthFailure
	}
	return model.CodeTransferError
}

func (s *S3) TestConnection(ctx context.Context) bool {
	if s.Bucket == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	ok, err := s.client.BucketExists(ctx, s.Bucket)
	return err == nil && ok
}

package source

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

// gcsReader reads gs://bucket/object URLs. The client is created on first use.
type gcsReader struct {
	credentialsFile string
	client          *storage.Client
}

func newGCSReader(credentialsFile string) *gcsReader {
	return &gcsReader{credentialsFile: credentialsFile}
}

func (r *gcsReader) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if r.client == nil {
		var opts []option.ClientOption
		if r.credentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(r.credentialsFile))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, exception.KindIO, "failed to create GCS client", err)
		}
		r.client = client
		logger.Debugf("GCS client created.")
	}

	bucket, object := u.Host, strings.TrimPrefix(u.Path, "/")
	rc, err := r.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, exception.NewBatchErrorf(moduleName, exception.KindIO, "object '%s' does not exist in bucket '%s'", object, bucket, err)
	}
	if err != nil {
		return nil, exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to read gs://%s/%s", bucket, object, err)
	}
	return rc, nil
}

func (r *gcsReader) Close() error {
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

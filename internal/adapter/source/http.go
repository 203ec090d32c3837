package source

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tigerroll/taxiemissions/internal/support/exception"
)

type httpReader struct {
	client *http.Client
}

// newHTTPReader builds the https reader. A zero timeout means none.
func newHTTPReader(timeout time.Duration) *httpReader {
	return &httpReader{client: &http.Client{Timeout: timeout}}
}

func (r *httpReader) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, exception.NewBatchErrorf(moduleName, exception.KindConfig, "invalid request for '%s'", u.Redacted(), err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to fetch '%s'", u.Redacted(), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, exception.NewBatchErrorf(moduleName, exception.KindIO, "fetching '%s' returned %s", u.Redacted(), resp.Status)
	}
	return resp.Body, nil
}

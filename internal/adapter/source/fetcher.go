// Package source fetches monthly trip files and hands the loader a local path to ingest.
//
// A URL template is expanded per color and period. Remote files (https://, gs://) are downloaded
// into a cache directory with a pacing delay between fetches; local paths are used in place.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/tigerroll/taxiemissions/internal/config"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

const moduleName = "source"

// Fetcher makes one monthly trip file available on the local file system.
type Fetcher interface {
	Fetch(ctx context.Context, color model.Color, period model.Period) (*Download, error)
}

// Download is a fetched monthly file.
type Download struct {
	Color  model.Color
	Period model.Period
	// URL is the expanded template the file came from.
	URL string
	// Path is the local file to ingest.
	Path string
	// Temporary is set when Path is a cache copy the fetcher created.
	Temporary bool
}

// Name is the dataset name of the file, "{color}_tripdata_{YYYY-MM}".
func (d *Download) Name() string {
	return fmt.Sprintf("%s_tripdata_%s", d.Color, d.Period)
}

// Release removes a temporary download unless keep is set. Local files are never removed.
func (d *Download) Release(keep bool) error {
	if !d.Temporary || keep {
		return nil
	}
	if err := os.Remove(d.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to remove download '%s'", d.Path, err)
	}
	return nil
}

// objectReader opens a remote object for reading.
type objectReader interface {
	Open(ctx context.Context, u *url.URL) (io.ReadCloser, error)
}

// TemplateFetcher resolves files through a URL template.
type TemplateFetcher struct {
	template string
	cacheDir string
	limiter  *rate.Limiter
	probe    bool
	readers  map[string]objectReader
}

// NewTemplateFetcher creates a fetcher from the source section of the configuration.
func NewTemplateFetcher(cfg *config.Config) *TemplateFetcher {
	src := cfg.Emissions.Source
	httpReader := newHTTPReader(src.HTTPTimeout)
	return &TemplateFetcher{
		template: src.URLTemplate,
		cacheDir: src.CacheDir,
		limiter:  newPacer(src.PacingDelay),
		probe:    true,
		readers: map[string]objectReader{
			"http":  httpReader,
			"https": httpReader,
			"gs":    newGCSReader(src.GCS.CredentialsFile),
		},
	}
}

// newPacer lets one fetch through immediately and each following one after delay.
func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// ExpandTemplate substitutes {color}, {year} and {month} (zero-padded) in template.
func ExpandTemplate(template string, color model.Color, period model.Period) string {
	return strings.NewReplacer(
		"{color}", color.String(),
		"{year}", fmt.Sprintf("%04d", period.Year),
		"{month}", fmt.Sprintf("%02d", int(period.Month)),
	).Replace(template)
}

// Fetch expands the template for color and period and returns a local file.
// Remote fetches wait on the pacer first, so a cancelled context interrupts the delay.
func (f *TemplateFetcher) Fetch(ctx context.Context, color model.Color, period model.Period) (*Download, error) {
	raw := ExpandTemplate(f.template, color, period)
	d := &Download{Color: color, Period: period, URL: raw}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, exception.NewBatchErrorf(moduleName, exception.KindConfig, "invalid source URL '%s'", raw, err)
	}

	switch u.Scheme {
	case "", "file":
		d.Path = raw
		if u.Scheme == "file" {
			d.Path = u.Path
		}
		if _, err := os.Stat(d.Path); err != nil {
			return nil, exception.NewBatchErrorf(moduleName, exception.KindIO, "source file '%s' is not readable", d.Path, err)
		}
	default:
		reader, ok := f.readers[u.Scheme]
		if !ok {
			return nil, exception.NewBatchErrorf(moduleName, exception.KindConfig, "unsupported source scheme '%s' in '%s'", u.Scheme, raw)
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, exception.NewBatchErrorf(moduleName, exception.KindIO, "pacing wait before '%s' interrupted", raw, err)
		}
		if err := f.download(ctx, reader, u, d); err != nil {
			return nil, err
		}
	}

	if f.probe {
		if err := ProbeSchema(d.Path, color.RequiredColumns()); err != nil {
			if releaseErr := d.Release(false); releaseErr != nil {
				logger.Warnf("%v", releaseErr)
			}
			return nil, err
		}
	}
	return d, nil
}

func (f *TemplateFetcher) download(ctx context.Context, reader objectReader, u *url.URL, d *Download) error {
	logger.Debugf("Fetching %s", u.Redacted())
	body, err := reader.Open(ctx, u)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := os.MkdirAll(f.cacheDir, 0755); err != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to create cache directory '%s'", f.cacheDir, err)
	}
	target := filepath.Join(f.cacheDir, d.Name()+".parquet")
	partial := target + ".part"

	out, err := os.Create(partial)
	if err != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to create '%s'", partial, err)
	}
	n, copyErr := io.Copy(out, body)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(partial)
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to download '%s'", u.Redacted(), copyErr)
	}
	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to move download to '%s'", target, err)
	}

	d.Path = target
	d.Temporary = true
	logger.Debugf("Downloaded %s (%d bytes) to %s", u.Redacted(), n, target)
	return nil
}

// Close releases clients held by the remote readers.
func (f *TemplateFetcher) Close() error {
	var result error
	for scheme, r := range f.readers {
		if c, ok := r.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s reader: %w", scheme, err))
			}
		}
	}
	return result
}

var _ Fetcher = (*TemplateFetcher)(nil)

// Package assets downloads raster files for configured bands and reports
// whether they are complete enough to open.
package assets

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/popradius/internal/metrics"
	"github.com/sells-group/popradius/internal/resilience"
)

// Options configures a Fetcher.
type Options struct {
	// Timeout bounds one transfer attempt. Default: 10m.
	Timeout time.Duration
	// MaxAttempts counts the first try. Default: 3.
	MaxAttempts int
	// UserAgent is sent on HTTP requests.
	UserAgent string
	// MinBytes rejects downloads smaller than this as truncated.
	MinBytes int64
	// Concurrency limits parallel band downloads in FetchAll. Default: 2.
	Concurrency int
	// Retry overrides the backoff schedule; MaxAttempts still applies.
	Retry *resilience.RetryConfig
}

// Fetcher downloads raster assets over HTTP(S) or FTP.
type Fetcher struct {
	opts   Options
	client *http.Client
}

// NewFetcher creates a fetcher.
func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	return &Fetcher{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

// Report describes one band's fetch.
type Report struct {
	Band    string `json:"band" yaml:"band"`
	Source  string `json:"source" yaml:"source"`
	Path    string `json:"path" yaml:"path"`
	Bytes   int64  `json:"bytes" yaml:"bytes"`
	Skipped bool   `json:"skipped" yaml:"skipped"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// FetchAll downloads every band in sources to its path in dests. Bands whose
// file is already Ready are skipped unless force is set. Failures are
// reported per band; the returned error is non-nil if any band failed.
func (f *Fetcher) FetchAll(ctx context.Context, sources, dests map[string]string, force bool) ([]Report, error) {
	bands := make([]string, 0, len(sources))
	for band := range sources {
		bands = append(bands, band)
	}
	sort.Strings(bands)

	reports := make([]Report, len(bands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)

	for i, band := range bands {
		rep := Report{Band: band, Source: sources[band], Path: dests[band]}
		if rep.Path == "" {
			rep.Error = "band has no raster path"
			reports[i] = rep
			continue
		}
		if ok, _ := Ready(rep.Path, f.opts.MinBytes); ok && !force {
			rep.Skipped = true
			if st, err := os.Stat(rep.Path); err == nil {
				rep.Bytes = st.Size()
			}
			reports[i] = rep
			continue
		}

		g.Go(func() error {
			n, err := f.Fetch(gctx, band, rep.Source, rep.Path)
			rep.Bytes = n
			if err != nil {
				rep.Error = err.Error()
			}
			reports[i] = rep
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for _, r := range reports {
		if r.Error != "" {
			failed = append(failed, r.Band)
		}
	}
	if len(failed) > 0 {
		return reports, eris.Errorf("assets: %d band(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return reports, nil
}

// Fetch downloads src to dest with retries. The file appears at dest only
// once complete; partial transfers live at dest + ".part". Zip archives are
// unpacked and their first raster entry becomes dest.
func (f *Fetcher) Fetch(ctx context.Context, band, src, dest string) (int64, error) {
	log := zap.L().With(
		zap.String("component", "assets.fetch"),
		zap.String("band", band),
		zap.String("source", src),
	)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, eris.Wrap(err, "assets: create dest dir")
	}

	cfg := resilience.DownloadRetryConfig(f.opts.MaxAttempts)
	if f.opts.Retry != nil {
		cfg = *f.opts.Retry
		cfg.MaxAttempts = f.opts.MaxAttempts
	}
	cfg.OnRetry = resilience.LogRetry(band, src)

	start := time.Now()
	log.Info("assets: downloading raster", zap.String("dest", dest))
	n, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (int64, error) {
		return f.fetchOnce(ctx, src, dest)
	})
	metrics.ObserveDownload(band, n, err)
	if err != nil {
		log.Error("assets: download failed", zap.Error(err))
		return 0, eris.Wrapf(err, "assets: fetch band %q", band)
	}

	log.Info("assets: raster ready",
		zap.String("dest", dest),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return n, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, src, dest string) (int64, error) {
	part := dest + ".part"
	defer os.Remove(part) //nolint:errcheck

	u, err := url.Parse(src)
	if err != nil {
		return 0, eris.Wrap(err, "parse source url")
	}

	switch u.Scheme {
	case "http", "https":
		_, err = f.downloadHTTP(ctx, src, part)
	case "ftp":
		_, err = f.downloadFTP(ctx, src, part)
	default:
		return 0, eris.Errorf("unsupported source scheme %q", u.Scheme)
	}
	if err != nil {
		return 0, err
	}

	if isZip(part) {
		unpacked := dest + ".unzip"
		defer os.Remove(unpacked) //nolint:errcheck
		if err := extractRaster(part, unpacked); err != nil {
			return 0, err
		}
		if err := os.Rename(unpacked, part); err != nil {
			return 0, eris.Wrap(err, "replace archive")
		}
	}

	st, err := os.Stat(part)
	if err != nil {
		return 0, eris.Wrap(err, "stat download")
	}
	if st.Size() < f.opts.MinBytes {
		return 0, eris.Errorf("download has %d bytes, below minimum %d", st.Size(), f.opts.MinBytes)
	}
	if err := os.Rename(part, dest); err != nil {
		return 0, eris.Wrap(err, "move download into place")
	}
	return st.Size(), nil
}

func (f *Fetcher) downloadHTTP(ctx context.Context, src, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, eris.Wrap(err, "build request")
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "download")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("download returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return 0, resilience.NewTransientError(err, resp.StatusCode)
		}
		return 0, err
	}

	n, err := writeFile(dest, resp.Body)
	if err != nil {
		return n, err
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, resilience.NewTransientError(
			eris.Wrapf(io.ErrUnexpectedEOF, "got %d of %d bytes", n, resp.ContentLength), 0)
	}
	return n, nil
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" || u.Path == "/" {
		return "", "", eris.New("empty path in ftp url")
	}
	return host, u.Path, nil
}

func (f *Fetcher) downloadFTP(ctx context.Context, src, dest string) (int64, error) {
	host, path, err := parseFTPURL(src)
	if err != nil {
		return 0, err
	}

	zap.L().Debug("assets: ftp connecting", zap.String("host", host), zap.String("path", path))
	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return 0, resilience.NewTransientError(eris.Wrap(err, "ftp dial"), 0)
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		return 0, eris.Wrap(err, "ftp login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		return 0, eris.Wrap(err, "ftp retrieve")
	}
	defer resp.Close() //nolint:errcheck

	return writeFile(dest, resp)
}

func writeFile(dest string, r io.Reader) (int64, error) {
	out, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}
	return n, nil
}

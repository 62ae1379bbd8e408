package assets

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/popradius/internal/resilience"
)

func testFetcher(minBytes int64) *Fetcher {
	return NewFetcher(Options{
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		UserAgent:   "popradius-test",
		MinBytes:    minBytes,
		Retry: &resilience.RetryConfig{
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     1,
		},
	})
}

func payload(n int) []byte {
	return bytes.Repeat([]byte{0x2a}, n)
}

func zipped(t *testing.T, entries map[string][]byte, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(entries[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestFetch_HTTP(t *testing.T) {
	body := payload(2048)
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.UserAgent())
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "rasters", "pop.tif")
	n, err := testFetcher(1024).Fetch(context.Background(), "density", srv.URL+"/pop.tif", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)
	assert.Equal(t, "popradius-test", ua.Load())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err), "partial file should be removed")
}

func TestFetch_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(payload(100))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "pop.tif")
	n, err := testFetcher(0).Fetch(context.Background(), "density", srv.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_PermanentStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "pop.tif")
	_, err := testFetcher(0).Fetch(context.Background(), "density", srv.URL, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch_TooSmall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>error</html>"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "pop.tif")
	_, err := testFetcher(1024).Fetch(context.Background(), "density", srv.URL, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below minimum")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch_ExtractsZip(t *testing.T) {
	raster := payload(300)
	archive := zipped(t, map[string][]byte{
		"README.txt":      []byte("notes"),
		"data/pop_1k.tif": raster,
	}, []string{"README.txt", "data/pop_1k.tif"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "pop.tif")
	n, err := testFetcher(0).Fetch(context.Background(), "density", srv.URL+"/pop.zip", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(raster)), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, raster, got)
}

func TestFetch_ZipWithoutRaster(t *testing.T) {
	archive := zipped(t, map[string][]byte{"a.csv": []byte("x")}, []string{"a.csv"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	_, err := testFetcher(0).Fetch(context.Background(), "density", srv.URL, filepath.Join(t.TempDir(), "p.tif"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no raster entry")
}

func TestFetch_UnsupportedScheme(t *testing.T) {
	_, err := testFetcher(0).Fetch(context.Background(), "density", "s3://bucket/pop.tif", filepath.Join(t.TempDir(), "p.tif"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported source scheme")
}

func TestFetch_FTP(t *testing.T) {
	body := payload(512)
	stub := newFTPStub(t, map[string][]byte{"/GIS/Population/pak.tif": body})

	dest := filepath.Join(t.TempDir(), "pak.tif")
	n, err := testFetcher(0).Fetch(context.Background(), "density", stub.url("/GIS/Population/pak.tif"), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetch_FTPNotFound(t *testing.T) {
	stub := newFTPStub(t, map[string][]byte{})
	_, err := testFetcher(0).Fetch(context.Background(), "density", stub.url("/missing.tif"), filepath.Join(t.TempDir(), "p.tif"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp retrieve")
}

func TestParseFTPURL(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{"default port", "ftp://ftp.worldpop.org/GIS/pak.tif", "ftp.worldpop.org:21", "/GIS/pak.tif", false},
		{"explicit port", "ftp://127.0.0.1:2121/a.tif", "127.0.0.1:2121", "/a.tif", false},
		{"wrong scheme", "http://example.com/a.tif", "", "", true},
		{"empty path", "ftp://example.com/", "", "", true},
		{"bad url", "ftp://[::1", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, path, err := parseFTPURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestReady(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.tif")
	big := filepath.Join(dir, "big.tif")
	require.NoError(t, os.WriteFile(small, payload(10), 0o644))
	require.NoError(t, os.WriteFile(big, payload(2000), 0o644))

	ok, err := Ready(filepath.Join(dir, "missing.tif"), 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Ready(small, 1024)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Ready(big, 1024)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Ready(dir, 1)
	assert.Error(t, err)
}

func TestFetchAll(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if strings.HasSuffix(r.URL.Path, "broken.tif") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write(payload(64))
	}))
	defer srv.Close()

	dir := t.TempDir()
	existing := filepath.Join(dir, "total.tif")
	require.NoError(t, os.WriteFile(existing, payload(64), 0o644))

	sources := map[string]string{
		"density": srv.URL + "/density.tif",
		"total":   srv.URL + "/total.tif",
		"primary": srv.URL + "/broken.tif",
	}
	dests := map[string]string{
		"density": filepath.Join(dir, "density.tif"),
		"total":   existing,
		"primary": filepath.Join(dir, "primary.tif"),
	}

	reports, err := testFetcher(32).FetchAll(context.Background(), sources, dests, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary")
	require.Len(t, reports, 3)

	byBand := map[string]Report{}
	for _, r := range reports {
		byBand[r.Band] = r
	}
	assert.Empty(t, byBand["density"].Error)
	assert.Equal(t, int64(64), byBand["density"].Bytes)
	assert.True(t, byBand["total"].Skipped)
	assert.NotEmpty(t, byBand["primary"].Error)
	assert.Equal(t, int32(2), hits.Load())

	reports, err = testFetcher(32).FetchAll(context.Background(),
		map[string]string{"total": srv.URL + "/total.tif"},
		map[string]string{"total": existing}, true)
	require.NoError(t, err)
	assert.False(t, reports[0].Skipped)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchAll_MissingDest(t *testing.T) {
	reports, err := testFetcher(0).FetchAll(context.Background(),
		map[string]string{"density": "http://127.0.0.1/x.tif"}, map[string]string{}, false)
	require.Error(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "band has no raster path", reports[0].Error)
}

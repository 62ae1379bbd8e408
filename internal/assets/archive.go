package assets

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

var rasterExts = []string{".tif", ".tiff", ".asc"}

// isZip reports whether the file starts with a zip local header.
func isZip(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close() //nolint:errcheck

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return bytes.Equal(magic, []byte("PK\x03\x04"))
}

func isRasterName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range rasterExts {
		if ext == e {
			return true
		}
	}
	return false
}

// extractRaster copies the first raster entry of the archive at zipPath to dest.
func extractRaster(zipPath, dest string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() || !isRasterName(f.Name) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return eris.Wrapf(err, "open zip entry %s", f.Name)
		}
		_, err = writeFile(dest, rc)
		_ = rc.Close()
		if err != nil {
			return eris.Wrapf(err, "extract %s", f.Name)
		}
		return nil
	}
	return eris.Errorf("no raster entry (%s) in archive", strings.Join(rasterExts, ", "))
}

// Ready reports whether path holds a file of at least minBytes. A missing
// file is not an error.
func Ready(path string, minBytes int64) (bool, error) {
	st, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "assets: stat %s", path)
	}
	if st.IsDir() {
		return false, eris.Errorf("assets: %s is a directory", path)
	}
	return st.Size() >= minBytes, nil
}

package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrOffline is returned when a checkpoint is not cached and downloads are
// disabled.
var ErrOffline = errors.New("checkpoint not cached and downloads are disabled")

// hashPattern finds the hash prefix in names like vit_small_p16_224-15ec54c9.pth.
var hashPattern = regexp.MustCompile(`-([a-f0-9]+)\.`)

// Cache stores downloaded checkpoints under Dir, one file per URL base name.
type Cache struct {
	Dir     string
	Offline bool
	Client  *http.Client
}

// NewCache returns a cache rooted at dir.
func NewCache(dir string, offline bool) *Cache {
	return &Cache{Dir: dir, Offline: offline, Client: http.DefaultClient}
}

// Path returns where the checkpoint for rawURL is stored.
func (c *Cache) Path(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("no file name in %q", rawURL)
	}
	return filepath.Join(c.Dir, name), nil
}

// Fetch returns the local path of rawURL's checkpoint, downloading it on a
// miss. When the file name carries a hash prefix the download is verified
// against its SHA-256.
func (c *Cache) Fetch(ctx context.Context, rawURL string) (string, error) {
	dst, err := c.Path(rawURL)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dst); err == nil {
		slog.Debug("checkpoint cache hit", "path", dst)
		return dst, nil
	}
	if c.Offline {
		return "", fmt.Errorf("%w: %s", ErrOffline, rawURL)
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", err
	}

	slog.Info("downloading checkpoint", "url", rawURL, "path", dst)
	tmp, err := os.CreateTemp(c.Dir, filepath.Base(dst)+".partial-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	sum, n, err := c.download(ctx, rawURL, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if m := hashPattern.FindStringSubmatch(filepath.Base(dst)); m != nil && !strings.HasPrefix(sum, m[1]) {
		return "", fmt.Errorf("%w: %s has sha256 %s, want prefix %s", ErrHashMismatch, rawURL, sum, m[1])
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	slog.Debug("downloaded checkpoint", "path", dst, "bytes", n)
	return dst, nil
}

func (c *Cache) download(ctx context.Context, rawURL string, w io.Writer) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, err
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("download %s: %s", rawURL, resp.Status)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), resp.Body)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

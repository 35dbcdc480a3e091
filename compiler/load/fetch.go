package load

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Bundle locates the versioned collection of definition sources.
type Bundle struct {
	// Location is an http(s) or file URL of a zip archive, a local zip
	// path, or a local directory holding the sources.
	Location string
	// Version tags the specification release, e.g. "4.0.1".
	Version string
	// Sources are the file names to read, in order.
	Sources []string
}

// archive is an opened bundle.
type archive struct {
	fsys   fs.FS
	closer io.Closer
	// path of the local zip file, empty for directories.
	path string
}

func (a *archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// open resolves the bundle location to a readable file system, downloading
// remote archives into the cache directory first.
func (l *loader) open(ctx context.Context, b Bundle) (*archive, error) {
	u, err := url.Parse(b.Location)
	if err != nil {
		return nil, NewSourceUnavailableError(b.Location, "", false, err)
	}
	local := b.Location
	switch u.Scheme {
	case "http", "https":
		if local, err = l.download(ctx, b, u); err != nil {
			return nil, err
		}
	case "file":
		local = u.Path
	}
	st, err := os.Stat(local)
	if err != nil {
		return nil, NewSourceUnavailableError(b.Location, "", false, err)
	}
	if st.IsDir() {
		return &archive{fsys: os.DirFS(local)}, nil
	}
	zr, err := zip.OpenReader(local)
	if err != nil {
		return nil, NewSourceUnavailableError(b.Location, "", false, fmt.Errorf("open archive: %w", err))
	}
	return &archive{fsys: zr, closer: zr, path: local}, nil
}

// download fetches a remote archive unless a cached copy exists.
func (l *loader) download(ctx context.Context, b Bundle, u *url.URL) (string, error) {
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", NewSourceUnavailableError(b.Location, "", false, errors.New("location has no file name"))
	}
	dest, err := l.cachePath(b.Version, name)
	if err != nil {
		return "", NewSourceUnavailableError(b.Location, "", false, err)
	}
	if st, err := os.Stat(dest); err == nil && st.Size() > 0 {
		l.logger.Debug("using cached bundle", "location", b.Location, "path", dest)
		return dest, nil
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, b.Location, nil)
	if err != nil {
		return "", NewSourceUnavailableError(b.Location, "", false, err)
	}
	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		// Exhausted retries, connection failures and timeouts are transient.
		return "", NewSourceUnavailableError(b.Location, "", true, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		retriable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", NewSourceUnavailableError(b.Location, "", retriable, fmt.Errorf("unexpected status %s", resp.Status))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+name+"-*")
	if err != nil {
		return "", NewSourceUnavailableError(b.Location, "", false, err)
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", NewSourceUnavailableError(b.Location, "", true, fmt.Errorf("download: %w", err))
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", NewSourceUnavailableError(b.Location, "", false, err)
	}
	l.logger.Info("downloaded bundle", "location", b.Location, "bytes", n, "duration", time.Since(start))
	return dest, nil
}

func (l *loader) cachePath(version, name string) (string, error) {
	if version == "" {
		version = "unversioned"
	}
	rel := filepath.Join("fhirgen", sanitize(version), name)
	if l.cacheDir == "" {
		return xdg.CacheFile(rel)
	}
	p := filepath.Join(l.cacheDir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	return p, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}

// slogLeveled adapts slog to retryablehttp.LeveledLogger. Intermediate
// request failures are reported at WARN because they are retried.
type slogLeveled struct {
	inner *slog.Logger
}

func (l slogLeveled) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l slogLeveled) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l slogLeveled) Info(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

func (l slogLeveled) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

// newHTTPClient returns a retrying client. 4xx responses (other than 429)
// are not retried since the archive will not appear by asking again.
func newHTTPClient(logger *slog.Logger, retries int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	c.RetryMax = retries
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 10 * time.Second
	c.Logger = retryablehttp.LeveledLogger(slogLeveled{inner: logger.With("subsystem", "fetch")})
	return c
}

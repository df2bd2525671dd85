// Package fetcher pulls scanned auction sheets from the venue's FTP drop
// directory.
package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ocr/internal/config"
	"github.com/sells-group/auction-ocr/internal/resilience"
)

// FTPSource watches one FTP drop directory for scanned sheet images.
type FTPSource struct {
	host    string
	dir     string
	user    string
	pass    string
	timeout time.Duration
}

// NewFTPSource builds a source from config. The URL carries host and drop
// directory, e.g. ftp://scans.example.jp/auction/inbox.
func NewFTPSource(cfg config.FTPConfig) (*FTPSource, error) {
	host, dir, err := parseFTPURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	user, pass := cfg.User, cfg.Password
	if user == "" {
		user, pass = "anonymous", "anonymous@"
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FTPSource{host: host, dir: dir, user: user, pass: pass, timeout: timeout}, nil
}

// parseFTPURL extracts host (with port) and directory path from an FTP URL.
func parseFTPURL(rawURL string) (host string, dir string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	dir = u.Path
	if dir == "" {
		dir = "/"
	}
	return host, dir, nil
}

func (f *FTPSource) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(f.host, ftp.DialWithTimeout(f.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: ftp dial")
	}
	if err := conn.Login(f.user, f.pass); err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "fetcher: ftp login")
	}
	return conn, nil
}

// retry builds the backoff policy for one FTP operation. Every operation
// reconnects, so dropped control connections are retried the same way as
// transfer failures.
func (f *FTPSource) retry(op string) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("ftp", op)
	return cfg
}

// List returns the image filenames currently in the drop directory, sorted
// for deterministic processing order.
func (f *FTPSource) List(ctx context.Context) ([]string, error) {
	return resilience.DoVal(ctx, f.retry("list"), f.listOnce)
}

func (f *FTPSource) listOnce(ctx context.Context) ([]string, error) {
	conn, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	entries, err := conn.List(f.dir)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: list %s", f.dir)
	}

	var names []string
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile || !isSheetImage(e.Name) {
			continue
		}
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Fetch downloads one file from the drop directory.
func (f *FTPSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	return resilience.DoVal(ctx, f.retry("fetch"), func(ctx context.Context) ([]byte, error) {
		return f.fetchOnce(ctx, name)
	})
}

func (f *FTPSource) fetchOnce(ctx context.Context, name string) ([]byte, error) {
	conn, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	resp, err := conn.Retr(path.Join(f.dir, name))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: retrieve %s", name)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", name)
	}
	return data, nil
}

// Remove deletes a processed file from the drop directory so it is not
// ingested twice. Dedupe by source hash still guards against races.
func (f *FTPSource) Remove(ctx context.Context, name string) error {
	return resilience.Do(ctx, f.retry("remove"), func(ctx context.Context) error {
		return f.removeOnce(ctx, name)
	})
}

func (f *FTPSource) removeOnce(ctx context.Context, name string) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if err := conn.Delete(path.Join(f.dir, name)); err != nil {
		return eris.Wrapf(err, "fetcher: delete %s", name)
	}
	return nil
}

// Handler consumes one downloaded sheet image.
type Handler func(ctx context.Context, name string, data []byte) error

// Sweep downloads every image in the drop directory and hands each to the
// handler. Files the handler accepts are removed from the server; a
// handler error leaves the file in place for the next sweep.
func (f *FTPSource) Sweep(ctx context.Context, handle Handler) (int, error) {
	names, err := f.List(ctx)
	if err != nil {
		return 0, err
	}

	log := zap.L().With(zap.String("component", "fetcher.ftp"))
	processed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return processed, eris.Wrap(ctx.Err(), "fetcher: sweep cancelled")
		}

		data, err := f.Fetch(ctx, name)
		if err != nil {
			log.Warn("download failed, leaving file for next sweep",
				zap.String("name", name), zap.Error(err))
			continue
		}
		if err := handle(ctx, name, data); err != nil {
			log.Warn("handler rejected file",
				zap.String("name", name), zap.Error(err))
			continue
		}
		if err := f.Remove(ctx, name); err != nil {
			log.Warn("cleanup failed", zap.String("name", name), zap.Error(err))
		}
		processed++
	}
	return processed, nil
}

// isSheetImage filters the drop directory down to formats the imaging
// stage accepts.
func isSheetImage(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	default:
		return false
	}
}

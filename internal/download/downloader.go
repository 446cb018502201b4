// Package download fetches model files with bounded retries and an atomic
// rename into place.
package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second
	tempSuffix        = ".part"
)

// Progress reports bytes written so far. Total is -1 when unknown.
type Progress struct {
	Downloaded int64 `json:"downloaded"`
	Total      int64 `json:"total"`
}

// Fraction returns progress in [0,1], or 0 when the total is unknown.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Downloaded) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Options configures a Downloader.
type Options struct {
	Fetcher Fetcher
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is multiplied by the retry number: 1x, 2x, 3x.
	BaseDelay time.Duration
	// Sleep waits between attempts; tests replace it.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *zerolog.Logger
}

// Downloader writes a URL to a destination path. It is safe for concurrent
// use with distinct destinations.
type Downloader struct {
	fetcher    Fetcher
	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	log        zerolog.Logger
}

func New(opts Options) *Downloader {
	d := &Downloader{
		fetcher:    opts.Fetcher,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		sleep:      opts.Sleep,
		log:        zerolog.Nop(),
	}
	if d.fetcher == nil {
		d.fetcher = NewHTTPFetcher()
	}
	if d.maxRetries <= 0 {
		d.maxRetries = DefaultMaxRetries
	}
	if d.baseDelay <= 0 {
		d.baseDelay = DefaultBaseDelay
	}
	if d.sleep == nil {
		d.sleep = sleepCtx
	}
	if opts.Logger != nil {
		d.log = opts.Logger.With().Str("component", "download").Logger()
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Download fetches url into dest via dest+".part". Timeouts, interrupted
// transfers and 5xx responses are retried with a growing delay; connectivity
// failures and everything else return at once. The temp file never
// survives a failed attempt. Errors are *DownloadError except for caller
// cancellation, which returns ctx.Err(). A cancellation reported while ctx
// is still live is a non-retryable *DownloadError.
func (d *Downloader) Download(ctx context.Context, url, dest string, onProgress func(Progress)) error {
	if onProgress == nil {
		onProgress = func(Progress) {}
	}
	logger := d.log.With().Str("url", url).Str("dest", dest).Logger()
	for attempt := 0; ; attempt++ {
		err := d.attempt(ctx, url, dest, onProgress, logger)
		if err == nil {
			attemptsTotal.WithLabelValues("ok").Inc()
			return nil
		}
		cls, reason := classify(err)
		switch cls {
		case classCanceled:
			attemptsTotal.WithLabelValues("canceled").Inc()
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			logger.Warn().Err(err).Msg("download canceled by fetcher")
			return &DownloadError{Reason: reason, Retryable: false, Err: err}
		case classConnectivity:
			attemptsTotal.WithLabelValues("connectivity").Inc()
			logger.Warn().Err(err).Msg("download failed: no connectivity")
			return &DownloadError{Reason: reason, Retryable: false, Err: err}
		case classFatal:
			attemptsTotal.WithLabelValues("fatal").Inc()
			logger.Error().Err(err).Msg("download aborted")
			return &DownloadError{Reason: reason, Retryable: false, Err: err}
		}
		attemptsTotal.WithLabelValues("retryable").Inc()
		if attempt >= d.maxRetries {
			logger.Error().Err(err).Int("attempts", attempt+1).Msg("download failed after retries")
			return &DownloadError{Reason: reason, Retryable: true, Err: err}
		}
		delay := d.baseDelay * time.Duration(attempt+1)
		logger.Warn().Err(err).Int("retry", attempt+1).Dur("delay", delay).Msg("download attempt failed; retrying")
		if serr := d.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

func (d *Downloader) attempt(ctx context.Context, url, dest string, onProgress func(Progress), logger zerolog.Logger) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return diskError{err: err}
	}
	tmp := dest + tempSuffix
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	body, total, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()
	if total > 0 {
		logger.Info().Str("size", humanize.Bytes(uint64(total))).Msg("downloading")
	}

	f, err := os.Create(tmp)
	if err != nil {
		return diskError{err: err}
	}
	pw := &progressWriter{f: f, total: total, onProgress: onProgress}
	_, err = io.Copy(pw, contextReader{ctx: ctx, r: body})
	bytesTotal.Add(float64(pw.n))
	if cerr := f.Close(); err == nil && cerr != nil {
		err = diskError{err: cerr}
	}
	if err != nil {
		return err
	}
	if total > 0 && pw.n != total {
		return fmt.Errorf("short body: got %d of %d bytes: %w", pw.n, total, io.ErrUnexpectedEOF)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return diskError{err: err}
	}
	logger.Info().Str("size", humanize.Bytes(uint64(pw.n))).Msg("download complete")
	return nil
}

type progressWriter struct {
	f          *os.File
	n          int64
	total      int64
	onProgress func(Progress)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.n += int64(n)
	if err != nil {
		return n, diskError{err: err}
	}
	w.onProgress(Progress{Downloaded: w.n, Total: w.total})
	return n, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// DownloadError is the terminal error of a download. Retryable tells callers
// whether offering a retry makes sense.
type DownloadError struct {
	Reason    string
	Retryable bool
	Err       error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download failed: %s: %v", e.Reason, e.Err)
	}
	return "download failed: " + e.Reason
}

func (e *DownloadError) Unwrap() error { return e.Err }

// IsDownloadFailed reports whether err is a DownloadError.
func IsDownloadFailed(err error) bool {
	var de *DownloadError
	return errors.As(err, &de)
}

// IsRetryable reports whether err is a retryable DownloadError.
func IsRetryable(err error) bool {
	var de *DownloadError
	return errors.As(err, &de) && de.Retryable
}

// StatusError is returned by HTTPFetcher for non-200 responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string { return "unexpected http status: " + e.Status }

// diskError marks failures writing the local file.
type diskError struct{ err error }

func (e diskError) Error() string { return "write model file: " + e.err.Error() }
func (e diskError) Unwrap() error { return e.err }

type class int

const (
	classFatal class = iota
	classRetryable
	classConnectivity
	classCanceled
)

// classify sorts an attempt error: timeouts, transient IO and 5xx responses
// are retryable; DNS and dial failures mean no connectivity; everything else
// is fatal.
func classify(err error) (class, string) {
	var (
		de     diskError
		se     *StatusError
		dnsErr *net.DNSError
		opErr  *net.OpError
		netErr net.Error
	)
	switch {
	case errors.Is(err, context.Canceled):
		return classCanceled, "canceled"
	case errors.As(err, &de):
		return classFatal, "disk write failed"
	case errors.As(err, &se):
		if se.Code >= 500 {
			return classRetryable, "server error " + se.Status
		}
		return classFatal, "bad response " + se.Status
	case errors.As(err, &dnsErr):
		return classConnectivity, "cannot resolve host"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return classRetryable, "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return classRetryable, "timeout"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return classConnectivity, "no connectivity"
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return classRetryable, "connection interrupted"
	case errors.As(err, &opErr):
		return classRetryable, "network error"
	}
	return classFatal, "unexpected error"
}

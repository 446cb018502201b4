package httpapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const defaultMaxBodyBytes int64 = 1 << 20

// Options configures the HTTP layer. Zero values select defaults.
type Options struct {
	Logger *zerolog.Logger
	// BaseContext is canceled on shutdown; streaming handlers stop with it.
	BaseContext context.Context
	// MaxBodyBytes limits JSON request bodies (default 1 MiB). Ingest
	// requests carry whole documents and get 32x that.
	MaxBodyBytes int64
	// GenerateTimeout bounds POST /generate; zero disables.
	GenerateTimeout time.Duration
	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string
	// DefaultLogLevel applies when a request sets no override.
	DefaultLogLevel LogLevel
}

func (o Options) withDefaults() Options {
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.Logger == nil {
		l := zerolog.Nop()
		o.Logger = &l
	}
	return o
}

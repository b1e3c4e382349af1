package cli

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sdejongh/kopier/internal/platform"
	"github.com/sdejongh/kopier/pkg/config"
	"github.com/sdejongh/kopier/pkg/ratelimit"
	"github.com/sdejongh/kopier/pkg/storage"
)

// buildFileSystem registers the backends the given locations need. The S3
// client is only set up when an s3:// location is involved.
func buildFileSystem(ctx context.Context, cfg *config.Config, limiter *ratelimit.Limiter, locations ...url.URL) (*storage.Mux, error) {
	fs := storage.NewMux()
	fs.Register(platform.SchemeFile, storage.NewLocal(storage.LocalOptions{
		Limiter:    limiter,
		BufferSize: cfg.Transfer.BufferSize,
	}))

	for _, u := range locations {
		switch u.Scheme {
		case platform.SchemeFile:
		case storage.SchemeS3:
			if _, err := fs.Backend(u); err == nil {
				continue
			}
			s3, err := storage.NewS3(ctx, cfg.S3, limiter)
			if err != nil {
				return nil, fmt.Errorf("failed to create s3 backend: %w", err)
			}
			fs.Register(storage.SchemeS3, s3)
		default:
			return nil, fmt.Errorf("unsupported location scheme %q in %s", u.Scheme, u.String())
		}
	}
	return fs, nil
}

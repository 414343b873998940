package driver

import (
	"context"
	"io"

	"github.com/objectfs/storage-gateway/internal/circuit"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// CircuitBreakerDriver wraps a types.Driver so that every I/O method trips a
// per-driver breaker instead of letting a wedged upstream (a stalled S3
// endpoint, a Telegram bot the proxy can no longer reach) pile up retries
// against it. Capabilities()/MultipartDriver() pass through untouched since
// they are pure getters, not upstream calls.
type CircuitBreakerDriver struct {
	inner   types.Driver
	breaker *circuit.CircuitBreaker
}

// NewCircuitBreakerDriver wraps inner with a named breaker built from cfg.
func NewCircuitBreakerDriver(name string, inner types.Driver, cfg circuit.Config) *CircuitBreakerDriver {
	return &CircuitBreakerDriver{
		inner:   inner,
		breaker: circuit.NewCircuitBreaker(name, cfg),
	}
}

// NewCircuitBreakerDriverFromManager wraps inner with the named breaker
// mgr owns, so every storage_config guarded by the same circuit policy
// shares one Manager instead of each constructing its own breaker.
func NewCircuitBreakerDriverFromManager(name string, inner types.Driver, mgr *circuit.Manager) *CircuitBreakerDriver {
	return &CircuitBreakerDriver{
		inner:   inner,
		breaker: mgr.GetBreaker(name),
	}
}

func (d *CircuitBreakerDriver) Capabilities() types.CapabilitySet { return d.inner.Capabilities() }

func (d *CircuitBreakerDriver) Exists(ctx context.Context, fsPath string) (bool, error) {
	var out bool
	err := d.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = d.inner.Exists(ctx, fsPath)
		return innerErr
	})
	return out, err
}

func (d *CircuitBreakerDriver) Stat(ctx context.Context, fsPath string) (*types.ObjectInfo, error) {
	var out *types.ObjectInfo
	err := d.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = d.inner.Stat(ctx, fsPath)
		return innerErr
	})
	return out, err
}

func (d *CircuitBreakerDriver) ListDirectory(ctx context.Context, fsPath string) ([]types.ObjectInfo, error) {
	var out []types.ObjectInfo
	err := d.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = d.inner.ListDirectory(ctx, fsPath)
		return innerErr
	})
	return out, err
}

func (d *CircuitBreakerDriver) DownloadFile(ctx context.Context, fsPath string, r types.ByteRange) (io.ReadCloser, error) {
	var out io.ReadCloser
	err := d.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = d.inner.DownloadFile(ctx, fsPath, r)
		return innerErr
	})
	return out, err
}

func (d *CircuitBreakerDriver) CreateDirectory(ctx context.Context, fsPath string) error {
	return d.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return d.inner.CreateDirectory(ctx, fsPath)
	})
}

func (d *CircuitBreakerDriver) UploadFile(ctx context.Context, fsPath string, r io.Reader, size int64) error {
	return d.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return d.inner.UploadFile(ctx, fsPath, r, size)
	})
}

func (d *CircuitBreakerDriver) UpdateFile(ctx context.Context, fsPath string, r io.Reader, size int64) error {
	return d.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return d.inner.UpdateFile(ctx, fsPath, r, size)
	})
}

func (d *CircuitBreakerDriver) RenameItem(ctx context.Context, fromPath, toPath string) error {
	return d.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return d.inner.RenameItem(ctx, fromPath, toPath)
	})
}

func (d *CircuitBreakerDriver) CopyItem(ctx context.Context, fromPath, toPath string) error {
	return d.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return d.inner.CopyItem(ctx, fromPath, toPath)
	})
}

func (d *CircuitBreakerDriver) BatchRemoveItems(ctx context.Context, fsPaths []string) error {
	return d.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return d.inner.BatchRemoveItems(ctx, fsPaths)
	})
}

// MultipartDriver passes the inner multipart driver through unwrapped; the
// upload coordinator already bounds concurrency and retries for S3/Telegram
// (C4/C5), so the breaker only guards the plain-object-access path here.
func (d *CircuitBreakerDriver) MultipartDriver() types.MultipartDriver { return d.inner.MultipartDriver() }

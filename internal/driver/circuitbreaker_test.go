package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/objectfs/storage-gateway/internal/circuit"
	"github.com/objectfs/storage-gateway/pkg/types"
)

type failingDriver struct {
	stubDriver
	err error
}

func (f *failingDriver) Exists(ctx context.Context, fsPath string) (bool, error) {
	return false, f.err
}

func TestCircuitBreakerDriverPassesThroughCapabilities(t *testing.T) {
	caps := types.NewCapabilitySet(types.CapMultipart)
	inner := &stubDriver{caps: caps}
	d := NewCircuitBreakerDriver("test", inner, circuit.Config{})
	if got := d.Capabilities(); !got.Has(types.CapMultipart) {
		t.Fatalf("expected wrapped capabilities to pass through, got %v", got)
	}
}

func TestCircuitBreakerDriverOpensAfterFailures(t *testing.T) {
	inner := &failingDriver{err: errors.New("upstream down")}
	cfg := circuit.Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts circuit.Counts) bool { return counts.ConsecutiveFailures >= 2 },
	}
	d := NewCircuitBreakerDriver("test", inner, cfg)

	for i := 0; i < 2; i++ {
		if _, err := d.Exists(context.Background(), "/x"); err == nil {
			t.Fatal("expected inner error to surface")
		}
	}

	_, err := d.Exists(context.Background(), "/x")
	if err == nil {
		t.Fatal("expected breaker to reject once open")
	}
	if d.breaker.GetState() != circuit.StateOpen {
		t.Fatalf("expected breaker state OPEN, got %s", d.breaker.GetState())
	}
}

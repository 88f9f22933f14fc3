package raservice

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/nrstack/internal/config"
	"github.com/signalsfoundry/nrstack/phy/re"
	"github.com/signalsfoundry/nrstack/phy/uci"
	"github.com/signalsfoundry/nrstack/ra"
)

func TestToStatusError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{name: "bad request", err: fmt.Errorf("%w: dci", ErrBadRequest), code: codes.InvalidArgument},
		{name: "config", err: config.ErrInvalid, code: codes.InvalidArgument},
		{name: "freq alloc", err: fmt.Errorf("wrap: %w", ra.ErrInvalidFreqAlloc), code: codes.InvalidArgument},
		{name: "mcs", err: ra.ErrInvalidMCS, code: codes.InvalidArgument},
		{name: "reserved collision", err: fmt.Errorf("cw 0: %w", re.ErrReservedCollision), code: codes.InvalidArgument},
		{name: "unsupported", err: ra.ErrUnsupported, code: codes.Unimplemented},
		{name: "capacity", err: fmt.Errorf("uci: %w", uci.ErrCapacity), code: codes.ResourceExhausted},
		{name: "unknown", err: errors.New("boom"), code: codes.Internal},
		{name: "already status", err: status.Error(codes.Canceled, "gone"), code: codes.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(ToStatusError(tt.err)); got != tt.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tt.err, got, tt.code)
			}
		})
	}
	if ToStatusError(nil) != nil {
		t.Fatal("ToStatusError(nil) != nil")
	}
}

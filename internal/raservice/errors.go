package raservice

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/nrstack/internal/config"
	"github.com/signalsfoundry/nrstack/phy/re"
	"github.com/signalsfoundry/nrstack/phy/uci"
	"github.com/signalsfoundry/nrstack/ra"
)

// ErrBadRequest is returned for requests that are not well formed.
var ErrBadRequest = errors.New("malformed request")

// ToStatusError maps resource allocation errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, config.ErrInvalid),
		errors.Is(err, ra.ErrInvalidTimeAlloc),
		errors.Is(err, ra.ErrInvalidFreqAlloc),
		errors.Is(err, ra.ErrInvalidMCS),
		errors.Is(err, ra.ErrInvalidTable),
		errors.Is(err, ra.ErrInvalidTBS),
		errors.Is(err, ra.ErrInvalidCQI),
		errors.Is(err, ra.ErrInvalidBeta),
		errors.Is(err, re.ErrReservedCollision):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, ra.ErrUnsupported):
		return status.Error(codes.Unimplemented, err.Error())

	case errors.Is(err, uci.ErrCapacity):
		return status.Error(codes.ResourceExhausted, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

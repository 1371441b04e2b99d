package sampler

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/model"
)

// HostSampler reads host-wide counters once per refresh cycle.
// Sample never fails: an unreadable source leaves its field at zero and
// is logged.
type HostSampler interface {
	Sample(ctx context.Context) model.HostSnapshot
	Name() string
}

// NewHostSampler returns the sampler for the running platform.
func NewHostSampler(logger *zap.Logger) HostSampler {
	return newPlatformSampler(logger.Named("host"))
}

// UnsupportedSampler is used on platforms without a counter source.
type UnsupportedSampler struct {
	logger *zap.Logger
}

func NewUnsupportedSampler(logger *zap.Logger) *UnsupportedSampler {
	logger.Warn("host metrics unavailable on this platform", zap.String("os", runtime.GOOS))
	return &UnsupportedSampler{logger: logger}
}

func (s *UnsupportedSampler) Name() string { return "unsupported" }

func (s *UnsupportedSampler) Sample(context.Context) model.HostSnapshot {
	s.logger.Debug("host metrics unavailable; unsupported platform")
	return model.HostSnapshot{}
}

// degenerate reports a snapshot whose every primary source failed,
// which usually means the platform source is missing altogether.
func degenerate(s model.HostSnapshot) bool {
	return s.MemTotalBytes == 0 && s.MemAvailableBytes == 0 && s.Load1 == 0
}


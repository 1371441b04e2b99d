//go:build linux

package sampler

import "go.uber.org/zap"

func newPlatformSampler(logger *zap.Logger) HostSampler {
	return NewLinuxProcSampler("/proc", logger)
}

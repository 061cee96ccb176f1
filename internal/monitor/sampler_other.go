//go:build !linux

package monitor

import "go.uber.org/zap"

func newSampler(logger *zap.Logger) sampler {
	logger.Debug("process-scoped CPU accounting unavailable on this platform, memory is runtime-scoped")
	return runtimeSampler{}
}

package operator

import (
	"runtime"

	"github.com/sirupsen/logrus"
)

// DefaultMemoryPressurePercent is the fraction of total RAM the cache
// gateway's optional in-process hot-tile cache is allowed to grow to.
const DefaultMemoryPressurePercent = 0.90

// ComputeMemoryLimit returns the maximum bytes the cache gateway's
// in-process hot cache should use, given a fraction (e.g. 0.90 for 90%)
// of total system RAM, minus current Go heap overhead. Returns 0 if RAM
// detection fails or the computed limit is unreasonably small — in
// either case the caller should disable the in-process cache rather
// than guess.
func ComputeMemoryLimit(fraction float64, log *logrus.Entry) int64 {
	totalRAM, err := totalSystemRAM()
	if err != nil {
		if log != nil {
			log.WithError(err).Warn("cannot detect system RAM; in-process hot cache disabled")
		}
		return 0
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	overhead := m.Sys + 2*1024*1024*1024 // current usage + 2 GB headroom

	limit := int64(float64(totalRAM)*fraction) - int64(overhead)
	if limit < 512*1024*1024 {
		if log != nil {
			log.WithField("computed_mb", float64(limit)/(1024*1024)).
				Warn("computed memory limit too small; in-process hot cache disabled")
		}
		return 0
	}

	if log != nil {
		log.WithFields(logrus.Fields{
			"total_gb": float64(totalRAM) / (1024 * 1024 * 1024),
			"limit_gb": float64(limit) / (1024 * 1024 * 1024),
		}).Debug("computed hot cache memory limit")
	}

	return limit
}

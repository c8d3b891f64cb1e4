package asyncredis

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

type poolMetrics struct {
	set          *metrics.Set
	hits         *metrics.Counter
	misses       *metrics.Counter
	timeouts     *metrics.Counter
	waits        *metrics.Counter
	broken       *metrics.Counter
	dials        *metrics.Counter
	waitDuration *metrics.Histogram
}

func newPoolMetrics(name string, p *pool) *poolMetrics {
	var (
		set   = metrics.NewSet()
		label = fmt.Sprintf("{pool=%q}", name)
	)

	set.NewGauge("asyncredis_pool_idle_connections"+label, func() float64 {
		return float64(p.Stats().IdleConns)
	})
	set.NewGauge("asyncredis_pool_leased_connections"+label, func() float64 {
		return float64(p.Stats().LeasedConns)
	})
	set.NewGauge("asyncredis_pool_waiting_callers"+label, func() float64 {
		return float64(p.Stats().Waiting)
	})

	return &poolMetrics{
		set:          set,
		hits:         set.NewCounter("asyncredis_pool_hits_total" + label),
		misses:       set.NewCounter("asyncredis_pool_misses_total" + label),
		timeouts:     set.NewCounter("asyncredis_pool_timeouts_total" + label),
		waits:        set.NewCounter("asyncredis_pool_waits_total" + label),
		broken:       set.NewCounter("asyncredis_pool_broken_total" + label),
		dials:        set.NewCounter("asyncredis_pool_dials_total" + label),
		waitDuration: set.NewHistogram("asyncredis_pool_acquire_seconds" + label),
	}
}

func (m *poolMetrics) observeAcquire(elapsed time.Duration) {
	m.waitDuration.Update(elapsed.Seconds())
}

func (m *poolMetrics) writePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

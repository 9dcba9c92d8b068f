package cli

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/replisync/internal/syncop"
)

// metricsDump collects operation metrics for --metrics. A nil dump
// collects nothing.
type metricsDump struct {
	reg     *prometheus.Registry
	metrics *syncop.Metrics
}

func newMetricsDump(enabled bool) *metricsDump {
	if !enabled {
		return nil
	}
	reg := prometheus.NewRegistry()
	return &metricsDump{reg: reg, metrics: syncop.NewMetrics(reg)}
}

// options returns the operation options that record into the dump.
func (d *metricsDump) options() []syncop.Option {
	if d == nil {
		return nil
	}
	return []syncop.Option{syncop.WithMetrics(d.metrics)}
}

// write renders the collected metrics in the Prometheus text format.
func (d *metricsDump) write(w io.Writer) error {
	if d == nil {
		return nil
	}
	families, err := d.reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

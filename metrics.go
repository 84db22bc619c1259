//go:build !tinygo

package logport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the counters of a Port to Prometheus.
type Collector struct {
	port *Port

	transmits      *prometheus.Desc
	bytesSent      *prometheus.Desc
	transmitErrors *prometheus.Desc
	readyTimeouts  *prometheus.Desc
	dropped        *prometheus.Desc
	lockErrors     *prometheus.Desc
	ready          *prometheus.Desc
}

// NewCollector returns a collector for p. name is attached to every metric
// as the "port" label so that several ports can be registered together.
func NewCollector(p *Port, name string) *Collector {
	labels := prometheus.Labels{"port": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("logport", "", metric), help, nil, labels)
	}
	return &Collector{
		port:           p,
		transmits:      desc("transmits_total", "Transmit calls issued to the UART."),
		bytesSent:      desc("bytes_sent_total", "Bytes successfully transmitted."),
		transmitErrors: desc("transmit_errors_total", "Transmits reported as failed by the UART."),
		readyTimeouts:  desc("ready_timeouts_total", "Buffers dropped because the UART never became ready."),
		dropped:        desc("dropped_total", "Buffers that were not transmitted."),
		lockErrors:     desc("lock_errors_total", "Output lock misuse."),
		ready:          desc("ready", "1 if the port is initialized."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.transmits
	ch <- c.bytesSent
	ch <- c.transmitErrors
	ch <- c.readyTimeouts
	ch <- c.dropped
	ch <- c.lockErrors
	ch <- c.ready
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.port.Stats()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.transmits, s.Transmits)
	counter(c.bytesSent, s.BytesSent)
	counter(c.transmitErrors, s.TransmitErrors)
	counter(c.readyTimeouts, s.ReadyTimeouts)
	counter(c.dropped, s.Dropped)
	counter(c.lockErrors, s.LockErrors)

	var ready float64
	if c.port.State() == Ready {
		ready = 1
	}
	ch <- prometheus.MustNewConstMetric(c.ready, prometheus.GaugeValue, ready)
}

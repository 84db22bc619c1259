//go:build !tinygo

package logport

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	p, _ := newTestPort(t, &mockUART{}, PortConfig{})
	c := NewCollector(p, "console")

	assert.Equal(t, 7, testutil.CollectAndCount(c))

	require.NoError(t, p.Init())
	p.Output(context.Background(), []byte("hello\n"))

	expected := `
# HELP logport_bytes_sent_total Bytes successfully transmitted.
# TYPE logport_bytes_sent_total counter
logport_bytes_sent_total{port="console"} 6
# HELP logport_ready 1 if the port is initialized.
# TYPE logport_ready gauge
logport_ready{port="console"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected), "logport_bytes_sent_total", "logport_ready")
	assert.NoError(t, err)
}

func TestCollectorRegistersTwoPorts(t *testing.T) {
	a, _ := newTestPort(t, &mockUART{}, PortConfig{})
	b, _ := newTestPort(t, &mockUART{}, PortConfig{})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(a, "a")))
	require.NoError(t, reg.Register(NewCollector(b, "b")))

	n, err := testutil.GatherAndCount(reg, "logport_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

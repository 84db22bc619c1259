package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Serial struct {
	Device   string `envconfig:"DEVICE"`
	Baud     int    `default:"115200" envconfig:"BAUD"`
	Backend  string `default:"bugst" envconfig:"BACKEND"`
	CTS      bool   `default:"false" envconfig:"CTS"`
	ReadyPin int    `default:"0" envconfig:"READY_PIN"`
}

type Port struct {
	TransmitTimeout time.Duration `default:"1s" envconfig:"TRANSMIT_TIMEOUT"`
	ReadyTimeout    time.Duration `default:"1s" envconfig:"READY_TIMEOUT"`
}

type Metrics struct {
	Addr string `default:"" envconfig:"ADDR"`
}

type Config struct {
	Serial     Serial
	Port       Port
	Metrics    Metrics
	Production bool `default:"false" envconfig:"PRODUCTION"`
}

// Load reads LOGPORT_* environment variables, e.g. LOGPORT_SERIAL_DEVICE.
func Load() (Config, error) {
	var c Config

	if err := envconfig.Process("LOGPORT", &c); err != nil {
		return Config{}, err
	}

	return c, nil
}

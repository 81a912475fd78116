package main

import (
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

type Config struct {
	Listen       string        `env:"LISTEN"        envDefault:":9091"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT"  envDefault:"45s"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	ReconnectMin time.Duration `env:"RECONNECT_MIN" envDefault:"1s"`
	ReconnectMax time.Duration `env:"RECONNECT_MAX" envDefault:"2m"`
	InputNames   []string      `env:"INPUT_NAMES"`
	IgnoreInputs []int         `env:"IGNORE_INPUTS"`
}

// inputName prefers the override list, then the name reported by the
// panel, then a generic fallback.
func (c Config) inputName(n int, reported string) string {
	if len(c.InputNames) >= n {
		if name := c.InputNames[n-1]; name != "" {
			return name
		}
	}
	if reported != "" {
		return reported
	}
	return fmt.Sprintf("Input %d", n)
}

func (c Config) ignored(n int) bool {
	return slices.Contains(c.IgnoreInputs, n)
}

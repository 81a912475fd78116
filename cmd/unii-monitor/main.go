package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	logp "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	unii "github.com/unii-community/go-unii"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "unii-monitor",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var debug bool

	root := &cobra.Command{
		Use:           "unii-monitor",
		Short:         "Status monitor for Alphatronics UNii alarm systems",
		Version:       fmt.Sprintf("%s (%s, %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "verbose protocol logging")

	local := &cobra.Command{
		Use:   "local HOST PORT [KEY]",
		Short: "Monitor a panel on the local network",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				log.SetLevel(logp.DebugLevel)
			}
			return run(cmd.Context(), args)
		},
	}
	root.AddCommand(local)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatal("monitor failed", "err", err)
	}
}

func run(ctx context.Context, args []string) error {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("could not parse env: %w", err)
	}

	port, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[1], err)
	}
	var key string
	if len(args) == 3 {
		key = args[2]
	}

	cli, err := unii.New(unii.Config{
		Host:                args[0],
		Port:                port,
		SharedKey:           key,
		ReadTimeout:         cfg.ReadTimeout,
		PollInterval:        cfg.PollInterval,
		ReconnectBackoffMin: cfg.ReconnectMin,
		ReconnectBackoffMax: cfg.ReconnectMax,
		Logger:              log.WithPrefix("unii"),
	})
	if err != nil {
		return err
	}
	cli.OnChange(func(change unii.Change) {
		observe(cfg, cli, change)
	})

	if err := cli.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := cli.Close(); err != nil {
			log.Error("could not close client", "err", err)
		}
	}()

	state := cli.State()
	mac := state.Equipment.MACAddress
	if mac == "" {
		if mac, err = unii.MacAddress(args[0]); err != nil {
			log.Warn(
				"could not get the mac address, needs 'cap_net_raw+ep' capabilities",
				"err", err,
			)
		}
	}
	log.Info(
		"got alarm system information",
		"device", state.Equipment.DeviceName,
		"version", state.Equipment.SoftwareVersion,
		"serial", state.Equipment.SerialNumber,
		"mac", mac,
		"inputs", len(state.Inputs),
		"sections", len(state.Sections),
	)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Info("serving metrics", "addr", cfg.Listen)
		if err := http.ListenAndServe(cfg.Listen, nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("stopping")
	return nil
}

// observe logs a change and keeps the metrics in sync with it.
func observe(cfg Config, cli *unii.Client, change unii.Change) {
	switch c := change.(type) {
	case unii.ConnectionChange:
		log.Info("connection", "from", c.Previous, "to", c.Current)
		connectionGauge.Set(float64(c.Current))
		if c.Current == unii.StatusReconnecting {
			reconnectCounter.Inc()
		}
	case unii.InputChange:
		if cfg.ignored(c.Number) {
			return
		}
		name := cfg.inputName(c.Number, cli.State().Inputs[c.Number].Name)
		log.Info("input", "input", c.Number, "name", name, "from", c.Previous, "to", c.Current)
		inputStatusGauge.WithLabelValues(strconv.Itoa(c.Number), name).Set(float64(c.Current))
	case unii.SectionChange:
		name := cli.State().Sections[c.Number].Name
		log.Info("section", "section", c.Number, "name", name, "from", c.Previous, "to", c.Current)
		sectionStatusGauge.WithLabelValues(strconv.Itoa(c.Number), name).Set(float64(c.Current))
	case unii.EventChange:
		log.Info(
			"event",
			"number", c.Event.Number,
			"description", c.Event.Description,
			"sia", c.Event.SIACode,
			"at", c.Event.Timestamp,
		)
		eventCounter.Inc()
	}
}

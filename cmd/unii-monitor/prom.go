package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectionGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "unii",
	Subsystem: "connection",
	Name:      "status",
	Help:      "Connection lifecycle state (0 disconnected ... 5 closing).",
})

var reconnectCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "unii",
	Subsystem: "connection",
	Name:      "reconnects_total",
	Help:      "Times the connection degraded and a reconnect started.",
})

var inputStatusGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "unii",
	Subsystem: "input",
	Name:      "status",
	Help:      "Input status (0 unknown, 1 clear, 2 open, 3 tamper, 4 masking).",
}, []string{"number", "name"})

var sectionStatusGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "unii",
	Subsystem: "section",
	Name:      "status",
	Help:      "Section status (0 unknown, 1 disarmed, 2 armed, 3 alarm).",
}, []string{"number", "name"})

var eventCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "unii",
	Subsystem: "panel",
	Name:      "events_total",
	Help:      "Event records pushed by the panel.",
})

package supervisor

import (
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	restartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_supervisor_restarts_total",
			Help: "Number of times the supervised application was restarted.",
		},
		[]string{"id"},
	)

	healthCheckFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_supervisor_health_check_failures_total",
			Help: "Number of failed health probes against the supervised application.",
		},
		[]string{"id"},
	)

	healthyGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_supervisor_healthy",
			Help: "Whether the supervised application is currently healthy (1) or not (0).",
		},
		[]string{"id"},
	)

	rssGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_supervisor_rss_bytes",
			Help: "Resident set size of the supervised application, in bytes.",
		},
		[]string{"id"},
	)
)

func init() {
	prometheus.MustRegister(restartsTotal, healthCheckFailuresTotal, healthyGauge, rssGauge)
}

// monitorRss samples the child's resident set size until done is closed.
func monitorRss(id string, pid int, done <-chan struct{}) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()

	for {
		rssGauge.WithLabelValues(id).Set(float64(1024 * getRss(pid)))

		select {
		case <-done:
			return
		case <-t.C:
		}
	}
}

// getRss returns RSS in kilobytes via a single 'ps' call. Returns 0
// when ps is unavailable (e.g. Windows) or the process is gone.
func getRss(pid int) int {
	psRss, err := exec.Command("ps", "-o", "rss=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0
	}

	rss, err := strconv.Atoi(strings.TrimSpace(string(psRss)))
	if err != nil {
		return 0
	}

	return rss
}

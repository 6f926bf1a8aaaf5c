package process

import "github.com/prometheus/client_golang/prometheus"

var (
	guestStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kernelgate_guest_start_seconds",
			Help:    "Duration from guest process spawn to a connected session, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	activeGuests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kernelgate_guest_processes",
			Help: "Number of currently running guest kernel processes.",
		},
	)

	guestStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kernelgate_guest_stop_seconds",
			Help:    "Duration of guest process termination and cleanup, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(guestStartDuration)
	prometheus.MustRegister(activeGuests)
	prometheus.MustRegister(guestStopDuration)
}

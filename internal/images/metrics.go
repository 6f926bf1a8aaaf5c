package images

import "github.com/prometheus/client_golang/prometheus"

var (
	storedImages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kernelgate_images_stored",
			Help: "Number of images currently held in the image store.",
		},
	)

	storedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kernelgate_images_bytes",
			Help: "Total size in bytes of images held in the image store.",
		},
	)
)

func init() {
	prometheus.MustRegister(storedImages)
	prometheus.MustRegister(storedBytes)
}

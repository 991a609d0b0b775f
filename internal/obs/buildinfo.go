package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterBuildInfo exports build_info{version,commit} 1 on reg.
func RegisterBuildInfo(reg prometheus.Registerer, version, commit string) error {
	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "deskbridge build information.",
		},
		[]string{"version", "commit"},
	)
	if err := reg.Register(buildInfo); err != nil {
		return err
	}
	buildInfo.WithLabelValues(version, commit).Set(1)
	return nil
}

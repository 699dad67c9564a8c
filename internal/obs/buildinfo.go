package obs

import (
	"errors"
	"runtime"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildInfo identifies the running binary in metrics and logs.
type BuildInfo struct {
	Version   string
	Commit    string
	GoVersion string
}

// ResolveBuildInfo combines the linker-injected version and commit with the
// settings Go embeds at build time. A "dev" or empty commit falls back to the
// vcs.revision setting when one was recorded.
func ResolveBuildInfo(version, commit string) BuildInfo {
	bi := BuildInfo{Version: version, Commit: commit, GoVersion: runtime.Version()}
	if bi.Version == "" {
		bi.Version = "dev"
	}
	if bi.Commit == "" || bi.Commit == "dev" {
		bi.Commit = "dev"
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					bi.Commit = s.Value
				}
			}
		}
	}
	return bi
}

var buildInfoLabels = []string{"version", "commit", "go_version"}

// PublishBuildInfo sets gatherly_build_info{version,commit,go_version} 1 on
// reg. Publishing twice to the same registry reuses the existing gauge.
func PublishBuildInfo(reg prometheus.Registerer, bi BuildInfo) error {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gatherly_build_info",
		Help: "Constant 1, labelled with the running build.",
	}, buildInfoLabels)
	if err := reg.Register(gauge); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
		existing, ok := are.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return err
		}
		gauge = existing
	}
	gauge.WithLabelValues(bi.Version, bi.Commit, bi.GoVersion).Set(1)
	return nil
}

// Package version provides build-time version information.
package version

// These variables are set at build time using -ldflags
var (
	// Version is the semantic version of the cardscan binary
	Version = "1.0.0"

	// BuildTime is the UTC time when the binary was built
	BuildTime = "unknown"

	// GitCommit is the git commit hash
	GitCommit = "unknown"
)

// MetricsVersion tags every serialized metrics document.
const MetricsVersion = "stage1_opencv_v1.0"

// ServiceName identifies the HTTP service in health responses.
const ServiceName = "opencv-card-analysis"

// APIVersion is reported by the health endpoint.
const APIVersion = "v1.0"

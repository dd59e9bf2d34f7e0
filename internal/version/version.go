// Package version holds build information for backup-runner, set via ldflags:
//
//	go build -ldflags "-X github.com/doughall/backup-runner/internal/version.Version=1.2.0 \
//	                   -X github.com/doughall/backup-runner/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/doughall/backup-runner/internal/version.BuildTime=$(date -u +%FT%TZ)" \
//	    ./cmd/backup-runner
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info returns the line printed by -version.
func Info() string {
	return "backup-runner " + Version + " (commit: " + Commit + ", built: " + BuildTime + ")"
}

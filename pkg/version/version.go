// Package version reports which revision of the server is running, for
// startup logs and the health endpoint.
package version

import "runtime/debug"

const AppName = "scoutline"

// gitCommitOverride can be injected with -ldflags for builds that have
// no .git directory available (container image builds).
var gitCommitOverride string

// GitCommit is the short revision hash. Resolution order: ldflags
// override, then VCS stamping from the build info, then "dev".
var GitCommit = resolveCommit()

func resolveCommit() string {
	if gitCommitOverride != "" {
		return shorten(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return shorten(s.Value)
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns the "scoutline/<commit>" identifier used in logs and
// health details.
func Full() string {
	return AppName + "/" + GitCommit
}

package registry

import (
	"github.com/Masterminds/semver/v3"
)

// MatchVersion reports whether a service version satisfies a version
// constraint such as "1.2.3", "1.x" or ">=2.0.0 <3.0.0".
//
// An empty constraint matches every version. Versions or constraints that
// do not parse never match: version resolution fails closed rather than
// guessing a compatible subset.
func MatchVersion(version, constraint string) bool {
	if constraint == "" || constraint == "*" {
		return true
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// HighestVersion returns the instance with the highest version among those
// matching the constraint. The boolean is false when nothing matches.
func HighestVersion(instances []Instance, constraint string) (Instance, bool) {
	var best Instance
	var bestVersion *semver.Version
	for _, inst := range instances {
		if !MatchVersion(inst.Version, constraint) {
			continue
		}
		v, err := semver.NewVersion(inst.Version)
		if err != nil {
			continue
		}
		if bestVersion == nil || v.GreaterThan(bestVersion) {
			best = inst
			bestVersion = v
		}
	}
	return best, bestVersion != nil
}

package releases

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/tyemirov/squashtag/internal/gitrepo"
	"github.com/tyemirov/squashtag/internal/retag"
)

// Level selects which semantic version component a bump increments.
type Level string

// Supported bump levels.
const (
	LevelMajor Level = "major"
	LevelMinor Level = "minor"
	LevelPatch Level = "patch"
)

const (
	versionPrefix           = "v"
	versionSeparator        = "."
	unsupportedLevelMessage = "unsupported bump level %q (expected major, minor or patch)"
	invalidVersionTemplate  = "%q is not a semantic version"
)

// ParseLevel normalizes a bump level. Empty values select LevelPatch.
func ParseLevel(rawValue string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(rawValue))) {
	case "", LevelPatch:
		return LevelPatch, nil
	case LevelMinor:
		return LevelMinor, nil
	case LevelMajor:
		return LevelMajor, nil
	default:
		return "", fmt.Errorf(unsupportedLevelMessage, rawValue)
	}
}

// LatestVersion returns the tag with the highest semantic version.
// Tags that are not semantic versions are ignored; among equal versions the first listed wins.
func LatestVersion(tags []gitrepo.TagReference) (gitrepo.TagReference, bool) {
	var latest gitrepo.TagReference
	found := false
	for _, tag := range tags {
		if !retag.IsSemanticVersion(tag.Name) {
			continue
		}
		if !found || semver.Compare(canonical(tag.Name), canonical(latest.Name)) > 0 {
			latest = tag
			found = true
		}
	}
	return latest, found
}

// NextVersion increments the requested component of version and resets the lower ones.
// Pre-release and build metadata are dropped. The leading "v" is kept only when version has it.
func NextVersion(version string, level Level) (string, error) {
	if !retag.IsSemanticVersion(version) {
		return "", fmt.Errorf(invalidVersionTemplate, version)
	}
	canonicalVersion := canonical(version)
	core := strings.TrimPrefix(canonicalVersion, versionPrefix)
	core = strings.TrimSuffix(core, semver.Build(canonicalVersion))
	core = strings.TrimSuffix(core, semver.Prerelease(canonicalVersion))

	components := strings.Split(core, versionSeparator)
	numbers := make([]int, len(components))
	for index, component := range components {
		number, parseError := strconv.Atoi(component)
		if parseError != nil {
			return "", fmt.Errorf(invalidVersionTemplate, version)
		}
		numbers[index] = number
	}
	major, minor, patch := numbers[0], numbers[1], numbers[2]

	switch level {
	case LevelMajor:
		major, minor, patch = major+1, 0, 0
	case LevelMinor:
		minor, patch = minor+1, 0
	case LevelPatch:
		patch++
	default:
		return "", fmt.Errorf(unsupportedLevelMessage, level)
	}

	next := fmt.Sprintf("%d.%d.%d", major, minor, patch)
	if strings.HasPrefix(version, versionPrefix) {
		return versionPrefix + next, nil
	}
	return next, nil
}

func canonical(version string) string {
	if strings.HasPrefix(version, versionPrefix) {
		return semver.Canonical(version)
	}
	return semver.Canonical(versionPrefix + version)
}

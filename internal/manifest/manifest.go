// Package manifest decides whether a package.json describes an MCP server.
package manifest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// SDKPackage is the dependency every MCP server built on the official SDK
// declares.
const SDKPackage = "@modelcontextprotocol/sdk"

type Classification struct {
	IsServer         bool
	HasBin           bool
	HasSDKDependency bool
	// SDKRange is the declared version range of SDKPackage, if any.
	SDKRange string
}

// Classify inspects a manifest. A repository is a server only when it ships
// an executable (bin) and depends on the SDK.
func Classify(data []byte) (Classification, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return Classification{}, fmt.Errorf("parsing manifest: %w", err)
	}
	if obj == nil {
		return Classification{}, fmt.Errorf("parsing manifest: not an object")
	}

	c := Classification{HasBin: hasBin(obj["bin"])}

	for _, deps := range []json.RawMessage{obj["dependencies"], obj["devDependencies"]} {
		if version, ok := lookup(deps, SDKPackage); ok {
			c.HasSDKDependency = true
			c.SDKRange = version
			break
		}
	}

	c.IsServer = c.HasBin && c.HasSDKDependency
	return c, nil
}

// hasBin accepts a non-empty string or an object with at least one command.
func hasBin(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s != ""
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err == nil {
		return len(m) > 0
	}
	return false
}

// lookup finds name in a dependency map. A field that is not an object is
// treated as absent.
func lookup(raw json.RawMessage, name string) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var deps map[string]json.RawMessage
	if err := json.Unmarshal(raw, &deps); err != nil {
		return "", false
	}
	v, ok := deps[name]
	if !ok {
		return "", false
	}
	var version string
	_ = json.Unmarshal(v, &version)
	return version, true
}

// RangeAdmits reports whether the npm-style range admits version. Ranges
// that are not semver (tags such as "latest", workspace or git references)
// return an error.
func RangeAdmits(rangeStr, version string) (bool, error) {
	rangeStr = strings.TrimSpace(rangeStr)
	if rangeStr == "" {
		return false, fmt.Errorf("empty range")
	}
	constraint, err := semver.NewConstraint(rangeStr)
	if err != nil {
		return false, fmt.Errorf("parsing range %q: %w", rangeStr, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("parsing version %q: %w", version, err)
	}
	return constraint.Check(v), nil
}

var versionLiteral = regexp.MustCompile(`\d+(?:\.\d+){0,2}`)

// RangeReaches reports whether the range admits some version at or above
// minVersion. Besides minVersion itself, every version literal in the range
// that is not below minVersion (and its next patch, for exclusive bounds) is
// tried as a witness.
func RangeReaches(rangeStr, minVersion string) (bool, error) {
	ok, err := RangeAdmits(rangeStr, minVersion)
	if err != nil || ok {
		return ok, err
	}

	floor, _ := semver.NewVersion(minVersion)
	constraint, _ := semver.NewConstraint(strings.TrimSpace(rangeStr))
	for _, lit := range versionLiteral.FindAllString(rangeStr, -1) {
		v, err := semver.NewVersion(lit)
		if err != nil || v.LessThan(floor) {
			continue
		}
		next := v.IncPatch()
		if constraint.Check(v) || constraint.Check(&next) {
			return true, nil
		}
	}
	return false, nil
}

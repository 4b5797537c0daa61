package deps

import (
	"regexp"
	"strconv"
	"strings"
)

// UnknownVersion is reported when no version could be extracted.
const UnknownVersion = "unknown"

// MinimumVersions is the oldest acceptable version per tool.
var MinimumVersions = map[string]string{
	"docker": "20.0.0",
	"node":   "16.0.0",
	"npm":    "8.0.0",
	"git":    "2.20.0",
	"python": "3.8.0",
}

// VersionFlags are tried in order until one prints a version.
var VersionFlags = []string{"--version", "-v", "version"}

var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`v(\d+\.\d+\.\d+)`),
	regexp.MustCompile(`version (\d+\.\d+\.\d+)`),
	regexp.MustCompile(`(\d+\.\d+\.\d+)`),
	regexp.MustCompile(`(\d+\.\d+)`),
}

// ExtractVersion returns the first dotted version found in output, or
// UnknownVersion.
func ExtractVersion(output string) string {
	for _, re := range versionPatterns {
		if m := re.FindStringSubmatch(output); m != nil {
			return m[1]
		}
	}
	return UnknownVersion
}

// CompareVersions compares dotted numeric versions and returns -1, 0 or 1.
// The shorter version is padded with zeros. Versions that do not parse
// compare as equal.
func CompareVersions(a, b string) int {
	pa, okA := parseVersion(a)
	pb, okB := parseVersion(b)
	if !okA || !okB {
		return 0
	}

	for len(pa) < len(pb) {
		pa = append(pa, 0)
	}
	for len(pb) < len(pa) {
		pb = append(pb, 0)
	}

	for i := range pa {
		switch {
		case pa[i] < pb[i]:
			return -1
		case pa[i] > pb[i]:
			return 1
		}
	}
	return 0
}

func parseVersion(v string) ([]int, bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return nil, false
	}
	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

// VersionOK reports whether version satisfies the minimum for tool. Tools
// without a minimum always pass.
func VersionOK(tool, version string) (required string, ok bool) {
	required, known := MinimumVersions[tool]
	if !known {
		return "", true
	}
	return required, CompareVersions(version, required) >= 0
}

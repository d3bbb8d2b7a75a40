package storage

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
)

var versionSuffix = regexp.MustCompile(`^(.*)_v(\d+)$`)

// splitVersion splits "overview_v3.md" into ("overview", ".md").
func splitVersion(name string) (stem, ext string) {
	ext = path.Ext(name)
	stem = name[:len(name)-len(ext)]
	if m := versionSuffix.FindStringSubmatch(stem); m != nil {
		stem = m[1]
	}
	return stem, ext
}

// NextVersionedName picks a file name that does not collide with existing.
// The unversioned name counts as version 1, so with overview.md,
// overview_v2.md and overview_v3.md present the result is overview_v4.md.
// When no version of base is present, base itself is returned.
func NextVersionedName(base string, existing []string) string {
	stem, ext := splitVersion(base)
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(stem) + `(?:_v(\d+))?` + regexp.QuoteMeta(ext) + `$`)

	highest := 0
	for _, name := range existing {
		m := pattern.FindStringSubmatch(path.Base(name))
		if m == nil {
			continue
		}
		version := 1
		if m[1] != "" {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			version = n
		}
		highest = max(highest, version)
	}

	if highest == 0 {
		return stem + ext
	}
	return fmt.Sprintf("%s_v%d%s", stem, highest+1, ext)
}

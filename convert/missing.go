package convert

import (
	"slices"
	"strings"

	"github.com/vitport/vitport/ml"
)

// MissingKeys reports the parameters no mapping entry resolves: source keys
// matched against the mapping's source paths and destination keys against
// its destination paths, each after trying to strip a trailing .weight or
// .bias. The report is advisory; buffers rebuilt at construction, such as
// relative position indices and attention masks, are expected to appear in
// it.
//
// The scan is O(keys x mapping) with small constant sets, so no index is
// built.
func MissingKeys(mapping []Entry, src, dst *ml.Namespace) (srcMissing, dstMissing []string) {
	srcPaths := make([]string, len(mapping))
	dstPaths := make([]string, len(mapping))
	for i, e := range mapping {
		srcPaths[i], dstPaths[i] = e.Src, e.Dst
	}

	for _, key := range src.Keys() {
		if !resolves(key, srcPaths) {
			srcMissing = append(srcMissing, key)
		}
	}
	for _, key := range dst.Keys() {
		if !resolves(key, dstPaths) {
			dstMissing = append(dstMissing, key)
		}
	}

	return srcMissing, dstMissing
}

// MissingKeysConflated reproduces the historical report: destination misses
// are appended to the source list, the destination list stays empty, and
// source keys without a .weight or .bias suffix are never flagged. Kept only
// so reports diff cleanly against old conversion logs; MissingKeys is the
// corrected form.
func MissingKeysConflated(mapping []Entry, src, dst *ml.Namespace) (srcMissing, dstMissing []string) {
	srcPaths := make([]string, len(mapping))
	dstPaths := make([]string, len(mapping))
	for i, e := range mapping {
		srcPaths[i], dstPaths[i] = e.Src, e.Dst
	}

	srcMissing = []string{}
	for _, key := range src.Keys() {
		if slices.Contains(srcPaths, key) {
			continue
		}

		missing := false
		if base, ok := strip(key, ".weight"); ok && !slices.Contains(srcPaths, base) {
			missing = true
		}
		if base, ok := strip(key, ".bias"); ok && !slices.Contains(srcPaths, base) {
			missing = true
		}
		if missing {
			srcMissing = append(srcMissing, key)
		}
	}

	for _, key := range dst.Keys() {
		if !resolves(key, dstPaths) {
			srcMissing = append(srcMissing, key)
		}
	}

	return srcMissing, nil
}

// resolves reports whether key names one of paths, directly or through a
// .weight or .bias suffix.
func resolves(key string, paths []string) bool {
	if slices.Contains(paths, key) {
		return true
	}
	if base, ok := strip(key, ".weight"); ok && slices.Contains(paths, base) {
		return true
	}
	if base, ok := strip(key, ".bias"); ok && slices.Contains(paths, base) {
		return true
	}

	return false
}

func strip(key, suffix string) (string, bool) {
	if strings.HasSuffix(key, suffix) {
		return strings.TrimSuffix(key, suffix), true
	}
	return "", false
}

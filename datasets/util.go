package datasets

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// sourceExts are the file names ResolveSource accepts inside a directory.
var sourceExts = []string{"*.csv", "*.tsv", "*.txt"}

// ResolveSource turns a directory or glob pattern into a single dataset path.
// A plain file path is returned unchanged. For a directory the first file matching
// *.csv, *.tsv or *.txt is used, in that order of preference; for a pattern, the first
// match in lexical order. Cache files, Source+"bin" or Source+"bin.part" next to an
// existing Source, are never picked.
func ResolveSource(fs afero.Fs, path string) (string, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if strings.ContainsAny(path, "*?[") {
		return firstMatch(fs, path)
	}
	info, err := fs.Stat(path)
	if err != nil {
		return "", errors.Wrapf(ErrSourceUnavailable, "%s: %v", path, err)
	}
	if !info.IsDir() {
		return path, nil
	}
	for _, ext := range sourceExts {
		if p, err := firstMatch(fs, filepath.Join(path, ext)); err == nil {
			return p, nil
		}
	}
	return "", errors.Wrapf(ErrSourceUnavailable, "no dataset files found in %s", path)
}

func firstMatch(fs afero.Fs, pattern string) (string, error) {
	matches, err := afero.Glob(fs, pattern)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidConfig, "pattern %q: %v", pattern, err)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if isCacheFile(fs, m) {
			continue
		}
		if info, err := fs.Stat(m); err == nil && !info.IsDir() {
			return m, nil
		}
	}
	return "", errors.Wrapf(ErrSourceUnavailable, "nothing matches %s", pattern)
}

// isCacheFile reports whether name is the finished or partial cache of a file that
// exists next to it.
func isCacheFile(fs afero.Fs, name string) bool {
	for _, suffix := range []string{"bin.part", "bin"} {
		src, ok := strings.CutSuffix(name, suffix)
		if !ok || src == "" {
			continue
		}
		if info, err := fs.Stat(src); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

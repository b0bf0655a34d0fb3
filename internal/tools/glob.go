package tools

import (
	"path"
	"regexp"
	"strings"
)

// matchGlob matches a slash-separated relative path against a glob pattern.
// "**" matches any number of path segments, including none. A pattern with
// no slash matches against the base name, mirroring common glob tools.
func matchGlob(pattern, name string) bool {
	if !strings.Contains(pattern, "/") && !strings.Contains(pattern, "**") {
		ok, err := path.Match(pattern, path.Base(name))
		return err == nil && ok
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	if pattern[0] == "**" {
		for skip := 0; skip <= len(name); skip++ {
			if matchSegments(pattern[1:], name[skip:]) {
				return true
			}
		}
		return false
	}
	if len(name) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], name[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], name[1:])
}

// compileSearchPattern compiles a search regex, falling back to a literal
// match when the input is not a valid expression.
func compileSearchPattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err == nil {
		return re, nil
	}
	return regexp.Compile(regexp.QuoteMeta(pattern))
}

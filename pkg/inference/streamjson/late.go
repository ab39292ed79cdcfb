package streamjson

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceLineRe = regexp.MustCompile("(?m)^[ \\t]*```[\\w-]*[ \\t]*\\r?\\n?")

// StripFences removes code fence lines, keeping their contents.
func StripFences(s string) string {
	return fenceLineRe.ReplaceAllString(s, "")
}

// LateDetect re-scans a complete response that streamed as prose. It
// reclassifies it as JSON only if a balanced object enclosing the marker
// parses; the text before that object becomes the preamble.
func LateDetect(full string) (Result, bool) {
	return lateDetect(full, markerRegexp(DefaultMarkerKey))
}

func lateDetect(full string, marker *regexp.Regexp) (Result, bool) {
	s := StripFences(full)
	for _, loc := range marker.FindAllStringIndex(s, -1) {
		// the outermost enclosing object wins, so scan opening braces left to right
		for i := 0; i < loc[0]; i++ {
			if s[i] != '{' {
				continue
			}
			obj, ok := ExtractBalancedJSON(s, i)
			if !ok || i+len(obj) < loc[1] {
				continue
			}
			if !json.Valid([]byte(obj)) {
				continue
			}
			return Result{
				IsJSON:   true,
				Response: obj,
				Preamble: strings.TrimSpace(s[:i]),
			}, true
		}
	}
	return Result{}, false
}

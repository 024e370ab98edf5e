package loop

import "strings"

// DetectPromise reports whether text contains the completion phrase wrapped
// in <promise></promise> tags. The comparison is exact: case-sensitive,
// whitespace-sensitive, no normalization. An empty phrase never matches.
func DetectPromise(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(text, "<promise>"+phrase+"</promise>")
}

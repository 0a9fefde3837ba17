package providers

import "strings"

// containsFold reports whether s contains substr, ignoring case — used by
// each provider's error classifier to recognize a context-length error
// from a provider's free-text message when the SDK doesn't expose a
// dedicated error code for it.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

package domain

import (
	"fmt"
	"strings"
)

const pendingRefPrefix = "pending:"

var refPrefixes = map[ProviderTag]string{
	ProviderPercentProgress:  "pct",
	ProviderOperation:        "op",
	ProviderOperationChained: "opc",
	ProviderTaskRatio:        "task",
}

// EncodeRef builds the external reference stored on a job from the provider
// tag and the backend's own identifier.
func EncodeRef(tag ProviderTag, backendID string) string {
	prefix, ok := refPrefixes[tag]
	if !ok {
		prefix = string(tag)
	}
	return prefix + ":" + backendID
}

// ParseRef splits an external reference into its provider tag and backend id.
func ParseRef(ref string) (ProviderTag, string, error) {
	ref = strings.TrimSpace(ref)
	if IsPendingRef(ref) {
		return "", "", fmt.Errorf("external ref %q is pending", ref)
	}
	prefix, id, ok := strings.Cut(ref, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("malformed external ref %q", ref)
	}
	for tag, p := range refPrefixes {
		if p == prefix {
			return tag, id, nil
		}
	}
	return "", "", fmt.Errorf("unknown external ref prefix %q", prefix)
}

// PendingRef marks a ref as claimed for an extension that has not been
// triggered yet.
func PendingRef(ref string) string {
	return pendingRefPrefix + ref
}

// IsPendingRef reports whether ref is an in-flight extension claim.
func IsPendingRef(ref string) bool {
	return strings.HasPrefix(ref, pendingRefPrefix)
}

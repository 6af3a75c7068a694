// Package mediaurl resolves attachment file references for display.
// The message API serves attachment URLs as server-relative paths; the
// client resolves them against its configured base URL before handing
// them to a renderer.
package mediaurl

import (
	"net/url"
	"strings"
)

// Resolve turns an attachment file reference into an absolute URL.
// Already-absolute references pass through untouched; relative paths
// are joined onto the base URL. Unresolvable input comes back as-is so
// a broken reference degrades to a broken link, not a crash.
func Resolve(baseURL, fileURL string) string {
	fileURL = strings.TrimSpace(fileURL)
	if fileURL == "" {
		return ""
	}

	ref, err := url.Parse(fileURL)
	if err != nil {
		return fileURL
	}
	if ref.IsAbs() {
		return fileURL
	}

	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || base.Scheme == "" {
		return fileURL
	}

	if !strings.HasPrefix(ref.Path, "/") {
		ref.Path = "/" + ref.Path
	}
	return base.ResolveReference(ref).String()
}

package uhttp

import (
	"mime"
	"strings"
)

// IsJSONContentType accepts application/json and the +json suffixed types,
// ignoring parameters such as charset.
func IsJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	if !strings.HasPrefix(mediaType, "application/") {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

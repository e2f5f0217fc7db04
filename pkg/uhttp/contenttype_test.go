package uhttp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsJSONContentType(t *testing.T) {
	tests := []struct {
		contentType string
		expected    bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"Application/JSON", true},
		{"application/vnd.api+json", true},
		{"application/xml", false},
		{"text/html; charset=utf-8", false},
		{"text/json", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.contentType, func(t *testing.T) {
			require.Equal(t, tc.expected, IsJSONContentType(tc.contentType))
		})
	}
}

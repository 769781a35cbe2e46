package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contains    []string
		notContains []string
	}{
		{
			name:     "markdown",
			body:     "**hi** _there_",
			contains: []string{"<strong>hi</strong>", "<em>there</em>"},
		},
		{
			name:        "script stripped",
			body:        "hello <script>alert(1)</script>",
			contains:    []string{"hello"},
			notContains: []string{"<script", "alert(1)"},
		},
		{
			name:        "javascript link dropped",
			body:        "[click](javascript:alert(1))",
			notContains: []string{"javascript:"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Render(tt.body)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"plain", "hey", "hey"},
		{"markdown stripped", "**hi** there", "hi there"},
		{"lines joined", "first line\n\nsecond line", "first line second line"},
		{"entities kept readable", "Tom & Jerry", "Tom & Jerry"},
		{"long body cut", strings.Repeat("a", 100), strings.Repeat("a", previewLength) + "…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Preview(tt.body))
		})
	}
}

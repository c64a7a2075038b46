package handler

import (
	"strings"
	"testing"
)

func TestValidateChunking(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
		wantErr       string
	}{
		{"min bounds ok", 100, 0, ""},
		{"max bounds ok", 2000, 500, ""},
		{"size too small", 99, 0, "chunk_size"},
		{"size too big", 2001, 0, "chunk_size"},
		{"overlap negative", 500, -1, "chunk_overlap"},
		{"overlap too big", 2000, 501, "chunk_overlap"},
		{"overlap equals size", 100, 100, "chunk_overlap"},
		{"overlap over size within range", 150, 200, "chunk_overlap"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := validateChunking(tc.size, tc.overlap)
			if tc.wantErr == "" && got != "" {
				t.Errorf("validateChunking(%d,%d) = %q, want ok", tc.size, tc.overlap, got)
			}
			if tc.wantErr != "" && !strings.Contains(got, tc.wantErr) {
				t.Errorf("validateChunking(%d,%d) = %q, want mention of %s", tc.size, tc.overlap, got, tc.wantErr)
			}
		})
	}
}

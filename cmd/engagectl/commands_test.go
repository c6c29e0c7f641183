package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClip(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "short", in: "привет", limit: 10, want: "привет"},
		{name: "trimmed", in: "  hi  ", limit: 2, want: "hi"},
		{name: "cut by runes", in: "абвгдеж", limit: 4, want: "абв…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clip(tt.in, tt.limit))
		})
	}
}

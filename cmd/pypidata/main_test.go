package main

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/matzehuels/pypidata/pkg/errors"
)

func TestReport(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{"coded", errors.New(errors.ErrCodeInvalidConfig, "fetch.concurrency must be positive"), 1, "error: fetch.concurrency must be positive\n"},
		{"coded with cause", errors.Wrap(errors.ErrCodeStorage, fmt.Errorf("disk full"), "commit"), 1, "error: commit: disk full\n"},
		{"plain", fmt.Errorf("boom"), 1, "error: boom\n"},
		{"interrupted", fmt.Errorf("sync: %w", context.Canceled), 130, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if got := report(&buf, tt.err); got != tt.status {
				t.Errorf("status = %d, want %d", got, tt.status)
			}
			if buf.String() != tt.want {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

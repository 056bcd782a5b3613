// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-jsign.
//
// go-jsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package correlation

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-jsign/pkg/logging"
)

func TestWithBatchID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		id   string
		want string
	}{
		{
			name: "Add batch ID to context",
			ctx:  context.Background(),
			id:   "batch-1",
			want: "batch-1",
		},
		{
			name: "Add batch ID to nil context",
			ctx:  nil,
			id:   "batch-2",
			want: "batch-2",
		},
		{
			name: "Add empty batch ID",
			ctx:  context.Background(),
			id:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithBatchID(tt.ctx, tt.id)
			if ctx == nil {
				t.Fatal("WithBatchID returned nil context")
			}
			if got := BatchID(ctx); got != tt.want {
				t.Errorf("BatchID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBatchID_Missing(t *testing.T) {
	if got := BatchID(context.Background()); got != "" {
		t.Errorf("BatchID() = %q, want empty", got)
	}
	//nolint:staticcheck // nil context is part of the contract
	if got := BatchID(nil); got != "" {
		t.Errorf("BatchID(nil) = %q, want empty", got)
	}
}

func TestNewID(t *testing.T) {
	id1 := NewID()
	id2 := NewID()

	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("NewID() returned invalid UUID: %v", err)
	}
	if id1 == id2 {
		t.Error("NewID() returned duplicate IDs")
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" {
		t.Fatal("Ensure() returned empty ID")
	}
	if got := BatchID(ctx); got != id {
		t.Errorf("BatchID() = %q, want %q", got, id)
	}

	ctx2, id2 := Ensure(ctx)
	if id2 != id {
		t.Errorf("Ensure() replaced existing ID %q with %q", id, id2)
	}
	if ctx2 != ctx {
		t.Error("Ensure() should return the same context when an ID exists")
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logging.NewWithWriter(&buf, false)

	if got := Logger(context.Background(), base); got != base {
		t.Error("Logger() should return the base logger without a batch ID")
	}

	ctx := WithBatchID(context.Background(), "abc-123")
	Logger(ctx, base).Info("signed")
	if !strings.Contains(buf.String(), "batch_id=abc-123") {
		t.Errorf("log line missing batch id: %q", buf.String())
	}
}

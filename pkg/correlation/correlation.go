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

// Package correlation tags each signing batch with an ID so that the log
// lines of one batch can be grouped.
package correlation

import (
	"context"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-jsign/pkg/logging"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// BatchIDKey is the context key for storing batch IDs
	BatchIDKey contextKey = "batch-id"

	// LogAttr is the structured log attribute carrying the batch ID
	LogAttr = "batch_id"
)

// WithBatchID adds a batch ID to the context.
func WithBatchID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, BatchIDKey, id)
}

// BatchID retrieves the batch ID from context.
// Returns an empty string if none is set.
func BatchID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(BatchIDKey).(string); ok {
		return id
	}
	return ""
}

// NewID generates a new UUID v4 batch ID.
func NewID() string {
	return uuid.New().String()
}

// Ensure returns ctx carrying a batch ID, generating one when ctx has none,
// and the ID itself.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := BatchID(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithBatchID(ctx, id), id
}

// Logger returns logger annotated with the batch ID of ctx, or logger
// itself when ctx carries none.
func Logger(ctx context.Context, logger *logging.Logger) *logging.Logger {
	id := BatchID(ctx)
	if id == "" {
		return logger
	}
	return logger.With(LogAttr, id)
}

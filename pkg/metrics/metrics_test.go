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

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsEnabled(t *testing.T) {
	// Metrics should be enabled by default
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled by default")
	}

	Disable()
	if IsEnabled() {
		t.Error("Expected metrics to be disabled after Disable()")
	}

	Enable()
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled after Enable()")
	}
}

func TestRecordOperation(t *testing.T) {
	Enable()

	OperationsTotal.Reset()
	OperationDuration.Reset()

	RecordOperation(OpSign, "pkcs11", StatusSuccess, 0.5)

	count := testutil.CollectAndCount(OperationsTotal)
	if count != 1 {
		t.Errorf("Expected 1 operation recorded, got %d", count)
	}

	histCount := testutil.CollectAndCount(OperationDuration)
	if histCount != 1 {
		t.Errorf("Expected 1 histogram sample, got %d", histCount)
	}

	RecordOperation(OpSign, "pkcs11", StatusSuccess, 0.2)
	if v := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpSign, "pkcs11", StatusSuccess)); v != 2 {
		t.Errorf("Expected counter value 2, got %v", v)
	}

	RecordOperation(OpVerify, "pkcs12", StatusError, 0.1)
	count = testutil.CollectAndCount(OperationsTotal)
	if count != 2 {
		t.Errorf("Expected 2 label sets recorded, got %d", count)
	}
}

func TestRecordOperationWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()

	OperationsTotal.Reset()

	RecordOperation(OpSign, "pkcs11", StatusSuccess, 0.5)

	count := testutil.CollectAndCount(OperationsTotal)
	if count != 0 {
		t.Errorf("Expected 0 operations when disabled, got %d", count)
	}
}

func TestRecordError(t *testing.T) {
	Enable()

	ErrorsTotal.Reset()

	RecordError(OpResolve, "pkcs11", "token_not_found")
	count := testutil.CollectAndCount(ErrorsTotal)
	if count != 1 {
		t.Errorf("Expected 1 error recorded, got %d", count)
	}

	RecordError(OpSign, "mscapi", "key_unavailable")
	count = testutil.CollectAndCount(ErrorsTotal)
	if count != 2 {
		t.Errorf("Expected 2 errors recorded, got %d", count)
	}
}

func TestRecordResolution(t *testing.T) {
	Enable()

	ResolutionsTotal.Reset()

	RecordResolution(PathConfig, StatusSuccess)
	RecordResolution(PathConfig, StatusSuccess)
	RecordResolution(PathDiscovery, StatusError)

	if v := testutil.ToFloat64(ResolutionsTotal.WithLabelValues(PathConfig, StatusSuccess)); v != 2 {
		t.Errorf("Expected 2 config resolutions, got %v", v)
	}
	if count := testutil.CollectAndCount(ResolutionsTotal); count != 2 {
		t.Errorf("Expected 2 label sets, got %d", count)
	}

	Disable()
	RecordResolution(PathManual, StatusSuccess)
	Enable()
	if count := testutil.CollectAndCount(ResolutionsTotal); count != 2 {
		t.Errorf("Expected disabled resolution to be dropped, got %d label sets", count)
	}
}

func TestWriteTextfile(t *testing.T) {
	Enable()
	OperationsTotal.Reset()
	RecordOperation(OpSign, "pkcs12", StatusSuccess, 0.01)

	path := filepath.Join(t.TempDir(), "jsign.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"# TYPE jsign_operations_total counter",
		`jsign_operations_total{operation="sign",status="success",store="pkcs12"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q", want)
		}
	}
}

func TestWriteTextfile_BadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "jsign.prom")
	if err := WriteTextfile(path); err == nil {
		t.Error("Expected error writing into a missing directory")
	}
}

func TestMetricsNamespace(t *testing.T) {
	if Namespace != "jsign" {
		t.Errorf("Expected namespace 'jsign', got %q", Namespace)
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	Enable()

	OperationsTotal.Reset()

	var wg sync.WaitGroup
	operations := 100
	for i := 0; i < operations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordOperation(OpSign, "pkcs11", StatusSuccess, 0.1)
		}()
	}
	wg.Wait()

	if v := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpSign, "pkcs11", StatusSuccess)); v != float64(operations) {
		t.Errorf("Expected %d operations, got %v", operations, v)
	}
}

func BenchmarkRecordOperation(b *testing.B) {
	Enable()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		RecordOperation(OpSign, "pkcs11", StatusSuccess, 0.001)
	}
}

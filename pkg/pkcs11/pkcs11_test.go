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

package pkcs11

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBind_SlotsInModuleOrder(t *testing.T) {
	hw := newFakeHardware()
	hw.insert(7, "Seven")
	hw.insert(2, "Two")
	hw.insert(5, "Five")
	m := newFakeModule(hw)

	var params []AcquireParams
	w, err := Bind(writeFakeLibrary(t), WithLoader(loaderFor(m, &params)))
	require.NoError(t, err)

	assert.Equal(t, []SlotID{7, 2, 5}, w.Slots())
	assert.Equal(t, []bool{true}, m.slotListArgs, "slot list must be requested with tokenPresent=true only")
	assert.Equal(t, []SlotID{7, 2, 5}, m.tokenInfoCalls)
	require.Len(t, params, 1, "module must be acquired exactly once per bind")
	assert.Equal(t, DefaultFunctionList, params[0].FunctionList)
}

func TestBind_CanonicalPath(t *testing.T) {
	lib := writeFakeLibrary(t)
	link := filepath.Join(t.TempDir(), "link.so")
	require.NoError(t, os.Symlink(lib, link))

	var params []AcquireParams
	w, err := Bind(link, WithLoader(loaderFor(newFakeModule(newFakeHardware()), &params)))
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(lib)
	require.NoError(t, err)
	assert.Equal(t, want, w.Library())
	assert.Equal(t, want, params[0].Library)
}

func TestBind_AcquireParams(t *testing.T) {
	var params []AcquireParams
	_, err := Bind(writeFakeLibrary(t),
		WithLoader(loaderFor(newFakeModule(newFakeHardware()), &params)),
		WithInitArgs("configdir='sql:/tmp'"),
		WithLockRequired(true),
		WithFunctionList("C_GetFunctionList"))
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.Equal(t, "configdir='sql:/tmp'", params[0].InitArgs)
	assert.True(t, params[0].LockRequired)
}

func TestWrapper_TokenLabel(t *testing.T) {
	hw := newFakeHardware()
	hw.insert(1, "MyToken   ")
	hw.insert(2, "Padded\x00\x00\x00\x00")
	hw.insert(3, "")
	m := newFakeModule(hw)
	m.absent[3] = true

	w, err := Bind(writeFakeLibrary(t), WithLoader(loaderFor(m, nil)))
	require.NoError(t, err)

	tests := []struct {
		name   string
		slot   SlotID
		want   string
		wantOK bool
	}{
		{name: "trailing blanks trimmed", slot: 1, want: "MyToken", wantOK: true},
		{name: "NUL padding trimmed", slot: 2, want: "Padded", wantOK: true},
		{name: "absent token info", slot: 3, want: "", wantOK: false},
		{name: "slot not in snapshot", slot: 99, want: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := w.TokenLabel(tt.slot)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, w.HasSlot(3), "absent token still belongs to the snapshot")
	assert.False(t, w.HasSlot(99))
	assert.Equal(t, map[SlotID]string{1: "MyToken", 2: "Padded"}, w.SlotLabels())
}

func TestWrapper_FindSlotByLabel(t *testing.T) {
	hw := newFakeHardware()
	hw.insert(4, "eToken")
	hw.insert(9, "eToken")
	hw.insert(1, "Other")

	w, err := Bind(writeFakeLibrary(t), WithLoader(loaderFor(newFakeModule(hw), nil)))
	require.NoError(t, err)

	slot, ok := w.FindSlotByLabel("eToken  ")
	require.True(t, ok)
	assert.Equal(t, SlotID(4), slot, "first slot in enumeration order wins")

	_, ok = w.FindSlotByLabel("missing")
	assert.False(t, ok)
}

func TestWrapper_SnapshotIsFrozen(t *testing.T) {
	hw := newFakeHardware()
	hw.insert(1, "First")
	lib := writeFakeLibrary(t)

	first, err := Bind(lib, WithLoader(loaderFor(newFakeModule(hw), nil)))
	require.NoError(t, err)

	hw.remove(1)
	hw.insert(2, "Second")

	second, err := Bind(lib, WithLoader(loaderFor(newFakeModule(hw), nil)))
	require.NoError(t, err)

	assert.Equal(t, []SlotID{1}, first.Slots())
	label, ok := first.TokenLabel(1)
	assert.True(t, ok)
	assert.Equal(t, "First", label)
	_, ok = first.TokenLabel(2)
	assert.False(t, ok, "later hardware changes must not leak into an earlier bind")

	assert.Equal(t, []SlotID{2}, second.Slots())
	label, ok = second.TokenLabel(2)
	assert.True(t, ok)
	assert.Equal(t, "Second", label)
}

func TestWrapper_SlotsReturnsCopy(t *testing.T) {
	hw := newFakeHardware()
	hw.insert(1, "A")
	w, err := Bind(writeFakeLibrary(t), WithLoader(loaderFor(newFakeModule(hw), nil)))
	require.NoError(t, err)

	slots := w.Slots()
	slots[0] = 42
	assert.Equal(t, []SlotID{1}, w.Slots())

	labels := w.SlotLabels()
	labels[1] = "changed"
	label, _ := w.TokenLabel(1)
	assert.Equal(t, "A", label)
}

func TestBind_Errors(t *testing.T) {
	lib := writeFakeLibrary(t)
	errNative := errors.New("CKR_DEVICE_ERROR")

	tests := []struct {
		name        string
		path        string
		setup       func(m *fakeModule)
		loader      Loader
		wantKind    Kind
		wantElement string
	}{
		{
			name:        "missing module file",
			path:        filepath.Join(t.TempDir(), "nope.so"),
			wantKind:    KindModuleNotFound,
			wantElement: ElementLibrary,
		},
		{
			name:        "empty path",
			path:        "  ",
			wantKind:    KindModuleNotFound,
			wantElement: ElementLibrary,
		},
		{
			name:        "directory instead of module",
			path:        t.TempDir(),
			wantKind:    KindModuleNotFound,
			wantElement: ElementLibrary,
		},
		{
			name: "loader reports missing symbol",
			path: lib,
			loader: func(p AcquireParams) (Module, error) {
				return nil, &BindingError{Kind: KindMissingSymbol, Element: p.FunctionList}
			},
			wantKind:    KindMissingSymbol,
			wantElement: ElementFunctionList,
		},
		{
			name: "loader returns plain error",
			path: lib,
			loader: func(p AcquireParams) (Module, error) {
				return nil, errNative
			},
			wantKind:    KindLoadFailed,
			wantElement: ElementFunctionList,
		},
		{
			name: "loader panics",
			path: lib,
			loader: func(p AcquireParams) (Module, error) {
				panic("dlopen exploded")
			},
			wantKind:    KindCallFailed,
			wantElement: ElementFunctionList,
		},
		{
			name: "loader returns nil module",
			path: lib,
			loader: func(p AcquireParams) (Module, error) {
				return nil, nil
			},
			wantKind:    KindLoadFailed,
			wantElement: ElementFunctionList,
		},
		{
			name:        "unsupported cryptoki version",
			path:        lib,
			setup:       func(m *fakeModule) { m.info.CryptokiVersion = Version{Major: 1, Minor: 0} },
			wantKind:    KindLayoutMismatch,
			wantElement: ElementGetInfo,
		},
		{
			name:        "GetInfo fails",
			path:        lib,
			setup:       func(m *fakeModule) { m.infoErr = errNative },
			wantKind:    KindCallFailed,
			wantElement: ElementGetInfo,
		},
		{
			name:        "GetSlotList fails",
			path:        lib,
			setup:       func(m *fakeModule) { m.slotErr = errNative },
			wantKind:    KindCallFailed,
			wantElement: ElementGetSlotList,
		},
		{
			name:        "GetSlotList panics",
			path:        lib,
			setup:       func(m *fakeModule) { m.panicOn = ElementGetSlotList },
			wantKind:    KindCallFailed,
			wantElement: ElementGetSlotList,
		},
		{
			name: "GetTokenInfo fails",
			path: lib,
			setup: func(m *fakeModule) {
				m.hw.insert(3, "T")
				m.tokenErr[3] = errNative
			},
			wantKind:    KindCallFailed,
			wantElement: "C_GetTokenInfo(slot 3)",
		},
		{
			name:        "label wider than CK_TOKEN_INFO field",
			path:        lib,
			setup:       func(m *fakeModule) { m.hw.insert(4, strings.Repeat("L", LabelFieldSize+1)) },
			wantKind:    KindMissingField,
			wantElement: "CK_TOKEN_INFO.label(slot 4)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeModule(newFakeHardware())
			if tt.setup != nil {
				tt.setup(m)
			}
			loader := tt.loader
			if loader == nil {
				loader = loaderFor(m, nil)
			}

			w, err := Bind(tt.path, WithLoader(loader))
			require.Error(t, err)
			assert.Nil(t, w)
			assert.ErrorIs(t, err, ErrBinding)

			be, ok := IsBindingError(err)
			require.True(t, ok, "error must be a *BindingError, got %T", err)
			assert.Equal(t, tt.wantKind, be.Kind)
			assert.Equal(t, tt.wantElement, be.Element)
			assert.Contains(t, err.Error(), tt.wantElement)
		})
	}
}

func TestBind_FailureFinalizesModule(t *testing.T) {
	m := newFakeModule(newFakeHardware())
	m.slotErr = errors.New("device removed")

	_, err := Bind(writeFakeLibrary(t), WithLoader(loaderFor(m, nil)))
	require.Error(t, err)
	assert.Equal(t, 1, m.finalized)
}

func TestBind_DefaultLoaderWithoutNativeSupport(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping native loader probe in short mode")
	}
	// Exercises the build without the pkcs11 tag; with the tag the fake file
	// is rejected by dlopen instead. Either way the error is a BindingError.
	_, err := Bind(writeFakeLibrary(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinding)
}

func TestWrapper_Close(t *testing.T) {
	hw := newFakeHardware()
	hw.insert(1, "A")
	m := newFakeModule(hw)
	w, err := Bind(writeFakeLibrary(t), WithLoader(loaderFor(m, nil)))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 1, m.finalized)

	label, ok := w.TokenLabel(1)
	assert.True(t, ok, "snapshot stays readable after close")
	assert.Equal(t, "A", label)
}

func TestWrapper_Layout(t *testing.T) {
	m := newFakeModule(newFakeHardware())
	m.info.CryptokiVersion = Version{Major: 3, Minor: 0}
	w, err := Bind(writeFakeLibrary(t), WithLoader(loaderFor(m, nil)))
	require.NoError(t, err)
	assert.Equal(t, "cryptoki-3.x", w.Layout())
	assert.Equal(t, "fake", w.Info().ManufacturerID)
}

func TestTrimLabel(t *testing.T) {
	assert.Equal(t, "MyToken", TrimLabel("MyToken   "))
	assert.Equal(t, "My Token", TrimLabel("  My Token\x00\x00"))
	assert.Equal(t, "", TrimLabel("                                "))
}

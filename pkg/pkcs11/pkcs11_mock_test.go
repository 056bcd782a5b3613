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
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeHardware is shared token state that outlives any single bind, so
// tests can insert or remove tokens between binds.
type fakeHardware struct {
	mu     sync.Mutex
	slots  []SlotID
	tokens map[SlotID]*TokenInfo
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{tokens: make(map[SlotID]*TokenInfo)}
}

func (h *fakeHardware) insert(slot SlotID, label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.slots {
		if s == slot {
			h.tokens[slot] = &TokenInfo{Label: label}
			return
		}
	}
	h.slots = append(h.slots, slot)
	h.tokens[slot] = &TokenInfo{Label: label}
}

func (h *fakeHardware) remove(slot SlotID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.slots {
		if s == slot {
			h.slots = append(h.slots[:i], h.slots[i+1:]...)
			break
		}
	}
	delete(h.tokens, slot)
}

// fakeModule is a Module test double backed by fakeHardware.
type fakeModule struct {
	hw *fakeHardware

	info      Info
	infoErr   error
	slotErr   error
	tokenErr  map[SlotID]error
	absent    map[SlotID]bool
	panicOn   string
	finalized int

	slotListArgs   []bool
	tokenInfoCalls []SlotID
}

func newFakeModule(hw *fakeHardware) *fakeModule {
	return &fakeModule{
		hw:       hw,
		info:     Info{CryptokiVersion: Version{Major: 2, Minor: 40}, ManufacturerID: "fake"},
		tokenErr: make(map[SlotID]error),
		absent:   make(map[SlotID]bool),
	}
}

func (m *fakeModule) GetInfo() (Info, error) {
	if m.panicOn == ElementGetInfo {
		panic("boom")
	}
	return m.info, m.infoErr
}

func (m *fakeModule) GetSlotList(tokenPresent bool) ([]SlotID, error) {
	if m.panicOn == ElementGetSlotList {
		panic("boom")
	}
	m.slotListArgs = append(m.slotListArgs, tokenPresent)
	if m.slotErr != nil {
		return nil, m.slotErr
	}
	m.hw.mu.Lock()
	defer m.hw.mu.Unlock()
	out := make([]SlotID, len(m.hw.slots))
	copy(out, m.hw.slots)
	return out, nil
}

func (m *fakeModule) GetTokenInfo(slot SlotID) (*TokenInfo, error) {
	m.tokenInfoCalls = append(m.tokenInfoCalls, slot)
	if err := m.tokenErr[slot]; err != nil {
		return nil, err
	}
	if m.absent[slot] {
		return nil, nil
	}
	m.hw.mu.Lock()
	defer m.hw.mu.Unlock()
	info, ok := m.hw.tokens[slot]
	if !ok {
		return nil, nil
	}
	cp := *info
	return &cp, nil
}

func (m *fakeModule) Finalize() error {
	m.finalized++
	return nil
}

// loaderFor returns a Loader handing out m and recording each acquisition.
func loaderFor(m *fakeModule, params *[]AcquireParams) Loader {
	return func(p AcquireParams) (Module, error) {
		if params != nil {
			*params = append(*params, p)
		}
		return m, nil
	}
}

// writeFakeLibrary creates a module file the path checks accept.
func writeFakeLibrary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "libfake-pkcs11.so")
	require.NoError(t, os.WriteFile(path, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1}, 0600))
	return path
}

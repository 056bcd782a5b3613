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

// Package pkcs11 binds a native PKCS#11 module and caches its slot list.
//
// A Wrapper is built once per module path. Binding resolves the module's
// function table, checks that its Cryptoki version matches a known
// structure layout, then queries C_GetSlotList(tokenPresent=true) and
// C_GetTokenInfo for each returned slot. The resulting slot/label map is a
// point-in-time snapshot: token insertion or removal after the bind is not
// observed. Callers needing fresh hardware state bind again.
//
// The wrapper never performs key operations. Signing happens inside a
// keystore helper (see pkg/backend/pkcs11).
//
// Example Usage:
//
//	w, err := pkcs11.Bind("/usr/lib/x86_64-linux-gnu/opensc-pkcs11.so")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	for _, slot := range w.Slots() {
//	    label, _ := w.TokenLabel(slot)
//	    fmt.Printf("%d: %s\n", slot, label)
//	}
package pkcs11

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-jsign/pkg/logging"
)

// tokenLabel is a cached label; ok is false when the module reported no
// token for the slot.
type tokenLabel struct {
	value string
	ok    bool
}

// Wrapper is a bound native module plus its frozen slot/token snapshot.
// All read methods are safe for concurrent use.
type Wrapper struct {
	library string
	info    Info
	layout  string
	module  Module
	slots   []SlotID
	labels  map[SlotID]tokenLabel

	closeOnce sync.Once
	closeErr  error
}

// Option configures Bind.
type Option func(*bindOptions)

type bindOptions struct {
	loader       Loader
	functionList string
	initArgs     string
	lockRequired bool
	logger       *logging.Logger
}

// WithLoader replaces the native loader. Tests use it to inject a fake module.
func WithLoader(loader Loader) Option {
	return func(o *bindOptions) {
		o.loader = loader
	}
}

// WithFunctionList overrides the function table symbol name.
func WithFunctionList(symbol string) Option {
	return func(o *bindOptions) {
		o.functionList = symbol
	}
}

// WithInitArgs sets the reserved C_Initialize argument string.
func WithInitArgs(args string) Option {
	return func(o *bindOptions) {
		o.initArgs = args
	}
}

// WithLockRequired requests library-side locking.
func WithLockRequired(required bool) Option {
	return func(o *bindOptions) {
		o.lockRequired = required
	}
}

// WithLogger sets the logger used for bind diagnostics.
func WithLogger(logger *logging.Logger) Option {
	return func(o *bindOptions) {
		o.logger = logger
	}
}

// Bind loads the module at path and snapshots its token-bearing slots.
//
// Every failure is returned as a *BindingError naming the contract
// element that broke. No other operation is possible without a
// successful bind.
func Bind(path string, opts ...Option) (*Wrapper, error) {
	o := &bindOptions{
		loader:       DefaultLoader,
		functionList: DefaultFunctionList,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.DefaultLogger()
	}

	library, err := canonicalPath(path)
	if err != nil {
		return nil, err
	}

	var module Module
	err = guard(library, ElementFunctionList, func() error {
		var lerr error
		module, lerr = o.loader(AcquireParams{
			Library:      library,
			FunctionList: o.functionList,
			InitArgs:     o.initArgs,
			LockRequired: o.lockRequired,
		})
		return lerr
	})
	if err != nil {
		return nil, newBindingError(KindLoadFailed, library, ElementFunctionList, err)
	}
	if module == nil {
		return nil, &BindingError{
			Kind:    KindLoadFailed,
			Library: library,
			Element: ElementFunctionList,
			Err:     errors.New("loader returned no module"),
		}
	}

	w := &Wrapper{
		library: library,
		module:  module,
		labels:  make(map[SlotID]tokenLabel),
	}
	if err := w.load(); err != nil {
		_ = guard(library, ElementFinalize, module.Finalize)
		return nil, err
	}

	o.logger.Debugf("pkcs11: bound %s (%s, %d token slots)", library, w.layout, len(w.slots))
	return w, nil
}

// load checks the layout contract and builds the slot/label snapshot.
func (w *Wrapper) load() error {
	err := guard(w.library, ElementGetInfo, func() error {
		var ierr error
		w.info, ierr = w.module.GetInfo()
		return ierr
	})
	if err != nil {
		return newBindingError(KindCallFailed, w.library, ElementGetInfo, err)
	}

	layout, ok := layoutFor(w.info.CryptokiVersion)
	if !ok {
		return &BindingError{
			Kind:    KindLayoutMismatch,
			Library: w.library,
			Element: ElementGetInfo,
			Err: fmt.Errorf("%w: cryptoki %d.%d",
				ErrUnsupportedLayout, w.info.CryptokiVersion.Major, w.info.CryptokiVersion.Minor),
		}
	}
	w.layout = layout

	var slots []SlotID
	err = guard(w.library, ElementGetSlotList, func() error {
		var serr error
		slots, serr = w.module.GetSlotList(true)
		return serr
	})
	if err != nil {
		return newBindingError(KindCallFailed, w.library, ElementGetSlotList, err)
	}

	w.slots = make([]SlotID, len(slots))
	copy(w.slots, slots)

	for _, slot := range w.slots {
		label, err := w.queryLabel(slot)
		if err != nil {
			return err
		}
		w.labels[slot] = label
	}
	return nil
}

// queryLabel reads and trims the label of the token in slot.
func (w *Wrapper) queryLabel(slot SlotID) (tokenLabel, error) {
	var info *TokenInfo
	err := guard(w.library, ElementGetTokenInfo, func() error {
		var terr error
		info, terr = w.module.GetTokenInfo(slot)
		return terr
	})
	if err != nil {
		return tokenLabel{}, newBindingError(KindCallFailed, w.library,
			fmt.Sprintf("%s(slot %d)", ElementGetTokenInfo, slot), err)
	}
	if info == nil {
		return tokenLabel{}, nil
	}
	if len(info.Label) > LabelFieldSize {
		return tokenLabel{}, &BindingError{
			Kind:    KindMissingField,
			Library: w.library,
			Element: fmt.Sprintf("%s(slot %d)", ElementTokenLabel, slot),
			Err:     fmt.Errorf("%w: %d bytes", ErrLabelOverrun, len(info.Label)),
		}
	}
	return tokenLabel{value: TrimLabel(info.Label), ok: true}, nil
}

// Library returns the canonical module path the wrapper was bound to.
func (w *Wrapper) Library() string {
	return w.library
}

// Info returns the module's CK_INFO as read at bind time.
func (w *Wrapper) Info() Info {
	return w.info
}

// Layout returns the structure layout selected for the module.
func (w *Wrapper) Layout() string {
	return w.layout
}

// Slots returns the IDs of slots that held a token at bind time, in the
// order the module reported them.
func (w *Wrapper) Slots() []SlotID {
	out := make([]SlotID, len(w.slots))
	copy(out, w.slots)
	return out
}

// TokenLabel returns the trimmed label of the token in slot. The second
// result is false when the slot was not in the snapshot or the module
// reported no token info for it.
func (w *Wrapper) TokenLabel(slot SlotID) (string, bool) {
	label, ok := w.labels[slot]
	if !ok || !label.ok {
		return "", false
	}
	return label.value, true
}

// HasSlot reports whether slot was in the bind-time snapshot.
func (w *Wrapper) HasSlot(slot SlotID) bool {
	_, ok := w.labels[slot]
	return ok
}

// SlotLabels returns a copy of the slot to label map. Slots whose token
// info was absent are omitted.
func (w *Wrapper) SlotLabels() map[SlotID]string {
	out := make(map[SlotID]string, len(w.labels))
	for slot, label := range w.labels {
		if label.ok {
			out[slot] = label.value
		}
	}
	return out
}

// FindSlotByLabel returns the first slot, in enumeration order, whose
// token label equals label.
func (w *Wrapper) FindSlotByLabel(label string) (SlotID, bool) {
	want := TrimLabel(label)
	for _, slot := range w.slots {
		if l := w.labels[slot]; l.ok && l.value == want {
			return slot, true
		}
	}
	return 0, false
}

// Close finalizes the native module. The cached snapshot stays readable.
// Close is idempotent.
func (w *Wrapper) Close() error {
	w.closeOnce.Do(func() {
		err := guard(w.library, ElementFinalize, w.module.Finalize)
		if err != nil {
			w.closeErr = newBindingError(KindCallFailed, w.library, ElementFinalize, err)
		}
	})
	return w.closeErr
}

// LabelFieldSize is the width of the CK_TOKEN_INFO label field.
const LabelFieldSize = 32

// TrimLabel strips the blank and NUL padding of a fixed-width
// CK_TOKEN_INFO label from both ends.
func TrimLabel(label string) string {
	return strings.TrimFunc(label, func(r rune) bool {
		return r <= ' '
	})
}

// canonicalPath resolves path to an absolute, symlink-free file path.
func canonicalPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &BindingError{
			Kind:    KindModuleNotFound,
			Element: ElementLibrary,
			Err:     fmt.Errorf("%w: empty path", ErrModuleNotFound),
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &BindingError{Kind: KindModuleNotFound, Library: path, Element: ElementLibrary, Err: err}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", statError(abs, err)
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return "", statError(resolved, err)
	}
	if fi.IsDir() {
		return "", &BindingError{
			Kind:    KindModuleNotFound,
			Library: resolved,
			Element: ElementLibrary,
			Err:     fmt.Errorf("%w: %s is a directory", ErrModuleNotFound, resolved),
		}
	}
	return resolved, nil
}

func statError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return &BindingError{
			Kind:    KindModuleNotFound,
			Library: path,
			Element: ElementLibrary,
			Err:     fmt.Errorf("%w: %s", ErrModuleNotFound, path),
		}
	case os.IsPermission(err):
		return &BindingError{Kind: KindAccessDenied, Library: path, Element: ElementLibrary, Err: err}
	default:
		return &BindingError{Kind: KindLoadFailed, Library: path, Element: ElementLibrary, Err: err}
	}
}

// guard runs a native call and converts a panic into a BindingError.
func guard(library, element string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &BindingError{
				Kind:    KindCallFailed,
				Library: library,
				Element: element,
				Err:     fmt.Errorf("unexpected panic: %v", r),
			}
		}
	}()
	return fn()
}

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

//go:build pkcs11

package pkcs11

import (
	"errors"
	"fmt"

	"github.com/miekg/pkcs11"
)

// miekgModule adapts github.com/miekg/pkcs11 to the Module contract.
type miekgModule struct {
	library string
	ctx     *pkcs11.Ctx

	// shared is set when C_Initialize reported the module already
	// initialized; another owner (a crypto11 context) finalizes it.
	shared bool
}

// DefaultLoader loads a module through github.com/miekg/pkcs11.
func DefaultLoader(params AcquireParams) (Module, error) {
	if params.FunctionList != DefaultFunctionList {
		return nil, &BindingError{
			Kind:    KindMissingSymbol,
			Library: params.Library,
			Element: params.FunctionList,
			Err:     fmt.Errorf("only %s can be resolved by this adapter", DefaultFunctionList),
		}
	}
	if params.InitArgs != "" {
		return nil, &BindingError{
			Kind:    KindWrongArguments,
			Library: params.Library,
			Element: ElementInitialize,
			Err:     errors.New("reserved initialization arguments are not supported by this adapter"),
		}
	}

	ctx := pkcs11.New(params.Library)
	if ctx == nil {
		return nil, diagnoseLoadFailure(params.Library)
	}

	shared := false
	if err := ctx.Initialize(); err != nil {
		if !errors.Is(err, pkcs11.Error(pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED)) {
			ctx.Destroy()
			return nil, classify(params.Library, ElementInitialize, err)
		}
		shared = true
	}

	return &miekgModule{library: params.Library, ctx: ctx, shared: shared}, nil
}

func (m *miekgModule) GetInfo() (Info, error) {
	info, err := m.ctx.GetInfo()
	if err != nil {
		return Info{}, classify(m.library, ElementGetInfo, err)
	}
	return Info{
		CryptokiVersion:    Version{Major: info.CryptokiVersion.Major, Minor: info.CryptokiVersion.Minor},
		ManufacturerID:     info.ManufacturerID,
		LibraryDescription: info.LibraryDescription,
		LibraryVersion:     Version{Major: info.LibraryVersion.Major, Minor: info.LibraryVersion.Minor},
	}, nil
}

func (m *miekgModule) GetSlotList(tokenPresent bool) ([]SlotID, error) {
	slots, err := m.ctx.GetSlotList(tokenPresent)
	if err != nil {
		return nil, classify(m.library, ElementGetSlotList, err)
	}
	out := make([]SlotID, len(slots))
	for i, s := range slots {
		out[i] = SlotID(s)
	}
	return out, nil
}

func (m *miekgModule) GetTokenInfo(slot SlotID) (*TokenInfo, error) {
	info, err := m.ctx.GetTokenInfo(uint(slot))
	if err != nil {
		var code pkcs11.Error
		if errors.As(err, &code) {
			switch code {
			case pkcs11.CKR_TOKEN_NOT_PRESENT, pkcs11.CKR_TOKEN_NOT_RECOGNIZED, pkcs11.CKR_SLOT_ID_INVALID:
				return nil, nil
			}
		}
		return nil, classify(m.library, ElementGetTokenInfo, err)
	}
	return &TokenInfo{
		Label:          info.Label,
		ManufacturerID: info.ManufacturerID,
		Model:          info.Model,
		SerialNumber:   info.SerialNumber,
	}, nil
}

// Finalize releases the module. C_Finalize is only called when this bind
// initialized it.
func (m *miekgModule) Finalize() error {
	defer m.ctx.Destroy()
	if m.shared {
		return nil
	}
	if err := m.ctx.Finalize(); err != nil {
		if errors.Is(err, pkcs11.Error(pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED)) {
			return nil
		}
		return classify(m.library, ElementFinalize, err)
	}
	return nil
}

// classify maps a Cryptoki return code onto the binding taxonomy.
func classify(library, element string, err error) error {
	kind := KindCallFailed
	var code pkcs11.Error
	if errors.As(err, &code) {
		switch code {
		case pkcs11.CKR_FUNCTION_NOT_SUPPORTED:
			kind = KindMissingSymbol
		case pkcs11.CKR_ARGUMENTS_BAD, pkcs11.CKR_BUFFER_TOO_SMALL:
			kind = KindWrongArguments
		case pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED:
			kind = KindLoadFailed
		}
	}
	return &BindingError{Kind: kind, Library: library, Element: element, Err: err}
}

// diagnoseLoadFailure explains why miekg/pkcs11 returned a nil context: the
// file is either not a loadable shared object or lacks the function list.
func diagnoseLoadFailure(library string) error {
	format, err := sniffObjectFormat(library)
	if err != nil {
		return &BindingError{Kind: KindLoadFailed, Library: library, Element: ElementLibrary, Err: err}
	}
	return &BindingError{
		Kind:    KindMissingSymbol,
		Library: library,
		Element: ElementFunctionList,
		Err:     fmt.Errorf("%s object loaded but %s could not be resolved", format, DefaultFunctionList),
	}
}

// This file is part of a64hook project, available at https://github.com/qrdl/a64hook
// Copyright (c) 2025 Ilya Caramishev. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at https://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package a64hook

import (
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

var ErrInvalidPatch = errors.New("invalid patch")

/*
Patch replaces raw bytes at some address, keeping the original bytes to allow restoring
them. Unlike hooks, patches can be applied and restored any number of times.
*/
type Patch struct {
	mem  Memory
	addr uintptr
	orig []byte
	code []byte
}

// NewPatch reads current content at <addr> to be able to restore it later, nothing is
// modified until [Patch.Modify] is called.
func NewPatch(mem Memory, addr uintptr, code []byte) (*Patch, error) {
	if addr == 0 || len(code) == 0 {
		return nil, errors.WithMessage(ErrInvalidPatch, "empty address or code")
	}
	p := &Patch{
		mem:  mem,
		addr: addr,
		orig: make([]byte, len(code)),
		code: append([]byte(nil), code...),
	}
	if err := mem.Read(addr, p.orig); err != nil {
		return nil, err
	}
	return p, nil
}

/*
NewPatchHex is like [NewPatch] but takes the code as hex string, optionally prefixed with
"0x" and with whitespaces anywhere, for example:

	NewPatchHex(mem, addr, "1f 20 03 d5  c0 03 5f d6") // NOP; RET
*/
func NewPatchHex(mem Memory, addr uintptr, code string) (*Patch, error) {
	code = strings.TrimPrefix(strings.TrimSpace(code), "0x")
	code = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, code)

	buf, err := hex.DecodeString(code)
	if err != nil {
		return nil, errors.WithMessage(ErrInvalidPatch, err.Error())
	}
	return NewPatch(mem, addr, buf)
}

// Modify writes the patch.
func (p *Patch) Modify() error {
	return p.write(p.code)
}

// Restore writes back the original bytes.
func (p *Patch) Restore() error {
	return p.write(p.orig)
}

func (p *Patch) write(buf []byte) error {
	if err := p.mem.Protect(p.addr, len(buf)); err != nil {
		return protectionFailed(err)
	}
	if err := p.mem.Write(p.addr, buf); err != nil {
		return err
	}
	p.mem.FlushCache(p.addr, len(buf))
	return nil
}

// Current returns bytes currently at the patch address.
func (p *Patch) Current() ([]byte, error) {
	buf := make([]byte, len(p.code))
	err := p.mem.Read(p.addr, buf)
	return buf, err
}

func (p *Patch) Address() uintptr {
	return p.addr
}

func (p *Patch) Original() []byte {
	return p.orig
}

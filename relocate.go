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
	"fmt"

	"github.com/apex/log"
)

// fixup is a deferred patch of already emitted instruction out[at]: once the target slot
// gets its address, the offset to it in instructions is shifted and masked into out[at].
type fixup struct {
	at    int
	shift uint
	mask  uint32
}

type slot struct {
	addr    uint64 // address of relocated instruction in the output
	fixups  [maxFixups]fixup
	pending int
}

// relocator moves a window of instructions to another address.
type relocator struct {
	base, end uint64 // original window
	outBase   uint64
	out       []uint32
	slots     [WindowSize]slot
	mem       Memory // for literals being moved
	logger    log.Interface
}

// fixer recognises and re-encodes one class of PC-relative instructions.
type fixer func(r *relocator, ins uint32, pc uint64, idx int) (bool, error)

// fixers are tried in order, unrecognised instructions are copied verbatim
var fixers = []fixer{
	fixBranch,
	fixCondBranch,
	fixLoadLiteral,
	fixPCRelAddr,
}

func newRelocator(base uint64, count int, outBase uint64, mem Memory, logger log.Interface) *relocator {
	if count < 1 || count > WindowSize {
		panic(fmt.Sprintf("cannot relocate %d instructions", count))
	}
	return &relocator{
		base:    base,
		end:     base + uint64(count)*instrLength,
		outBase: outBase,
		out:     make([]uint32, 0, count*maxExpansion),
		mem:     mem,
		logger:  logger,
	}
}

/*
relocate produces the copy of <src> instructions, originally located at <base>, that
works when placed at <outBase>, followed by the jump to the first instruction after <src>.
*/
func relocate(src []uint32, base, outBase uint64, mem Memory, logger log.Interface) ([]uint32, error) {
	r := newRelocator(base, len(src), outBase, mem, logger)
	for i, ins := range src {
		if err := r.relocateOne(i, ins); err != nil {
			return nil, err
		}
	}
	r.out = appendJump(r.out, r.pc(), r.end)

	return r.out, nil
}

func (r *relocator) relocateOne(idx int, ins uint32) error {
	pc := r.base + uint64(idx)*instrLength
	r.place(idx)

	handled := false
	for _, fix := range fixers {
		ok, err := fix(r, ins, pc, idx)
		if err != nil {
			return err
		}
		if ok {
			handled = true
			break
		}
	}
	if !handled {
		r.emit(ins)
	}

	r.resolve(idx)
	return nil
}

// pc returns the address of the next instruction to emit.
func (r *relocator) pc() uint64 {
	return r.outBase + uint64(len(r.out))*instrLength
}

func (r *relocator) inWindow(addr uint64) bool {
	return addr >= r.base && addr < r.end
}

func (r *relocator) index(addr uint64) int {
	return int((addr - r.base) / instrLength)
}

// place sets the relocated address of instruction <idx> to the current output position.
func (r *relocator) place(idx int) {
	r.slots[idx].addr = r.pc()
}

func (r *relocator) emit(words ...uint32) {
	r.out = append(r.out, words...)
}

func (r *relocator) emitAddr(addr uint64) {
	r.emit(uint32(addr), uint32(addr>>32))
}

// align emits NOPs until the instruction <ahead> positions after the current one
// is aligned according to <mask>.
func (r *relocator) align(ahead int, mask uint64) {
	for (r.pc()+uint64(ahead)*instrLength)&mask != 0 {
		r.emit(NOP)
	}
}

/*
internalOffset returns the offset in instructions from the current position to the
relocated instruction at original address <target> inside the window. If that
instruction is not emitted yet, the fixup is registered and zero offset returned.
*/
func (r *relocator) internalOffset(target uint64, idx int, shift uint, mask uint32) int64 {
	ref := r.index(target)
	if ref <= idx {
		return wordOffset(r.pc(), r.slots[ref].addr)
	}
	s := &r.slots[ref]
	if s.pending == maxFixups {
		panic(fmt.Sprintf("too many references to instruction %d", ref))
	}
	s.fixups[s.pending] = fixup{at: len(r.out), shift: shift, mask: mask}
	s.pending++
	return 0
}

// resolve applies all pending fixups of the slot <idx>.
func (r *relocator) resolve(idx int) {
	s := &r.slots[idx]
	for i := 0; i < s.pending; i++ {
		f := s.fixups[i]
		offset := wordOffset(r.outBase+uint64(f.at)*instrLength, s.addr)
		r.out[f.at] |= uint32(offset<<f.shift) & f.mask
		s.fixups[i] = fixup{}
	}
	s.pending = 0
}

// readLiteral returns <size> bytes at <addr> as instructions.
func (r *relocator) readLiteral(addr uint64, size int) ([]uint32, error) {
	buf := make([]byte, size)
	if err := r.mem.Read(uintptr(addr), buf); err != nil {
		return nil, err
	}
	return bytesToWords(buf), nil
}

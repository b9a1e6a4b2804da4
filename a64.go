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

import "encoding/binary"

const (
	// WindowSize is the maximum number of instructions relocated per hook.
	WindowSize = 5
	// PoolCapacity is the number of trampolines in the process-wide pool.
	PoolCapacity = 256
	// SlotWords is the size of one trampoline in instructions.
	SlotWords = WindowSize * maxExpansion
	// SlotSize is the size of one trampoline in bytes.
	SlotSize = SlotWords * instrLength

	// NOP is the A64 no-op encoding, used as alignment filler.
	NOP = uint32(0xd503201f)

	// BranchRange is the distance in instructions from which B/BL can no longer
	// be used and an absolute jump is synthesized instead.
	BranchRange = 0x01ffffff

	instrLength  = 4
	maxFixups    = WindowSize * 2
	maxExpansion = 10 // worst case output words per relocated instruction

	opB  = uint32(0x14000000)
	opBL = uint32(0x94000000)

	ldrX17Next  = uint32(0x58000051) // LDR X17, #8
	ldrX17Third = uint32(0x58000071) // LDR X17, #12
	adrX30Ret   = uint32(0x1000009e) // ADR X30, #16
	brX17       = uint32(0xd61f0220) // BR X17
)

var byteOrder = binary.LittleEndian

// signExtend interprets the low <bits> bits of v as two's complement number.
func signExtend(v uint32, bits uint) int64 {
	shift := 64 - bits
	return int64(uint64(v)<<shift) >> shift
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// wordOffset returns the distance between two code addresses in instructions.
func wordOffset(from, to uint64) int64 {
	return (int64(to) - int64(from)) >> 2
}

func encodeB(from, to uint64) uint32 {
	return opB | uint32(wordOffset(from, to))&0x03ffffff
}

// appendJump appends the shortest jump from <pc> to <target>: a single B when the
// target is in range, otherwise LDR X17 / BR X17 with the absolute address placed
// right after, preceded by NOP if the address would not be 8-byte aligned.
func appendJump(code []uint32, pc, target uint64) []uint32 {
	if abs(wordOffset(pc, target)) < BranchRange {
		return append(code, encodeB(pc, target))
	}
	if (pc+8)&7 != 0 {
		code = append(code, NOP)
	}
	return append(code, ldrX17Next, brX17, uint32(target), uint32(target>>32))
}

// jumpLength returns number of instructions appendJump produces.
func jumpLength(pc, target uint64) int {
	return len(appendJump(nil, pc, target))
}

func wordsToBytes(words []uint32) []byte {
	buf := make([]byte, len(words)*instrLength)
	for i, w := range words {
		byteOrder.PutUint32(buf[i*instrLength:], w)
	}
	return buf
}

func bytesToWords(buf []byte) []uint32 {
	words := make([]uint32, len(buf)/instrLength)
	for i := range words {
		words[i] = byteOrder.Uint32(buf[i*instrLength:])
	}
	return words
}

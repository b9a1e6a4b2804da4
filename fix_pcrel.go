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

import "github.com/apex/log"

const (
	maskPCRel = uint32(0x9f000000)
	opADR     = uint32(0x10000000)
	opADRP    = uint32(0x90000000)

	ldrXdNext  = uint32(0x58000040) // LDR Xd, #8
	immhiMask  = uint32(0x00ffffe0)
	regMask    = uint32(0x0000001f)
	immloShift = 29
)

// adrImm decodes the signed 21-bit immediate of ADR/ADRP.
func adrImm(ins uint32) int64 {
	immlo := (ins >> immloShift) & 3
	immhi := (ins & immhiMask) >> immShift
	return signExtend(immhi<<2|immlo, 21)
}

func encodeADR(ins uint32, offset int64) uint32 {
	return ins&(maskPCRel|regMask) |
		(uint32(offset)&3)<<immloShift |
		(uint32(offset>>2)<<immShift)&immhiMask
}

/*
fixPCRelAddr relocates ADR and ADRP. ADR into the window is re-encoded to point into the
relocated code, anything else is replaced with the absolute value:

	LDR   Xd, #8
	B     #12
	.quad value

ADRP pointing to the page inside the window is not modelled: its value is still the
original page address.
*/
func fixPCRelAddr(r *relocator, ins uint32, pc uint64, idx int) (bool, error) {
	var target uint64
	switch ins & maskPCRel {
	case opADR:
		target = pc + uint64(adrImm(ins))
		if r.inWindow(target) {
			// immlo keeps the byte within instruction, immhi is the offset in instructions
			offset := r.internalOffset(target, idx, immShift, immhiMask)<<2 | int64(target&3)
			r.emit(encodeADR(ins, offset))
			return true, nil
		}
	case opADRP:
		target = pc&^0xfff + uint64(adrImm(ins)<<12)
		if r.inWindow(target) {
			r.logger.WithFields(log.Fields{
				"pc":     hexAddr(pc),
				"ins":    hexWord(ins),
				"target": hexAddr(target),
			}).Warn("ADRP pointing to hook region is not fully supported")
		}
	default:
		return false, nil
	}

	r.align(2, 7)
	r.place(idx)
	r.emit(ldrXdNext|ins&regMask, opB|3)
	r.emitAddr(target)
	return true, nil
}

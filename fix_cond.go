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

import "math/bits"

const (
	condMask    = uint32(0xff000010) // B.cond
	opBCond     = uint32(0x54000000)
	cmpTestMask = uint32(0x7f000000) // CBZ/CBNZ/TBZ/TBNZ
	opCBZ       = uint32(0x34000000)
	opCBNZ      = uint32(0x35000000)
	opTBZ       = uint32(0x36000000)
	opTBNZ      = uint32(0x37000000)

	keepImm19 = uint32(0xff00001f) // bits outside of imm19 at 5..23
	keepImm14 = uint32(0xfff8001f) // bits outside of imm14 at 5..18

	immShift = 5
)

/*
fixCondBranch relocates B.cond, CBZ/CBNZ and TBZ/TBNZ. For far targets the condition
is kept, but it jumps over the unconditional branch into the absolute jump:

	<cond> #8
	B      #20
	LDR    X17, #8
	BR     X17
	.quad  target
*/
func fixCondBranch(r *relocator, ins uint32, pc uint64, idx int) (bool, error) {
	keep := keepImm19
	if ins&condMask != opBCond {
		switch ins & cmpTestMask {
		case opCBZ, opCBNZ:
		case opTBZ, opTBNZ:
			keep = keepImm14
		default:
			return false, nil
		}
	}
	imm := ^keep

	msb := bits.LeadingZeros32(imm)
	target := pc + uint64(int64(int32((ins&imm)<<msb)>>(immShift-2+msb)))
	offset := wordOffset(r.pc(), target)
	internal := r.inWindow(target)

	if !internal && abs(offset) >= int64(imm>>(immShift+1)) {
		r.align(4, 7)
		r.place(idx)
		r.emit(
			(2<<immShift)&imm|ins&keep,
			opB|5,
			ldrX17Next,
			brX17,
		)
		r.emitAddr(target)
		return true, nil
	}

	if internal {
		offset = r.internalOffset(target, idx, immShift, imm)
	}
	r.emit(uint32(offset<<immShift)&imm | ins&keep)
	return true, nil
}

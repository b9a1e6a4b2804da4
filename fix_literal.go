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

const (
	maskLDR   = uint32(0xbf000000) // LDR Wt/Xt, literal
	opLDR     = uint32(0x18000000)
	maskLDRV  = uint32(0x3f000000) // LDR St/Dt/Qt, literal
	opLDRV    = uint32(0x1c000000)
	maskLDRSW = uint32(0xff000000) // LDRSW, literal
	opLDRSW   = uint32(0x98000000)
	opPRFM    = uint32(0xd8000000) // PRFM, literal

	literalRange = int64(^keepImm19 >> (immShift + 1))
)

// literalSize returns the size of the value loaded by literal load, or 0 if <ins>
// is not a literal load.
func literalSize(ins uint32) int {
	switch {
	case ins&maskLDR == opLDR:
		if ins&(1<<30) != 0 {
			return 8
		}
		return 4
	case ins&maskLDRV == opLDRV:
		switch ins >> 30 {
		case 0:
			return 4
		case 1:
			return 8
		case 2:
			return 16
		}
	case ins&maskLDRSW == opLDRSW:
		return 4
	}
	return 0
}

/*
fixLoadLiteral relocates PC-relative literal loads. When the literal is too far or
it is inside the window, the value is copied next to the load:

	LDR   <Rt>, #8
	B     over
	.data <literal, aligned to its size>

Prefetch hints are dropped.
*/
func fixLoadLiteral(r *relocator, ins uint32, pc uint64, idx int) (bool, error) {
	if ins&maskLDRSW == opPRFM {
		return true, nil
	}

	size := literalSize(ins)
	if size == 0 {
		return false, nil
	}

	target := pc + uint64(signExtend((ins&^keepImm19)>>immShift, 19)<<2)
	offset := wordOffset(r.pc(), target)

	if r.inWindow(target) || abs(offset)+int64((size-instrLength)/instrLength) >= literalRange {
		r.align(2, uint64(size-1))
		r.place(idx)

		literal, err := r.readLiteral(target, size)
		if err != nil {
			return false, err
		}
		r.emit(
			2<<immShift|ins&keepImm19,
			opB|uint32(1+len(literal)),
		)
		r.emit(literal...)
		return true, nil
	}

	r.emit(uint32(offset<<immShift)&^keepImm19 | ins&keepImm19)
	return true, nil
}

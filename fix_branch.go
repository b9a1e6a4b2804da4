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

/*
fixBranch relocates B and BL, which have signed 26-bit offset in instructions.
Far targets get absolute jump via X17, BL additionally sets X30 to return right after
the embedded address.
*/
func fixBranch(r *relocator, ins uint32, pc uint64, idx int) (bool, error) {
	const immMask = uint32(0x03ffffff)

	op := ins &^ immMask
	if op != opB && op != opBL {
		return false, nil
	}

	target := pc + uint64(signExtend(ins&immMask, 26)<<2)
	offset := wordOffset(r.pc(), target)
	internal := r.inWindow(target)

	if !internal && abs(offset) >= BranchRange {
		if op == opB {
			r.align(2, 7)
			r.place(idx)
			r.emit(ldrX17Next, brX17)
		} else {
			r.align(3, 7)
			r.place(idx)
			r.emit(ldrX17Third, adrX30Ret, brX17)
		}
		r.emitAddr(target)
		return true, nil
	}

	if internal {
		offset = r.internalOffset(target, idx, 0, immMask)
	}
	r.emit(op | uint32(offset)&immMask)
	return true, nil
}

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

	"golang.org/x/arch/arm64/arm64asm"
)

/*
Disassemble renders A64 <code> located at <pc>, one line per instruction:

	0x7f00001000:  58000051  ldr x17, .+0x8

Words that are not valid instructions, such as embedded addresses, are shown as data.
*/
func Disassemble(code []byte, pc uint64) []string {
	lines := make([]string, 0, len(code)/instrLength)
	for pos := 0; pos+instrLength <= len(code); pos += instrLength {
		word := byteOrder.Uint32(code[pos:])
		text := ".word"
		if inst, err := arm64asm.Decode(code[pos:]); err == nil {
			text = inst.String()
		}
		lines = append(lines, fmt.Sprintf("%#x:  %08x  %s", pc+uint64(pos), word, text))
	}
	return lines
}

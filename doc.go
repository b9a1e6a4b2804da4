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

/*
Package a64hook installs inline hooks into AArch64 code of the running process: it
redirects function to a replacement, and generates trampoline that allows to call
the original function.

# Platforms supported

This package modifies actual code at runtime, therefore is OS- and CPU arch-specific.
Generated code is AArch64 (A64) only, Thumb/A32 are not supported.

Supported OSes:

  - Linux, including Android
  - FreeBSD (other BSD flavours should also be ok)
  - Windows

On other archs the package can be built, but only with [BufferMemory] as simulated
address space, which is useful for dry runs. [Init] returns [ErrUnsupported] there.

# The concept

Hook overwrites the first instructions of the target function with the jump to replacement.
Single B instruction is used if replacement is within ±128MB, otherwise absolute jump of
4 or 5 instructions:

	NOP             ; only if needed to align the address below
	LDR   X17, #8
	BR    X17
	.quad replacement

Overwritten instructions are relocated into the trampoline, followed by the jump back to
the rest of the function. Relocation fixes PC-relative instructions - B, BL, B.cond, CBZ,
CBNZ, TBZ, TBNZ, LDR (literal), LDRSW (literal), ADR and ADRP, expanding them to longer
sequences when original encoding cannot reach the target from the new location.
Branches between the relocated instructions are kept pointing to the relocated copies.

Trampolines are taken from the process-wide pool of [PoolCapacity] slots. Slots are
never released, as hooks cannot be removed.

Typical use:

	engine, err := a64hook.Init()
	if err != nil {
	    ...
	}
	trampoline, err := engine.Install(targetAddr, replacementAddr)

or, for Go functions:

	origFoo, err = a64hook.Hook(engine, foo, fooReplacement)

# Limitations

ADRP pointing to the page inside the relocated instructions is replaced with the original
page address, not the relocated one, and warning is logged.
It is caller's responsibility not to hook overlapping code from several goroutines at once.
*/
package a64hook

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

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package a64hook

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// NativeMemory is the address space of the current process.
type NativeMemory struct{}

func (NativeMemory) Protect(addr uintptr, size int) error {
	start, sz := calcBoundaries(unsafe.Pointer(addr), size)

	page := unsafe.Slice((*uint8)(start), sz)
	return errors.Wrap(unix.Mprotect(page, unix.PROT_WRITE|unix.PROT_READ|unix.PROT_EXEC), "mprotect")
}

func (NativeMemory) Read(addr uintptr, buf []byte) error {
	copy(buf, unsafe.Slice((*uint8)(unsafe.Pointer(addr)), len(buf)))
	return nil
}

func (NativeMemory) Write(addr uintptr, data []byte) error {
	copy(unsafe.Slice((*uint8)(unsafe.Pointer(addr)), len(data)), data)
	return nil
}

func (NativeMemory) FlushCache(addr uintptr, size int) {
	flushCache(addr, size) // arch-specific
}

func calcBoundaries(ptr unsafe.Pointer, size int) (unsafe.Pointer, uintptr) {
	pageSize := uintptr(os.Getpagesize())
	areaStart := unsafe.Pointer(uintptr(ptr) &^ (pageSize - 1))
	areaSize := (uintptr(ptr) + uintptr(size)) - uintptr(areaStart)

	return areaStart, areaSize
}

// allocArena maps anonymous memory for the trampoline pool. It is made executable
// separately, with [Memory.Protect].
func allocArena(size int) (uintptr, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, errors.Wrap(err, "mmap")
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(data))), nil
}

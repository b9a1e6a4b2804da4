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
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// NativeMemory is the address space of the current process.
type NativeMemory struct{}

func (NativeMemory) Protect(addr uintptr, size int) error {
	var oldPerms uint32
	return errors.Wrap(windows.VirtualProtect(
		addr,
		uintptr(size),
		windows.PAGE_EXECUTE_READWRITE,
		&oldPerms), "VirtualProtect")
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

func allocArena(size int) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	return addr, errors.Wrap(err, "VirtualAlloc")
}

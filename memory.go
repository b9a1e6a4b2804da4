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
	"sort"

	"github.com/pkg/errors"
)

var ErrOutOfRange = errors.New("address range is not mapped")

/*
Memory is an access to the code of some address space. [NativeMemory] operates on the
current process, [BufferMemory] simulates an address space with plain byte slices.

Protect must make the range readable, writable and executable, and it must succeed before
any byte of the range is written. FlushCache must be called after every write to the code
that can be fetched by any CPU core.
*/
type Memory interface {
	Protect(addr uintptr, size int) error
	Read(addr uintptr, buf []byte) error
	Write(addr uintptr, data []byte) error
	FlushCache(addr uintptr, size int)
}

type region struct {
	base uintptr
	data []byte
}

// BufferMemory is a simulated address space, made of non-overlapping regions.
// It is used for dry runs and in tests.
type BufferMemory struct {
	regions []region
}

// NewBufferMemory returns empty address space, use [BufferMemory.Map] to populate it.
func NewBufferMemory() *BufferMemory {
	return &BufferMemory{}
}

// Map creates zero-filled region of <size> bytes at <addr> and returns its backing slice.
func (m *BufferMemory) Map(addr uintptr, size int) []byte {
	r := region{base: addr, data: make([]byte, size)}
	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].base < m.regions[j].base })
	return r.data
}

// MapWords maps region at <addr> and fills it with instructions.
func (m *BufferMemory) MapWords(addr uintptr, words ...uint32) []byte {
	data := m.Map(addr, len(words)*instrLength)
	copy(data, wordsToBytes(words))
	return data
}

func (m *BufferMemory) find(addr uintptr, size int) ([]byte, error) {
	for _, r := range m.regions {
		if addr >= r.base && addr+uintptr(size) <= r.base+uintptr(len(r.data)) {
			off := addr - r.base
			return r.data[off : off+uintptr(size)], nil
		}
	}
	return nil, errors.WithMessagef(ErrOutOfRange, "%#x+%d", addr, size)
}

func (m *BufferMemory) Protect(addr uintptr, size int) error {
	_, err := m.find(addr, size)
	return err
}

func (m *BufferMemory) Read(addr uintptr, buf []byte) error {
	src, err := m.find(addr, len(buf))
	if err != nil {
		return err
	}
	copy(buf, src)
	return nil
}

func (m *BufferMemory) Write(addr uintptr, data []byte) error {
	dst, err := m.find(addr, len(data))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func (m *BufferMemory) FlushCache(uintptr, int) {}

// Words reads <n> instructions at <addr>.
func (m *BufferMemory) Words(addr uintptr, n int) ([]uint32, error) {
	buf := make([]byte, n*instrLength)
	if err := m.Read(addr, buf); err != nil {
		return nil, err
	}
	return bytesToWords(buf), nil
}

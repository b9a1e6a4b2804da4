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
	"sync"
	"sync/atomic"
)

/*
Pool is an arena of fixed-size trampoline buffers. Buffers are handed out one by one
and never returned, each buffer is given to at most one caller.
Allocate is safe for concurrent use.
*/
type Pool struct {
	base     uintptr
	capacity int32
	index    atomic.Int32 // last allocated slot, -1 if none
}

// NewPool creates a pool of <capacity> slots of [SlotSize] bytes each, starting at <base>.
// The memory at <base> must already be writable and executable.
func NewPool(base uintptr, capacity int) *Pool {
	p := &Pool{base: base, capacity: int32(capacity)}
	p.index.Store(-1)
	return p
}

// Allocate returns the address of the next free trampoline, or false if pool is exhausted.
func (p *Pool) Allocate() (uintptr, bool) {
	for {
		idx := p.index.Load()
		if idx >= p.capacity-1 {
			return 0, false
		}
		if p.index.CompareAndSwap(idx, idx+1) {
			return p.base + uintptr(idx+1)*SlotSize, true
		}
	}
}

// Remaining returns the number of slots not allocated yet.
func (p *Pool) Remaining() int {
	return int(p.capacity - 1 - p.index.Load())
}

var processPool struct {
	once sync.Once
	pool *Pool
	err  error
}

/*
InitPool creates the process-wide trampoline pool of [PoolCapacity] slots and makes it
executable. It is safe to call it more than once, subsequent calls return the same pool.
*/
func InitPool(mem Memory) (*Pool, error) {
	processPool.once.Do(func() {
		size := PoolCapacity * SlotSize
		base, err := allocArena(size) // OS-specific
		if err != nil {
			processPool.err = err
			return
		}
		if err = mem.Protect(base, size); err != nil {
			processPool.err = protectionFailed(err)
			return
		}
		processPool.pool = NewPool(base, PoolCapacity)
	})
	return processPool.pool, processPool.err
}

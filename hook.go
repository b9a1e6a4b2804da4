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
	"runtime"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

var (
	ErrAlignment      = errors.New("target address is not 4-byte aligned")
	ErrPoolExhausted  = errors.New("trampoline pool is exhausted")
	ErrBufferTooSmall = errors.New("trampoline buffer is too small")
	ErrProtection     = errors.New("cannot make code writable")
	ErrUnsupported    = errors.New("native hooking is supported on arm64 only")
)

// protectionError is ErrProtection caused by the error of the memory layer.
type protectionError struct {
	cause error
}

func (e *protectionError) Error() string {
	return ErrProtection.Error() + ": " + e.cause.Error()
}

func (e *protectionError) Is(target error) bool {
	return target == ErrProtection
}

func (e *protectionError) Unwrap() error {
	return e.cause
}

func (e *protectionError) Cause() error {
	return e.cause
}

func protectionFailed(err error) error {
	return &protectionError{cause: err}
}

// Engine installs inline hooks. It is not safe to hook overlapping code from
// different goroutines at the same time.
type Engine struct {
	mem    Memory
	pool   *Pool
	logger log.Interface
}

/*
NewEngine returns the engine that operates on <mem> and takes trampolines from <pool>.
Pool may be nil if only [Engine.InstallWithBuffer] is used. If <logger> is nil,
the apex/log default logger is used.
*/
func NewEngine(mem Memory, pool *Pool, logger log.Interface) *Engine {
	if logger == nil {
		logger = log.Log
	}
	return &Engine{mem: mem, pool: pool, logger: logger}
}

/*
Init returns the engine for the current process, with the process-wide trampoline pool.
See [InitPool].
*/
func Init() (*Engine, error) {
	if runtime.GOARCH != "arm64" {
		return nil, errors.WithMessage(ErrUnsupported, runtime.GOARCH)
	}
	mem := NativeMemory{}
	pool, err := InitPool(mem)
	if err != nil {
		return nil, err
	}
	log.WithField("size", PoolCapacity*SlotSize).Debug("trampoline pool initialised")
	return NewEngine(mem, pool, nil), nil
}

/*
Install redirects function at <target> to <replacement> and returns the address of the
trampoline, that behaves as original function. The trampoline is taken from the pool,
pool slot is never released, even if hooking fails.
*/
func (e *Engine) Install(target, replacement uintptr) (uintptr, error) {
	if err := e.checkAlignment(target); err != nil {
		return 0, err
	}
	if e.pool == nil {
		return 0, ErrPoolExhausted
	}
	trampoline, ok := e.pool.Allocate()
	if !ok {
		e.logger.WithField("capacity", e.pool.capacity).Error("no trampolines left")
		return 0, ErrPoolExhausted
	}

	return e.InstallWithBuffer(target, replacement, trampoline, SlotSize)
}

/*
InstallWithBuffer is like [Engine.Install], but the trampoline is written to caller-supplied
buffer at <buf> of <size> bytes, which must be writable and executable.
Buffer must fit 10 instructions per every relocated one, that is [SlotSize] bytes
in the worst case. The buffer is checked against the actual trampoline too, so it
is never written past <size>.

Target code is modified only when everything else succeeded, on error it is left intact.
*/
func (e *Engine) InstallWithBuffer(target, replacement, buf uintptr, size int) (uintptr, error) {
	if err := e.checkAlignment(target); err != nil {
		return 0, err
	}

	jump := appendJump(nil, uint64(target), uint64(replacement))
	count := len(jump) // every overwritten instruction has to be relocated
	if size < count*maxExpansion*instrLength {
		e.logger.WithFields(log.Fields{
			"size":     size,
			"required": count * maxExpansion * instrLength,
		}).Error("trampoline buffer is too small")
		return 0, errors.WithMessagef(ErrBufferTooSmall, "%d bytes for %d instructions", size, count)
	}

	// code may be execute-only, so it is unlocked before reading
	patch := wordsToBytes(jump)
	if err := e.mem.Protect(target, len(patch)); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"target": hexAddr(uint64(target)),
			"size":   len(patch),
		}).Error("cannot make target writable")
		return 0, protectionFailed(err)
	}

	prologue := make([]byte, count*instrLength)
	if err := e.mem.Read(target, prologue); err != nil {
		return 0, err
	}
	code, err := relocate(bytesToWords(prologue), uint64(target), uint64(buf), e.mem, e.logger)
	if err != nil {
		return 0, err
	}
	trampoline := wordsToBytes(code)
	if len(trampoline) > size {
		e.logger.WithFields(log.Fields{
			"size":     size,
			"required": len(trampoline),
		}).Error("trampoline does not fit the buffer")
		return 0, errors.WithMessagef(ErrBufferTooSmall, "%d bytes, %d required", size, len(trampoline))
	}
	if err = e.commit(buf, trampoline); err != nil {
		return 0, err
	}
	for _, line := range Disassemble(trampoline, uint64(buf)) {
		e.logger.Debug(line)
	}

	if err = e.commit(target, patch); err != nil {
		return 0, err
	}

	e.logger.WithFields(log.Fields{
		"target":      hexAddr(uint64(target)),
		"replacement": hexAddr(uint64(replacement)),
		"trampoline":  hexAddr(uint64(buf)),
		"overwritten": len(patch),
	}).Info("inline hook installed")

	return buf, nil
}

func (e *Engine) checkAlignment(target uintptr) error {
	if target%instrLength != 0 {
		e.logger.WithField("target", hexAddr(uint64(target))).Error("target is not aligned")
		return errors.WithMessagef(ErrAlignment, "%#x", target)
	}
	return nil
}

func (e *Engine) commit(addr uintptr, code []byte) error {
	if err := e.mem.Write(addr, code); err != nil {
		return err
	}
	e.mem.FlushCache(addr, len(code))
	return nil
}

func hexAddr(addr uint64) string {
	return fmt.Sprintf("%#x", addr)
}

func hexWord(ins uint32) string {
	return fmt.Sprintf("%08x", ins)
}

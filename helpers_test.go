package a64hook

import (
	"fmt"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/arm64/arm64asm"
)

const (
	testBase = uint64(0x10000000)
	farAway  = uint64(0x7f0000000000) // out of reach of any PC-relative encoding
)

// countingMemory records every access to the code.
type countingMemory struct {
	*BufferMemory
	protects, writes, flushes int
	protectErr                error
	ops                       []string
}

func newCountingMemory() *countingMemory {
	return &countingMemory{BufferMemory: NewBufferMemory()}
}

func (m *countingMemory) Protect(addr uintptr, size int) error {
	m.protects++
	m.ops = append(m.ops, fmt.Sprintf("protect %#x", addr))
	if m.protectErr != nil {
		return m.protectErr
	}
	return m.BufferMemory.Protect(addr, size)
}

func (m *countingMemory) Write(addr uintptr, data []byte) error {
	m.writes++
	m.ops = append(m.ops, fmt.Sprintf("write %#x", addr))
	return m.BufferMemory.Write(addr, data)
}

func (m *countingMemory) Read(addr uintptr, buf []byte) error {
	m.ops = append(m.ops, fmt.Sprintf("read %#x", addr))
	return m.BufferMemory.Read(addr, buf)
}

func (m *countingMemory) FlushCache(addr uintptr, size int) {
	m.flushes++
}

func testLogger() (*log.Logger, *memory.Handler) {
	h := memory.New()
	return &log.Logger{Handler: h, Level: log.DebugLevel}, h
}

// pcRelTarget decodes <word> at <pc> and returns the address its PC-relative operand refers to.
func pcRelTarget(t *testing.T, word uint32, pc uint64) uint64 {
	t.Helper()
	inst, err := arm64asm.Decode(wordsToBytes([]uint32{word}))
	require.NoError(t, err, "decoding %08x", word)
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if rel, ok := arg.(arm64asm.PCRel); ok {
			return pc + uint64(int64(rel))
		}
	}
	require.Failf(t, "no PC-relative operand", "%08x: %v", word, inst)
	return 0
}

// literalAt returns the 64-bit value embedded at code[i:i+2].
func literalAt(code []uint32, i int) uint64 {
	return uint64(code[i]) | uint64(code[i+1])<<32
}

// encB returns B from <pc> to <target>.
func encB(pc, target uint64) uint32 {
	return opB | uint32((int64(target)-int64(pc))>>2)&0x03ffffff
}

// imm19 encodes offset in instructions as 19-bit immediate.
func imm19(words int32) uint32 {
	return uint32(words) & 0x7ffff
}

func runRelocation(t *testing.T, mem Memory, src []uint32, base, outBase uint64) []uint32 {
	t.Helper()
	logger, _ := testLogger()
	code, err := relocate(src, base, outBase, mem, logger)
	require.NoError(t, err)
	return code
}

package a64hook

import (
	"testing"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const poolBase = uintptr(testBase + 0x100000)

func newTestEngine(t *testing.T, capacity int) (*Engine, *countingMemory, *Pool) {
	t.Helper()
	mem := newCountingMemory()
	mem.Map(poolBase, capacity*SlotSize)
	pool := NewPool(poolBase, capacity)
	logger, _ := testLogger()
	return NewEngine(mem, pool, logger), mem, pool
}

func testFunction(target uintptr) []uint32 {
	return []uint32{
		encB(uint64(target), uint64(target)+0x800),
		insADD,
		insLDRX0,
		insMOV,
		insRET,
	}
}

func TestInstallUnaligned(t *testing.T) {
	engine, mem, pool := newTestEngine(t, 4)
	target := uintptr(testBase)
	mem.MapWords(target, testFunction(target)...)

	_, err := engine.Install(target+2, target+0x1000)
	assert.True(t, errors.Is(err, ErrAlignment))

	_, err = engine.InstallWithBuffer(target+1, target+0x1000, poolBase, SlotSize)
	assert.True(t, errors.Is(err, ErrAlignment))

	assert.Zero(t, mem.protects)
	assert.Zero(t, mem.writes)
	assert.Zero(t, mem.flushes)
	assert.Equal(t, 4, pool.Remaining(), "no trampoline must be taken")
}

func TestInstallShort(t *testing.T) {
	engine, mem, _ := newTestEngine(t, 4)
	target := uintptr(testBase)
	replacement := target + 0x4000
	fn := testFunction(target)
	mem.MapWords(target, fn...)

	trampoline, err := engine.Install(target, replacement)
	require.NoError(t, err)
	assert.Equal(t, poolBase, trampoline)
	assert.Equal(t, []string{
		"protect 0x10000000", // before read, code may be execute-only
		"read 0x10000000",
		"write 0x10100000",
		"write 0x10000000",
	}, mem.ops)

	patched, err := mem.Words(target, len(fn))
	require.NoError(t, err)
	assert.Equal(t, uint64(replacement), pcRelTarget(t, patched[0], uint64(target)))
	assert.Equal(t, fn[1:], patched[1:], "only one instruction must be overwritten")

	code, err := mem.Words(trampoline, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(target)+0x800, pcRelTarget(t, code[0], uint64(trampoline)))
	assert.Equal(t, uint64(target)+4, pcRelTarget(t, code[1], uint64(trampoline)+4))

	assert.Equal(t, 1, mem.protects)
	assert.Equal(t, 2, mem.writes)
	assert.Equal(t, 2, mem.flushes)
}

func TestInstallLong(t *testing.T) {
	for _, tc := range []struct {
		name   string
		target uintptr
		jump   []uint32
	}{
		{"aligned", uintptr(testBase), []uint32{ldrX17Next, brX17}},
		{"unaligned", uintptr(testBase + 4), []uint32{NOP, ldrX17Next, brX17}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			engine, mem, _ := newTestEngine(t, 4)
			replacement := tc.target + 0x10000000 // 256MB is beyond B range
			fn := testFunction(tc.target)
			mem.MapWords(tc.target, fn...)

			trampoline, err := engine.Install(tc.target, replacement)
			require.NoError(t, err)

			count := len(tc.jump) + 2
			patched, err := mem.Words(tc.target, count)
			require.NoError(t, err)
			assert.Equal(t, tc.jump, patched[:len(tc.jump)])
			assert.Equal(t, uint64(replacement), literalAt(patched, len(tc.jump)))
			assert.Zero(t, (tc.target+uintptr(len(tc.jump))*4)%8)

			code, err := mem.Words(trampoline, count+1)
			require.NoError(t, err)
			assert.Equal(t, uint64(tc.target)+0x800, pcRelTarget(t, code[0], uint64(trampoline)))
			assert.Equal(t, fn[1:count], code[1:count])
			assert.Equal(t, uint64(tc.target)+uint64(count)*4, pcRelTarget(t, code[count], uint64(trampoline)+uint64(count)*4))
		})
	}
}

func TestInstallWithBufferTooSmall(t *testing.T) {
	engine, mem, _ := newTestEngine(t, 1)
	target := uintptr(testBase)
	mem.MapWords(target, testFunction(target)...)

	_, err := engine.InstallWithBuffer(target, target+0x1000, poolBase, maxExpansion*4-1)
	assert.True(t, errors.Is(err, ErrBufferTooSmall))

	// long jump needs room for 4 instructions
	_, err = engine.InstallWithBuffer(target, target+0x10000000, poolBase, maxExpansion*4)
	assert.True(t, errors.Is(err, ErrBufferTooSmall))

	assert.Zero(t, mem.writes)

	_, err = engine.InstallWithBuffer(target, target+0x1000, poolBase, maxExpansion*4)
	assert.NoError(t, err)
}

func TestInstallProtectionError(t *testing.T) {
	engine, mem, _ := newTestEngine(t, 1)
	target := uintptr(testBase)
	fn := testFunction(target)
	mem.MapWords(target, fn...)
	denied := errors.New("permission denied")
	mem.protectErr = denied

	_, err := engine.Install(target, target+0x10000000)
	assert.True(t, errors.Is(err, ErrProtection))
	assert.True(t, errors.Is(err, denied), "cause must be kept")
	assert.Equal(t, denied, errors.Cause(err))
	assert.Zero(t, mem.writes)

	code, err := mem.Words(target, len(fn))
	require.NoError(t, err)
	assert.Equal(t, fn, code, "target must be left intact")
}

func TestInstallPoolExhausted(t *testing.T) {
	engine, mem, _ := newTestEngine(t, 1)
	first := uintptr(testBase)
	second := first + 0x100
	mem.MapWords(first, testFunction(first)...)
	mem.MapWords(second, testFunction(second)...)

	_, err := engine.Install(first, first+0x1000)
	require.NoError(t, err)

	writes := mem.writes
	_, err = engine.Install(second, second+0x1000)
	assert.True(t, errors.Is(err, ErrPoolExhausted))
	assert.Equal(t, writes, mem.writes)
}

func TestInstallNoPool(t *testing.T) {
	logger, _ := testLogger()
	engine := NewEngine(NewBufferMemory(), nil, logger)

	_, err := engine.Install(uintptr(testBase), uintptr(testBase)+0x1000)
	assert.True(t, errors.Is(err, ErrPoolExhausted))
}

func TestInstallUnmappedTarget(t *testing.T) {
	engine, mem, _ := newTestEngine(t, 1)

	_, err := engine.Install(uintptr(testBase), uintptr(testBase)+0x1000)
	assert.True(t, errors.Is(err, ErrProtection))
	assert.True(t, errors.Is(err, ErrOutOfRange))
	assert.Zero(t, mem.writes)
}

func TestInstallWithBufferUnalignedLogged(t *testing.T) {
	logger, handler := testLogger()
	engine := NewEngine(NewBufferMemory(), nil, logger)

	_, err := engine.InstallWithBuffer(uintptr(testBase)+2, uintptr(testBase)+0x1000, poolBase, SlotSize)
	assert.True(t, errors.Is(err, ErrAlignment))
	require.Len(t, handler.Entries, 1)
	assert.Equal(t, log.ErrorLevel, handler.Entries[0].Level)
	assert.Equal(t, "0x10000002", handler.Entries[0].Fields.Get("target"))
}

// Far buffer needs alignment NOPs and the long jump back, so the trampoline can exceed
// 10 words for the single relocated instruction.
func TestInstallWithBufferOverflow(t *testing.T) {
	const target = uintptr(0x7e0000001000)

	for _, tc := range []struct {
		name     string
		ins      uint32
		buf      uintptr
		required int
	}{
		// NOP, cbz #8, b, ldr, br, .quad, then ldr/br/.quad back
		{"cbz", 0xb4000200, uintptr(farAway) + 4, 44}, // cbz x0, #0x40
		// 3 NOPs, ldr #8, b, 16-byte literal, then ldr/br/.quad back
		{"ldr q", 0x9c000200, uintptr(farAway) + 12, 52}, // ldr q0, #0x40
	} {
		t.Run(tc.name, func(t *testing.T) {
			mem := newCountingMemory()
			fn := make([]uint32, 0x20)
			fn[0] = tc.ins
			fn[16], fn[17], fn[18], fn[19] = 0x11111111, 0x22222222, 0x33333333, 0x44444444
			mem.MapWords(target, fn...)
			buf := mem.Map(tc.buf, 64)
			logger, _ := testLogger()
			engine := NewEngine(mem, nil, logger)

			_, err := engine.InstallWithBuffer(target, target+0x1000, tc.buf, maxExpansion*instrLength)
			assert.True(t, errors.Is(err, ErrBufferTooSmall))
			assert.Zero(t, mem.writes)
			assert.Equal(t, make([]byte, 64), buf)

			code, err := mem.Words(target, 1)
			require.NoError(t, err)
			assert.Equal(t, tc.ins, code[0], "target must be left intact")

			_, err = engine.InstallWithBuffer(target, target+0x1000, tc.buf, tc.required)
			require.NoError(t, err)
			assert.Equal(t, make([]byte, len(buf)-tc.required), buf[tc.required:], "nothing written past the trampoline")
			assert.Equal(t, uint32(target>>32), byteOrder.Uint32(buf[tc.required-4:]), "jump back ends the trampoline")
		})
	}
}

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

// Command a64hook helps to prepare inline hooks: it shows how the hook of the given code
// would look like and finds library base addresses in running processes.
//
//	a64hook plan -target 0x7f00001000 -replacement 0x7f80000000 -trampoline 0x7f00100000 \
//	    f81f0ffe 14000010 d503201f aa0003e1 d65f03c0
//	a64hook maps -pid 1234 -lib libil2cpp.so
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/qrdl/a64hook"
)

var (
	title = color.New(color.FgCyan, color.Bold)
	warn  = color.New(color.FgYellow)
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s plan|maps [options]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	log.SetHandler(cli.New(os.Stderr))

	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "plan":
		err = plan(os.Args[2:])
	case "maps":
		err = maps(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.WithError(err).Fatal(os.Args[1])
	}
}

func parseAddr(s string) (uintptr, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	return uintptr(v), err
}

func plan(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	target := fs.String("target", "0x7f00001000", "address of the first instruction")
	replacement := fs.String("replacement", "0x7f80000000", "address of the replacement function")
	trampoline := fs.String("trampoline", "0x7f00100000", "address of the trampoline")
	verbose := fs.Bool("v", false, "log trampoline disassembly")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	code := make([]uint32, 0, fs.NArg())
	for _, arg := range fs.Args() {
		word, err := strconv.ParseUint(arg, 16, 32)
		if err != nil {
			return errors.Wrapf(err, "invalid instruction %q", arg)
		}
		code = append(code, uint32(word))
	}
	if len(code) < a64hook.WindowSize {
		warn.Fprintf(os.Stderr, "%d instruction(s) given, long jump may need up to %d\n", len(code), a64hook.WindowSize)
	}

	targetAddr, err := parseAddr(*target)
	if err != nil {
		return err
	}
	replacementAddr, err := parseAddr(*replacement)
	if err != nil {
		return err
	}
	trampolineAddr, err := parseAddr(*trampoline)
	if err != nil {
		return err
	}

	mem := a64hook.NewBufferMemory()
	mem.MapWords(targetAddr, code...)
	tramp := mem.Map(trampolineAddr, a64hook.SlotSize)

	engine := a64hook.NewEngine(mem, nil, log.Log)
	if _, err = engine.InstallWithBuffer(targetAddr, replacementAddr, trampolineAddr, a64hook.SlotSize); err != nil {
		return err
	}

	patched := make([]byte, len(code)*4)
	if err = mem.Read(targetAddr, patched); err != nil {
		return err
	}
	title.Println("target:")
	for _, line := range a64hook.Disassemble(patched, uint64(targetAddr)) {
		fmt.Println("  " + line)
	}
	title.Println("trampoline:")
	for _, line := range a64hook.Disassemble(trimZeros(tramp), uint64(trampolineAddr)) {
		fmt.Println("  " + line)
	}

	return nil
}

// trimZeros cuts the unused tail of the trampoline
func trimZeros(buf []byte) []byte {
	end := len(buf)
	for end >= 4 && buf[end-1] == 0 && buf[end-2] == 0 && buf[end-3] == 0 && buf[end-4] == 0 {
		end -= 4
	}
	return buf[:end]
}

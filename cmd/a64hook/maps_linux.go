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

//go:build linux

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/qrdl/a64hook/procmaps"
)

func maps(args []string) error {
	fs := flag.NewFlagSet("maps", flag.ExitOnError)
	pid := fs.Int("pid", 0, "process ID, current process if not set")
	lib := fs.String("lib", "", "library to find base address of")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		list procmaps.Maps
		err  error
	)
	if *pid == 0 {
		list, err = procmaps.Self()
	} else {
		list, err = procmaps.ForPID(*pid)
	}
	if err != nil {
		return err
	}

	if *lib != "" {
		base, err := list.LibraryBase(*lib)
		if err != nil {
			return err
		}
		title.Printf("%s: ", *lib)
		fmt.Printf("%#x\n", base.Start)
		return nil
	}

	for _, m := range list {
		fmt.Fprintf(os.Stdout, "%#016x-%#016x %s %8x %s\n", m.Start, m.End, perms(m), m.Offset, m.Path)
	}
	return nil
}

func perms(m procmaps.Mapping) string {
	p := []byte("----")
	if m.Read {
		p[0] = 'r'
	}
	if m.Write {
		p[1] = 'w'
	}
	if m.Exec {
		p[2] = 'x'
	}
	if m.Private {
		p[3] = 'p'
	} else {
		p[3] = 's'
	}
	return string(p)
}

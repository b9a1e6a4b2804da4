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

/*
Package procmaps lists memory mappings of the process, it is typically used to find the
base address of the library to calculate the address of function to hook.
*/
package procmaps

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

var ErrNotFound = errors.New("mapping not found")

// Mapping is a single line of /proc/<pid>/maps.
type Mapping struct {
	Start, End uintptr
	Offset     int64
	Inode      uint64
	Path       string

	Read, Write, Exec, Private bool
}

func (m Mapping) Size() uintptr {
	return m.End - m.Start
}

func (m Mapping) Contains(addr uintptr) bool {
	return addr >= m.Start && addr < m.End
}

// Maps is the list of mappings, ordered by address.
type Maps []Mapping

// Self returns the mappings of the current process.
func Self() (Maps, error) {
	p, err := procfs.Self()
	if err != nil {
		return nil, errors.Wrap(err, "procfs")
	}
	return read(p)
}

// ForPID returns the mappings of the process <pid>.
func ForPID(pid int) (Maps, error) {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return nil, errors.Wrap(err, "procfs")
	}
	return read(p)
}

// FromFS returns the mappings of the process <pid> from procfs mounted at <mountPoint>.
func FromFS(mountPoint string, pid int) (Maps, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, errors.Wrap(err, "procfs")
	}
	p, err := fs.Proc(pid)
	if err != nil {
		return nil, errors.Wrap(err, "procfs")
	}
	return read(p)
}

func read(p procfs.Proc) (Maps, error) {
	pms, err := p.ProcMaps()
	if err != nil {
		return nil, errors.Wrapf(err, "reading maps of %d", p.PID)
	}
	maps := make(Maps, 0, len(pms))
	for _, pm := range pms {
		m := Mapping{
			Start:  pm.StartAddr,
			End:    pm.EndAddr,
			Offset: pm.Offset,
			Inode:  pm.Inode,
			Path:   pm.Pathname,
		}
		if pm.Perms != nil {
			m.Read = pm.Perms.Read
			m.Write = pm.Perms.Write
			m.Exec = pm.Perms.Execute
			m.Private = pm.Perms.Private
		}
		maps = append(maps, m)
	}
	return maps, nil
}

// ByName returns mappings with path containing <name>.
func (maps Maps) ByName(name string) Maps {
	var res Maps
	for _, m := range maps {
		if strings.Contains(m.Path, name) {
			res = append(res, m)
		}
	}
	return res
}

// Find returns the mapping that contains <addr>.
func (maps Maps) Find(addr uintptr) (Mapping, error) {
	for _, m := range maps {
		if m.Contains(addr) {
			return m, nil
		}
	}
	return Mapping{}, errors.WithMessagef(ErrNotFound, "%#x", addr)
}

/*
LibraryBase returns the mapping where the library <name> is loaded, which is the
private read-only mapping of the start of the file. <name> is matched against the base
name of the mapped file, e.g. "libc.so.6" or "libil2cpp.so".
*/
func (maps Maps) LibraryBase(name string) (Mapping, error) {
	for _, m := range maps {
		if filepath.Base(m.Path) != name || m.Offset != 0 || m.Write || !m.Private {
			continue
		}
		return m, nil
	}
	return Mapping{}, errors.WithMessage(ErrNotFound, name)
}

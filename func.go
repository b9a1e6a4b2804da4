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
	"reflect"
	"unsafe"
)

// funcval is the layout of Go func value: pointer to the code, followed by closure data.
type funcval struct {
	fn uintptr
}

/*
Hook redirects Go function <target> to <replacement> and returns the function of the same
type that runs original code of <target>. The signatures of <target> and <replacement>
must match exactly, otherwise compilation error is reported. Hook panics if it is given
something other than function.

	var origOpen func(name string) (*os.File, error)

	func tracedOpen(name string) (*os.File, error) {
	    log.Println("opening", name)
	    return origOpen(name)
	}

	...
	origOpen, err = Hook(engine, os.Open, tracedOpen)

Replacement is executed in the scope of original function, therefore it cannot be a
closure that captures variables, keep the state in package-level variables instead.
It is recommended to disable function inlining using `-gcflags="all=-l"`, inlined calls
are not affected by the hook.
Please note that stack growth of the hooked function restarts it from its entry point,
therefore replacement is called again in this case.
*/
func Hook[T any](e *Engine, target, replacement T) (T, error) {
	var original T
	if reflect.ValueOf(target).Kind() != reflect.Func || reflect.ValueOf(replacement).Kind() != reflect.Func {
		panic("Hook() can be called only for function/method")
	}

	targetPointer := reflect.ValueOf(target).UnsafePointer()
	replacementPointer := reflect.ValueOf(replacement).UnsafePointer()

	trampoline, err := e.Install(uintptr(targetPointer), uintptr(replacementPointer))
	if err != nil {
		return original, err
	}

	// func value is a pointer to funcval
	*(*unsafe.Pointer)(unsafe.Pointer(&original)) = unsafe.Pointer(&funcval{fn: trampoline})

	return original, nil
}

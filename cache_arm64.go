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

/*
// ARM doesn't automatically invalidate instruction cache so manual flushing needed
// after changing memory page with executable code

#include <stdint.h>
#include <stddef.h>
void flush_cache(uint64_t addr, size_t len) {
	char *target = (char *)addr;
	__builtin___clear_cache(target, target + len);
}
*/
import "C"

func flushCache(addr uintptr, size int) {
	C.flush_cache(C.uint64_t(addr), C.size_t(size))
}

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

//go:build !arm64

package a64hook

// Code generated here can only run on arm64, other archs only need the package to
// build for dry runs, and their instruction caches are coherent anyway.
func flushCache(uintptr, int) {}

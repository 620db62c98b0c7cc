// Copyright 2025 EngFlow Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package platform defines operating system and architecture combinations
// used to model target platforms, together with the macros compilers
// predefine for them (e.g. _WIN32, __linux__).
//
// The predefined macros seed the system macro map of every preprocessor
// handler created for a project targeting the platform.
package platform

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc/parser"
)

// Platform is the target a project is preprocessed for.
type Platform struct {
	OS   OS
	Arch Arch
}

func (p Platform) String() string {
	return string(p.OS) + "/" + string(p.Arch)
}

// Parse accepts "os/arch" strings, e.g. "linux/x86_64" or "macos/arm64".
// Aliases are resolved to the names used by '@platforms'.
func Parse(value string) (Platform, error) {
	os, arch, found := strings.Cut(value, "/")
	if !found {
		return Platform{}, fmt.Errorf("invalid platform %q, expected <os>/<arch>", value)
	}
	p := Platform{OS: dealias(OS(os), osAlias), Arch: dealias(Arch(arch), archAlias)}
	switch {
	case !slices.Contains(allKnownOs, p.OS):
		return p, fmt.Errorf("invalid platform %q: unknown OS %q", value, os)
	case !slices.Contains(allKnownArch, p.Arch):
		return p, fmt.Errorf("invalid platform %q: unknown architecture %q", value, arch)
	}
	return p, nil
}

// Operating system string identifier matching constraint value names defined in '@platforms//os'.
type OS string

const (
	android    OS = "android"
	emscripten OS = "emscripten"
	freebsd    OS = "freebsd"
	ios        OS = "ios"
	linux      OS = "linux"
	netbsd     OS = "netbsd"
	none       OS = "none" // bare-metal
	openbsd    OS = "openbsd"
	osx        OS = "osx"
	qnx        OS = "qnx"
	wasi       OS = "wasi"
	windows    OS = "windows"
)

var osAlias = map[string]OS{
	"macos": osx,
}
var allKnownOs = []OS{
	android, emscripten, freebsd, ios, linux, netbsd, none, openbsd, osx, qnx, wasi, windows,
}

// Architecture string identifier matching constraint value names defined in '@platforms//cpu'.
type Arch string

const (
	aarch32 Arch = "aarch32"
	aarch64 Arch = "aarch64"
	i386    Arch = "i386"
	ppc64le Arch = "ppc64le"
	riscv64 Arch = "riscv64"
	s390x   Arch = "s390x"
	wasm32  Arch = "wasm32"
	wasm64  Arch = "wasm64"
	x86_32  Arch = "x86_32"
	x86_64  Arch = "x86_64"
)

var archAlias = map[string]Arch{
	"arm":   aarch32,
	"arm64": aarch64,
	"amd64": x86_64,
}

var allKnownArch = []Arch{
	aarch32, aarch64, i386, ppc64le, riscv64, s390x, wasm32, wasm64, x86_32, x86_64,
}

// Predefined macros are matched against a platform by OS, by Arch, or both.
// An empty OS or Arch in a selector matches any value.
type predefinedMacros struct {
	names     []string
	selectors []Platform
}

func (m predefinedMacros) matches(p Platform) bool {
	return slices.ContainsFunc(m.selectors, func(selector Platform) bool {
		return (selector.OS == "" || selector.OS == p.OS) && (selector.Arch == "" || selector.Arch == p.Arch)
	})
}

func onOS(os ...OS) []Platform {
	result := make([]Platform, len(os))
	for i, os := range os {
		result[i] = Platform{OS: os}
	}
	return result
}

func onArch(arch ...Arch) []Platform {
	result := make([]Platform, len(arch))
	for i, arch := range arch {
		result[i] = Platform{Arch: arch}
	}
	return result
}

var knownPredefinedMacros = []predefinedMacros{
	// Windows
	{names: []string{"_WIN32"}, selectors: onOS(windows)},
	{names: []string{"_WIN64"}, selectors: []Platform{{windows, x86_64}, {windows, aarch64}}},
	{names: []string{"_M_IX86"}, selectors: []Platform{{windows, i386}, {windows, x86_32}}},
	{names: []string{"_M_X64"}, selectors: []Platform{{windows, x86_64}}},
	{names: []string{"_M_ARM64"}, selectors: []Platform{{windows, aarch64}}},

	// Linux / Android family
	{names: []string{"linux", "__linux__", "__linux", "__gnu_linux__"}, selectors: onOS(linux)},
	{names: []string{"__linux__", "__ANDROID__"}, selectors: onOS(android)},

	// Apple does not define unix even though it's unix like os
	{names: []string{"unix", "__unix", "__unix__"}, selectors: onOS(linux, android, freebsd, netbsd, openbsd, qnx)},
	{names: []string{"__APPLE__", "__MACH__"}, selectors: onOS(osx, ios)},
	{names: []string{"TARGET_OS_OSX", "TARGET_OS_MAC"}, selectors: onOS(osx)},
	{names: []string{"TARGET_OS_IPHONE", "TARGET_OS_IOS"}, selectors: onOS(ios)},

	// BSD family, QNX
	{names: []string{"__FreeBSD__"}, selectors: onOS(freebsd)},
	{names: []string{"__NetBSD__"}, selectors: onOS(netbsd)},
	{names: []string{"__OpenBSD__"}, selectors: onOS(openbsd)},
	{names: []string{"__QNX__", "__QNXNTO__"}, selectors: onOS(qnx)},

	// WebAssembly (Emscripten & WASI)
	{names: []string{"__EMSCRIPTEN__"}, selectors: onOS(emscripten)},
	{names: []string{"__wasi__"}, selectors: onOS(wasi)},
	{names: []string{"__wasm__"}, selectors: onArch(wasm32, wasm64)},
	{names: []string{"__wasm32__"}, selectors: onArch(wasm32)},
	{names: []string{"__wasm64__"}, selectors: onArch(wasm64)},

	// Generic CPU-only macros
	{names: []string{"__x86_64__", "__x86_64", "__amd64", "__amd64__"}, selectors: onArch(x86_64)},
	{names: []string{"__i386__", "__i386"}, selectors: onArch(i386, x86_32)},
	{names: []string{"__arm__", "__arm", "__thumb__"}, selectors: onArch(aarch32)},
	{names: []string{"__aarch64__", "__arm64", "__arm64__"}, selectors: onArch(aarch64)},
	{names: []string{"__powerpc64__", "__ppc64__"}, selectors: onArch(ppc64le)},
	{names: []string{"__s390x__", "__s390__"}, selectors: onArch(s390x)},
	{names: []string{"__riscv"}, selectors: onArch(riscv64)},
}

// Macros returns the macros predefined by compilers targeting the platform.
// `#define NAME` is assumed equal to `#define NAME 1`.
func (p Platform) Macros() parser.Environment {
	env := parser.Environment{}
	for _, macros := range knownPredefinedMacros {
		if macros.matches(p) {
			for _, name := range macros.names {
				env[name] = 1
			}
		}
	}
	return env
}

// MacroNames returns the sorted names of the predefined macros.
func (p Platform) MacroNames() []string {
	return slices.Sorted(maps.Keys(p.Macros()))
}

func dealias[T ~string](value T, aliases map[string]T) T {
	if target, ok := aliases[string(value)]; ok {
		return target
	}
	return value
}

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

// Package config holds the switches of token stream production. Values are
// read from `# gazelle:cc_*` directives of BUILD files, a nested directory
// starts from a clone of its parent configuration.
package config

import (
	"flag"
	"log"
	"slices"
	"strconv"

	"github.com/EngFlow/cc_tokenstream/language/internal/cc"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/platform"
	gzconfig "github.com/bazelbuild/bazel-gazelle/config"
	"github.com/bazelbuild/bazel-gazelle/rule"
)

type Configuration struct {
	// Included headers are tokenized together with the source including
	// them instead of being queued for parsing on their own.
	ParseHeadersWithSources bool
	// Cached post-include states drop their macro maps.
	CleanMacrosAfterParse bool
	// Restored states are remembered for tests, see RestoredFiles.
	RememberRestoredFiles bool
	// Cached values may be evicted from memory and read back.
	UseWeakMemoryCache bool
	TraceCache         bool
	TracePreprocState  bool
	// Maximum number of cached values held in memory.
	CacheCapacity int

	Platform          platform.Platform
	Defines           []cc.MacroDefinition
	IncludeDirs       []string
	SystemIncludeDirs []string
	// Name of the language filter applied by parsing streams: c, c++ or fortran.
	Language string
}

const defaultCacheCapacity = 4096

var defaultPlatform = platform.Platform{OS: "linux", Arch: "x86_64"}

func New() *Configuration {
	return &Configuration{
		ParseHeadersWithSources: true,
		UseWeakMemoryCache:      true,
		CacheCapacity:           defaultCacheCapacity,
		Platform:                defaultPlatform,
		Language:                "c++",
	}
}

func (c *Configuration) Clone() *Configuration {
	copy := *c
	copy.Defines = slices.Clone(c.Defines)
	copy.IncludeDirs = slices.Clone(c.IncludeDirs)
	copy.SystemIncludeDirs = slices.Clone(c.SystemIncludeDirs)
	return &copy
}

const (
	parseHeadersWithSourcesDirective = "cc_parse_headers_with_sources"
	cleanMacrosAfterParseDirective   = "cc_clean_macros_after_parse"
	rememberRestoredFilesDirective   = "cc_remember_restored_files"
	useWeakMemoryCacheDirective      = "cc_use_weak_memory_cache"
	traceCacheDirective              = "cc_trace_cache"
	tracePreprocStateDirective       = "cc_trace_preproc_state"
	cacheCapacityDirective           = "cc_cache_capacity"
	platformDirective                = "cc_platform"
	defineDirective                  = "cc_define"
	includeDirDirective              = "cc_include_dir"
	systemIncludeDirDirective        = "cc_system_include_dir"
	languageDirective                = "cc_language"
)

// KnownDirectives lists the directives understood by Configure.
func KnownDirectives() []string {
	return []string{
		parseHeadersWithSourcesDirective,
		cleanMacrosAfterParseDirective,
		rememberRestoredFilesDirective,
		useWeakMemoryCacheDirective,
		traceCacheDirective,
		tracePreprocStateDirective,
		cacheCapacityDirective,
		platformDirective,
		defineDirective,
		includeDirDirective,
		systemIncludeDirDirective,
		languageDirective,
	}
}

const extensionName = "cc_tokenstream"

// Configurer reads `# gazelle:cc_*` directives while gazelle walks a
// repository. Each directory starts from a clone of the configuration of its
// parent, the repository root from Root, or New() when Root is nil.
type Configurer struct {
	Root *Configuration
}

var _ gzconfig.Configurer = (*Configurer)(nil)

func (*Configurer) RegisterFlags(fs *flag.FlagSet, cmd string, c *gzconfig.Config) {}
func (*Configurer) CheckFlags(fs *flag.FlagSet, c *gzconfig.Config) error          { return nil }
func (*Configurer) KnownDirectives() []string                                      { return KnownDirectives() }

func (cr *Configurer) Configure(c *gzconfig.Config, rel string, f *rule.File) {
	var conf *Configuration
	switch parent, ok := c.Exts[extensionName]; {
	case ok:
		conf = parent.(*Configuration).Clone()
	case cr.Root != nil:
		conf = cr.Root.Clone()
	default:
		conf = New()
	}
	c.Exts[extensionName] = conf

	if f == nil {
		return
	}
	conf.Configure(f.Directives)
}

// Get returns the configuration set by Configurer for the directory of c.
func Get(c *gzconfig.Config) *Configuration {
	conf, ok := c.Exts[extensionName].(*Configuration)
	if !ok {
		return New()
	}
	return conf
}

// Configure applies directives in order. Invalid values are logged and
// ignored.
func (c *Configuration) Configure(directives []rule.Directive) {
	for _, d := range directives {
		switch d.Key {
		case parseHeadersWithSourcesDirective:
			c.setBool(d, &c.ParseHeadersWithSources)
		case cleanMacrosAfterParseDirective:
			c.setBool(d, &c.CleanMacrosAfterParse)
		case rememberRestoredFilesDirective:
			c.setBool(d, &c.RememberRestoredFiles)
		case useWeakMemoryCacheDirective:
			c.setBool(d, &c.UseWeakMemoryCache)
		case traceCacheDirective:
			c.setBool(d, &c.TraceCache)
		case tracePreprocStateDirective:
			c.setBool(d, &c.TracePreprocState)
		case cacheCapacityDirective:
			capacity, err := strconv.Atoi(d.Value)
			if err != nil || capacity <= 0 {
				log.Printf("%v is invalid value for directive %v, expected a positive integer", d.Value, d.Key)
				continue
			}
			c.CacheCapacity = capacity
		case platformDirective:
			if d.Value == "default" {
				c.Platform = defaultPlatform
				continue
			}
			p, err := platform.Parse(d.Value)
			if err != nil {
				log.Printf("%v is invalid value for directive %v: %v", d.Value, d.Key, err)
				continue
			}
			c.Platform = p
		case defineDirective:
			if d.Value == "" {
				c.Defines = nil
				continue
			}
			macro, err := cc.ParseMacro(d.Value)
			if err != nil {
				log.Printf("%v is invalid value for directive %v: %v", d.Value, d.Key, err)
				continue
			}
			c.Defines = append(c.Defines, macro)
		case includeDirDirective:
			c.IncludeDirs = appendOrReset(c.IncludeDirs, d.Value)
		case systemIncludeDirDirective:
			c.SystemIncludeDirs = appendOrReset(c.SystemIncludeDirs, d.Value)
		case languageDirective:
			switch d.Value {
			case "c", "c++", "fortran":
				c.Language = d.Value
			case "default":
				c.Language = New().Language
			default:
				log.Printf("%v is invalid value for directive %v, expected one of c, c++, fortran or default", d.Value, d.Key)
			}
		}
	}
}

func (c *Configuration) setBool(d rule.Directive, field *bool) {
	value, err := strconv.ParseBool(d.Value)
	if err != nil {
		log.Printf("%v is invalid value for directive %v, expected true or false", d.Value, d.Key)
		return
	}
	*field = value
}

// An empty value resets the list inherited from the parent directory.
func appendOrReset(values []string, value string) []string {
	if value == "" {
		return nil
	}
	if slices.Contains(values, value) {
		return values
	}
	return append(values, value)
}

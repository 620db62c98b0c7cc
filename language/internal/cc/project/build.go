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

package project

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/EngFlow/cc_tokenstream/internal/collections"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc"
	"github.com/EngFlow/cc_tokenstream/language/internal/cc/config"
	gzconfig "github.com/bazelbuild/bazel-gazelle/config"
	"github.com/bazelbuild/bazel-gazelle/label"
	"github.com/bazelbuild/bazel-gazelle/pathtools"
	"github.com/bazelbuild/bazel-gazelle/rule"
	"github.com/bazelbuild/bazel-gazelle/walk"
	"github.com/bazelbuild/buildtools/build"
	"github.com/bmatcuk/doublestar/v4"
)

var buildFileNames = []string{"BUILD.bazel", "BUILD"}

// Rule kinds turned into projects.
var projectKinds = []string{"cc_library", "cc_binary", "cc_test"}

// LoadBuildFile reads the BUILD file of package pkg from fsys and registers
// a project for each of its C/C++ rules. The projects are configured by the
// `# gazelle:cc_*` directives of the BUILD files from the repository root
// down to pkg.
func (ws *Workspace) LoadBuildFile(fsys FileSystem, pkg string) ([]*Project, error) {
	pkg, ok := cleanPath(pkg)
	if !ok {
		return nil, fmt.Errorf("invalid package %q", pkg)
	}
	if pkg == "." {
		pkg = ""
	}
	f, err := parseBuildFile(fsys, pkg)
	if err != nil {
		return nil, err
	}

	cr := &config.Configurer{Root: ws.config}
	c := gzconfig.New()
	for _, rel := range parentPackages(pkg) {
		parent, err := parseBuildFile(fsys, rel)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("ignoring the directives of %q: %v", rel, err)
		}
		c = c.Clone()
		cr.Configure(c, rel, parent)
	}
	c = c.Clone()
	cr.Configure(c, pkg, f)
	return ws.loadRules(fsys, pkg, f, config.Get(c))
}

// LoadRepository walks the repository at repoRoot and registers a project
// for each C/C++ rule of its BUILD files. The file system of the projects is
// identified by id.
func (ws *Workspace) LoadRepository(id, repoRoot string) ([]*Project, error) {
	root, err := filepath.Abs(repoRoot)
	if err == nil {
		root, err = filepath.EvalSymlinks(root)
	}
	if err != nil {
		return nil, fmt.Errorf("repository root %q: %w", repoRoot, err)
	}
	c := gzconfig.New()
	c.RepoRoot = root
	cexts := []gzconfig.Configurer{&walk.Configurer{}, &config.Configurer{Root: ws.config}}
	flags := flag.NewFlagSet("cc_tokenstream", flag.ContinueOnError)
	for _, cext := range cexts {
		cext.RegisterFlags(flags, "update", c)
	}
	for _, cext := range cexts {
		if err := cext.CheckFlags(flags, c); err != nil {
			return nil, err
		}
	}

	fsys := NewDirFS(id, os.DirFS(root))
	var projects []*Project
	err = walk.Walk2(c, cexts, []string{root}, walk.VisitAllUpdateSubdirsMode, func(args walk.Walk2FuncArgs) walk.Walk2FuncResult {
		if args.File == nil {
			return walk.Walk2FuncResult{}
		}
		loaded, err := ws.loadRules(fsys, args.Rel, args.File, config.Get(args.Config))
		projects = append(projects, loaded...)
		return walk.Walk2FuncResult{Err: err}
	})
	return projects, err
}

func (ws *Workspace) loadRules(fsys FileSystem, pkg string, f *rule.File, conf *config.Configuration) ([]*Project, error) {
	var projects []*Project
	var errs []error
	for _, r := range f.Rules {
		if !slices.Contains(projectKinds, r.Kind()) {
			continue
		}
		spec, err := ruleSpec(fsys, pkg, r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		spec.Config = conf
		p, err := ws.AddProject(spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ws.addVirtualIncludes(p, pkg, r, spec.Hdrs)
		projects = append(projects, p)
	}
	return projects, errors.Join(errs...)
}

// parentPackages returns the packages above pkg, the repository root first.
func parentPackages(pkg string) []string {
	if pkg == "" {
		return nil
	}
	parents := []string{""}
	for i, c := range pkg {
		if c == '/' {
			parents = append(parents, pkg[:i])
		}
	}
	return parents
}

func parseBuildFile(fsys FileSystem, pkg string) (*rule.File, error) {
	buildPath, data, err := readBuildFile(fsys, pkg)
	if err != nil {
		return nil, err
	}
	ast, err := build.ParseBuild(buildPath, data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", buildPath, err)
	}
	return rule.ScanAST(pkg, ast), nil
}

func readBuildFile(fsys FileSystem, pkg string) (string, []byte, error) {
	for _, name := range buildFileNames {
		buildPath := path.Join(pkg, name)
		data, err := readFile(fsys, buildPath)
		if err == nil {
			return buildPath, data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("no BUILD file in %q: %w", pkg, fs.ErrNotExist)
}

func ruleSpec(fsys FileSystem, pkg string, r *rule.Rule) (Spec, error) {
	spec := Spec{
		Label:      label.New("", pkg, r.Name()),
		FileSystem: fsys,
		Root:       pkg,
	}
	srcs, err := collectStringsAttr(fsys, r, pkg, "srcs")
	if err != nil {
		return spec, fmt.Errorf("%s(name = %q) in %q: %w", r.Kind(), r.Name(), pkg, err)
	}
	hdrs, err := collectStringsAttr(fsys, r, pkg, "hdrs")
	if err != nil {
		return spec, fmt.Errorf("%s(name = %q) in %q: %w", r.Kind(), r.Name(), pkg, err)
	}
	textualHdrs, err := collectStringsAttr(fsys, r, pkg, "textual_hdrs")
	if err != nil {
		return spec, fmt.Errorf("%s(name = %q) in %q: %w", r.Kind(), r.Name(), pkg, err)
	}
	inPackage := func(file string) string { return path.Join(pkg, file) }
	spec.Srcs = collections.MapSlice(srcs, inPackage)
	spec.Hdrs = collections.MapSlice(append(hdrs, textualHdrs...), inPackage)

	for _, includeDir := range r.AttrStrings("includes") {
		spec.IncludeDirs = append(spec.IncludeDirs, path.Join(pkg, includeDir))
	}
	var defines []string
	defines = append(defines, r.AttrStrings("defines")...)
	defines = append(defines, r.AttrStrings("local_defines")...)
	copts := r.AttrStrings("copts")
	for i, opt := range copts {
		switch {
		case strings.HasPrefix(opt, "-D"):
			defines = append(defines, opt)
		case strings.HasPrefix(opt, "-I") && len(opt) > 2:
			spec.IncludeDirs = append(spec.IncludeDirs, opt[2:])
		case opt == "-isystem" && i+1 < len(copts):
			spec.SystemIncludeDirs = append(spec.SystemIncludeDirs, copts[i+1])
		}
	}
	macros, err := cc.ParseMacros(defines)
	if err != nil {
		log.Printf("%s(name = %q) in %q: ignoring invalid defines: %v", r.Kind(), r.Name(), pkg, err)
	}
	spec.Defines = macros

	for _, dep := range r.AttrStrings("deps") {
		l, err := label.Parse(dep)
		if err != nil {
			log.Printf("%s(name = %q) in %q: invalid dependency %q: %v", r.Kind(), r.Name(), pkg, dep, err)
			continue
		}
		spec.Deps = append(spec.Deps, l.Abs("", pkg))
	}
	return spec, nil
}

// addVirtualIncludes makes the headers of r includable by the paths its
// strip_include_prefix and include_prefix attributes define.
func (ws *Workspace) addVirtualIncludes(p *Project, pkg string, r *rule.Rule, hdrs []string) {
	stripIncludePrefix := cleanAttrPath(r.AttrString("strip_include_prefix"))
	includePrefix := cleanAttrPath(r.AttrString("include_prefix"))
	if stripIncludePrefix == "" && includePrefix == "" {
		return
	}
	for _, hdr := range hdrs {
		if virtualPath := transformIncludePath(pkg, stripIncludePrefix, includePrefix, hdr); virtualPath != hdr {
			ws.AddVirtualInclude(virtualPath, p.fs, hdr)
		}
	}
}

func cleanAttrPath(p string) string {
	if p != "" {
		return path.Clean(p)
	}
	return p
}

// transformIncludePath converts a path to a header file into a string by which
// the header file may be included, accounting for the library's
// strip_include_prefix and include_prefix attributes.
//
// libRel is the slash-separated, repo-root-relative path to the directory
// containing the target. A relative stripIncludePrefix is resolved against
// libRel, an absolute one against the repository root. includePrefix is
// prepended after stripping. hdrRel is the repo-root-relative header path.
func transformIncludePath(libRel, stripIncludePrefix, includePrefix, hdrRel string) string {
	var effectiveStripIncludePrefix string
	switch {
	case path.IsAbs(stripIncludePrefix):
		effectiveStripIncludePrefix = stripIncludePrefix[len("/"):]
	case stripIncludePrefix != "":
		effectiveStripIncludePrefix = path.Join(libRel, stripIncludePrefix)
	case includePrefix != "":
		// Bazel strips the package name when only include_prefix is set.
		effectiveStripIncludePrefix = libRel
	}
	return path.Join(includePrefix, pathtools.TrimPrefix(hdrRel, effectiveStripIncludePrefix))
}

// collectStringsAttr returns the values of a string list attribute of r,
// expanding a glob relative to pkg.
func collectStringsAttr(fsys FileSystem, r *rule.Rule, pkg, attrName string) ([]string, error) {
	if ss := r.AttrStrings(attrName); ss != nil {
		return ss, nil
	}
	expr := r.Attr(attrName)
	if expr == nil {
		return nil, nil
	}
	if globValue, ok := rule.ParseGlobExpr(expr); ok {
		return expandGlob(fsys, pkg, globValue)
	}
	return nil, nil
}

// expandGlob returns the sorted files of package pkg, relative to it,
// matching the glob. Subpackages are not entered.
func expandGlob(fsys FileSystem, pkg string, glob rule.GlobValue) ([]string, error) {
	if len(glob.Patterns) == 0 {
		return nil, nil
	}
	validatedPatterns := func(patterns []string) []string {
		return collections.FilterSlice(patterns, doublestar.ValidatePattern)
	}
	includePatterns := validatedPatterns(glob.Patterns)
	if len(includePatterns) == 0 {
		return nil, errors.New("no valid include patterns found")
	}
	excludePatterns := validatedPatterns(glob.Excludes)
	matches := func(patterns []string, file string) bool {
		return slices.ContainsFunc(patterns, func(pattern string) bool {
			return doublestar.MatchUnvalidated(pattern, file)
		})
	}

	root := pkg
	if root == "" {
		root = "."
	}
	var matched []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && slices.ContainsFunc(buildFileNames, func(name string) bool {
				return fileExists(fsys, path.Join(p, name))
			}) {
				return fs.SkipDir
			}
			return nil
		}
		rel := pathtools.TrimPrefix(p, pkg)
		if matches(includePatterns, rel) && !matches(excludePatterns, rel) {
			matched = append(matched, rel)
		}
		return nil
	})
	slices.Sort(matched)
	return matched, err
}

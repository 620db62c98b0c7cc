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
	"io/fs"
	"path"
	"strings"
)

// FileSystem is a tree of files with an identity. Paths are slash separated
// and relative to the root of the tree.
type FileSystem interface {
	fs.FS
	// ID distinguishes file systems, e.g. the workspace from the system
	// headers of a toolchain.
	ID() string
}

// DirFS gives an io/fs.FS an identity, e.g. NewDirFS("workspace", os.DirFS(root)).
type DirFS struct {
	fs.FS
	id string
}

func NewDirFS(id string, fsys fs.FS) *DirFS {
	return &DirFS{FS: fsys, id: id}
}

func (d *DirFS) ID() string { return d.id }

// cleanPath converts an include or workspace path to a path valid for fs.FS,
// reporting false for paths escaping the root.
func cleanPath(p string) (string, bool) {
	p = path.Clean(strings.TrimPrefix(p, "/"))
	return p, fs.ValidPath(p)
}

// fileExists reports whether p is a regular file of fsys.
func fileExists(fsys FileSystem, p string) bool {
	p, ok := cleanPath(p)
	if !ok {
		return false
	}
	info, err := fs.Stat(fsys, p)
	return err == nil && !info.IsDir()
}

func readFile(fsys FileSystem, p string) ([]byte, error) {
	cleaned, ok := cleanPath(p)
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: p, Err: fs.ErrInvalid}
	}
	return fs.ReadFile(fsys, cleaned)
}

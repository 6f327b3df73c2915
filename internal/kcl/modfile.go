// Copyright 2025 Evrone
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

// Package kcl resolves a kcl.mod dependency graph and invokes the KCL
// compiler over the resulting vendor tree.
package kcl

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Package describes the package section of a kcl.mod file.
type Package struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Profile lists the compiler entrypoints a kcl.mod module declares.
type Profile struct {
	Entries []string `toml:"entries"`
}

// DependencyKind is the discriminant of the Dependency oneof.
type DependencyKind string

const (
	KindVersion DependencyKind = "version"
	KindGit     DependencyKind = "git"
	KindOci     DependencyKind = "oci"
	KindLocal   DependencyKind = "local"
)

// Dependency is the tagged union a kcl.mod dependency entry decodes into: a
// bare string is a Version dependency, an inline table with "git" is a Git
// dependency, "oci" an Oci dependency, "path" a Local dependency.
type Dependency struct {
	Version string
	Git     string
	Tag     string
	Branch  string
	Commit  string
	Oci     string
	Path    string
}

func (d Dependency) Kind() DependencyKind {
	switch {
	case d.Git != "":
		return KindGit
	case d.Oci != "":
		return KindOci
	case d.Path != "":
		return KindLocal
	default:
		return KindVersion
	}
}

// VendorDirName returns the directory name a downloaded dependency is stored
// under inside the shared vendor cache. Local dependencies return "" since
// they are read from their declared path instead.
func (d Dependency) VendorDirName(name string) string {
	switch d.Kind() {
	case KindVersion:
		return fmt.Sprintf("%s_%s", name, d.Version)
	case KindGit:
		switch {
		case d.Tag != "":
			return fmt.Sprintf("%s_%s", name, d.Tag)
		case d.Commit != "":
			return fmt.Sprintf("%s_%s", name, d.Commit)
		case d.Branch != "":
			return fmt.Sprintf("%s_%s", name, d.Branch)
		default:
			return fmt.Sprintf("%s_latest", name)
		}
	case KindOci:
		return fmt.Sprintf("%s_%s", name, d.Tag)
	default:
		return ""
	}
}

// ModFile is the decoded contents of a kcl.mod manifest.
type ModFile struct {
	Package      Package
	Dependencies map[string]Dependency
	Profile      *Profile
}

type rawModFile struct {
	Package      Package                    `toml:"package"`
	Dependencies map[string]toml.Primitive `toml:"dependencies"`
	Profile      *Profile                   `toml:"profile"`
}

type rawDependencyTable struct {
	Git    string `toml:"git"`
	Tag    string `toml:"tag"`
	Branch string `toml:"branch"`
	Commit string `toml:"commit"`
	Oci    string `toml:"oci"`
	Path   string `toml:"path"`
}

// ParseModFile decodes a kcl.mod manifest, handling the fact that a
// dependency value is either a bare version string or an inline table
// depending on its kind.
func ParseModFile(data []byte) (*ModFile, error) {
	var raw rawModFile
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("kcl: parse kcl.mod: %w", err)
	}

	deps := make(map[string]Dependency, len(raw.Dependencies))
	for name, prim := range raw.Dependencies {
		var asVersion string
		if err := md.PrimitiveDecode(prim, &asVersion); err == nil {
			deps[name] = Dependency{Version: asVersion}
			continue
		}

		var asTable rawDependencyTable
		if err := md.PrimitiveDecode(prim, &asTable); err != nil {
			return nil, fmt.Errorf("kcl: dependency %q: %w", name, err)
		}
		deps[name] = Dependency{
			Git:    asTable.Git,
			Tag:    asTable.Tag,
			Branch: asTable.Branch,
			Commit: asTable.Commit,
			Oci:    asTable.Oci,
			Path:   asTable.Path,
		}
	}

	return &ModFile{
		Package:      raw.Package,
		Dependencies: deps,
		Profile:      raw.Profile,
	}, nil
}

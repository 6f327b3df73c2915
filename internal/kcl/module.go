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

package kcl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evrone/kcl-instance-controller/pkg/oci"
)

type ErrorKind string

const (
	ManifestMissing ErrorKind = "ManifestMissing"
	ManifestInvalid ErrorKind = "ManifestInvalid"
	DependencyFetch ErrorKind = "DependencyFetch"
	LockFailed      ErrorKind = "LockFailed"
	CompileFailed   ErrorKind = "CompileFailed"
)

type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("kcl: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// DefaultRegistry is the OCI registry a bare version dependency resolves
// against when no custom registry is configured.
const DefaultRegistry = "ghcr.io/kcl-lang"

// CompileFunc compiles a KCL module at workdir through entrypoints with args
// and an explicit name->path package map for its resolved dependencies,
// returning the rendered multi-document YAML.
type CompileFunc func(ctx context.Context, workdir string, entrypoints []string, args map[string]string, packageMap map[string]string) (string, error)

// OciPuller fetches and extracts a single-layer OCI artifact, abstracting
// over registry auth so Runner stays agnostic of credential resolution.
type OciPuller func(ctx context.Context, repository, tag, destDir string) error

// GitCloner shallow-clones a git dependency into destDir.
type GitCloner func(ctx context.Context, repoURL, branch, tag, commit, destDir string) error

// Runner resolves a KCL module's dependency graph and compiles it.
type Runner struct {
	VendorDir       string
	DefaultRegistry string
	Oci             OciPuller
	Git             GitCloner
	Compile         CompileFunc
}

func (r *Runner) registry() string {
	if r.DefaultRegistry != "" {
		return r.DefaultRegistry
	}
	return DefaultRegistry
}

// Render parses moduleDir's kcl.mod, resolves its transitive dependency
// graph into the vendor tree (downloading missing ones when update is true)
// and compiles the module.
func (r *Runner) Render(ctx context.Context, moduleDir string, args map[string]string, update bool) (string, error) {
	unlock, err := r.lock(moduleDir)
	if err != nil {
		return "", &Error{Kind: LockFailed, Err: err}
	}
	defer unlock()

	modData, err := os.ReadFile(filepath.Join(moduleDir, "kcl.mod"))
	if err != nil {
		return "", &Error{Kind: ManifestMissing, Err: err}
	}

	mod, err := ParseModFile(modData)
	if err != nil {
		return "", &Error{Kind: ManifestInvalid, Err: err}
	}

	packageMap := map[string]string{}
	visited := map[string]bool{}
	if err := r.resolveDeps(ctx, moduleDir, mod.Dependencies, update, packageMap, visited); err != nil {
		return "", err
	}

	entrypoints := []string{"main.k"}
	if mod.Profile != nil && len(mod.Profile.Entries) > 0 {
		entrypoints = mod.Profile.Entries
	}

	yamlText, err := r.Compile(ctx, moduleDir, entrypoints, args, packageMap)
	if err != nil {
		return "", &Error{Kind: CompileFailed, Err: err}
	}

	return yamlText, nil
}

// resolveDeps walks deps depth-first into packageMap, recursing into each
// downloaded dependency's own kcl.mod. The first writer for a package name
// wins, matching the reference resolver's dedup rule.
func (r *Runner) resolveDeps(
	ctx context.Context,
	moduleDir string,
	deps map[string]Dependency,
	update bool,
	packageMap map[string]string,
	visited map[string]bool,
) error {
	for name, dep := range deps {
		key := strings.ReplaceAll(name, "-", "_")
		if _, exists := packageMap[key]; exists {
			continue
		}

		var depPath string
		switch dep.Kind() {
		case KindLocal:
			if filepath.IsAbs(dep.Path) {
				depPath = dep.Path
			} else {
				depPath = filepath.Join(moduleDir, dep.Path)
			}
		default:
			depPath = filepath.Join(r.VendorDir, dep.VendorDirName(name))
			if update {
				if err := r.download(ctx, name, dep, depPath); err != nil {
					return &Error{Kind: DependencyFetch, Err: err}
				}
			}
		}

		packageMap[key] = depPath

		if !update || visited[depPath] {
			continue
		}
		visited[depPath] = true

		childData, err := os.ReadFile(filepath.Join(depPath, "kcl.mod"))
		if err != nil {
			continue
		}
		childMod, err := ParseModFile(childData)
		if err != nil || len(childMod.Dependencies) == 0 {
			continue
		}
		if err := r.resolveDeps(ctx, depPath, childMod.Dependencies, update, packageMap, visited); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) download(ctx context.Context, name string, dep Dependency, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	switch dep.Kind() {
	case KindGit:
		return r.Git(ctx, dep.Git, dep.Branch, dep.Tag, dep.Commit, dest)
	case KindOci:
		repo, tag := splitOciRef(dep.Oci, dep.Tag)
		return r.Oci(ctx, repo, tag, dest)
	case KindVersion:
		return r.Oci(ctx, oci.RepositoryFor(r.registry(), name), dep.Version, dest)
	default:
		return nil
	}
}

// splitOciRef accepts either "oci://host/repo" with a separate tag, or
// "oci://host/repo:tag" with tag left empty, matching how a kcl.mod oci
// dependency may be authored.
func splitOciRef(ociURL, tag string) (string, string) {
	repo := strings.TrimPrefix(ociURL, "oci://")
	if tag != "" {
		return repo, tag
	}
	if idx := strings.LastIndex(repo, ":"); idx != -1 && !strings.Contains(repo[idx:], "/") {
		return repo[:idx], repo[idx+1:]
	}
	return repo, "latest"
}

// lock takes an advisory, filesystem-based lock over moduleDir's lockfile so
// concurrent reconciles of the same module don't race on the vendor tree.
func (r *Runner) lock(moduleDir string) (func(), error) {
	lockPath := filepath.Join(moduleDir, "kcl.mod.lock")

	deadline := time.Now().Add(30 * time.Second)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for lock %s", lockPath)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

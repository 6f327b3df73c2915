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
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	assert.NilError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestRenderResolvesLocalDependencyWithoutNetwork(t *testing.T) {
	root := t.TempDir()
	moduleDir := filepath.Join(root, "module")
	localLibDir := filepath.Join(root, "local-lib")

	writeFile(t, filepath.Join(moduleDir, "kcl.mod"), `
[package]
name = "main"
version = "0.0.1"

[dependencies]
locallib = { path = "../local-lib" }
`)
	writeFile(t, filepath.Join(localLibDir, "kcl.mod"), `
[package]
name = "locallib"
version = "0.0.1"
`)

	var gotPackageMap map[string]string
	runner := &Runner{
		VendorDir: filepath.Join(root, "vendor"),
		Oci: func(ctx context.Context, repository, tag, destDir string) error {
			return fmt.Errorf("unexpected oci pull of %s:%s", repository, tag)
		},
		Git: func(ctx context.Context, repoURL, branch, tag, commit, destDir string) error {
			return fmt.Errorf("unexpected git clone of %s", repoURL)
		},
		Compile: func(ctx context.Context, workdir string, entrypoints []string, args map[string]string, packageMap map[string]string) (string, error) {
			gotPackageMap = packageMap
			return "kind: Namespace\n", nil
		},
	}

	out, err := runner.Render(context.Background(), moduleDir, nil, true)
	assert.NilError(t, err)
	assert.Equal(t, out, "kind: Namespace\n")
	assert.Equal(t, gotPackageMap["locallib"], localLibDir)
}

func TestRenderMissingManifest(t *testing.T) {
	runner := &Runner{VendorDir: t.TempDir()}
	_, err := runner.Render(context.Background(), t.TempDir(), nil, true)
	assert.Assert(t, err != nil)
	kerr, ok := err.(*Error)
	assert.Assert(t, ok)
	assert.Equal(t, kerr.Kind, ManifestMissing)
}

func TestRenderPropagatesCompileError(t *testing.T) {
	moduleDir := t.TempDir()
	writeFile(t, filepath.Join(moduleDir, "kcl.mod"), `
[package]
name = "main"
version = "0.0.1"
`)

	runner := &Runner{
		VendorDir: t.TempDir(),
		Compile: func(ctx context.Context, workdir string, entrypoints []string, args map[string]string, packageMap map[string]string) (string, error) {
			return "", fmt.Errorf("syntax error at line 3")
		},
	}

	_, err := runner.Render(context.Background(), moduleDir, nil, true)
	assert.Assert(t, err != nil)
	kerr, ok := err.(*Error)
	assert.Assert(t, ok)
	assert.Equal(t, kerr.Kind, CompileFailed)
}

func TestSplitOciRef(t *testing.T) {
	repo, tag := splitOciRef("oci://ghcr.io/kcl-lang/shared", "0.2.0")
	assert.Equal(t, repo, "ghcr.io/kcl-lang/shared")
	assert.Equal(t, tag, "0.2.0")

	repo, tag = splitOciRef("oci://ghcr.io/kcl-lang/shared:0.3.0", "")
	assert.Equal(t, repo, "ghcr.io/kcl-lang/shared")
	assert.Equal(t, tag, "0.3.0")
}

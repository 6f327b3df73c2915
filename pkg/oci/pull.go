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

package oci

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/evrone/kcl-instance-controller/internal/tgz"
)

// PullAndExtract pulls tag from repo and unpacks its first layer into destDir.
// It is how a KCL module dependency of kind oci or version is materialized into
// the vendor tree.
func PullAndExtract(ctx context.Context, repo Client, tag string, destDir string, opts ...Option) error {
	image, err := repo.Image(tag, opts...)
	if err != nil {
		return fmt.Errorf("oci: pull %s: %w", tag, err)
	}

	layers, err := image.Layers()
	if err != nil {
		return fmt.Errorf("oci: layers of %s: %w", tag, err)
	}
	if len(layers) == 0 {
		return fmt.Errorf("oci: %s: %w", tag, ErrNoLayers)
	}

	reader, err := layers[0].Compressed()
	if err != nil {
		return fmt.Errorf("oci: open layer of %s: %w", tag, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return fmt.Errorf("oci: create %s: %w", destDir, err)
	}

	tmp, err := os.CreateTemp(destDir, ".layer-*.tar.gz")
	if err != nil {
		return fmt.Errorf("oci: stage layer for %s: %w", tag, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return fmt.Errorf("oci: write layer for %s: %w", tag, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("oci: write layer for %s: %w", tag, err)
	}

	if err := tgz.Read(ctx, tmpPath, destDir); err != nil {
		return fmt.Errorf("oci: unpack layer for %s: %w", tag, err)
	}

	return nil
}

// RepositoryFor joins a registry host and a module dependency name into an OCI
// repository reference, e.g. "ghcr.io/kcl-lang" + "k8s" -> "ghcr.io/kcl-lang/k8s".
func RepositoryFor(registry, name string) string {
	return filepath.ToSlash(filepath.Join(registry, name))
}

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

package tgz

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Read extracts the gzip-compressed tar archive at archiveFilePath into
// targetDir, aborting early if ctx is cancelled. Entries escaping targetDir
// are rejected.
func Read(ctx context.Context, archiveFilePath string, targetDir string) error {
	archiveFile, err := os.Open(archiveFilePath)
	if err != nil {
		return err
	}
	defer archiveFile.Close()

	zipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return err
	}
	defer zipReader.Close()
	tarReader := tar.NewReader(zipReader)

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		dstPath := filepath.Join(targetDir, header.Name)
		if !strings.HasPrefix(dstPath, filepath.Clean(targetDir)+string(os.PathSeparator)) {
			return fmt.Errorf("tgz: entry %q escapes target directory", header.Name)
		}

		if err := os.MkdirAll(filepath.Dir(dstPath), 0700); err != nil {
			return err
		}

		if err := writeEntry(dstPath, tarReader); err != nil {
			return err
		}
	}

	return nil
}

func writeEntry(dstPath string, r io.Reader) error {
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, r)
	return err
}

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

// Package fetch downloads a source artifact tarball to a local storage
// directory and unpacks it, both steps idempotent across retries.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/evrone/kcl-instance-controller/internal/tgz"
)

type ErrorKind string

const (
	InvalidURL     ErrorKind = "InvalidUrl"
	DownloadFailed ErrorKind = "DownloadFailed"
	WriteFailed    ErrorKind = "WriteFailed"
	UnpackFailed   ErrorKind = "UnpackFailed"
	FilenameWrong  ErrorKind = "FilenameWrong"
)

type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BuildURL rewrites rawURL's scheme and host to host's while preserving the
// path and query, leaving rawURL untouched when host is empty.
func BuildURL(rawURL string, host string) (string, error) {
	if host == "" {
		return rawURL, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	h, err := url.Parse(host)
	if err != nil {
		return "", err
	}
	if h.Scheme == "" || h.Host == "" {
		return "", fmt.Errorf("host override %q is not a valid scheme://host", host)
	}

	u.Scheme = h.Scheme
	u.Host = h.Host

	return u.String(), nil
}

// Fetcher downloads artifacts into a shared storage directory, keyed by the
// source object's namespace and name.
type Fetcher struct {
	HTTPClient   *retryablehttp.Client
	StorageDir   string
	HostOverride string
}

// Fetch downloads the tarball at rawURL and unpacks it under StorageDir,
// returning the directory the artifact was unpacked into. Both the download
// and the unpack are skipped when their target already exists, so repeated
// calls for the same artifact are cheap.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, sourceName, namespace string) (string, error) {
	target, err := BuildURL(rawURL, f.HostOverride)
	if err != nil {
		return "", &Error{Kind: InvalidURL, Err: err}
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", &Error{Kind: InvalidURL, Err: err}
	}

	filename := filepath.Base(parsed.Path)
	if filename == "" || filename == "." || filename == "/" {
		return "", &Error{Kind: FilenameWrong, Err: fmt.Errorf("cannot derive a filename from %q", target)}
	}

	stagingDir := filepath.Join(f.StorageDir, namespace, sourceName)
	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return "", &Error{Kind: WriteFailed, Err: err}
	}

	archivePath := filepath.Join(stagingDir, filename)
	if _, err := os.Stat(archivePath); os.IsNotExist(err) {
		if err := downloadTo(ctx, f.HTTPClient, target, archivePath); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", &Error{Kind: WriteFailed, Err: err}
	}

	unpackDir := strings.TrimSuffix(strings.TrimSuffix(filename, ".gz"), ".tar")
	unpackDir = filepath.Join(stagingDir, unpackDir)

	if _, err := os.Stat(unpackDir); os.IsNotExist(err) {
		if err := os.MkdirAll(unpackDir, 0o700); err != nil {
			return "", &Error{Kind: WriteFailed, Err: err}
		}
		if err := tgz.Read(ctx, archivePath, unpackDir); err != nil {
			return "", &Error{Kind: UnpackFailed, Err: err}
		}
	} else if err != nil {
		return "", &Error{Kind: WriteFailed, Err: err}
	}

	return unpackDir, nil
}

func downloadTo(ctx context.Context, client *retryablehttp.Client, rawURL, dest string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return &Error{Kind: DownloadFailed, Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Error{Kind: DownloadFailed, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Kind: DownloadFailed, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return &Error{Kind: WriteFailed, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &Error{Kind: WriteFailed, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &Error{Kind: WriteFailed, Err: err}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return &Error{Kind: WriteFailed, Err: err}
	}

	return nil
}

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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
)

// CompileOptions are the instanceConfig-level rendering toggles that flow
// straight through to the kcl binary's flags.
type CompileOptions struct {
	Vendor     bool
	SortKeys   bool
	ShowHidden bool
}

// ExecCompiler invokes the kcl command line binary, delegating compilation
// to the external toolchain rather than linking a native compiler API.
type ExecCompiler struct {
	// Path to the kcl binary. Defaults to "kcl" on the PATH when empty.
	Path    string
	Options CompileOptions
}

// Compile satisfies CompileFunc.
func (c *ExecCompiler) Compile(
	ctx context.Context,
	workdir string,
	entrypoints []string,
	args map[string]string,
	packageMap map[string]string,
) (string, error) {
	path := c.Path
	if path == "" {
		path = "kcl"
	}

	cmdArgs := append([]string{"run"}, entrypoints...)

	for _, key := range sortedKeys(args) {
		cmdArgs = append(cmdArgs, "-D", fmt.Sprintf("%s=%s", key, args[key]))
	}
	for _, name := range sortedKeys(packageMap) {
		cmdArgs = append(cmdArgs, "-E", fmt.Sprintf("%s=%s", name, packageMap[name]))
	}
	if c.Options.Vendor {
		cmdArgs = append(cmdArgs, "--vendor")
	}
	if c.Options.SortKeys {
		cmdArgs = append(cmdArgs, "--sort_keys")
	}
	if c.Options.ShowHidden {
		cmdArgs = append(cmdArgs, "--show_hidden")
	}

	cmd := exec.CommandContext(ctx, path, cmdArgs...)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		message := stderr.String()
		if message == "" {
			message = err.Error()
		}
		return "", fmt.Errorf("%s", message)
	}

	return stdout.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

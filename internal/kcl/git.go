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

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ShallowClone clones repoURL at depth 1 into dest at tag or, when no tag is
// given, at branch; with neither it clones the default branch's tip. A
// non-empty commit is then checked out on top of that clone, so it takes
// precedence over tag and branch.
func ShallowClone(ctx context.Context, repoURL, branch, tag, commit, dest string) error {
	opts := &git.CloneOptions{
		URL:          repoURL,
		Depth:        1,
		SingleBranch: true,
	}

	switch {
	case tag != "":
		opts.ReferenceName = plumbing.NewTagReferenceName(tag)
	case branch != "":
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}

	repo, err := git.PlainCloneContext(ctx, dest, false, opts)
	if err != nil {
		return fmt.Errorf("kcl: clone %s: %w", repoURL, err)
	}

	if commit == "" {
		return nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("kcl: worktree for %s: %w", repoURL, err)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{
		Hash: plumbing.NewHash(commit),
	}); err != nil {
		return fmt.Errorf("kcl: checkout %s at %s: %w", repoURL, commit, err)
	}

	return nil
}

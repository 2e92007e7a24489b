// Package gitrepo checks out revisions of the kernel source tree.
package gitrepo

import (
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"

	"github.com/whacked/ktest/errors"
)

// Checkout resolves revision (a branch, tag, or commit hash) in the repository at dir and checks it out, leaving
// HEAD detached at the resolved commit.
func Checkout(dir, revision string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", errors.WithStackTraceAndPrefix(err, "opening git repository %s", dir)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return "", errors.WithStackTraceAndPrefix(err, "resolving revision %q", revision)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", errors.WithStackTrace(err)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
		return "", errors.WithStackTraceAndPrefix(err, "checking out %q", revision)
	}

	return hash.String(), nil
}

// Head returns the commit hash HEAD points to.
func Head(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", errors.WithStackTraceAndPrefix(err, "opening git repository %s", dir)
	}

	ref, err := repo.Head()
	if err != nil {
		return "", errors.WithStackTrace(err)
	}

	return ref.Hash().String(), nil
}

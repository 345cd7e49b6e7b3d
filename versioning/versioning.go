// Package versioning implements C5, the Versioning Adapter: recording a
// deposit's staged content as a version-controlled commit before it is
// promoted to permanent storage.
//
// The teacher repo has no analogue for version control itself, but its
// blobcache package shows the shape a no-op adapter should take
// (EmptyCache: every method present, every method inert) and that pattern
// is reused directly below for a Versioner with versioning disabled.
// go.mod names go-git/go-git/v5 as the concrete implementation, an
// out-of-pack dependency: nothing in the retrieval pack does version
// control, so this is the one place the corpus is enriched from the wider
// ecosystem rather than grounded in an example, per DESIGN.md.
package versioning

import (
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/ndlib/sworddeposit/ferrors"
)

// Versioner commits a deposit's staged directory to version control once it
// has been validated and is about to be promoted.
//
// Init and CommitSubmitted are separate calls because spec.md §4.7 runs
// them at different points in the finalization sequence: Init happens
// before the uploaded parts are reassembled and extracted (step 1), CommitSubmitted happens
// once the bag has validated and SUBMITTED has been recorded (step 6).
// Calling CommitSubmitted twice would attempt to recreate the
// "state=SUBMITTED" tag and fail, so the two are kept distinct rather than
// folded into one idempotent method.
type Versioner interface {
	// Init initializes a repository rooted at dir, if one does not
	// already exist. It does not stage, commit, or tag anything.
	Init(dir, id string) error
	// CommitSubmitted stages every file under dir and creates a commit and
	// an annotated tag marking the deposit SUBMITTED. id identifies the
	// deposit in error messages only.
	CommitSubmitted(dir, id string) error
}

// Disabled is a Versioner that does nothing; every call succeeds
// immediately. It is used when a startup configuration has git.enabled
// false, so the finalization pipeline can call Init/CommitSubmitted
// unconditionally regardless of configuration.
type Disabled struct{}

// Init does nothing and always returns nil.
func (Disabled) Init(dir, id string) error { return nil }

// CommitSubmitted does nothing and always returns nil.
func (Disabled) CommitSubmitted(dir, id string) error { return nil }

// Git is a Versioner backed by a git repository initialized in place inside
// the deposit's own staging directory. Each deposit becomes its own
// repository; there is no shared history across deposits.
type Git struct {
	AuthorName  string
	AuthorEmail string
}

// New returns a Git versioner using the given commit author identity.
func New(authorName, authorEmail string) *Git {
	return &Git{AuthorName: authorName, AuthorEmail: authorEmail}
}

// Init initializes a repository at dir, or opens it if one already exists.
// Any git failure is an operator-side fault.
func (g *Git) Init(dir, id string) error {
	_, err := git.PlainInit(dir, false)
	if err == git.ErrRepositoryAlreadyExists {
		return nil
	}
	if err != nil {
		return ferrors.Failed(err, "initializing version control for deposit %s", id)
	}
	return nil
}

// CommitSubmitted opens the repository at dir, stages every file currently
// present, and commits and tags the result. Any git failure is an
// operator-side fault.
func (g *Git) CommitSubmitted(dir, id string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return ferrors.Failed(err, "opening version control for deposit %s", id)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return ferrors.Failed(err, "opening worktree for deposit %s", id)
	}
	if _, err := wt.Add("."); err != nil {
		return ferrors.Failed(err, "staging content for deposit %s", id)
	}

	sig := &object.Signature{
		Name:  g.AuthorName,
		Email: g.AuthorEmail,
		When:  time.Now(),
	}
	commitHash, err := wt.Commit("initial commit", &git.CommitOptions{Author: sig})
	if err != nil {
		return ferrors.Failed(err, "committing deposit %s", id)
	}

	_, err = repo.CreateTag("state=SUBMITTED", commitHash, &git.CreateTagOptions{
		Tagger:  sig,
		Message: "state=SUBMITTED",
	})
	if err != nil {
		return ferrors.Failed(err, "tagging deposit %s", id)
	}
	return nil
}

package bridge

import (
	"os"

	"github.com/go-git/go-billy/v5"
)

// RepositoryState is the operation in progress in a repository, as recorded
// by marker files in its git directory.
type RepositoryState int

const (
	StateClean RepositoryState = iota
	StateMerge
	StateRevert
	StateRevertSequence
	StateCherryPick
	StateCherryPickSequence
	StateBisect
	StateRebase
	StateRebaseInteractive
	StateRebaseMerge
	StateApplyMailbox
	StateApplyMailboxOrRebase
)

var stateNames = [...]string{
	StateClean:                "clean",
	StateMerge:                "merge",
	StateRevert:               "revert",
	StateRevertSequence:       "revert-sequence",
	StateCherryPick:           "cherry-pick",
	StateCherryPickSequence:   "cherry-pick-sequence",
	StateBisect:               "bisect",
	StateRebase:               "rebase",
	StateRebaseInteractive:    "rebase-interactive",
	StateRebaseMerge:          "rebase-merge",
	StateApplyMailbox:         "apply-mailbox",
	StateApplyMailboxOrRebase: "apply-mailbox-or-rebase",
}

func (s RepositoryState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

// readState derives the state from the git directory. Checks run in the
// same order as git's own, the first match wins.
func readState(dotgit billy.Filesystem) (RepositoryState, error) {
	if dotgit == nil {
		return StateClean, nil
	}

	checks := []struct {
		path  string
		state RepositoryState
	}{
		{"rebase-merge/interactive", StateRebaseInteractive},
		{"rebase-merge", StateRebaseMerge},
		{"rebase-apply/rebasing", StateRebase},
		{"rebase-apply/applying", StateApplyMailbox},
		{"rebase-apply", StateApplyMailboxOrRebase},
		{"MERGE_HEAD", StateMerge},
		{"REVERT_HEAD", StateRevert},
		{"CHERRY_PICK_HEAD", StateCherryPick},
		{"BISECT_LOG", StateBisect},
	}

	for _, c := range checks {
		ok, err := exists(dotgit, c.path)
		if err != nil {
			return StateClean, err
		}

		if !ok {
			continue
		}

		if c.state != StateRevert && c.state != StateCherryPick {
			return c.state, nil
		}

		sequence, err := exists(dotgit, "sequencer/todo")
		if err != nil {
			return StateClean, err
		}

		if !sequence {
			return c.state, nil
		}

		if c.state == StateRevert {
			return StateRevertSequence, nil
		}

		return StateCherryPickSequence, nil
	}

	return StateClean, nil
}

func exists(fs billy.Filesystem, p string) (bool, error) {
	_, err := fs.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	}

	return false, err
}

package bridge

import (
	"context"
	"io/fs"
	"net"
	"net/url"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage"

	"github.com/go-git/go-git-bridge/errors"
)

var codes = []struct {
	code errors.Code
	errs []error
}{
	{errors.CodeNotFound, []error{
		git.ErrRepositoryNotExists,
		git.ErrRemoteNotFound,
		git.ErrBranchNotFound,
		plumbing.ErrReferenceNotFound,
		plumbing.ErrObjectNotFound,
		object.ErrFileNotFound,
		object.ErrDirectoryNotFound,
		object.ErrEntryNotFound,
		transport.ErrRepositoryNotFound,
		transport.ErrEmptyRemoteRepository,
		fs.ErrNotExist,
	}},
	{errors.CodeExists, []error{
		git.ErrRepositoryAlreadyExists,
		git.ErrRemoteExists,
		git.ErrBranchExists,
		fs.ErrExist,
	}},
	{errors.CodeAuth, []error{
		transport.ErrAuthenticationRequired,
		transport.ErrAuthorizationFailed,
		transport.ErrInvalidAuthMethod,
	}},
	{errors.CodeConflict, []error{
		git.ErrNonFastForwardUpdate,
		git.ErrForceNeeded,
		storage.ErrReferenceHasChanged,
	}},
	{errors.CodeInvalidObjectType, []error{
		plumbing.ErrInvalidType,
		object.ErrUnsupportedObject,
	}},
	{errors.CodeBareRepository, []error{
		git.ErrIsBareRepository,
		git.ErrWorktreeNotProvided,
	}},
}

// classify wraps an engine error into the error taxonomy. Errors already in
// the taxonomy and context errors are returned untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var e *errors.Error
	if errors.As(err, &e) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	for _, c := range codes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return errors.Engine(op, c.code, err)
			}
		}
	}

	var (
		netErr  net.Error
		urlErr  *url.Error
		pathErr *fs.PathError
	)

	switch {
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		return errors.Engine(op, errors.CodeNetwork, err)
	case errors.As(err, &pathErr):
		return errors.Engine(op, errors.CodeIo, err)
	}

	return errors.Engine(op, errors.CodeGeneric, err)
}

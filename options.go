package bridge

import (
	"net/http"

	"github.com/ProtonMail/go-crypto/openpgp"
	"go.uber.org/zap"

	"github.com/go-git/go-git-bridge/credentials"
	"github.com/go-git/go-git-bridge/dispatch"
	"github.com/go-git/go-git-bridge/errors"
)

const (
	// DefaultRemoteName name of the default Remote, just like git command
	DefaultRemoteName = "origin"

	// DefaultInitialHead is the branch HEAD points to in a new repository.
	DefaultInitialHead = "master"

	// DefaultCommitCacheSize is the number of commits kept per repository.
	DefaultCommitCacheSize = 256
)

var (
	ErrMissingURL     = errors.New("URL field is required")
	ErrMissingPath    = errors.New("path is required")
	ErrMissingMessage = errors.New("commit message is required")
	ErrMissingRefSpec = errors.New("at least one refspec is required")
	ErrInvalidDepth   = errors.New("depth cannot be negative")
)

// Options is shared by every way of obtaining a Repository.
type Options struct {
	// Dispatcher runs engine work. Defaults to dispatch.Default().
	Dispatcher *dispatch.Dispatcher
	// Logger defaults to the dispatcher's logger.
	Logger *zap.Logger
	// HTTPClient is the client used by Remote.Connect over HTTP(S).
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// CommitCacheSize bounds the number of commits cached by the repository.
	CommitCacheSize int
}

// Validate validates the fields and sets the default values.
func (o *Options) Validate() error {
	if o.Dispatcher == nil {
		o.Dispatcher = dispatch.Default()
	}

	if o.Logger == nil {
		o.Logger = o.Dispatcher.Logger()
	}

	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}

	if o.CommitCacheSize <= 0 {
		o.CommitCacheSize = DefaultCommitCacheSize
	}

	return nil
}

// InitOptions describes how a repository should be initialized.
type InitOptions struct {
	// Bare creates a repository without working tree.
	Bare bool
	// InitialHead is the branch name HEAD points to, "master" by default.
	InitialHead string
	// Namespace is reported by Repository.Namespace.
	Namespace string

	Options
}

// Validate validates the fields and sets the default values.
func (o *InitOptions) Validate() error {
	if o.InitialHead == "" {
		o.InitialHead = DefaultInitialHead
	}

	return o.Options.Validate()
}

// OpenOptions describes how a repository should be opened.
type OpenOptions struct {
	// Namespace overrides GIT_NAMESPACE.
	Namespace string

	Options
}

// Validate validates the fields and sets the default values.
func (o *OpenOptions) Validate() error {
	return o.Options.Validate()
}

// FetchOptions describes how a fetch should be performed.
type FetchOptions struct {
	// Remote is the name of a configured remote or a URL. Defaults to
	// "origin".
	Remote string
	// RefSpecs overrides the remote's configured refspecs.
	RefSpecs []string
	// Prune removes remote-tracking references that no longer exist on the
	// remote.
	Prune bool
	// Depth limits fetching to the specified number of commits.
	Depth int
	// Callbacks for credentials and certificate checks.
	Callbacks credentials.Callbacks
}

// Validate validates the fields and sets the default values.
func (o *FetchOptions) Validate() error {
	if o.Remote == "" {
		o.Remote = DefaultRemoteName
	}

	if o.Depth < 0 {
		return ErrInvalidDepth
	}

	return nil
}

// CloneOptions describes how a clone should be performed.
type CloneOptions struct {
	// Bare creates a repository without working tree.
	Bare bool
	// Recursive also clones submodules.
	Recursive bool
	// Branch to check out instead of the remote HEAD.
	Branch string
	// Depth limits fetching to the specified number of commits.
	Depth int
	// Fetch carries the callbacks and the remote name (default "origin").
	Fetch FetchOptions

	Options
}

// Validate validates the fields and sets the default values.
func (o *CloneOptions) Validate() error {
	if o.Depth < 0 {
		return ErrInvalidDepth
	}

	if err := o.Fetch.Validate(); err != nil {
		return err
	}

	return o.Options.Validate()
}

// PullOptions describes how a pull should be performed.
type PullOptions struct {
	// Remote defaults to "origin".
	Remote string
	// Branch is the remote branch merged into the current one. Defaults to
	// the current branch name.
	Branch string
	// Callbacks for credentials and certificate checks.
	Callbacks credentials.Callbacks
}

// Validate validates the fields and sets the default values.
func (o *PullOptions) Validate() error {
	if o.Remote == "" {
		o.Remote = DefaultRemoteName
	}

	return nil
}

// PushOptions describes how a push should be performed.
type PushOptions struct {
	// Force allows non fast-forward updates.
	Force bool
	// Callbacks for credentials and certificate checks.
	Callbacks credentials.Callbacks
}

// CommitOptions describes a commit to create.
type CommitOptions struct {
	// UpdateRef is the reference to point at the new commit, e.g. "HEAD".
	// When empty no reference is updated. If the reference exists its current
	// target must be the first parent.
	UpdateRef string
	Author    Signature
	Committer Signature
	Message   string
	Tree      Oid
	Parents   []Oid
	// SignKey, when set, signs the commit.
	SignKey *openpgp.Entity
}

// Validate validates the fields and sets the default values.
func (o *CommitOptions) Validate() error {
	if o.Message == "" {
		return ErrMissingMessage
	}

	if o.Committer.IsZero() {
		o.Committer = o.Author
	}

	return nil
}

// ResetType is the kind of reset to perform.
type ResetType int

const (
	// ResetMixed moves HEAD and resets the index. It is the default.
	ResetMixed ResetType = iota
	// ResetSoft only moves HEAD.
	ResetSoft
	// ResetHard moves HEAD and resets the index and the working tree.
	ResetHard
)

func (t ResetType) String() string {
	switch t {
	case ResetSoft:
		return "soft"
	case ResetHard:
		return "hard"
	}

	return "mixed"
}

// Direction is the direction of a remote connection.
type Direction int

const (
	DirectionFetch Direction = iota
	DirectionPush
)

func (d Direction) String() string {
	if d == DirectionPush {
		return "push"
	}

	return "fetch"
}

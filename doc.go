// Package bridge exposes go-git repositories to concurrent host code.
//
// A go-git repository, its storers and its transport sessions are not safe
// for concurrent use. Package bridge puts every repository behind a root
// handle, Repository, that owns the engine instance and serializes every
// access to it through a first-in first-out lock. Values read from the
// repository are handed out either as copies (Commit, Reference, Signature,
// TreeEntry, RemoteHead, IndexEntry) that live independently, or as borrowed
// handles (Tree, Object, Remote, Revwalk, Index, Config) that keep the
// repository alive until they are freed and go through the same lock.
//
// Operations touching the engine return a dispatch.Future and run on the
// worker pool of a dispatch.Dispatcher, so the calling goroutine never
// blocks on engine work. Network operations accept host callbacks for
// credentials and certificate checks; they run on the host loop of the
// dispatcher when there is one.
package bridge

// Package script lets host logic written in Lua answer credential and
// certificate requests. A Runtime wraps one Lua state; the callbacks it
// returns can be passed in credentials.Callbacks.
package script

import (
	"context"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/go-git/go-git-bridge/credentials"
	"github.com/go-git/go-git-bridge/errors"
)

const op = "script"

// Runtime is a Lua state. The state is not safe for concurrent use, every
// access goes through mu.
type Runtime struct {
	mu     sync.Mutex
	state  *lua.LState
	closed bool
}

// New returns a Runtime with the standard Lua libraries loaded.
func New() *Runtime {
	return &Runtime{state: lua.NewState()}
}

// DoString runs a chunk of Lua, typically defining the callback functions.
func (r *Runtime) DoString(ctx context.Context, src string) error {
	return r.do(ctx, func(L *lua.LState) error {
		if err := L.DoString(src); err != nil {
			return errors.Typef(op, "%w", err)
		}

		return nil
	})
}

// Close releases the Lua state. Callbacks called afterwards fail.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		r.closed = true
		r.state.Close()
	}
}

func (r *Runtime) do(ctx context.Context, fn func(L *lua.LState) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.Typef(op, "lua runtime is closed")
	}

	r.state.SetContext(ctx)
	defer r.state.RemoveContext()

	return fn(r.state)
}

func (r *Runtime) call(L *lua.LState, name string, args ...lua.LValue) (lua.LValue, error) {
	fn := L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil, errors.Typef(op, "%s is a %s, not a function", name, fn.Type())
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return nil, err
	}

	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// Credentials returns a callback calling the global Lua function name with
// the URL and the username found in it. The function returns a table whose
// kind field is "default", "userpass" or "sshkey":
//
//	function creds(url, user)
//	  return { kind = "userpass", username = "alice", password = "secret" }
//	end
func (r *Runtime) Credentials(name string) credentials.Callback {
	return func(ctx context.Context, req credentials.Request) (credentials.Credentials, error) {
		var c credentials.Credentials
		err := r.do(ctx, func(L *lua.LState) error {
			ret, err := r.call(L, name, lua.LString(req.URL), lua.LString(req.Username))
			if err != nil {
				return err
			}

			c, err = decodeCredentials(name, ret)
			return err
		})

		return c, err
	}
}

func decodeCredentials(name string, v lua.LValue) (credentials.Credentials, error) {
	t, ok := v.(*lua.LTable)
	if !ok {
		return credentials.Credentials{}, errors.Typef(op, "%s returned a %s, not a table", name, v.Type())
	}

	field := func(k string) string {
		return lua.LVAsString(t.RawGetString(k))
	}

	switch kind := field("kind"); kind {
	case "default":
		return credentials.Default(), nil
	case "userpass":
		return credentials.UsernamePassword(field("username"), field("password")), nil
	case "sshkey":
		return credentials.SSHKeyFromMemory(
			field("username"),
			field("publickey"),
			field("privatekey"),
			field("passphrase"),
		), nil
	default:
		return credentials.Credentials{}, errors.Typef(op, "%s returned unknown credentials kind %q", name, kind)
	}
}

// CertificateCheck returns a callback calling the global Lua function name
// with the host, the certificate fingerprint and whether it passed the
// standard verification. The function returns true to accept it.
func (r *Runtime) CertificateCheck(name string) credentials.CertificateCallback {
	return func(ctx context.Context, cert credentials.Certificate) (bool, error) {
		var accept bool
		err := r.do(ctx, func(L *lua.LState) error {
			ret, err := r.call(L, name,
				lua.LString(cert.Host),
				lua.LString(cert.Fingerprint),
				lua.LBool(cert.Valid),
			)

			if err != nil {
				return err
			}

			b, ok := ret.(lua.LBool)
			if !ok {
				return errors.Typef(op, "%s returned a %s, not a boolean", name, ret.Type())
			}

			accept = bool(b)
			return nil
		})

		return accept, err
	}
}

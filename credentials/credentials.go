// Package credentials holds the host-facing types of the callback bridge:
// credential descriptors returned by host logic, the requests passed to it and
// the certificate decisions it can take during a network operation.
package credentials

import (
	"context"
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/go-git/go-git-bridge/errors"
)

// Kind identifies the variant held by a Credentials value.
type Kind int

const (
	// KindDefault asks the transport to use ambient credentials: nothing
	// over HTTP, the SSH agent over SSH.
	KindDefault Kind = iota + 1
	// KindUsernamePassword is plaintext username and password.
	KindUsernamePassword
	// KindSSHKey is an SSH private key held in memory.
	KindSSHKey
)

func (k Kind) String() string {
	switch k {
	case KindDefault:
		return "default"
	case KindUsernamePassword:
		return "username-password"
	case KindSSHKey:
		return "ssh-key"
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Credentials is a credential descriptor. Build it with Default,
// UsernamePassword or SSHKeyFromMemory; the zero value is not a valid
// descriptor.
type Credentials struct {
	Kind     Kind
	Username string
	Password string
	// PublicKey is optional for KindSSHKey.
	PublicKey  string
	PrivateKey string
	Passphrase string
}

// Default returns a descriptor asking for ambient credentials.
func Default() Credentials {
	return Credentials{Kind: KindDefault}
}

// UsernamePassword returns a plaintext username/password descriptor.
func UsernamePassword(username, password string) Credentials {
	return Credentials{Kind: KindUsernamePassword, Username: username, Password: password}
}

// SSHKeyFromMemory returns a descriptor for a PEM encoded private key. The
// public key and passphrase may be empty.
func SSHKeyFromMemory(username, publicKey, privateKey, passphrase string) Credentials {
	return Credentials{
		Kind:       KindSSHKey,
		Username:   username,
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Passphrase: passphrase,
	}
}

// Validate checks the descriptor has the shape its kind requires. Errors are
// of kind errors.KindType.
func (c Credentials) Validate() error {
	const op = "credentials.validate"

	switch c.Kind {
	case KindDefault:
		return nil
	case KindUsernamePassword:
		if c.Username == "" {
			return errors.Typef(op, "username-password credentials without username")
		}
	case KindSSHKey:
		if c.Username == "" {
			return errors.Typef(op, "ssh-key credentials without username")
		}

		if c.PrivateKey == "" {
			return errors.Typef(op, "ssh-key credentials without private key")
		}
	default:
		return errors.Typef(op, "invalid credentials kind %d", int(c.Kind))
	}

	return nil
}

// String never includes secrets.
func (c Credentials) String() string {
	if c.Username == "" {
		return fmt.Sprintf("Credentials{%s}", c.Kind)
	}

	return fmt.Sprintf("Credentials{%s, %s, [REDACTED]}", c.Kind, c.Username)
}

// MarshalLogObject implements zapcore.ObjectMarshaler. Secrets are redacted.
func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", c.Kind.String())
	if c.Username != "" {
		enc.AddString("username", c.Username)
	}

	if c.Password != "" || c.PrivateKey != "" {
		enc.AddString("secret", "[REDACTED]")
	}

	return nil
}

// Request describes what the remote is asking credentials for.
type Request struct {
	// URL is the remote URL as given to the operation.
	URL string
	// Username is the user name found in the URL, if any.
	Username string
}

// Callback is host logic producing credentials. It runs on the host loop when
// one is configured and may block; the engine operation waits for it.
type Callback func(ctx context.Context, req Request) (Credentials, error)

// CertificateKind identifies what a Certificate carries.
type CertificateKind int

const (
	// CertificateHostKey is an SSH host key.
	CertificateHostKey CertificateKind = iota + 1
	// CertificateX509 is a TLS certificate.
	CertificateX509
)

func (k CertificateKind) String() string {
	switch k {
	case CertificateHostKey:
		return "host-key"
	case CertificateX509:
		return "x509"
	}

	return fmt.Sprintf("certificate-kind(%d)", int(k))
}

// Certificate is a server identity presented during a connection.
type Certificate struct {
	Host string
	Kind CertificateKind
	// Fingerprint is the SHA256 fingerprint, as printed by ssh-keygen.
	Fingerprint string
	// Key is the wire encoding of the key or certificate.
	Key []byte
	// Valid is the verdict of the default verification.
	Valid bool
}

// CertificateCallback decides whether the connection may proceed.
type CertificateCallback func(ctx context.Context, cert Certificate) (bool, error)

// Callbacks gathers the host logic used by one network operation.
type Callbacks struct {
	Credentials      Callback
	CertificateCheck CertificateCallback
	// SkipCertificateCheck disables server identity verification. It is an
	// explicit insecure opt-in.
	SkipCertificateCheck bool
}

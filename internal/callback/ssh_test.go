package callback

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/go-git/go-git-bridge/credentials"
	"github.com/go-git/go-git-bridge/errors"
)

// sshServer starts a server accepting the given user and key, and returns
// its address and host key.
func (s *BridgeSuite) sshServer(user string, key ssh.PublicKey) (string, ssh.PublicKey) {
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	s.Require().NoError(err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)

	srv := &gliderssh.Server{
		Handler: func(sess gliderssh.Session) {
			_ = sess.Exit(0)
		},
		PublicKeyHandler: func(ctx gliderssh.Context, k gliderssh.PublicKey) bool {
			return ctx.User() == user && gliderssh.KeysEqual(k, key)
		},
	}
	srv.AddHostKey(hostSigner)

	go srv.Serve(l) // nolint: errcheck
	s.T().Cleanup(func() { _ = srv.Close() })

	return l.Addr().String(), hostSigner.PublicKey()
}

func (s *BridgeSuite) clientKey() (ssh.Signer, string) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	signer, err := ssh.NewSignerFromKey(priv)
	s.Require().NoError(err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	s.Require().NoError(err)

	return signer, string(pem.EncodeToMemory(block))
}

func (s *BridgeSuite) TestSSHHandshake() {
	s.T().Setenv("SSH_KNOWN_HOSTS", s.T().TempDir()+"/missing")

	signer, private := s.clientKey()
	addr, hostKey := s.sshServer("deploy", signer.PublicKey())

	var seen []credentials.Certificate
	b := s.newBridge(fmt.Sprintf("ssh://%s/r.git", addr), credentials.Callbacks{
		Credentials: func(context.Context, credentials.Request) (credentials.Credentials, error) {
			public := string(ssh.MarshalAuthorizedKey(signer.PublicKey()))
			return credentials.SSHKeyFromMemory("deploy", public, private, ""), nil
		},
		CertificateCheck: func(_ context.Context, cert credentials.Certificate) (bool, error) {
			seen = append(seen, cert)
			return true, nil
		},
	})

	cfg, err := b.SSHAuth().ClientConfig()
	s.Require().NoError(err)

	client, err := ssh.Dial("tcp", addr, cfg)
	s.Require().NoError(err)
	s.NoError(client.Close())

	s.Require().Len(seen, 1)
	s.Equal(credentials.CertificateHostKey, seen[0].Kind)
	s.Equal(ssh.FingerprintSHA256(hostKey), seen[0].Fingerprint)
	s.Equal(hostKey.Marshal(), seen[0].Key)
	s.False(seen[0].Valid)
	s.Equal(1, b.Calls())
}

func (s *BridgeSuite) TestSSHHandshakeRejected() {
	s.T().Setenv("SSH_KNOWN_HOSTS", s.T().TempDir()+"/missing")

	signer, private := s.clientKey()
	addr, _ := s.sshServer("deploy", signer.PublicKey())

	b := s.newBridge(fmt.Sprintf("ssh://%s/r.git", addr), credentials.Callbacks{
		Credentials: func(context.Context, credentials.Request) (credentials.Credentials, error) {
			return credentials.SSHKeyFromMemory("deploy", "", private, ""), nil
		},
		CertificateCheck: func(context.Context, credentials.Certificate) (bool, error) {
			return false, nil
		},
	})

	cfg, err := b.SSHAuth().ClientConfig()
	s.Require().NoError(err)

	_, err = ssh.Dial("tcp", addr, cfg)
	s.Error(err)
	s.ErrorIs(b.Err(), errors.ErrCertificate)
}

func (s *BridgeSuite) TestSSHHandshakeWrongUser() {
	signer, private := s.clientKey()
	addr, _ := s.sshServer("deploy", signer.PublicKey())

	b := s.newBridge(fmt.Sprintf("ssh://%s/r.git", addr), credentials.Callbacks{
		Credentials: func(context.Context, credentials.Request) (credentials.Credentials, error) {
			return credentials.SSHKeyFromMemory("intruder", "", private, ""), nil
		},
		SkipCertificateCheck: true,
	})

	cfg, err := b.SSHAuth().ClientConfig()
	s.Require().NoError(err)
	s.Equal("intruder", cfg.User)

	_, err = ssh.Dial("tcp", addr, cfg)
	s.ErrorContains(err, "unable to authenticate")
}

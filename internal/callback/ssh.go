package callback

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/kevinburke/ssh_config"
	"github.com/skeema/knownhosts"
	sshagent "github.com/xanzy/ssh-agent"
	"golang.org/x/crypto/ssh"

	"github.com/go-git/go-git-bridge/credentials"
	"github.com/go-git/go-git-bridge/errors"
)

// SSHAuthName is the name of the SSH auth method produced by a Bridge.
const SSHAuthName = "ssh-callback"

// defaultHostKeyAlgorithms is offered when known_hosts has nothing on the
// remote host.
var defaultHostKeyAlgorithms = []string{
	ssh.KeyAlgoED25519,
	ssh.KeyAlgoECDSA256,
	ssh.KeyAlgoECDSA384,
	ssh.KeyAlgoECDSA521,
	ssh.KeyAlgoRSASHA512,
	ssh.KeyAlgoRSASHA256,
	ssh.KeyAlgoRSA,
}

type sshAuth struct {
	b *Bridge
}

var _ gitssh.AuthMethod = (*sshAuth)(nil)

// SSHAuth returns an auth method asking the host for credentials when the
// engine builds the SSH client configuration.
func (b *Bridge) SSHAuth() gitssh.AuthMethod {
	return &sshAuth{b: b}
}

func (a *sshAuth) Name() string {
	return SSHAuthName
}

func (a *sshAuth) String() string {
	return fmt.Sprintf("user: %s, name: %s", a.b.sshUser(""), a.Name())
}

func (a *sshAuth) ClientConfig() (*ssh.ClientConfig, error) {
	b := a.b

	c, err := b.resolve(b.endpoint.User)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{User: b.sshUser(c.Username)}
	switch c.Kind {
	case credentials.KindDefault:
		agent, conn, err := sshagent.New()
		if err != nil {
			return nil, b.record(errors.Engine(op, errors.CodeAuth, err))
		}

		b.addCloser(conn)
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeysCallback(agent.Signers)}
	case credentials.KindUsernamePassword:
		cfg.Auth = []ssh.AuthMethod{ssh.Password(c.Password)}
	case credentials.KindSSHKey:
		signer, err := parseSigner(c)
		if err != nil {
			return nil, b.record(err)
		}

		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	}

	host := b.hostWithPort()
	callback, algorithms := b.hostKeyCallback(host)
	cfg.HostKeyCallback = callback
	cfg.HostKeyAlgorithms = algorithms

	return cfg, nil
}

func parseSigner(c credentials.Credentials) (ssh.Signer, error) {
	var (
		signer ssh.Signer
		err    error
	)

	if c.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(c.PrivateKey), []byte(c.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(c.PrivateKey))
	}

	var missing *ssh.PassphraseMissingError
	switch {
	case err == nil:
	case errors.As(err, &missing):
		return nil, errors.Engine(op, errors.CodeAuth, err)
	default:
		return nil, errors.Typef(op, "invalid private key: %s", err)
	}

	if c.PublicKey == "" {
		return signer, nil
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(c.PublicKey))
	if err != nil {
		return nil, errors.Typef(op, "invalid public key: %s", err)
	}

	if string(pub.Marshal()) != string(signer.PublicKey().Marshal()) {
		return nil, errors.Typef(op, "public key does not match private key")
	}

	return signer, nil
}

// sshUser picks the user name: the one chosen by the host, then the one in
// the URL, then ssh_config, then "git".
func (b *Bridge) sshUser(chosen string) string {
	if chosen != "" {
		return chosen
	}

	if b.endpoint.User != "" {
		return b.endpoint.User
	}

	if u := ssh_config.Get(b.endpoint.Host, "User"); u != "" {
		return u
	}

	return gitssh.DefaultUsername
}

func (b *Bridge) hostWithPort() string {
	port := b.endpoint.Port
	if port == 0 {
		port = 22
	}

	return net.JoinHostPort(b.endpoint.Host, fmt.Sprint(port))
}

func (b *Bridge) hostKeyCallback(hostWithPort string) (ssh.HostKeyCallback, []string) {
	if b.skip {
		return ssh.InsecureIgnoreHostKey(), defaultHostKeyAlgorithms // nolint: gosec
	}

	known, err := knownhosts.New(knownHostsFiles()...)
	algorithms := defaultHostKeyAlgorithms
	if err == nil {
		if algos := known.HostKeyAlgorithms(hostWithPort); len(algos) > 0 {
			algorithms = algos
		}
	} else {
		known = nil
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		verr := errors.New("no known_hosts file")
		if known != nil {
			verr = known(hostname, remote, key)
		}

		if b.certificate == nil {
			if verr == nil {
				return nil
			}

			return b.record(errors.Engine(op, errors.CodeCertificate, verr))
		}

		return b.decide(credentials.Certificate{
			Host:        hostname,
			Kind:        credentials.CertificateHostKey,
			Fingerprint: ssh.FingerprintSHA256(key),
			Key:         key.Marshal(),
			Valid:       verr == nil,
		}, verr)
	}, algorithms
}

// knownHostsFiles lists the existing known_hosts files, honouring
// SSH_KNOWN_HOSTS.
func knownHostsFiles() []string {
	var candidates []string
	if env := os.Getenv("SSH_KNOWN_HOSTS"); env != "" {
		candidates = filepath.SplitList(env)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates, filepath.Join(home, ".ssh", "known_hosts"))
		}

		candidates = append(candidates, "/etc/ssh/ssh_known_hosts")
	}

	var files []string
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}

	return files
}

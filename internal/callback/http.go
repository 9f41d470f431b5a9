package callback

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"net/http"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/go-git/go-git-bridge/credentials"
	"github.com/go-git/go-git-bridge/errors"
	"github.com/go-git/go-git-bridge/utils/trace"
)

// HTTPAuthName is the name of the HTTP auth method produced by a Bridge.
const HTTPAuthName = "http-callback"

type httpAuth struct {
	b *Bridge
}

var _ githttp.AuthMethod = (*httpAuth)(nil)

// HTTPAuth returns an auth method that asks the host for credentials once the
// remote refused an anonymous request.
func (b *Bridge) HTTPAuth() githttp.AuthMethod {
	return &httpAuth{b: b}
}

func (a *httpAuth) Name() string {
	return HTTPAuthName
}

func (a *httpAuth) String() string {
	return HTTPAuthName + " - " + a.b.url
}

// SetAuth cannot report errors to the engine; failures are recorded on the
// bridge and the request goes out unauthenticated.
func (a *httpAuth) SetAuth(r *http.Request) {
	b := a.b

	b.mu.Lock()
	armed, resolved := b.armed, b.resolved
	b.mu.Unlock()

	if !armed && !resolved {
		if b.endpoint.User != "" {
			r.SetBasicAuth(b.endpoint.User, b.endpoint.Password)
		}

		return
	}

	c, err := b.resolve(b.endpoint.User)
	if err != nil {
		return
	}

	switch c.Kind {
	case credentials.KindUsernamePassword:
		r.SetBasicAuth(c.Username, c.Password)
	case credentials.KindDefault:
	default:
		b.record(errors.Typef(op, "%s credentials cannot be used over %s", c.Kind, b.endpoint.Protocol)) // nolint: errcheck
	}
}

// HTTPClient returns a copy of base whose TLS verification reports every
// server certificate to the certificate callback. A nil base means
// http.DefaultClient. Without a callback, and unless certificate checks are
// skipped, verification is left to the standard library.
func (b *Bridge) HTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}

	tr, ok := base.Transport.(*http.Transport)
	switch {
	case base.Transport == nil:
		tr = http.DefaultTransport.(*http.Transport).Clone()
	case ok:
		tr = tr.Clone()
	default:
		// a custom RoundTripper owns its TLS configuration
		return base
	}

	if tr.TLSClientConfig == nil {
		tr.TLSClientConfig = &tls.Config{}
	}

	switch {
	case b.skip:
		tr.TLSClientConfig.InsecureSkipVerify = true
	case b.certificate != nil:
		roots := tr.TLSClientConfig.RootCAs
		tr.TLSClientConfig.InsecureSkipVerify = true
		tr.TLSClientConfig.VerifyConnection = func(cs tls.ConnectionState) error {
			return b.checkTLS(cs, roots)
		}
	}

	c := *base
	c.Transport = tr
	return &c
}

func (b *Bridge) checkTLS(cs tls.ConnectionState, roots *x509.CertPool) error {
	if len(cs.PeerCertificates) == 0 {
		return b.record(errors.Enginef(op, errors.CodeCertificate, "no peer certificate"))
	}

	leaf := cs.PeerCertificates[0]
	opts := x509.VerifyOptions{
		DNSName:       cs.ServerName,
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
	}

	for _, c := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(c)
	}

	_, verr := leaf.Verify(opts)
	sum := sha256.Sum256(leaf.Raw)
	cert := credentials.Certificate{
		Host:        cs.ServerName,
		Kind:        credentials.CertificateX509,
		Fingerprint: "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:]),
		Key:         leaf.Raw,
		Valid:       verr == nil,
	}

	return b.decide(cert, verr)
}

// decide asks the certificate callback about cert. verr is the outcome of the
// default verification, used as the cause when the host rejects the
// certificate.
func (b *Bridge) decide(cert credentials.Certificate, verr error) error {
	ctx := b.context()
	trace.Callback.Printf("callback: certificate check for %s (valid=%t)", cert.Host, cert.Valid)

	var accepted bool
	err := b.certificate.Do(ctx, func(fn credentials.CertificateCallback) error {
		ok, err := fn(ctx, cert)
		accepted = ok
		return err
	})

	switch {
	case err != nil:
		return b.record(errors.Engine(op, errors.CodeCertificate, err))
	case !accepted && verr != nil:
		return b.record(errors.Engine(op, errors.CodeCertificate, verr))
	case !accepted:
		return b.record(errors.Enginef(op, errors.CodeCertificate, "certificate for %s rejected", cert.Host))
	}

	return nil
}

package control

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	"golang.org/x/xerrors"

	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
)

// SecureChannel is the out-of-scope abstraction spec.md §1/§6 names: it
// wraps an established byte stream with TLS, using the same nonce the
// PSK challenge exchange already produced as handshake identity
// material, so a mismatched pass-phrase fails the handshake outright
// instead of silently falling back to plaintext (spec.md §4.2 step 3).
//
// The standard library's crypto/tls is the only TLS stack anywhere in
// the retrieval pack (see DESIGN.md) and is used directly rather than
// through a third-party wrapper.
type SecureChannel interface {
	Wrap(conn net.Conn, nonce []byte) (net.Conn, error)
}

// PlainChannel implements SecureChannel as a no-op, used for mc:// URIs.
type PlainChannel struct{}

// Wrap returns conn unchanged.
func (PlainChannel) Wrap(conn net.Conn, _ []byte) (net.Conn, error) { return conn, nil }

// TLSChannel implements SecureChannel by deriving a deterministic Ed25519
// identity from nonce on both ends and pinning the peer's certificate to
// that identity's public key. IsServer selects which TLS role to
// negotiate.
type TLSChannel struct {
	IsServer bool
}

// Wrap performs the TLS handshake, generating a self-signed certificate
// keyed off nonce and rejecting any peer certificate that doesn't carry
// the matching expected public key.
func (t TLSChannel) Wrap(conn net.Conn, nonce []byte) (net.Conn, error) {
	cert, err := certFromNonce(nonce)
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindAuthFailed, "TLSChannel.Wrap", err)
	}
	expectedPub := cert.Leaf.PublicKey.(ed25519.PublicKey)

	verify := func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return xerrors.Errorf("control: peer presented no certificate")
		}
		peerCert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return xerrors.Errorf("control: parse peer certificate: %w", err)
		}
		peerPub, ok := peerCert.PublicKey.(ed25519.PublicKey)
		if !ok || !bytes.Equal(peerPub, expectedPub) {
			return xerrors.Errorf("control: peer certificate does not match expected pre-shared identity")
		}
		return nil
	}

	cfg := &tls.Config{
		Certificates:          []tls.Certificate{cert},
		InsecureSkipVerify:    true, // identity is verified by VerifyPeerCertificate below, not by a CA chain
		VerifyPeerCertificate: verify,
		MinVersion:            tls.VersionTLS13,
	}

	var tlsConn *tls.Conn
	if t.IsServer {
		cfg.ClientAuth = tls.RequireAnyClientCert
		tlsConn = tls.Server(conn, cfg)
	} else {
		tlsConn = tls.Client(conn, cfg)
	}

	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, wavecasterr.New(wavecasterr.KindAuthFailed, "TLSChannel.Wrap", err)
	}
	return tlsConn, nil
}

// certFromNonce derives a self-signed certificate deterministically from
// nonce: both the client and server compute the identical Ed25519 key
// pair from the same PSK-decoded challenge nonce, so a correct
// pass-phrase on both sides yields matching pinned certificates.
func certFromNonce(nonce []byte) (tls.Certificate, error) {
	seed := sha512.Sum512(nonce)
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	pub := priv.Public().(ed25519.PublicKey)

	serial, err := deterministicSerial(nonce)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "wavecast-psk-identity"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return tls.Certificate{}, xerrors.Errorf("control: create deterministic certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, xerrors.Errorf("control: parse deterministic certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}

func deterministicSerial(nonce []byte) (*big.Int, error) {
	h := sha512.Sum512_256(nonce)
	return new(big.Int).SetBytes(h[:]), nil
}

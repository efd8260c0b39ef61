package psk

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/xerrors"
)

// ClientMarker is the canonical plaintext the receiver proves possession
// of the PSK against (spec.md §4.2 step 4).
const ClientMarker = "client"

// NonceLength is the size of the raw challenge nonce drawn by the server,
// independent of the AEAD's own nonce size.
const NonceLength = 32

// DrawNonce returns a fresh random challenge nonce.
func DrawNonce() ([]byte, error) {
	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, xerrors.Errorf("psk: draw challenge nonce: %w", err)
	}
	return nonce, nil
}

// EncodeChallenge seals the raw nonce under the PSK for transmission as
// Challenge.ChallengeKey.
func (c *Cipher) EncodeChallenge(nonce []byte) ([]byte, error) {
	return c.Encode(nonce)
}

// DecodeChallenge recovers the raw nonce from a received Challenge.
func (c *Cipher) DecodeChallenge(challengeKey []byte) ([]byte, error) {
	return c.Decode(challengeKey)
}

// EncodeClientProof builds the receiver's ChallengeResponse.ChallengeKey:
// the canonical client marker, sealed deterministically against the
// recovered nonce so the server can reproduce and compare it.
func (c *Cipher) EncodeClientProof(nonce []byte) []byte {
	return c.EncodeWithNonce(nonce, []byte(ClientMarker))
}

// VerifyClientProof re-derives the expected ChallengeResponse.ChallengeKey
// from nonce and compares it byte-for-byte against got, exactly as
// spec.md §4.2 step 4 specifies ("re-encoding the canonical receiver
// marker and comparing byte-for-byte"). The comparison runs in constant
// time so a network observer can't narrow down the expected proof one
// byte at a time from response latency.
func (c *Cipher) VerifyClientProof(nonce []byte, got []byte) bool {
	want := c.EncodeClientProof(nonce)
	return subtle.ConstantTimeCompare(want, got) == 1
}

package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidPrivateKey is returned when the configured private key is not
	// a usable Ed25519 key.
	ErrInvalidPrivateKey = errors.New("invalid ed25519 private key")
	// ErrInvalidPublicKey is returned when a public key is not a usable
	// Ed25519 key.
	ErrInvalidPublicKey = errors.New("invalid ed25519 public key")
	// ErrSignatureMismatch is returned when a signature does not verify over
	// the given canonical bytes.
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Signer produces Ed25519 signatures over canonical protocol bytes.
// It holds the service private key and is safe for concurrent use.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// New creates a Signer from a private key in raw (32/64 byte) or PEM form.
func New(privateKey []byte) (*Signer, error) {
	priv, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return &Signer{
		private: priv,
		public:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// Generate creates a Signer with a fresh random keypair. Intended for tests
// and ephemeral deployments.
func Generate() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return New(priv)
}

// Sign returns the Ed25519 signature over payload.
func (s *Signer) Sign(payload []byte) []byte {
	return ed25519.Sign(s.private, payload)
}

// PublicKey returns the raw public key bytes.
func (s *Signer) PublicKey() []byte {
	out := make([]byte, len(s.public))
	copy(out, s.public)
	return out
}

// PublicKeyBase64 returns the public key in standard base64, the form it
// travels in protocol documents.
func (s *Signer) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(s.public)
}

// Verifier checks Ed25519 signatures against a single public key.
type Verifier struct {
	public ed25519.PublicKey
}

// NewVerifier creates a Verifier from a public key in raw or PEM form.
func NewVerifier(publicKey []byte) (*Verifier, error) {
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	return &Verifier{public: pub}, nil
}

// Verify returns ErrSignatureMismatch when sig does not verify over payload.
func (v *Verifier) Verify(payload, sig []byte) error {
	if !ed25519.Verify(v.public, payload, sig) {
		return ErrSignatureMismatch
	}
	return nil
}

// Verify checks sig over payload against a raw or base64 public key, for
// callers that verify against per-client keys rather than a fixed one.
func Verify(publicKey, payload, sig []byte) error {
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, payload, sig) {
		return ErrSignatureMismatch
	}
	return nil
}

// DecodePublicKey normalizes a client-supplied public key: raw 32 bytes or
// standard base64 of them.
func DecodePublicKey(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidPublicKey
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err == nil && len(raw) == ed25519.PublicKeySize {
		return raw, nil
	}
	if len(key) == ed25519.PublicKeySize {
		return []byte(key), nil
	}
	return nil, ErrInvalidPublicKey
}

// ParsePrivateKey exposes key parsing for callers that need the ed25519 key
// itself, such as JWT signing. Accepts the same encodings as New.
func ParsePrivateKey(key []byte) (ed25519.PrivateKey, error) {
	return parsePrivateKey(key)
}

func parsePrivateKey(key []byte) (ed25519.PrivateKey, error) {
	switch len(key) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(key), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, ErrInvalidPrivateKey
	}
	return edKey, nil
}

func parsePublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidPublicKey
	}
	return edKey, nil
}

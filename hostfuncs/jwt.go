package hostfuncs

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier checks a compact JWT and returns its decoded payload.
type TokenVerifier interface {
	VerifyToken(raw string) ([]byte, error)
}

// signingMethods are the algorithms verify_jwt accepts. Key types keep the
// families apart: an HMAC secret never verifies an RSA-signed token.
var signingMethods = []string{
	jwt.SigningMethodRS256.Alg(), jwt.SigningMethodRS384.Alg(), jwt.SigningMethodRS512.Alg(),
	jwt.SigningMethodPS256.Alg(), jwt.SigningMethodPS384.Alg(), jwt.SigningMethodPS512.Alg(),
	jwt.SigningMethodES256.Alg(), jwt.SigningMethodES384.Alg(), jwt.SigningMethodES512.Alg(),
	jwt.SigningMethodEdDSA.Alg(),
	jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg(),
}

// Keyring holds trusted verification keys indexed by issuer then key ID.
// A token is accepted when its iss claim and kid header name a key here and
// the signature verifies against it.
type Keyring struct {
	mu     sync.RWMutex
	keys   map[string]map[string]any
	parser *jwt.Parser
}

// NewKeyring returns an empty Keyring that checks exp and nbf against clk.
func NewKeyring(clk clock.Clock) *Keyring {
	if clk == nil {
		clk = clock.New()
	}
	return &Keyring{
		keys: make(map[string]map[string]any),
		parser: jwt.NewParser(
			jwt.WithValidMethods(signingMethods),
			jwt.WithTimeFunc(clk.Now),
		),
	}
}

// AddKey trusts key, a public key or an HMAC secret as []byte.
func (k *Keyring) AddKey(issuer, kid string, key any) error {
	if issuer == "" || kid == "" {
		return errors.New("issuer and key id are required")
	}
	if b, ok := key.([]byte); ok && len(b) == 0 {
		return errors.New("empty secret")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	byKid, ok := k.keys[issuer]
	if !ok {
		byKid = make(map[string]any)
		k.keys[issuer] = byKid
	}
	byKid[kid] = key
	return nil
}

// AddPEM trusts a PEM-encoded RSA, ECDSA or Ed25519 public key.
func (k *Keyring) AddPEM(issuer, kid string, data []byte) error {
	key, err := parsePublicKey(data)
	if err != nil {
		return fmt.Errorf("key %s for %s: %w", kid, issuer, err)
	}
	return k.AddKey(issuer, kid, key)
}

func parsePublicKey(data []byte) (any, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseEdPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	return nil, errors.New("not a PEM encoded RSA, ECDSA or Ed25519 public key")
}

// Len returns the number of trusted keys.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	n := 0
	for _, byKid := range k.keys {
		n += len(byKid)
	}
	return n
}

// VerifyToken implements TokenVerifier.
func (k *Keyring) VerifyToken(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	tok, err := k.parser.Parse(raw, k.lookup)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	parts := strings.Split(raw, ".")
	return k.parser.DecodeSegment(parts[1])
}

func (k *Keyring) lookup(tok *jwt.Token) (any, error) {
	issuer, err := tok.Claims.GetIssuer()
	if err != nil {
		return nil, err
	}
	if issuer == "" {
		return nil, errors.New("no issuer in claims")
	}
	kid, _ := tok.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("no kid in header")
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	byKid, ok := k.keys[issuer]
	if !ok {
		return nil, fmt.Errorf("no keys registered for issuer %s", issuer)
	}
	key, ok := byKid[kid]
	if !ok {
		return nil, fmt.Errorf("kid %s invalid for issuer %s", kid, issuer)
	}
	return key, nil
}

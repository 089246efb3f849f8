package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// MinRSAKeyBits is the smallest modulus accepted for signing or verification.
const MinRSAKeyBits = 2048

// KeySource points at the configured key material. Inline values may be
// PEM text or base64 DER; inline wins over the path.
type KeySource struct {
	PrivateKey         string
	PrivateKeyPath     string
	PublicKey          string
	PublicKeyPath      string
	PreviousPublicKeys []string
}

// KeySet is the signing key plus the ordered verification keys.
type KeySet struct {
	Private  *rsa.PrivateKey
	Current  *rsa.PublicKey
	Previous []*rsa.PublicKey
}

// LoadKeySet reads and validates every configured key. Any unreadable or
// undersized key, including a previous one, fails startup.
func LoadKeySet(src KeySource) (KeySet, error) {
	privRaw, err := readKeyMaterial(src.PrivateKey, src.PrivateKeyPath)
	if err != nil {
		return KeySet{}, fmt.Errorf("private key: %w", err)
	}
	priv, err := ParsePrivateKey(privRaw)
	if err != nil {
		return KeySet{}, fmt.Errorf("private key: %w", err)
	}

	pubRaw, err := readKeyMaterial(src.PublicKey, src.PublicKeyPath)
	if err != nil {
		return KeySet{}, fmt.Errorf("public key: %w", err)
	}
	pub, err := ParsePublicKey(pubRaw)
	if err != nil {
		return KeySet{}, fmt.Errorf("public key: %w", err)
	}
	if !priv.PublicKey.Equal(pub) {
		return KeySet{}, errors.New("public key does not match private key")
	}

	keys := KeySet{Private: priv, Current: pub}
	for i, encoded := range src.PreviousPublicKeys {
		prev, err := ParsePublicKey([]byte(encoded))
		if err != nil {
			return KeySet{}, fmt.Errorf("previous public key %d: %w", i+1, err)
		}
		keys.Previous = append(keys.Previous, prev)
	}
	return keys, nil
}

func readKeyMaterial(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, errors.New("not configured")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return b, nil
}

// ParsePrivateKey accepts PEM or base64 DER in PKCS#8 or PKCS#1 form.
func ParsePrivateKey(raw []byte) (*rsa.PrivateKey, error) {
	der, err := toDER(raw)
	if err != nil {
		return nil, err
	}

	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("key is not RSA")
		}
		key = rsaKey
	} else if key, err = x509.ParsePKCS1PrivateKey(der); err != nil {
		return nil, errors.New("unsupported private key encoding")
	}

	if key.N.BitLen() < MinRSAKeyBits {
		return nil, fmt.Errorf("RSA key is %d bits, need at least %d", key.N.BitLen(), MinRSAKeyBits)
	}
	return key, nil
}

// ParsePublicKey accepts PEM or base64 DER in PKIX (X.509) or PKCS#1 form.
func ParsePublicKey(raw []byte) (*rsa.PublicKey, error) {
	der, err := toDER(raw)
	if err != nil {
		return nil, err
	}

	var key *rsa.PublicKey
	if parsed, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("key is not RSA")
		}
		key = rsaKey
	} else if key, err = x509.ParsePKCS1PublicKey(der); err != nil {
		return nil, errors.New("unsupported public key encoding")
	}

	if key.N.BitLen() < MinRSAKeyBits {
		return nil, fmt.Errorf("RSA key is %d bits, need at least %d", key.N.BitLen(), MinRSAKeyBits)
	}
	return key, nil
}

func toDER(raw []byte) ([]byte, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, errors.New("empty key")
	}
	if strings.HasPrefix(text, "-----BEGIN") {
		block, _ := pem.Decode([]byte(text))
		if block == nil {
			return nil, errors.New("invalid PEM block")
		}
		return block.Bytes, nil
	}
	der, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, errors.New("key is neither PEM nor base64")
	}
	return der, nil
}

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/quickstack/pos-auth/internal/models"
	"golang.org/x/crypto/argon2"
)

const (
	DefaultMemoryKiB   uint32 = 64 * 1024
	DefaultIterations  uint32 = 3
	DefaultParallelism uint8  = 4
	DefaultSaltLength  uint32 = 16
	DefaultKeyLength   uint32 = 32

	DefaultMinPasswordLen = 12
	DefaultMaxPasswordLen = 128

	minMemoryKiB   uint32 = 8 * 1024
	minIterations  uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16

	algorithmID = "argon2id"

	// costCeilingFactor bounds how far a stored hash may exceed the
	// configured cost before Verify refuses to compute it.
	costCeilingFactor = 4
)

// HashConfig holds the Argon2id cost parameters for new hashes.
type HashConfig struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultHashConfig returns the production cost parameters.
func DefaultHashConfig() HashConfig {
	return HashConfig{
		MemoryKiB:   DefaultMemoryKiB,
		Iterations:  DefaultIterations,
		Parallelism: DefaultParallelism,
		SaltLength:  DefaultSaltLength,
		KeyLength:   DefaultKeyLength,
	}
}

// PasswordPolicy bounds password length, counted in characters.
type PasswordPolicy struct {
	MinLength int
	MaxLength int
}

// DefaultPasswordPolicy returns the 12..128 character policy.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: DefaultMinPasswordLen, MaxLength: DefaultMaxPasswordLen}
}

// Hasher produces and verifies peppered Argon2id hashes of the form
//
//	v{N}$$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
//
// where N is the pepper version (v0 when no pepper is configured). Hashes
// without the version tag are treated as pepper version 1.
type Hasher struct {
	config  HashConfig
	policy  PasswordPolicy
	peppers *PepperRegistry
	// dummySalt feeds the decoy computation run on malformed input.
	dummySalt []byte
}

type parsedHash struct {
	pepperVersion int
	memory        uint32
	iterations    uint32
	parallelism   uint8
	salt          []byte
	key           []byte
}

// NewHasher validates the cost floor and policy bounds.
func NewHasher(cfg HashConfig, policy PasswordPolicy, peppers *PepperRegistry) (*Hasher, error) {
	if err := validateHashConfig(cfg); err != nil {
		return nil, err
	}
	if policy.MinLength < 1 || policy.MaxLength < policy.MinLength {
		return nil, fmt.Errorf("invalid password policy: min=%d max=%d", policy.MinLength, policy.MaxLength)
	}
	if peppers == nil {
		return nil, errors.New("pepper registry is required")
	}

	dummySalt := make([]byte, cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, dummySalt); err != nil {
		return nil, fmt.Errorf("failed to generate dummy salt: %w", err)
	}

	return &Hasher{config: cfg, policy: policy, peppers: peppers, dummySalt: dummySalt}, nil
}

func validateHashConfig(cfg HashConfig) error {
	switch {
	case cfg.MemoryKiB < minMemoryKiB:
		return fmt.Errorf("argon2 memory must be at least %d KiB", minMemoryKiB)
	case cfg.Iterations < minIterations:
		return fmt.Errorf("argon2 iterations must be at least %d", minIterations)
	case cfg.Parallelism < minParallelism:
		return fmt.Errorf("argon2 parallelism must be at least %d", minParallelism)
	case cfg.SaltLength < minSaltLength:
		return fmt.Errorf("argon2 salt length must be at least %d", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return fmt.Errorf("argon2 key length must be at least %d", minKeyLength)
	}
	return nil
}

// ValidatePolicy checks the password length bounds.
func (h *Hasher) ValidatePolicy(password string) error {
	n := utf8.RuneCountInString(password)
	if n < h.policy.MinLength {
		return &models.PasswordPolicyError{Violation: models.PolicyTooShort, Limit: h.policy.MinLength}
	}
	if n > h.policy.MaxLength {
		return &models.PasswordPolicyError{Violation: models.PolicyTooLong, Limit: h.policy.MaxLength}
	}
	return nil
}

// Hash enforces the policy and returns a tagged hash using the current pepper.
func (h *Hasher) Hash(password string) (string, error) {
	if err := h.ValidatePolicy(password); err != nil {
		return "", err
	}

	version := h.peppers.Current()
	pepper, ok := h.peppers.Lookup(version)
	if !ok {
		return "", fmt.Errorf("current pepper version %d is not registered", version)
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(peppered(pepper, password), salt,
		h.config.Iterations, h.config.MemoryKiB, h.config.Parallelism, h.config.KeyLength)

	return fmt.Sprintf("v%d$$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		version,
		algorithmID,
		argon2.Version,
		h.config.MemoryKiB,
		h.config.Iterations,
		h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. It never returns an error:
// empty input, a malformed hash or an unknown pepper version all yield false
// after a full-cost Argon2id computation.
func (h *Hasher) Verify(password, encoded string) bool {
	if password == "" || encoded == "" {
		h.dummyHash(password)
		return false
	}

	parsed, err := parseHash(encoded)
	if err != nil {
		h.dummyHash(password)
		return false
	}

	if !h.withinCostCeiling(parsed) {
		h.dummyHash(password)
		return false
	}

	pepper, ok := h.peppers.Lookup(parsed.pepperVersion)
	if !ok {
		h.dummyHash(password)
		return false
	}

	computed := argon2.IDKey(peppered(pepper, password), parsed.salt,
		parsed.iterations, parsed.memory, parsed.parallelism, uint32(len(parsed.key)))

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1
}

// NeedsRehash reports whether encoded uses an older pepper or weaker cost
// parameters than the current configuration. Unparseable hashes return false.
func (h *Hasher) NeedsRehash(encoded string) bool {
	parsed, err := parseHash(encoded)
	if err != nil {
		return false
	}

	switch {
	case parsed.pepperVersion < h.peppers.Current():
		return true
	case parsed.memory < h.config.MemoryKiB:
		return true
	case parsed.iterations < h.config.Iterations:
		return true
	case parsed.parallelism < h.config.Parallelism:
		return true
	case uint32(len(parsed.key)) != h.config.KeyLength:
		return true
	case uint32(len(parsed.salt)) < h.config.SaltLength:
		return true
	}
	return false
}

// withinCostCeiling rejects stored parameters far above the configured cost,
// so a corrupt row cannot force a multi-GiB allocation per login.
func (h *Hasher) withinCostCeiling(p *parsedHash) bool {
	return uint64(p.memory) <= uint64(h.config.MemoryKiB)*costCeilingFactor &&
		uint64(p.iterations) <= uint64(h.config.Iterations)*costCeilingFactor &&
		uint64(len(p.key)) <= uint64(h.config.KeyLength)*costCeilingFactor
}

func (h *Hasher) dummyHash(password string) {
	_ = argon2.IDKey([]byte(password), h.dummySalt,
		h.config.Iterations, h.config.MemoryKiB, h.config.Parallelism, h.config.KeyLength)
}

func peppered(pepper []byte, password string) []byte {
	out := make([]byte, 0, len(pepper)+len(password))
	out = append(out, pepper...)
	return append(out, password...)
}

// parseHash accepts both the tagged form and a bare PHC string.
func parseHash(encoded string) (*parsedHash, error) {
	version := 1
	phc := encoded

	if strings.HasPrefix(encoded, "v") {
		tag, rest, ok := strings.Cut(encoded, "$")
		if !ok {
			return nil, errors.New("invalid pepper tag")
		}
		v, err := strconv.Atoi(strings.TrimPrefix(tag, "v"))
		if err != nil || v < UnpepperedVersion {
			return nil, errors.New("invalid pepper version")
		}
		version = v
		phc = rest
	}

	parts := strings.Split(phc, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return nil, errors.New("unsupported argon2 version")
	}

	parsed := &parsedHash{pepperVersion: version}
	for _, kv := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errors.New("invalid argon2 parameters")
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, errors.New("invalid argon2 parameters")
		}
		switch name {
		case "m":
			parsed.memory = uint32(n)
		case "t":
			parsed.iterations = uint32(n)
		case "p":
			if n > 255 {
				return nil, errors.New("invalid argon2 parallelism")
			}
			parsed.parallelism = uint8(n)
		default:
			return nil, errors.New("unknown argon2 parameter")
		}
	}
	if parsed.memory == 0 || parsed.iterations == 0 || parsed.parallelism == 0 {
		return nil, errors.New("missing argon2 parameters")
	}

	var err error
	if parsed.salt, err = decodeB64(parts[4]); err != nil || len(parsed.salt) == 0 {
		return nil, errors.New("invalid salt encoding")
	}
	if parsed.key, err = decodeB64(parts[5]); err != nil || len(parsed.key) == 0 {
		return nil, errors.New("invalid hash encoding")
	}
	return parsed, nil
}

func decodeB64(s string) ([]byte, error) {
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

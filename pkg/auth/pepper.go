package auth

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// minPepperBytes is the shortest pepper accepted at startup.
const minPepperBytes = 16

// PepperRegistry maps pepper versions to secret values. The current version
// is used for new hashes; older versions stay available for verification.
type PepperRegistry struct {
	current int
	values  map[int][]byte
}

// UnpepperedVersion tags hashes computed without a pepper. Every registry
// keeps it so those hashes still verify after a pepper is introduced.
const UnpepperedVersion = 0

// NewPepperRegistry builds a registry from the current pepper and the decoded
// previous versions. An empty currentHex disables peppering; hashes then
// carry the v0 tag.
func NewPepperRegistry(currentVersion int, currentHex string, previous map[int][]byte) (*PepperRegistry, error) {
	r := &PepperRegistry{current: UnpepperedVersion, values: map[int][]byte{UnpepperedVersion: nil}}

	if currentHex == "" {
		if len(previous) > 0 {
			return nil, fmt.Errorf("previous peppers configured without a current pepper")
		}
		return r, nil
	}

	if currentVersion < 1 {
		return nil, fmt.Errorf("pepper version must be positive, got %d", currentVersion)
	}
	value, err := decodePepper(currentHex)
	if err != nil {
		return nil, fmt.Errorf("current pepper: %w", err)
	}

	r.current = currentVersion
	r.values[currentVersion] = value
	for version, v := range previous {
		if version == currentVersion {
			return nil, fmt.Errorf("previous pepper reuses current version %d", version)
		}
		if version > currentVersion {
			return nil, fmt.Errorf("previous pepper version %d is newer than current %d", version, currentVersion)
		}
		r.values[version] = v
	}
	return r, nil
}

// ParsePepperVersions decodes "1:hex,2:hex" into a version map. Any malformed
// entry fails the whole parse so a typo cannot silently drop a pepper.
func ParsePepperVersions(spec string) (map[int][]byte, error) {
	out := make(map[int][]byte)
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return out, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		versionStr, valueHex, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("pepper entry %q: expected version:hex", entry)
		}
		version, err := strconv.Atoi(strings.TrimSpace(versionStr))
		if err != nil || version < 1 {
			return nil, fmt.Errorf("pepper entry %q: invalid version", entry)
		}
		if _, dup := out[version]; dup {
			return nil, fmt.Errorf("pepper version %d listed twice", version)
		}
		value, err := decodePepper(strings.TrimSpace(valueHex))
		if err != nil {
			return nil, fmt.Errorf("pepper version %d: %w", version, err)
		}
		out[version] = value
	}
	return out, nil
}

func decodePepper(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("pepper is not valid hex")
	}
	if len(b) < minPepperBytes {
		return nil, fmt.Errorf("pepper must be at least %d bytes", minPepperBytes)
	}
	return b, nil
}

// Current returns the version used for new hashes.
func (r *PepperRegistry) Current() int {
	return r.current
}

// Lookup returns the pepper for version.
func (r *PepperRegistry) Lookup(version int) ([]byte, bool) {
	v, ok := r.values[version]
	return v, ok
}

// Versions lists every known version in ascending order.
func (r *PepperRegistry) Versions() []int {
	versions := make([]int, 0, len(r.values))
	for v := range r.values {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions
}

// Package password validates a channel's level-1/level-2 password pair
// and derives the symmetric keys that flag metadata sections 2 and 3 as
// encrypted, per the policy spec.md §4.1 calls "password discipline".
package password

import (
	"crypto/sha256"
	"fmt"

	"github.com/msel-source/mefwriter/core"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLengthBytes = 32
	pbkdf2Rounds   = 100000
)

// saltSeed seeds the key derivation; a fixed, public salt is sufficient
// here because the derived keys flag encryption for aggregation
// purposes, not protect data at rest against an adversary who also holds
// the MEF file (the format's actual cryptographic envelope, if any, is
// layered on top by a caller, matching the "encrypted iff level-2
// password exists" flag semantics the spec assigns to metadata).
var saltSeed = []byte("mef-password-v1")

// Data holds a validated level-1/level-2 password pair and their derived
// keys. A nil *Data means no passwords were supplied and no section
// should be flagged encrypted.
type Data struct {
	Level1    string
	Level2    string
	Level1Key [keyLengthBytes]byte
	Level2Key [keyLengthBytes]byte
}

// New validates level1/level2 against the policy in spec.md §4.1:
// a level-2 password requires a level-1 password, and they must differ.
// Passing two empty strings returns (nil, nil) — no password discipline
// in effect.
func New(level1, level2 string) (*Data, error) {
	if level1 == "" && level2 == "" {
		return nil, nil
	}
	if level2 != "" && level1 == "" {
		return nil, fmt.Errorf("%w: level-2 password requires a level-1 password", core.ErrPasswordPolicyViolated)
	}
	if level1 != "" && level1 == level2 {
		return nil, fmt.Errorf("%w: level-1 and level-2 passwords must differ", core.ErrPasswordPolicyViolated)
	}

	d := &Data{Level1: level1, Level2: level2}
	copy(d.Level1Key[:], deriveKey(level1))
	if level2 != "" {
		copy(d.Level2Key[:], deriveKey(level2))
	}
	return d, nil
}

func deriveKey(pw string) []byte {
	if pw == "" {
		return make([]byte, keyLengthBytes)
	}
	return pbkdf2.Key([]byte(pw), saltSeed, pbkdf2Rounds, keyLengthBytes, sha256.New)
}

// HasLevel2 reports whether d grants level-2 access; a nil *Data never
// does.
func (d *Data) HasLevel2() bool {
	return d != nil && d.Level2 != ""
}

// Section2Encrypted and Section3Encrypted report the flags metadata
// should carry, per spec.md §4.1: "Section-2 and section-3 of metadata
// are flagged encrypted iff a level-2 password exists."
func (d *Data) Section2Encrypted() bool { return d.HasLevel2() }
func (d *Data) Section3Encrypted() bool { return d.HasLevel2() }

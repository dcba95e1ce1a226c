package core

import "github.com/google/uuid"

// UUID is a 16-byte universally unique identifier, stamped into universal
// headers to distinguish files (file_UUID) and segment families
// (level_UUID).
type UUID [16]byte

// NewUUID generates a fresh random UUID (version 4), the collaborator
// assumed by the universal header's UUID fields.
func NewUUID() UUID {
	var u UUID
	id := uuid.New()
	copy(u[:], id[:])
	return u
}

// IsZero reports whether u is the all-zero UUID, used to detect an
// unset field when reading a header back from disk.
func (u UUID) IsZero() bool {
	return u == UUID{}
}

func (u UUID) String() string {
	id, err := uuid.FromBytes(u[:])
	if err != nil {
		return ""
	}
	return id.String()
}

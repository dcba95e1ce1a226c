package password

import (
	"errors"
	"testing"

	"github.com/msel-source/mefwriter/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNoPasswords(t *testing.T) {
	d, err := New("", "")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestNewLevel2WithoutLevel1(t *testing.T) {
	_, err := New("", "secret2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrPasswordPolicyViolated))
}

func TestNewLevel1EqualsLevel2(t *testing.T) {
	_, err := New("same", "same")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrPasswordPolicyViolated))
}

func TestNewValidPair(t *testing.T) {
	d, err := New("level1pw", "level2pw")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, d.HasLevel2())
	assert.True(t, d.Section2Encrypted())
	assert.True(t, d.Section3Encrypted())
	assert.NotEqual(t, d.Level1Key, d.Level2Key)
}

func TestNewLevel1Only(t *testing.T) {
	d, err := New("level1pw", "")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.False(t, d.HasLevel2())
	assert.False(t, d.Section2Encrypted())
}

package sd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nusBase = "6E400000-B5A3-F393-E0A9-E50E24DCCA9E"

func TestParseBaseLittleEndian(t *testing.T) {
	base, err := ParseBase(nusBase)
	require.NoError(t, err)

	// Little-endian with the alias slot zeroed.
	want := UUID128{
		0x9E, 0xCA, 0xDC, 0x24, 0x0E, 0xE5, 0xA9, 0xE0,
		0x93, 0xF3, 0xA3, 0xB5, 0x00, 0x00, 0x40, 0x6E,
	}
	assert.Equal(t, want, base)
}

func TestWithAlias(t *testing.T) {
	base, err := ParseBase(nusBase)
	require.NoError(t, err)

	full := base.WithAlias(0x0003)
	assert.Equal(t, byte(0x03), full[12])
	assert.Equal(t, byte(0x00), full[13])
	// Base bytes untouched.
	assert.Equal(t, byte(0x9E), full[0])
	assert.Equal(t, byte(0x6E), full[15])
}

func TestStringRoundTrip(t *testing.T) {
	base, err := ParseBase(nusBase)
	require.NoError(t, err)

	assert.Equal(t, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", base.WithAlias(0x0001).String())
}

func TestParseBaseRejectsGarbage(t *testing.T) {
	_, err := ParseBase("not-a-uuid")
	assert.Error(t, err)
}

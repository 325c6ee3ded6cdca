package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv_PrefersLoadedMap(t *testing.T) {
	Env = map[string]string{"RENTFOX_TEST_KEY": "from-file"}
	t.Cleanup(func() { Env = nil })
	t.Setenv("RENTFOX_TEST_KEY", "from-os")

	assert.Equal(t, "from-file", GetEnv("RENTFOX_TEST_KEY", "def"))
}

func TestGetEnv_FallsBackToOSAndDefault(t *testing.T) {
	Env = map[string]string{}
	t.Cleanup(func() { Env = nil })
	t.Setenv("RENTFOX_TEST_OS", "from-os")

	assert.Equal(t, "from-os", GetEnv("RENTFOX_TEST_OS", "def"))
	assert.Equal(t, "def", GetEnv("RENTFOX_TEST_MISSING", "def"))
}

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"INT_OK":    "42",
		"INT_BAD":   "x",
		"FLOAT_OK":  "2.5",
		"BOOL_YES":  "yes",
		"BOOL_OFF":  "off",
		"BOOL_JUNK": "maybe",
	}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 42, GetEnvInt("INT_OK", 1))
	assert.Equal(t, 1, GetEnvInt("INT_BAD", 1))
	assert.Equal(t, 7, GetEnvInt("INT_MISSING", 7))
	assert.InDelta(t, 2.5, GetEnvFloat("FLOAT_OK", 0), 0.0001)
	assert.InDelta(t, 2.0, GetEnvFloat("FLOAT_MISSING", 2.0), 0.0001)
	assert.True(t, GetEnvBool("BOOL_YES", false))
	assert.False(t, GetEnvBool("BOOL_OFF", true))
	assert.True(t, GetEnvBool("BOOL_JUNK", true))
}

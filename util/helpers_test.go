package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvDefault(t *testing.T) {
	t.Setenv("ADVISORY_TEST_SET", "value")
	assert.Equal(t, "value", GetEnvDefault("ADVISORY_TEST_SET", "fallback"))
	assert.Equal(t, "fallback", GetEnvDefault("ADVISORY_TEST_UNSET_XYZ", "fallback"))

	t.Setenv("ADVISORY_TEST_EMPTY", "")
	assert.Equal(t, "", GetEnvDefault("ADVISORY_TEST_EMPTY", "fallback"))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty("  \t\n"))
	assert.False(t, IsEmpty(" x "))
	assert.True(t, IsNotEmpty("x"))
}

func TestModuleFromPURL(t *testing.T) {
	module, version, err := ModuleFromPURL("pkg:npm/left-pad@1.0.5")
	require.NoError(t, err)
	assert.Equal(t, "left-pad", module)
	assert.Equal(t, "1.0.5", version)

	module, version, err = ModuleFromPURL("pkg:npm/%40hapi/joi@17.1.0")
	require.NoError(t, err)
	assert.Equal(t, "@hapi/joi", module)
	assert.Equal(t, "17.1.0", version)

	module, version, err = ModuleFromPURL("pkg:npm/qs")
	require.NoError(t, err)
	assert.Equal(t, "qs", module)
	assert.Empty(t, version)

	_, _, err = ModuleFromPURL("left-pad@1.0.5")
	assert.Error(t, err)
}

func TestModulePURLRoundTrip(t *testing.T) {
	for _, name := range []string{"left-pad", "@hapi/joi"} {
		module, version, err := ModuleFromPURL(ModulePURL(name) + "@2.0.0")
		require.NoError(t, err, name)
		assert.Equal(t, name, module)
		assert.Equal(t, "2.0.0", version)
	}
	assert.Equal(t, "pkg:npm/left-pad", ModulePURL("left-pad"))
}

func TestInitLogger(t *testing.T) {
	logger := InitLogger("debug")
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(-1))

	logger = InitLogger("not-a-level")
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(-1))
}

package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	set := Default()
	require.NoError(t, set.Validate())
	for _, r := range Roles() {
		assert.NotEmpty(t, set.For(r), r)
	}
	assert.Empty(t, set.For(Role("critic")))
}

func TestLoadOverridesNonBlankKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	body := "refiner: |\n  Be harsh with your own draft.\nsynthesizer: \"   \"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Be harsh with your own draft.\n", set.Refiner)
	assert.Equal(t, Default().Synthesizer, set.Synthesizer)
	assert.Equal(t, Default().Strategist, set.Strategist)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	set, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), set)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refiner: [unclosed"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestValidateRejectsBlankRole(t *testing.T) {
	set := Default()
	set.Initializer = "  "
	err := set.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initializer")
}

func TestYAMLRoundTripsThroughLoad(t *testing.T) {
	want := Default()
	want.Strategist = "plan it"
	b, err := want.YAML()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

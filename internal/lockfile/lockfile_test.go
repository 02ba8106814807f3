package lockfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PinnedRequirements(t *testing.T) {
	in := strings.NewReader(`
# compiled by the dependency locker
aiormq==6.8.1
    # via aio-pika
Protobuf==4.25.3
typing_extensions==4.12.2 ; python_version < "3.11"
`)
	set, err := Parse(in)
	require.NoError(t, err)

	assert.Len(t, set, 3)
	assert.Equal(t, "6.8.1", set["aiormq"].Version)
	// names are canonicalized
	assert.Equal(t, "4.25.3", set["protobuf"].Version)
	assert.Equal(t, "4.12.2", set["typing-extensions"].Version)
}

func TestParse_RejectsUnpinned(t *testing.T) {
	for _, line := range []string{
		"requests>=2.0",
		"requests~=2.31",
		"requests",
		"-r other.txt",
		"-e .",
	} {
		_, err := Parse(strings.NewReader(line))
		require.Error(t, err, line)
		assert.ErrorIs(t, err, ErrMalformed, line)
	}
}

func TestParse_RejectsDuplicates(t *testing.T) {
	_, err := Parse(strings.NewReader("a==1.0\nA==2.0\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseFile_Missing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "requirements.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestParseFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requirements.txt")
	require.NoError(t, os.WriteFile(path, []byte("pika==1.3.2\npyyaml==6.0.1\n"), 0o644))

	set, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, []Requirement{
		{Name: "pika", Version: "1.3.2"},
		{Name: "pyyaml", Version: "6.0.1"},
	}, set.Sorted())
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, "typing-extensions", CanonicalName("Typing_Extensions"))
	assert.Equal(t, "zope-interface", CanonicalName("zope.interface"))
	assert.Equal(t, "a-b", CanonicalName("a---b"))
}

func TestUnion_ConflictingPins(t *testing.T) {
	run := Set{"pika": {Name: "pika", Version: "1.3.2"}}
	dev := Set{"pika": {Name: "pika", Version: "1.3.0"}}
	_, err := Union(run, dev)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCompare_StrictSync(t *testing.T) {
	locked := Set{
		"pika":   {Name: "pika", Version: "1.3.2"},
		"pyyaml": {Name: "pyyaml", Version: "6.0.1"},
	}
	installed := Set{
		"pika":     {Name: "pika", Version: "1.3.2"},
		"pyyaml":   {Name: "pyyaml", Version: "6.0.0"},
		"requests": {Name: "requests", Version: "2.31.0"},
		// bootstrap tooling is never counted as an extra
		"pip":       {Name: "pip", Version: "24.0"},
		"pip-tools": {Name: "pip-tools", Version: "7.4.1"},
	}

	d := Compare(locked, installed)
	assert.False(t, d.InSync())
	assert.Empty(t, d.Missing)
	assert.Equal(t, []Requirement{{Name: "requests", Version: "2.31.0"}}, d.Extra)
	assert.Equal(t, []Requirement{{Name: "pyyaml", Version: "6.0.0"}}, d.Mismatched)
}

func TestCompare_ExactMatchIsInSync(t *testing.T) {
	locked := Set{"pika": {Name: "pika", Version: "1.3.2"}}
	installed := Set{
		"pika": {Name: "pika", Version: "1.3.2"},
		"pip":  {Name: "pip", Version: "24.0"},
	}
	assert.True(t, Compare(locked, installed).InSync())
}

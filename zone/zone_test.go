package zone

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZone(t *testing.T, contents string) string {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "zone-*.txt")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	return f.Name()
}

func Test_loadZone(t *testing.T) {
	path := writeZone(t, `
example.com. 3600 IN A 10.0.0.1
example.com. 3600 IN NS ns1.example.com.
ns1.example.com. 3600 IN A 10.0.0.2
www.example.com. 300 IN CNAME example.com.
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, s.AllRecords(), 4)

	_, ok := s.LocalNames()["example.com."]
	assert.True(t, ok)
}

func Test_owns(t *testing.T) {
	path := writeZone(t, `example.com. 3600 IN A 10.0.0.1`)

	s, err := Load(path)
	require.NoError(t, err)

	zone, ok := s.Owns("example.com.")
	assert.True(t, ok)
	assert.Equal(t, "example.com.", zone)

	zone, ok = s.Owns("host.example.com.")
	assert.True(t, ok)
	assert.Equal(t, "example.com.", zone)

	_, ok = s.Owns("other.org.")
	assert.False(t, ok)
}

func Test_loadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/zone.txt")
	assert.Error(t, err)
}

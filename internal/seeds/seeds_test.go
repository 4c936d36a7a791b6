package seeds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/followcrawl/internal/crawler"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seeds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    []string
		wantErr bool
	}{
		{name: "list", body: "- alice\n- bob\n", want: []string{"alice", "bob"}},
		{name: "mapping", body: "seeds:\n  - carol\n", want: []string{"carol"}},
		{name: "empty", body: "", want: nil},
		{name: "scalar", body: "just-a-name\n", wantErr: true},
		{name: "malformed", body: "seeds: [unterminated\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveMergesInlineAndFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "seeds:\n  - bob\n  - \" dave \"\n  - alice\n")

	got, err := Resolve([]string{"alice", "bob", ""}, path)
	require.NoError(t, err)
	assert.Equal(t, []crawler.Username{"alice", "bob", "dave"}, got)
}

func TestResolveWithoutFile(t *testing.T) {
	t.Parallel()

	got, err := Resolve([]string{"x", "x"}, "")
	require.NoError(t, err)
	assert.Equal(t, []crawler.Username{"x"}, got)
}

func TestLoadFileMissing(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "read seeds file")
}

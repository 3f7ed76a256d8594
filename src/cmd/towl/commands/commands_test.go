// FILE: src/cmd/towl/commands/commands_test.go
package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"towl/src/internal/core"
	"towl/src/internal/towlfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTowlFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	lf, err := towlfile.Create(dir, "gz", "log", 7)
	require.NoError(t, err)
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, lf.Append(core.LogEntry{Source: "api", Time: base, Payload: "hello"}))
	require.NoError(t, lf.Append(core.LogEntry{Source: "db", Time: base.Add(time.Minute), Payload: "world"}))
	require.NoError(t, lf.Close())

	return filepath.Join(dir, towlfile.FileName(7))
}

func TestRouter(t *testing.T) {
	var out bytes.Buffer
	r := NewCommandRouter()
	r.output = &out

	handled, err := r.Route([]string{"towl"})
	assert.False(t, handled)
	assert.NoError(t, err)

	handled, err = r.Route([]string{"towl", "--config", "x.toml"})
	assert.False(t, handled)
	assert.NoError(t, err)

	handled, err = r.Route([]string{"towl", "bogus"})
	assert.False(t, handled)
	assert.ErrorContains(t, err, "unknown command: bogus")

	handled, err = r.Route([]string{"towl", "help"})
	assert.True(t, handled)
	require.NoError(t, err)
	for _, name := range []string{"auth", "config", "help", "inspect", "version"} {
		assert.Contains(t, out.String(), "  "+name)
	}

	out.Reset()
	handled, err = r.Route([]string{"towl", "inspect", "--help"})
	assert.True(t, handled)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Inspect Command")

	assert.ErrorContains(t, r.commands["help"].Execute([]string{"nope"}), "unknown command")
}

func TestInspect(t *testing.T) {
	path := writeTowlFile(t)

	t.Run("Report", func(t *testing.T) {
		var out bytes.Buffer
		c := &InspectCommand{output: &out, errOut: &bytes.Buffer{}}
		require.NoError(t, c.Execute([]string{path}))

		assert.Contains(t, out.String(), "Org:      gz")
		assert.Contains(t, out.String(), "ID:       7")
		assert.Contains(t, out.String(), "Entries:  2")
		assert.Contains(t, out.String(), "Closed:   -")
		assert.Contains(t, out.String(), "Last:     2024-03-05T10:01:00Z")
	})

	t.Run("JSONWithEntries", func(t *testing.T) {
		var out bytes.Buffer
		c := &InspectCommand{output: &out, errOut: &bytes.Buffer{}}
		require.NoError(t, c.Execute([]string{"--json", "--entries", "--format", "raw", path}))

		text := out.String()
		require.True(t, strings.HasSuffix(text, "}\nhello\nworld\n"), text)

		var report inspectReport
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(text, "hello\nworld\n")), &report))
		assert.Equal(t, uint64(2), report.Count)
		assert.Equal(t, "log", report.Title)
	})

	t.Run("NotTowl", func(t *testing.T) {
		other := filepath.Join(t.TempDir(), "plain.txt")
		require.NoError(t, os.WriteFile(other, []byte("just text"), 0o644))

		c := &InspectCommand{output: &bytes.Buffer{}, errOut: &bytes.Buffer{}}
		assert.ErrorContains(t, c.Execute([]string{other}), "not a towl file")
		assert.Error(t, c.Execute(nil))
	})
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "towl.toml")
	var out bytes.Buffer
	c := &ConfigCommand{output: &out, errOut: &bytes.Buffer{}}

	require.NoError(t, c.Execute([]string{"-o", path}))
	assert.FileExists(t, path)
	assert.Contains(t, out.String(), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "data_dir")

	assert.ErrorContains(t, c.Execute([]string{"-o", path}), "already exists")
	assert.NoError(t, c.Execute([]string{"-o", path, "-f"}))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	c := &VersionCommand{output: &out}
	require.NoError(t, c.Execute(nil))
	assert.Contains(t, out.String(), "commit:")
}

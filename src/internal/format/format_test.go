// FILE: src/internal/format/format_test.go
package format

import (
	"testing"
	"time"

	"towl/src/internal/core"

	"github.com/lixenwraith/log"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"))
}

var (
	testTime   = time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	plainEntry = core.LogEntry{
		Time:    testTime,
		Source:  "api",
		Payload: "rate limit exceeded",
	}
	jsonEntry = core.LogEntry{
		ID:      "abc123",
		Time:    testTime,
		Source:  "node-1",
		Payload: `{"level":"warn","msg":"disk full","source":"spoofed"}`,
	}
)

func TestNewFormatter(t *testing.T) {
	logger := newTestLogger()

	testCases := []struct {
		name        string
		formatName  string
		expected    string
		expectError bool
	}{
		{name: "JSONFormatter", formatName: "json", expected: "json"},
		{name: "TextFormatter", formatName: "text", expected: "text"},
		{name: "TxtAlias", formatName: "txt", expected: "text"},
		{name: "RawFormatter", formatName: "raw", expected: "raw"},
		{name: "YAMLFormatter", formatName: "yaml", expected: "yaml"},
		{name: "DefaultToJSON", formatName: "", expected: "json"},
		{name: "UnknownFormatter", formatName: "xml", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			formatter, err := New(tc.formatName, nil, logger)
			if tc.expectError {
				assert.Error(t, err)
				assert.Nil(t, formatter)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, formatter)
			assert.Equal(t, tc.expected, formatter.Name())
		})
	}
}

func TestJSONFormatter(t *testing.T) {
	g := newGolden(t)
	logger := newTestLogger()

	f, err := NewJSONFormatter(nil, logger)
	require.NoError(t, err)

	out, err := f.Format(plainEntry)
	require.NoError(t, err)
	g.Assert(t, "json_plain", out)

	// Object payloads merge, metadata wins
	out, err = f.Format(jsonEntry)
	require.NoError(t, err)
	g.Assert(t, "json_merged", out)

	batch, err := f.FormatBatch([]core.LogEntry{plainEntry, jsonEntry})
	require.NoError(t, err)
	g.Assert(t, "json_batch", batch)

	pretty, err := NewJSONFormatter(map[string]any{"pretty": true}, logger)
	require.NoError(t, err)
	out, err = pretty.Format(plainEntry)
	require.NoError(t, err)
	g.Assert(t, "json_pretty", out)
}

func TestJSONFormatterFieldNames(t *testing.T) {
	logger := newTestLogger()

	f, err := NewJSONFormatter(map[string]any{"payload_field": "message", "time_field": "ts"}, logger)
	require.NoError(t, err)
	out, err := f.Format(plainEntry)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ts":"2024-03-05T10:30:00Z","source":"api","message":"rate limit exceeded"}`, string(out))

	// Array payloads are not merged
	arr := plainEntry
	arr.Payload = `[1,2]`
	out, err = f.Format(arr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ts":"2024-03-05T10:30:00Z","source":"api","message":"[1,2]"}`, string(out))

	_, err = NewJSONFormatter(map[string]any{"source_field": "time"}, logger)
	assert.Error(t, err)
}

func TestTextFormatter(t *testing.T) {
	g := newGolden(t)
	logger := newTestLogger()

	t.Run("DefaultTemplate", func(t *testing.T) {
		f, err := NewTextFormatter(nil, logger)
		require.NoError(t, err)
		out, err := f.Format(plainEntry)
		require.NoError(t, err)
		g.Assert(t, "text_default", out)
	})

	t.Run("CustomTemplate", func(t *testing.T) {
		f, err := NewTextFormatter(map[string]any{
			"template":         "{{.ID}}|{{.Source | ToUpper}}|{{.Timestamp | FmtTime}}",
			"timestamp_format": "2006-01-02",
		}, logger)
		require.NoError(t, err)
		out, err := f.Format(jsonEntry)
		require.NoError(t, err)
		g.Assert(t, "text_custom", out)
	})

	t.Run("InvalidTemplate", func(t *testing.T) {
		_, err := NewTextFormatter(map[string]any{"template": "{{ .Timestamp | InvalidFunc }}"}, logger)
		assert.ErrorContains(t, err, "invalid template")
	})

	t.Run("ExecutionFallback", func(t *testing.T) {
		f, err := NewTextFormatter(map[string]any{"template": "{{.Source.Missing}}"}, logger)
		require.NoError(t, err)
		out, err := f.Format(plainEntry)
		require.NoError(t, err)
		assert.Equal(t, "[2024-03-05T10:30:00Z] api - rate limit exceeded\n", string(out))
	})
}

func TestRawFormatter(t *testing.T) {
	f, err := NewRawFormatter(nil, newTestLogger())
	require.NoError(t, err)
	out, err := f.Format(plainEntry)
	require.NoError(t, err)
	newGolden(t).Assert(t, "raw", out)
}

func TestYAMLFormatter(t *testing.T) {
	f, err := NewYAMLFormatter(nil, newTestLogger())
	require.NoError(t, err)

	out, err := f.Format(jsonEntry)
	require.NoError(t, err)
	assert.Contains(t, string(out), "---\n")

	var decoded map[string]string
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, "abc123", decoded["id"])
	assert.Equal(t, "node-1", decoded["source"])
	assert.Equal(t, "2024-03-05T10:30:00Z", decoded["time"])
	assert.Equal(t, jsonEntry.Payload, decoded["payload"])
}

package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_AutoFallsBackToJSON(t *testing.T) {
	// A plain buffer is not a terminal, so auto resolves to JSON.
	var out bytes.Buffer
	r := NewRenderer(&out, &bytes.Buffer{}, ModeAuto)
	require.NoError(t, r.Object(map[string]string{"key": "value"}))

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "value", decoded["key"])
}

func TestRenderer_Table(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, &bytes.Buffer{}, ModeTable)
	require.NoError(t, r.Table([]string{"regione", "records"}, [][]any{
		{"ABRUZZO", 42},
		{"LAZIO", 7},
	}))

	assert.Contains(t, out.String(), "ABRUZZO")
	assert.Contains(t, out.String(), "42")
}

func TestRenderer_TableAsJSON(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, &bytes.Buffer{}, ModeJSON)
	require.NoError(t, r.Table([]string{"regione", "records"}, [][]any{{"ABRUZZO", 42}}))

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "ABRUZZO", rows[0]["regione"])
}

func TestRenderer_TableAsYAML(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, &bytes.Buffer{}, ModeYAML)
	require.NoError(t, r.Table([]string{"regione"}, [][]any{{"ABRUZZO"}}))
	assert.Contains(t, out.String(), "regione: ABRUZZO")
}

func TestRenderer_UnknownModeBehavesAsAuto(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, &bytes.Buffer{}, Mode("xml"))
	require.NoError(t, r.Object([]string{"a"}))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out.String()), "["))
}

func TestRenderer_Warnf(t *testing.T) {
	var errOut bytes.Buffer
	r := NewRenderer(&bytes.Buffer{}, &errOut, ModeTable)
	r.Warnf("spatial index unavailable\n")
	assert.Equal(t, "Warning: spatial index unavailable\n", errOut.String())
}

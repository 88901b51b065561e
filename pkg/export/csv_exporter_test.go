package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSVRenderKeepsHeaderOrder(t *testing.T) {
	exporter := NewCSVExporter()
	payload, err := exporter.Render(Dataset{
		Headers: []string{"Child", "Decision"},
		Rows: []map[string]string{
			{"Decision": "ADMITTED", "Child": "王小美"},
		},
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(payload, utf8BOM))
	body := string(payload[len(utf8BOM):])
	require.True(t, strings.HasPrefix(body, "Child,Decision\n"))
	require.Contains(t, body, "王小美,ADMITTED")
}

func TestCSVRenderRequiresHeaders(t *testing.T) {
	exporter := NewCSVExporter()
	_, err := exporter.Render(Dataset{})
	require.Error(t, err)
}

package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Department statistics",
		Headers: []string{"status", "count"},
		Rows: []map[string]string{
			{"status": "PENDING", "count": "2"},
			{"status": "ACCEPTED", "count": "1"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestRenderCSV(t *testing.T) {
	doc, err := NewRenderer().Render(FormatCSV, "stats", sampleDataset())
	require.NoError(t, err)
	assert.Equal(t, "stats.csv", doc.Filename)
	assert.Equal(t, "status,count\nPENDING,2\nACCEPTED,1\n", string(doc.Body))
}

func TestRenderCSVFooterFollowsRows(t *testing.T) {
	data := sampleDataset()
	data.Footer = []map[string]string{{"status": "TOTAL", "count": "3"}}
	data.Rows = append(data.Rows, map[string]string{"status": "REJECTED"})

	body, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	assert.Equal(t, "status,count\nPENDING,2\nACCEPTED,1\nREJECTED,\nTOTAL,3\n", string(body))
}

func TestRenderPDF(t *testing.T) {
	doc, err := NewRenderer().Render(FormatPDF, "stats", sampleDataset())
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.True(t, bytes.HasPrefix(doc.Body, []byte("%PDF")))
}

func TestRenderRequiresHeaders(t *testing.T) {
	_, err := NewRenderer().Render(FormatCSV, "x", Dataset{})
	assert.Error(t, err)
	_, err = NewRenderer().Render(FormatPDF, "x", Dataset{})
	assert.Error(t, err)
}

package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_Basic(t *testing.T) {
	input := "name,city\nSt. Paul,Lexington\nSt. Peter,Lexington\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"St. Paul", "Lexington"}, rows[1])
}

func TestStreamCSV_WithHeader(t *testing.T) {
	input := "name,city\nSt. Paul,Lexington\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"name", "city"}, <-headerCh)
}

func TestStreamCSV_TrimAndDelimiter(t *testing.T) {
	input := " St. Paul | Lexington \n# comment\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: '|',
		Comment:   '#',
		TrimSpace: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"St. Paul", "Lexington"}, rows[0])
}

func TestStreamCSV_MalformedQuote(t *testing.T) {
	input := "name\n\"unterminated\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
}

func TestStreamCSV_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a\nb\n"), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
}

func TestReadTable_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.csv")
	content := "Name,Address,City,State\n" +
		"St. Paul,\"501 W Short St, Lexington, KY 40507\",Lexington,KY\n" +
		",,,\n" +
		"Holy Spirit,,Lexington,KY\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rows, err := ReadTable(context.Background(), "file://"+path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "St. Paul", rows[0]["name"])
	assert.Equal(t, "501 W Short St, Lexington, KY 40507", rows[0]["address"])
	assert.Equal(t, "", rows[1]["address"])
}

func TestReadTable_Unsupported(t *testing.T) {
	_, err := ReadTable(context.Background(), "parishes.txt")
	require.Error(t, err)
}

package collector

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/endpointmgr/internal/models"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteSnapshots(t *testing.T) {
	dir := t.TempDir()
	latest := filepath.Join(dir, "latest_run.csv")
	cumulative := filepath.Join(dir, "cumulative.csv")

	firstPass := []models.TrafficEvent{
		{
			Time:          time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
			Service:       models.ServiceS3,
			Operation:     "GetObject",
			ActorIdentity: "arn:aws:iam::123:role/app",
			Region:        "us-east-1",
		},
		{
			Time:         time.Date(2026, 8, 29, 10, 1, 0, 0, time.UTC),
			Service:      models.ServiceECR,
			Operation:    "GetDownloadUrlForLayer",
			UsedEndpoint: true,
			EndpointID:   "vpce-1",
			Region:       "us-east-1",
		},
	}

	require.NoError(t, WriteSnapshots(latest, cumulative, firstPass))

	rows := readCSV(t, latest)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"2026-08-29T10:00:00Z", "S3", "GetObject", "arn:aws:iam::123:role/app", "false", "", "us-east-1"}, rows[1])
	assert.Equal(t, "true", rows[2][4])
	assert.Equal(t, "vpce-1", rows[2][5])

	secondPass := firstPass[:1]
	require.NoError(t, WriteSnapshots(latest, cumulative, secondPass))

	// Latest is overwritten, cumulative keeps accumulating under one header.
	assert.Len(t, readCSV(t, latest), 2)
	cumRows := readCSV(t, cumulative)
	assert.Len(t, cumRows, 4)
	assert.Equal(t, csvHeader, cumRows[0])
}

package mission

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveWrite(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, nil)

	meta := Metadata{
		ID:         "mission_20260824T120000_1",
		VehicleID:  1,
		StartedAt:  time.Now().Add(-time.Minute),
		EndedAt:    time.Now(),
		TotalItems: 7,
	}
	rows := [][]string{
		{"2026-08-24T12:00:00Z", "23.2950000", "85.3100000", "20.00", "90.0", "0.00", "0.00",
			"2.50", "12.10", "88", "AUTO", "true", "12", "0.90"},
	}

	links, err := a.Write(context.Background(), meta, rows)
	require.NoError(t, err)
	assert.Empty(t, links, "no download links without an object store")

	base := filepath.Join(dir, "missions", meta.ID)

	data, err := os.ReadFile(filepath.Join(base, "metadata.json"))
	require.NoError(t, err)
	var got Metadata
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, meta.ID, got.ID)
	assert.Equal(t, 7, got.TotalItems)

	f, err := os.Open(filepath.Join(base, "telemetry.csv"))
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, telemetryColumns, records[0])
	assert.Equal(t, "AUTO", records[1][10])
}

func TestArchiveWriteMirrorsAndLinks(t *testing.T) {
	store := &fakeObjectStore{}
	a := NewArchive(t.TempDir(), store)

	meta := Metadata{ID: "mission_20260824T130000_2", VehicleID: 2, TotalItems: 4}

	links, err := a.Write(context.Background(), meta, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"missions/mission_20260824T130000_2/metadata.json",
		"missions/mission_20260824T130000_2/telemetry.csv",
	}, store.puts)

	require.Len(t, links, 2)
	assert.Equal(t, "https://archive.local/missions/mission_20260824T130000_2/metadata.json", links["metadata.json"])
	assert.Equal(t, "https://archive.local/missions/mission_20260824T130000_2/telemetry.csv", links["telemetry.csv"])
}

// fakeObjectStore records uploads and mints deterministic links.
type fakeObjectStore struct {
	puts []string
}

func (s *fakeObjectStore) PutFile(_ context.Context, objectName, _ string) error {
	s.puts = append(s.puts, objectName)
	return nil
}

func (s *fakeObjectStore) GeneratePresignedURL(_ context.Context, objectName string, _ time.Duration) (string, error) {
	return "https://archive.local/" + objectName, nil
}

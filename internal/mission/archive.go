package mission

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agrifly-io/agrifly/pkg/log"
)

// telemetryColumns is the header of the per-mission telemetry log.
var telemetryColumns = []string{
	"timestamp", "lat", "lon", "alt", "heading", "pitch", "roll",
	"groundspeed", "battery_voltage", "battery_percent", "mode",
	"armed", "satellites", "hdop",
}

// ObjectStore uploads archive files to remote storage and mints
// temporary download links for them. The minio-backed provider
// satisfies this.
type ObjectStore interface {
	PutFile(ctx context.Context, objectName, filePath string) error
	GeneratePresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// downloadExpiry bounds the lifetime of archive download links.
const downloadExpiry = 24 * time.Hour

// Metadata describes one completed mission run.
type Metadata struct {
	ID               string    `json:"id"`
	VehicleID        int       `json:"vehicle_id"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	TotalItems       int       `json:"total_items"`
	PositionMismatch bool      `json:"position_mismatch"`
}

// Archive writes completed mission runs to a per-mission directory and
// optionally mirrors them to object storage.
type Archive struct {
	logger log.Logger
	root   string
	store  ObjectStore
}

// NewArchive creates an Archive rooted at dir. store may be nil.
func NewArchive(dir string, store ObjectStore) *Archive {
	return &Archive{
		logger: log.WithName("mission.archive"),
		root:   dir,
		store:  store,
	}
}

// Write persists metadata.json and telemetry.csv for one mission. When
// an object store is configured the files are mirrored there and the
// returned map carries a presigned download link per file.
func (a *Archive) Write(ctx context.Context, meta Metadata, rows [][]string) (map[string]string, error) {
	dir := filepath.Join(a.root, "missions", meta.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", dir, err)
	}

	metaPath := filepath.Join(dir, "metadata.json")
	if err := a.writeMetadata(metaPath, meta); err != nil {
		return nil, err
	}

	csvPath := filepath.Join(dir, "telemetry.csv")
	if err := a.writeTelemetry(csvPath, rows); err != nil {
		return nil, err
	}

	a.logger.Info("Mission archived", "mission", meta.ID, "dir", dir, "samples", len(rows))

	if a.store == nil {
		return nil, nil
	}
	prefix := "missions/" + meta.ID
	if err := a.store.PutFile(ctx, prefix+"/metadata.json", metaPath); err != nil {
		return nil, fmt.Errorf("archive: upload metadata: %w", err)
	}
	if err := a.store.PutFile(ctx, prefix+"/telemetry.csv", csvPath); err != nil {
		return nil, fmt.Errorf("archive: upload telemetry: %w", err)
	}

	links := make(map[string]string, 2)
	for _, name := range []string{"metadata.json", "telemetry.csv"} {
		url, err := a.store.GeneratePresignedURL(ctx, prefix+"/"+name, downloadExpiry)
		if err != nil {
			a.logger.Warn("Archive download link failed", "mission", meta.ID, "object", name, "error", err.Error())
			continue
		}
		links[name] = url
	}
	return links, nil
}

func (a *Archive) writeMetadata(path string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	return nil
}

func (a *Archive) writeTelemetry(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(telemetryColumns); err != nil {
		return fmt.Errorf("archive: write header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("archive: write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

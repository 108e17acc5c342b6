package collector

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/catherinevee/endpointmgr/internal/models"
)

var csvHeader = []string{"event_time", "service", "operation", "actor_identity", "used_endpoint", "endpoint_id", "region"}

// WriteSnapshots persists a complete collection pass: the latest-run file is
// overwritten, the cumulative file is appended to (created with a header when
// absent). Last-writer-wins; these artifacts are not authoritative state.
func WriteSnapshots(latestPath, cumulativePath string, events []models.TrafficEvent) error {
	if err := writeCSV(latestPath, events, true); err != nil {
		return fmt.Errorf("failed to write latest snapshot: %w", err)
	}
	if err := appendCSV(cumulativePath, events); err != nil {
		return fmt.Errorf("failed to append cumulative snapshot: %w", err)
	}
	return nil
}

func writeCSV(path string, events []models.TrafficEvent, header bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if header {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}
	for _, e := range events {
		if err := w.Write(record(e)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func appendCSV(path string, events []models.TrafficEvent) error {
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}
	for _, e := range events {
		if err := w.Write(record(e)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func record(e models.TrafficEvent) []string {
	return []string{
		e.Time.Format(time.RFC3339),
		string(e.Service),
		e.Operation,
		e.ActorIdentity,
		strconv.FormatBool(e.UsedEndpoint),
		e.EndpointID,
		e.Region,
	}
}

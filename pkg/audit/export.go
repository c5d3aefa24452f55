package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Export writes entries in the given format
func Export(w io.Writer, entries []Entry, format ExportFormat) error {
	switch format {
	case ExportFormatJSON, "":
		return exportJSON(w, entries)
	case ExportFormatNDJSON:
		return exportNDJSON(w, entries)
	case ExportFormatCSV:
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportJSON(w io.Writer, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}

func exportNDJSON(w io.Writer, entries []Entry) error {
	encoder := json.NewEncoder(w)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode entry: %w", err)
		}
	}
	return nil
}

func exportCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)

	header := []string{"ID", "Timestamp", "TenantID", "ActorUserID", "Action", "EntityType", "EntityID", "Metadata"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		metadata := ""
		if len(e.Metadata) > 0 {
			raw, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			metadata = string(raw)
		}

		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.TenantID,
			e.ActorUserID,
			e.Action,
			e.EntityType,
			e.EntityID,
			metadata,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

// ExportBytes is Export into a byte slice
func ExportBytes(entries []Entry, format ExportFormat) ([]byte, error) {
	var buf bytes.Buffer
	if err := Export(&buf, entries, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

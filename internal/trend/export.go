package trend

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/controller"
)

// Export document constants.
const (
	// ExportVersion is the document format version this build reads and writes.
	ExportVersion = "1.0"

	// exportAppName identifies the producing application in documents.
	exportAppName = "SAS Trend Tool"

	// exportTimeLayout is RFC 3339 with millisecond precision, the
	// timestamp encoding of the document and the CSV export.
	exportTimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ExportMetadata is the metadata block of an export document.
type ExportMetadata struct {
	Endpoint          string   `json:"endpoint"`
	ProtocolFamily    string   `json:"protocolFamily"`
	DeviceLabel       string   `json:"deviceLabel,omitempty"`
	Tags              []string `json:"tags"`
	SampleRateSeconds float64  `json:"sampleRateSeconds"`
	StartTimestamp    string   `json:"startTimestamp"`
	EndTimestamp      string   `json:"endTimestamp"`
	TotalPoints       int      `json:"totalPoints"`
	ExportedAt        string   `json:"exportedAt,omitempty"`
}

// ExportPoint is one data entry: a timestamp and a tag-to-number-or-null map.
type ExportPoint struct {
	Timestamp string                        `json:"timestamp"`
	Values    map[string]controller.Reading `json:"values"`
}

// ExportPoint renders the sample as a document data entry. The same shape
// feeds the export document, the WebSocket broadcast and the MQTT sample
// stream.
func (s Sample) ExportPoint() ExportPoint {
	return ExportPoint{
		Timestamp: formatStamp(s.Timestamp),
		Values:    s.Values,
	}
}

// ExportDocument is the serialized form of a trend session, the only
// persisted artifact of the engine.
type ExportDocument struct {
	Version  string         `json:"version"`
	AppName  string         `json:"appName,omitempty"`
	Metadata ExportMetadata `json:"metadata"`
	Data     []ExportPoint  `json:"data"`
}

// Validate checks the structural requirements an imported document must
// meet before reconstruction is attempted.
func (d *ExportDocument) Validate() error {
	if d.Version == "" {
		return fmt.Errorf("%w: missing version", ErrSerialization)
	}
	if d.Version != ExportVersion {
		return fmt.Errorf("%w: unsupported version %q", ErrSerialization, d.Version)
	}
	if len(d.Metadata.Tags) == 0 {
		return fmt.Errorf("%w: metadata.tags is required", ErrSerialization)
	}
	if d.Metadata.SampleRateSeconds <= 0 {
		return fmt.Errorf("%w: metadata.sampleRateSeconds must be positive", ErrSerialization)
	}
	if d.Data == nil {
		return fmt.Errorf("%w: data array is required", ErrSerialization)
	}
	for i, point := range d.Data {
		if point.Timestamp == "" {
			return fmt.Errorf("%w: data[%d] missing timestamp", ErrSerialization, i)
		}
		if point.Values == nil {
			return fmt.Errorf("%w: data[%d] missing values", ErrSerialization, i)
		}
	}
	return nil
}

// buildDocument assembles the export document for a session's samples.
func buildDocument(session *Session, samples []Sample) *ExportDocument {
	meta := ExportMetadata{
		Endpoint:          session.Endpoint,
		ProtocolFamily:    session.Family,
		DeviceLabel:       session.DeviceLabel,
		Tags:              session.Tags(),
		SampleRateSeconds: session.Rate.Seconds(),
		TotalPoints:       len(samples),
		ExportedAt:        formatStamp(time.Now().UTC()),
	}
	if len(samples) > 0 {
		meta.StartTimestamp = formatStamp(samples[0].Timestamp)
		meta.EndTimestamp = formatStamp(samples[len(samples)-1].Timestamp)
	}

	data := make([]ExportPoint, 0, len(samples))
	for _, sample := range samples {
		data = append(data, sample.ExportPoint())
	}

	return &ExportDocument{
		Version:  ExportVersion,
		AppName:  exportAppName,
		Metadata: meta,
		Data:     data,
	}
}

// WriteJSON encodes the document, indented for hand inspection.
func WriteJSON(w io.Writer, doc *ExportDocument) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("%w: encoding document: %v", ErrSerialization, err)
	}
	return nil
}

// ReadJSON decodes and validates an export document. Unknown fields are
// rejected so a malformed hand-edited file fails loudly instead of
// importing half a session.
func ReadJSON(r io.Reader) (*ExportDocument, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	var doc ExportDocument
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decoding document: %v", ErrSerialization, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// WriteCSV writes the sample sequence as CSV: a "Timestamp" header plus the
// tags in display order, one row per sample, empty string for absent
// values. CSV has no import counterpart; the JSON document is the
// round-trippable form.
func WriteCSV(w io.Writer, tags []string, samples []Sample) error {
	writer := csv.NewWriter(w)

	header := make([]string, 0, len(tags)+1)
	header = append(header, "Timestamp")
	header = append(header, tags...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("%w: writing csv header: %v", ErrSerialization, err)
	}

	row := make([]string, len(header))
	for _, sample := range samples {
		row[0] = formatStamp(sample.Timestamp)
		for i, tag := range tags {
			reading, ok := sample.Values[tag]
			if !ok || reading.Absent {
				row[i+1] = ""
				continue
			}
			row[i+1] = strconv.FormatFloat(reading.Value, 'g', -1, 64)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("%w: writing csv row: %v", ErrSerialization, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("%w: flushing csv: %v", ErrSerialization, err)
	}
	return nil
}

// rebuildBuffer replays a document's samples through the normal append
// path into a fresh buffer, recomputing every aggregate from scratch.
// Stored aggregates are never trusted: replay is what keeps the
// min ≤ live ≤ max invariant true even for hand-edited files.
//
// The returned buffer is unbounded; the document itself is the bound.
func rebuildBuffer(doc *ExportDocument) (*Buffer, error) {
	buffer := NewBuffer(0)
	for i, point := range doc.Data {
		stamp, err := parseStamp(point.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: data[%d]: %v", ErrSerialization, i, err)
		}
		sample := Sample{Timestamp: stamp, Values: point.Values}
		if err := buffer.AppendSample(sample); err != nil {
			return nil, fmt.Errorf("%w: data[%d]: %v", ErrSerialization, i, err)
		}
	}
	return buffer, nil
}

func formatStamp(t time.Time) string {
	return t.UTC().Format(exportTimeLayout)
}

// parseStamp accepts the canonical millisecond layout plus plain RFC 3339
// variants, so documents from other tooling still import.
func parseStamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{exportTimeLayout, time.RFC3339Nano, time.RFC3339} {
		if stamp, err := time.Parse(layout, value); err == nil {
			return stamp.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

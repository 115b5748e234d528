// Package payload decodes bulk document submissions in the three formats
// the façade accepts: a JSON array, newline-delimited JSON, and CSV with a
// header row. Decoders stream rather than buffer the whole payload.
package payload

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"

	"github.com/8fs-io/ftsd/internal/ftypes"
	apperrors "github.com/8fs-io/ftsd/pkg/errors"
)

// Decoder yields successive Documents from a payload stream.
type Decoder interface {
	// Next returns the next document, or io.EOF once exhausted.
	Next() (ftypes.Document, error)
}

// NewDecoder selects the decoder for format over r.
func NewDecoder(format ftypes.PayloadFormat, r io.Reader) (Decoder, error) {
	switch format {
	case ftypes.FormatJSON:
		return newJSONDecoder(r)
	case ftypes.FormatNDJSON:
		return newNDJSONDecoder(r), nil
	case ftypes.FormatCSV:
		return newCSVDecoder(r)
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeMalformedPayload, "unsupported payload format: %s", format)
	}
}

// jsonDecoder streams elements of a top-level JSON array.
type jsonDecoder struct {
	dec *json.Decoder
}

func newJSONDecoder(r io.Reader) (*jsonDecoder, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeMalformedPayload, "failed to read JSON array start", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, apperrors.New(apperrors.ErrCodeMalformedPayload, "JSON payload must be a top-level array of objects")
	}
	return &jsonDecoder{dec: dec}, nil
}

func (d *jsonDecoder) Next() (ftypes.Document, error) {
	if !d.dec.More() {
		return nil, io.EOF
	}
	var doc ftypes.Document
	if err := d.dec.Decode(&doc); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeMalformedPayload, "failed to decode JSON document", err)
	}
	return doc, nil
}

// ndjsonDecoder reads one JSON object per line.
type ndjsonDecoder struct {
	scanner *bufio.Scanner
}

func newNDJSONDecoder(r io.Reader) *ndjsonDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &ndjsonDecoder{scanner: scanner}
}

func (d *ndjsonDecoder) Next() (ftypes.Document, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var doc ftypes.Document
		if err := json.Unmarshal(line, &doc); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeMalformedPayload, "failed to decode NDJSON line", err)
		}
		return doc, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeMalformedPayload, "failed to scan NDJSON payload", err)
	}
	return nil, io.EOF
}

// csvDecoder reads a header row followed by one record per document.
type csvDecoder struct {
	reader *csv.Reader
	header []string
}

func newCSVDecoder(r io.Reader) (*csvDecoder, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeMalformedPayload, "failed to read CSV header", err)
	}
	return &csvDecoder{reader: reader, header: header}, nil
}

func (d *csvDecoder) Next() (ftypes.Document, error) {
	record, err := d.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeMalformedPayload, "failed to read CSV record", err)
	}

	doc := make(ftypes.Document, len(d.header))
	for i, col := range d.header {
		if i < len(record) {
			doc[col] = record[i]
		}
	}
	return doc, nil
}

// DecodeAll drains a Decoder into a slice. Intended for engine Apply paths
// that need the full batch (e.g. primary key inference from the first
// document); callers processing unbounded payloads should iterate Next
// directly instead.
func DecodeAll(d Decoder) ([]ftypes.Document, error) {
	var docs []ftypes.Document
	for {
		doc, err := d.Next()
		if err == io.EOF {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

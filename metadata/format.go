// Package metadata implements the MetadataStore: the durable record of
// RenameStore entries, tombstones, and copy-up completion markers for one
// mount, persisted as a line-oriented, length-prefixed text file in the
// writable rank-0 source (spec.md §4.6/§6).
package metadata

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mwantia/unionfs/vfserrors"
)

// RecordKind is the leading byte of a record line.
type RecordKind byte

const (
	KindRename     RecordKind = 'R'
	KindTombstone  RecordKind = 'T'
	KindCopyUpDone RecordKind = 'C'
)

// Record is one parsed line of the metadata file.
type Record struct {
	Kind    RecordKind
	Virtual string
	Real    string // only set for KindRename
}

// writeField appends "<len>:<value> " to b.
func writeField(b *strings.Builder, value string) {
	b.WriteString(strconv.Itoa(len(value)))
	b.WriteByte(':')
	b.WriteString(value)
	b.WriteByte(' ')
}

// Encode renders rec as one newline-terminated line.
func Encode(rec Record) string {
	var b strings.Builder
	b.WriteByte(byte(rec.Kind))
	b.WriteByte(' ')
	writeField(&b, rec.Virtual)
	if rec.Kind == KindRename {
		writeField(&b, rec.Real)
	}
	return strings.TrimRight(b.String(), " ") + "\n"
}

// readField consumes one "<len>:<value>" token from s starting at i,
// returning the value and the index just past the value itself (leading
// spaces before the next token are skipped by the next call).
func readField(s string, i int) (value string, next int, err error) {
	for i < len(s) && s[i] == ' ' {
		i++
	}
	colon := strings.IndexByte(s[i:], ':')
	if colon < 0 {
		return "", 0, fmt.Errorf("missing length prefix")
	}
	n, err := strconv.Atoi(s[i : i+colon])
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("invalid length prefix")
	}
	start := i + colon + 1
	end := start + n
	if end > len(s) {
		return "", 0, fmt.Errorf("truncated field")
	}
	return s[start:end], end, nil
}

// Decode parses one record line (without its trailing newline).
func Decode(line string) (Record, error) {
	if len(line) < 2 {
		return Record{}, fmt.Errorf("short record")
	}

	kind := RecordKind(line[0])
	i := 1
	virtual, i, err := readField(line, i)
	if err != nil {
		return Record{}, err
	}

	rec := Record{Kind: kind, Virtual: virtual}
	switch kind {
	case KindRename:
		real, _, err := readField(line, i)
		if err != nil {
			return Record{}, err
		}
		rec.Real = real
	case KindTombstone, KindCopyUpDone:
		// single-field records
	default:
		return Record{}, fmt.Errorf("unknown record kind %q", string(kind))
	}

	return rec, nil
}

// ReadAll parses every record in r. A parse failure anywhere is reported
// as vfserrors.MetadataCorrupt, matching the "mount refuses to start"
// contract of spec.md §7.
func ReadAll(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	// Metadata lines embed arbitrary path bytes; allow generously long ones.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, err := Decode(line)
		if err != nil {
			return nil, vfserrors.MetadataCorrupt("replay", fmt.Sprintf("line %d", lineNo), err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, vfserrors.MetadataCorrupt("replay", "", err)
	}

	return records, nil
}

// Package format provides encoding and decoding functionality for log
// records. Records are self-delimiting: a fixed header carries the key
// and value sizes, so a stream decoder can tell exactly where one record
// ends and the next begins without any framing external to the record
// itself.
package format

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
)

// Record flag constants define the type of log entry.
const (
	FlagInsert uint8 = 0 // Insert{key, value} — key now maps to value
	FlagRemove uint8 = 1 // Remove{key} — key has no mapping
)

// ErrCorrupt is returned when a decoded record fails its CRC check or its
// header claims a size the supplied buffer can't back.
var ErrCorrupt = errors.New("format: corrupt record")

// Record represents a single key-value entry in the log file.
// It includes metadata (CRC, timestamp, sizes, flag) and the actual key-value data.
type Record struct {
	CRC       uint32 // CRC32 checksum for data integrity verification
	Timestamp uint64 // Unix timestamp when the record was created
	Keysize   uint32 // Size of the key in bytes
	Valuesize uint32 // Size of the value in bytes
	Flag      uint8  // Record type flag (FlagInsert or FlagRemove)
	Key       []byte // The key bytes
	Value     []byte // The value bytes
}

// Encode serializes the record into a byte array with the following format:
// [0:4]   - CRC32 checksum (calculated after encoding other fields)
// [4:12]  - Timestamp (uint64, little-endian)
// [12:16] - Key size (uint32, little-endian)
// [16:20] - Value size (uint32, little-endian)
// [20:21] - Flag (uint8)
// [HEADER_SIZE:] - Key bytes followed by value bytes
// Returns the encoded byte array and any error encountered.
func (r *Record) Encode(headerSize uint32) ([]byte, error) {
	if headerSize < 21 {
		return nil, fmt.Errorf("format: header size %d too small for record header", headerSize)
	}

	buffer := make([]byte, int(headerSize)+len(r.Key)+len(r.Value))

	binary.LittleEndian.PutUint64(buffer[4:12], r.Timestamp)
	binary.LittleEndian.PutUint32(buffer[12:16], r.Keysize)
	binary.LittleEndian.PutUint32(buffer[16:20], r.Valuesize)
	buffer[20] = r.Flag

	copy(buffer[headerSize:int(headerSize)+len(r.Key)], r.Key)
	copy(buffer[int(headerSize)+len(r.Key):], r.Value)

	crc := crc32.ChecksumIEEE(buffer[4:])
	binary.LittleEndian.PutUint32(buffer[0:4], crc)

	return buffer, nil
}

// Decode deserializes a byte array into a Record structure.
// It validates the header size, extracts all fields, verifies the CRC checksum,
// and returns the decoded record. Returns ErrCorrupt if the data is too short
// or fails the CRC check.
func Decode(data []byte, headerSize uint32) (*Record, error) {
	if len(data) < int(headerSize) {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d bytes for header", ErrCorrupt, len(data), headerSize)
	}

	crc := binary.LittleEndian.Uint32(data[0:4])
	timestamp := binary.LittleEndian.Uint64(data[4:12])
	keysize := binary.LittleEndian.Uint32(data[12:16])
	valuesize := binary.LittleEndian.Uint32(data[16:20])
	flag := data[20]

	expectedSize := int(headerSize) + int(keysize) + int(valuesize)
	if len(data) < expectedSize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d bytes for full record", ErrCorrupt, len(data), expectedSize)
	}

	key := make([]byte, keysize)
	value := make([]byte, valuesize)
	copy(key, data[headerSize:headerSize+keysize])
	copy(value, data[headerSize+keysize:headerSize+keysize+valuesize])

	calculatedCRC := crc32.ChecksumIEEE(data[4:expectedSize])
	if calculatedCRC != crc {
		return nil, fmt.Errorf("%w: crc mismatch, calculated %d, expected %d", ErrCorrupt, calculatedCRC, crc)
	}

	record := &Record{
		CRC:       crc,
		Timestamp: timestamp,
		Keysize:   keysize,
		Valuesize: valuesize,
		Flag:      flag,
		Key:       key,
		Value:     value,
	}

	if flag == FlagRemove {
		slog.Debug("format: decoded tombstone record", "key", string(record.Key))
	}

	return record, nil
}

// DecodedRecord pairs a decoded record with the absolute byte offsets of
// the stream immediately before and after it, so a caller can derive a
// (offset, length) locator without a second pass over the data.
type DecodedRecord struct {
	Record *Record
	Start  int64
	End    int64
}

// DecodeStream reads records sequentially from r starting at startOffset,
// calling yield once per decoded record with its absolute start/end
// offsets. It stops without error at a clean EOF between records, and
// also stops without error — rather than propagating ErrCorrupt — when
// the final record in the stream is merely truncated: the tail record is
// lost but earlier records remain valid, matching the recovery tolerance
// callers need for a crash mid-write. Any other read or decode error is
// returned as-is. yield may stop iteration early by returning false.
func DecodeStream(r io.Reader, headerSize uint32, startOffset int64, yield func(DecodedRecord) bool) error {
	reader := bufio.NewReader(r)
	offset := startOffset

	for {
		header := make([]byte, headerSize)
		if _, err := io.ReadFull(reader, header); err != nil {
			if err == io.EOF {
				return nil
			}
			if err == io.ErrUnexpectedEOF {
				slog.Warn("format: truncated record header at stream tail, stopping", "offset", offset)
				return nil
			}
			return fmt.Errorf("format: reading record header: %w", err)
		}

		keysize := binary.LittleEndian.Uint32(header[12:16])
		valuesize := binary.LittleEndian.Uint32(header[16:20])

		body := make([]byte, keysize+valuesize)
		if _, err := io.ReadFull(reader, body); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				slog.Warn("format: truncated record body at stream tail, stopping", "offset", offset)
				return nil
			}
			return fmt.Errorf("format: reading record body: %w", err)
		}

		full := append(header, body...)
		record, err := Decode(full, headerSize)
		if err != nil {
			return fmt.Errorf("format: decoding record at offset %d: %w", offset, err)
		}

		start := offset
		end := offset + int64(len(full))
		offset = end

		if !yield(DecodedRecord{Record: record, Start: start, End: end}) {
			return nil
		}
	}
}

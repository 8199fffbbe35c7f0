package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// scanSegment reads records from a segment file in order, calling fn for each.
// It returns the offset just past the last intact record. A record cut short
// at the end of the file yields ErrTruncated along with that offset, so the
// caller can decide whether a torn tail is acceptable.
func scanSegment(path string, fn func(*Record) error) (int64, error) {
	fd, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer fd.Close()

	r := bufio.NewReader(fd)
	var offset int64
	header := make([]byte, HeaderSize)

	for {
		n, err := io.ReadFull(r, header)
		if err == io.EOF {
			return offset, nil
		}
		if err == io.ErrUnexpectedEOF {
			return offset, ErrTruncated
		}
		if err != nil {
			return offset, err
		}

		payloadLen := int(binary.LittleEndian.Uint32(header[12:16]))
		if payloadLen > MaxPayloadSize {
			return offset, fmt.Errorf("%s at offset %d: %w", path, offset, ErrCorrupted)
		}

		data := make([]byte, HeaderSize+payloadLen+4)
		copy(data, header[:n])
		if _, err := io.ReadFull(r, data[HeaderSize:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return offset, ErrTruncated
			}
			return offset, err
		}

		rec, err := DecodeRecord(data)
		if err != nil {
			return offset, fmt.Errorf("%s at offset %d: %w", path, offset, err)
		}
		if err := fn(rec); err != nil {
			return offset, err
		}
		offset += int64(len(data))
	}
}

// ReadAll reads every record from the given segment files in order.
// Only the final segment may end in a torn record; anything else is an error.
func ReadAll(files []string) ([]*Record, error) {
	var records []*Record
	for i, file := range files {
		_, err := scanSegment(file, func(rec *Record) error {
			records = append(records, rec)
			return nil
		})
		if errors.Is(err, ErrTruncated) && i == len(files)-1 {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Package dataloading reads delta files into the cache. A delta file is
// a magic header, a length-prefixed metadata block, and a sequence of
// sync-marked record frames. The sync markers let a reader start at an
// arbitrary byte offset and find the next frame, which is what the
// concurrent reader's byte-range sharding relies on.
package dataloading

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/proto"
	"github.com/oblivkv/kvserver/util"
)

const (
	// Magic identifies the file format.
	Magic = "KVD1"

	// MinShardBytes is the smallest byte range one reader worker
	// takes; smaller shards cost more in seek-and-scan than they
	// gain in parallelism.
	MinShardBytes = 8 << 20

	frameHeaderLen = 8 // u32 payload length + u32 crc32c
)

// syncMarker precedes every record frame.
var syncMarker = []byte{0xf8, 0x6b, 0x76, 0x64, 0x73, 0x79, 0x6e, 0x63}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// DeltaWriter produces delta files. Used by the ingestion pipeline and
// by tests.
type DeltaWriter struct {
	w      io.Writer
	offset int64
}

// NewDeltaWriter writes the file header and returns a writer for the
// record frames.
func NewDeltaWriter(w io.Writer, meta *proto.DeltaFileMetadata) (*DeltaWriter, error) {
	raw, err := meta.Marshal()
	if err != nil {
		return nil, err
	}
	header := make([]byte, 0, len(Magic)+4+len(raw))
	header = append(header, Magic...)
	header = binary.LittleEndian.AppendUint32(header, uint32(len(raw)))
	header = append(header, raw...)
	if _, err := w.Write(header); err != nil {
		return nil, err
	}
	return &DeltaWriter{w: w, offset: int64(len(header))}, nil
}

func (w *DeltaWriter) WriteRecord(rec *proto.DeltaFileRecord) error {
	payload, err := rec.Marshal()
	if err != nil {
		return err
	}
	buf := util.GetBufferWriter(len(syncMarker) + frameHeaderLen + len(payload))
	defer util.PutBufferWriter(buf)
	buf.Write(syncMarker)
	var hdr [frameHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:], crc32.Checksum(payload, castagnoli))
	buf.Write(hdr[:])
	buf.Write(payload)
	if _, err := w.w.Write(buf.Bytes()); err != nil {
		return err
	}
	w.offset += int64(buf.Len())
	return nil
}

// Offset is the number of bytes written so far.
func (w *DeltaWriter) Offset() int64 { return w.offset }

// ReadHeader consumes and validates the file header, returning the
// metadata and the offset of the first frame.
func ReadHeader(r io.Reader) (*proto.DeltaFileMetadata, int64, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, 0, apierrors.InvalidArgument("truncated delta file header")
	}
	if string(magic) != Magic {
		return nil, 0, apierrors.InvalidArgument("not a delta file")
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, 0, apierrors.InvalidArgument("truncated delta file header")
	}
	metaLen := binary.LittleEndian.Uint32(lenBuf[:])
	raw := make([]byte, metaLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, 0, apierrors.InvalidArgument("truncated delta file metadata")
	}
	meta := new(proto.DeltaFileMetadata)
	if err := meta.Unmarshal(raw); err != nil {
		return nil, 0, apierrors.Newf(apierrors.CodeInvalidArgument, "parse delta file metadata: %v", err)
	}
	return meta, int64(len(Magic)) + 4 + int64(metaLen), nil
}

// frameScanner finds record frames in a byte stream, resynchronizing on
// the sync marker after corrupt or partial frames.
type frameScanner struct {
	r      *bufio.Reader
	offset int64 // absolute offset of the next unread byte
}

func newFrameScanner(r io.Reader, offset int64) *frameScanner {
	return &frameScanner{r: bufio.NewReaderSize(r, 1<<16), offset: offset}
}

// next returns the payload of the next valid frame and the absolute
// offset of its sync marker. io.EOF signals a clean end of input.
func (s *frameScanner) next() ([]byte, int64, error) {
	for {
		head, err := s.r.Peek(len(syncMarker))
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, 0, io.EOF
			}
			return nil, 0, err
		}
		if !bytes.Equal(head, syncMarker) {
			if _, err := s.r.Discard(1); err != nil {
				return nil, 0, err
			}
			s.offset++
			continue
		}
		frameStart := s.offset
		if _, err := s.r.Discard(len(syncMarker)); err != nil {
			return nil, 0, err
		}
		s.offset += int64(len(syncMarker))

		var hdr [frameHeaderLen]byte
		if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
			return nil, 0, io.EOF
		}
		s.offset += frameHeaderLen
		payloadLen := binary.LittleEndian.Uint32(hdr[:4])
		wantCRC := binary.LittleEndian.Uint32(hdr[4:])

		payload := make([]byte, payloadLen)
		n, err := io.ReadFull(s.r, payload)
		s.offset += int64(n)
		if err != nil {
			return nil, 0, io.EOF
		}
		if crc32.Checksum(payload, castagnoli) != wantCRC {
			// Corrupt frame; keep scanning for the next marker.
			continue
		}
		return payload, frameStart, nil
	}
}

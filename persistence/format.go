package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	ihash "github.com/hupe1980/hnswbridge/internal/hash"
	"github.com/hupe1980/hnswbridge/metric"
	"github.com/hupe1980/hnswbridge/precision"
)

const (
	// MagicNumber identifies snapshot streams (ASCII: "HBS1").
	MagicNumber = 0x31534248
	// Version is the current format version.
	Version = 1

	// HeaderSize is the fixed size of the encoded Header.
	HeaderSize = 64

	maxBlockSize = 64 << 20
)

// Algorithm identifies the search structure stored in a snapshot.
type Algorithm uint8

const (
	// AlgorithmGraph is an HNSW graph.
	AlgorithmGraph Algorithm = 1
	// AlgorithmBruteforce is an exhaustive index without topology.
	AlgorithmBruteforce Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmGraph:
		return "graph"
	case AlgorithmBruteforce:
		return "bruteforce"
	default:
		return fmt.Sprintf("Algorithm(%d)", uint8(a))
	}
}

var (
	ErrInvalidMagic   = errors.New("persistence: invalid magic number")
	ErrInvalidVersion = errors.New("persistence: unsupported version")
	ErrCorrupt        = errors.New("persistence: corrupt snapshot")
)

// Header is the fixed-size prefix of a snapshot.
type Header struct {
	Algorithm   Algorithm
	Compression Compression
	Metric      metric.Metric
	Precision   precision.Precision
	Dimension   int
	Count       int
	MaxElements int
	// SearchBreadth is the ef in effect when the snapshot was taken.
	SearchBreadth int
	// BruteforceSearch records whether exhaustive search was enabled.
	BruteforceSearch bool
}

// Snapshot is the full content of a saved index.
type Snapshot struct {
	Header

	// Params holds Float8 quantization parameters; nil for other precisions.
	Params *precision.Params
	// Labels[i] is the caller id of item i.
	Labels []uint64
	// Vectors holds Count encoded vectors back to back.
	Vectors []byte
	// Graph is the serialized topology for AlgorithmGraph.
	Graph []byte
}

// header layout
//
//	0  magic u32       4  version u32
//	8  algorithm u8    9  compression u8   10 metric u8   11 precision u8
//	12 dimension u32   16 count u64        24 maxElements u64
//	32 ef u32          36 flags u32        40 reserved    60 crc32c u32
const (
	flagBruteforceSearch = 1 << 0
)

func (h *Header) encode() [HeaderSize]byte {
	var b [HeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:], MagicNumber)
	binary.LittleEndian.PutUint32(b[4:], Version)
	b[8] = byte(h.Algorithm)
	b[9] = byte(h.Compression)
	b[10] = byte(h.Metric.Code())
	b[11] = byte(h.Precision.Code())
	binary.LittleEndian.PutUint32(b[12:], uint32(h.Dimension))
	binary.LittleEndian.PutUint64(b[16:], uint64(h.Count))
	binary.LittleEndian.PutUint64(b[24:], uint64(h.MaxElements))
	binary.LittleEndian.PutUint32(b[32:], uint32(h.SearchBreadth))
	var flags uint32
	if h.BruteforceSearch {
		flags |= flagBruteforceSearch
	}
	binary.LittleEndian.PutUint32(b[36:], flags)
	binary.LittleEndian.PutUint32(b[60:], ihash.CRC32C(b[:60]))
	return b
}

func decodeHeader(b []byte) (Header, error) {
	var h Header
	if binary.LittleEndian.Uint32(b[0:]) != MagicNumber {
		return h, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(b[4:]); v != Version {
		return h, fmt.Errorf("%w: %d", ErrInvalidVersion, v)
	}
	if want, got := binary.LittleEndian.Uint32(b[60:]), ihash.CRC32C(b[:60]); want != got {
		return h, &ChecksumMismatchError{Expected: want, Actual: got}
	}

	m, err := metric.FromCode(int32(b[10]))
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	p, err := precision.FromCode(int32(b[11]))
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	h = Header{
		Algorithm:        Algorithm(b[8]),
		Compression:      Compression(b[9]),
		Metric:           m,
		Precision:        p,
		Dimension:        int(binary.LittleEndian.Uint32(b[12:])),
		Count:            int(binary.LittleEndian.Uint64(b[16:])),
		MaxElements:      int(binary.LittleEndian.Uint64(b[24:])),
		SearchBreadth:    int(binary.LittleEndian.Uint32(b[32:])),
		BruteforceSearch: binary.LittleEndian.Uint32(b[36:])&flagBruteforceSearch != 0,
	}

	switch {
	case h.Algorithm != AlgorithmGraph && h.Algorithm != AlgorithmBruteforce:
		return h, fmt.Errorf("%w: algorithm %d", ErrCorrupt, b[8])
	case !h.Compression.Valid():
		return h, fmt.Errorf("%w: compression %d", ErrCorrupt, b[9])
	case h.Dimension <= 0:
		return h, fmt.Errorf("%w: dimension %d", ErrCorrupt, h.Dimension)
	case h.Count < 0:
		return h, fmt.Errorf("%w: count %d", ErrCorrupt, h.Count)
	}
	return h, nil
}

// ReadHeader reads and validates only the header.
func ReadHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	return decodeHeader(b[:])
}

// Write encodes s to w and returns the number of bytes written.
func Write(w io.Writer, s *Snapshot) (int64, error) {
	if err := s.validate(); err != nil {
		return 0, err
	}

	cw := NewChecksumWriter(w)
	hdr := s.Header.encode()
	if _, err := cw.Write(hdr[:]); err != nil {
		return cw.Written(), err
	}

	blocks := newBlockWriter(cw, s.Compression, DefaultBlockSize)
	payload := NewChecksumWriter(blocks)
	bw := bufio.NewWriterSize(payload, 64*1024)

	if s.Precision.NeedsTraining() {
		var params []byte
		if s.Params != nil {
			var err error
			if params, err = s.Params.MarshalBinary(); err != nil {
				return cw.Written(), err
			}
		}
		if err := writeSection(bw, params); err != nil {
			return cw.Written(), err
		}
	}

	var lb [8]byte
	for _, l := range s.Labels {
		binary.LittleEndian.PutUint64(lb[:], l)
		if _, err := bw.Write(lb[:]); err != nil {
			return cw.Written(), err
		}
	}
	if _, err := bw.Write(s.Vectors); err != nil {
		return cw.Written(), err
	}
	if s.Algorithm == AlgorithmGraph {
		if err := writeSection(bw, s.Graph); err != nil {
			return cw.Written(), err
		}
	}

	if err := bw.Flush(); err != nil {
		return cw.Written(), err
	}
	if err := blocks.Close(); err != nil {
		return cw.Written(), err
	}

	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], payload.Sum())
	_, err := cw.Write(trailer[:])
	return cw.Written(), err
}

func (s *Snapshot) validate() error {
	if !s.Compression.Valid() {
		return fmt.Errorf("persistence: unknown compression %d", s.Compression)
	}
	if len(s.Labels) != s.Count {
		return fmt.Errorf("persistence: %d labels for %d items", len(s.Labels), s.Count)
	}
	if want := s.Count * s.Dimension * s.Precision.Width(); len(s.Vectors) != want {
		return fmt.Errorf("persistence: vector section is %d bytes, want %d", len(s.Vectors), want)
	}
	if s.Precision.NeedsTraining() && s.Count > 0 && s.Params == nil {
		return fmt.Errorf("persistence: %s snapshot without parameters", s.Precision)
	}
	if s.Params != nil && s.Params.Dimension() != s.Dimension {
		return fmt.Errorf("persistence: parameters for dimension %d, snapshot has %d", s.Params.Dimension(), s.Dimension)
	}
	return nil
}

func writeSection(w io.Writer, data []byte) error {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(data)))
	if _, err := w.Write(n[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readSection(r io.Reader, limit int) ([]byte, error) {
	var n [8]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint64(n[:])
	if size > uint64(limit) {
		return nil, fmt.Errorf("%w: section of %d bytes", ErrCorrupt, size)
	}
	data := make([]byte, size)
	_, err := io.ReadFull(r, data)
	return data, err
}

// maxSectionSize bounds variable-length sections against corrupt lengths.
const maxSectionSize = 1 << 34

// Read decodes a full snapshot from r and verifies its checksum.
func Read(r io.Reader) (*Snapshot, error) {
	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	if int64(hdr.Count)*int64(hdr.Dimension)*int64(hdr.Precision.Width()+8) > maxSectionSize {
		return nil, fmt.Errorf("%w: %d items of dimension %d", ErrCorrupt, hdr.Count, hdr.Dimension)
	}

	s := &Snapshot{Header: hdr}
	blocks := newBlockReader(r, hdr.Compression)
	payload := NewChecksumReader(blocks)
	br := bufio.NewReaderSize(payload, 64*1024)

	if hdr.Precision.NeedsTraining() {
		raw, err := readSection(br, maxSectionSize)
		if err != nil {
			return nil, corrupt(err)
		}
		if len(raw) > 0 {
			s.Params = new(precision.Params)
			if err := s.Params.UnmarshalBinary(raw); err != nil {
				return nil, corrupt(err)
			}
			if s.Params.Dimension() != hdr.Dimension {
				return nil, fmt.Errorf("%w: parameters for dimension %d", ErrCorrupt, s.Params.Dimension())
			}
		}
	}

	s.Labels = make([]uint64, hdr.Count)
	var lb [8]byte
	for i := range s.Labels {
		if _, err := io.ReadFull(br, lb[:]); err != nil {
			return nil, corrupt(err)
		}
		s.Labels[i] = binary.LittleEndian.Uint64(lb[:])
	}

	s.Vectors = make([]byte, hdr.Count*hdr.Dimension*hdr.Precision.Width())
	if _, err := io.ReadFull(br, s.Vectors); err != nil {
		return nil, corrupt(err)
	}

	if hdr.Algorithm == AlgorithmGraph {
		if s.Graph, err = readSection(br, maxSectionSize); err != nil {
			return nil, corrupt(err)
		}
	}

	// drain to the end block so the checksum covers everything
	if _, err := io.Copy(io.Discard, br); err != nil {
		return nil, corrupt(err)
	}

	var trailer [4]byte
	if _, err := io.ReadFull(blocks.trailer(), trailer[:]); err != nil {
		return nil, corrupt(err)
	}
	if err := payload.Verify(binary.LittleEndian.Uint32(trailer[:])); err != nil {
		return nil, err
	}

	return s, nil
}

func corrupt(err error) error {
	if errors.Is(err, ErrCorrupt) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCorrupt, err)
}

package persistence

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block codec of a snapshot payload.
type Compression uint8

const (
	// CompressionNone stores blocks raw.
	CompressionNone Compression = 0
	// CompressionLZ4 favors speed.
	CompressionLZ4 Compression = 1
	// CompressionZSTD favors ratio.
	CompressionZSTD Compression = 2
)

// DefaultBlockSize is the uncompressed size of a payload block.
const DefaultBlockSize = 256 * 1024

const (
	blockHeaderSize = 8
	// blocks that shrink by less than this fraction are stored raw
	minCompressionGain = 0.9
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// Valid reports whether c is a known compression.
func (c Compression) Valid() bool { return c <= CompressionZSTD }

// ParseCompression maps a name to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return 0, fmt.Errorf("persistence: unknown compression %q", s)
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

func compressBlock(dst, data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionLZ4:
		if cap(dst) < lz4.CompressBlockBound(len(data)) {
			dst = make([]byte, lz4.CompressBlockBound(len(data)))
		}
		dst = dst[:cap(dst)]
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(data, dst)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	case CompressionZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, dst[:0]), nil
	default:
		return nil, nil
	}
}

func decompressBlock(dst, data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)
		return dec.DecodeAll(data, dst[:0])
	default:
		return nil, fmt.Errorf("%w: compressed block with compression %s", ErrCorrupt, c)
	}
}

// blockWriter buffers payload bytes and emits them as length-prefixed,
// optionally compressed blocks.
type blockWriter struct {
	w           io.Writer
	compression Compression
	buf         []byte
	scratch     []byte
	blockSize   int
}

func newBlockWriter(w io.Writer, c Compression, blockSize int) *blockWriter {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &blockWriter{
		w:           w,
		compression: c,
		buf:         make([]byte, 0, blockSize),
		blockSize:   blockSize,
	}
}

func (bw *blockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := min(bw.blockSize-len(bw.buf), len(p))
		bw.buf = append(bw.buf, p[:n]...)
		total += n
		p = p[n:]
		if len(bw.buf) == bw.blockSize {
			if err := bw.flush(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (bw *blockWriter) flush() error {
	if len(bw.buf) == 0 {
		return nil
	}

	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(bw.buf)))

	body := bw.buf
	if bw.compression != CompressionNone {
		compressed, err := compressBlock(bw.scratch, bw.buf, bw.compression)
		if err != nil {
			return err
		}
		bw.scratch = compressed
		if len(compressed) > 0 && float64(len(compressed)) <= float64(len(bw.buf))*minCompressionGain {
			binary.LittleEndian.PutUint32(hdr[4:], uint32(len(compressed)))
			body = compressed
		}
	}

	if _, err := bw.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := bw.w.Write(body); err != nil {
		return err
	}
	bw.buf = bw.buf[:0]
	return nil
}

// Close flushes pending bytes and writes the end block.
func (bw *blockWriter) Close() error {
	if err := bw.flush(); err != nil {
		return err
	}
	var end [blockHeaderSize]byte
	_, err := bw.w.Write(end[:])
	return err
}

// blockReader is the inverse of blockWriter.
type blockReader struct {
	r           *bufio.Reader
	compression Compression
	block       []byte
	off         int
	compressed  []byte
	done        bool
}

func newBlockReader(r io.Reader, c Compression) *blockReader {
	return &blockReader{r: bufio.NewReader(r), compression: c}
}

func (br *blockReader) Read(p []byte) (int, error) {
	for br.off == len(br.block) {
		if br.done {
			return 0, io.EOF
		}
		if err := br.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, br.block[br.off:])
	br.off += n
	return n, nil
}

func (br *blockReader) next() error {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(br.r, hdr[:]); err != nil {
		return fmt.Errorf("%w: block header: %v", ErrCorrupt, err)
	}
	raw := binary.LittleEndian.Uint32(hdr[0:])
	stored := binary.LittleEndian.Uint32(hdr[4:])

	if raw == 0 {
		br.done = true
		br.block, br.off = br.block[:0], 0
		return nil
	}
	if raw > maxBlockSize || stored > maxBlockSize {
		return fmt.Errorf("%w: block size %d/%d", ErrCorrupt, raw, stored)
	}

	if cap(br.block) < int(raw) {
		br.block = make([]byte, raw)
	}
	br.block = br.block[:raw]
	br.off = 0

	if stored == 0 {
		if _, err := io.ReadFull(br.r, br.block); err != nil {
			return fmt.Errorf("%w: block body: %v", ErrCorrupt, err)
		}
		return nil
	}

	if cap(br.compressed) < int(stored) {
		br.compressed = make([]byte, stored)
	}
	br.compressed = br.compressed[:stored]
	if _, err := io.ReadFull(br.r, br.compressed); err != nil {
		return fmt.Errorf("%w: block body: %v", ErrCorrupt, err)
	}

	out, err := decompressBlock(br.block, br.compressed, br.compression)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(out) != int(raw) {
		return fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
	}
	br.block = out
	return nil
}

// trailer returns the reader positioned after the end block.
func (br *blockReader) trailer() io.Reader { return br.r }

package hnsw

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const topologyMagic uint32 = 0x48534E57 // "HSNW"

const flagHeuristic uint32 = 1 << 0

// ErrCorruptTopology is returned by ReadFrom for malformed input.
var ErrCorruptTopology = errors.New("hnsw: corrupt topology")

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (cw *countingWriter) u32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	n, err := cw.w.Write(b[:])
	cw.n += int64(n)
	return err
}

func (cw *countingWriter) u64(v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	n, err := cw.w.Write(b[:])
	cw.n += int64(n)
	return err
}

// WriteTo serializes the graph topology. Vectors are not included.
func (h *HNSW) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: bufio.NewWriter(w)}

	var flags uint32
	if h.opts.Heuristic {
		flags |= flagHeuristic
	}
	header := []uint32{
		topologyMagic,
		uint32(h.opts.M),
		uint32(h.opts.EFConstruction),
		uint32(h.opts.EF),
		uint32(h.opts.MaxElements),
		uint32(len(h.nodes)),
		h.entryPoint,
		uint32(h.maxLevel),
		flags,
	}
	for _, v := range header {
		if err := cw.u32(v); err != nil {
			return cw.n, err
		}
	}
	if err := cw.u64(h.rngSeed); err != nil {
		return cw.n, err
	}

	for _, n := range h.nodes {
		if err := cw.u32(uint32(n.level)); err != nil {
			return cw.n, err
		}
		for _, links := range n.links {
			if err := cw.u32(uint32(len(links))); err != nil {
				return cw.n, err
			}
			for _, l := range links {
				if err := cw.u32(l); err != nil {
					return cw.n, err
				}
			}
		}
	}

	return cw.n, cw.w.Flush()
}

// ReadFrom replaces the topology with one written by WriteTo. The
// Vectors source must already hold every node.
func (h *HNSW) ReadFrom(r io.Reader) (int64, error) {
	br := bufio.NewReader(r)
	var read int64
	var buf [8]byte

	u32 := func() (uint32, error) {
		n, err := io.ReadFull(br, buf[:4])
		read += int64(n)
		return binary.LittleEndian.Uint32(buf[:4]), err
	}

	header := make([]uint32, 9)
	for i := range header {
		v, err := u32()
		if err != nil {
			return read, err
		}
		header[i] = v
	}
	if header[0] != topologyMagic {
		return read, ErrCorruptTopology
	}

	n, err := io.ReadFull(br, buf[:8])
	read += int64(n)
	if err != nil {
		return read, err
	}
	seed := binary.LittleEndian.Uint64(buf[:8])

	count := int(header[5])
	nodes := make([]node, count)
	for i := range nodes {
		level, err := u32()
		if err != nil {
			return read, err
		}
		if level > 64 {
			return read, fmt.Errorf("%w: node %d level %d", ErrCorruptTopology, i, level)
		}
		nodes[i] = node{level: int(level), links: make([][]uint32, level+1)}
		for l := range nodes[i].links {
			size, err := u32()
			if err != nil {
				return read, err
			}
			if int(size) > count {
				return read, fmt.Errorf("%w: node %d has %d links", ErrCorruptTopology, i, size)
			}
			links := make([]uint32, size)
			for j := range links {
				if links[j], err = u32(); err != nil {
					return read, err
				}
				if int(links[j]) >= count {
					return read, fmt.Errorf("%w: link to %d", ErrCorruptTopology, links[j])
				}
			}
			nodes[i].links[l] = links
		}
	}

	if count > 0 {
		ep := int(header[6])
		if ep >= count || nodes[ep].level != int(header[7]) {
			return read, fmt.Errorf("%w: entry point %d", ErrCorruptTopology, ep)
		}
	}
	if header[1] < minimumM {
		return read, fmt.Errorf("%w: M=%d", ErrCorruptTopology, header[1])
	}

	h.opts.M = int(header[1])
	h.opts.EFConstruction = int(header[2])
	h.opts.EF = int(header[3])
	h.opts.MaxElements = int(header[4])
	h.maxConnectionsPerLayer = h.opts.M
	h.maxConnectionsLayer0 = mmax0Multiplier * h.opts.M
	h.layerMultiplier = layerNormalizationBase / math.Log(float64(h.opts.M))
	h.opts.Heuristic = header[8]&flagHeuristic != 0
	h.nodes = nodes
	h.entryPoint = header[6]
	h.maxLevel = int(header[7])
	h.rngSeed = seed

	return read, nil
}

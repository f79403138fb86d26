// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vectorindex

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
)

// writeTo serializes the graph's structure: its tuning parameters,
// entry point, and every node's level and per-layer neighbor lists.
// Tombstones are carried too, so a reloaded graph excludes deleted
// vids from search without needing the op-log replayed a second time.
func (g *graph) writeTo(w io.Writer) (int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}

	writeUint32(cw, uint32(g.m))
	writeUint32(cw, uint32(g.m0))
	writeUint32(cw, uint32(g.efConstruction))
	writeUint32(cw, uint32(g.efSearch))
	writeBool(cw, g.empty)
	writeUint64(cw, g.entryPoint)
	writeInt32(cw, int32(g.maxLevel))

	writeUint32(cw, uint32(len(g.nodes)))
	for vid, node := range g.nodes {
		writeUint64(cw, vid)
		writeUint32(cw, uint32(node.level))
		writeUint32(cw, uint32(len(node.neighbors)))
		for _, layer := range node.neighbors {
			writeUint32(cw, uint32(len(layer)))
			for _, nid := range layer {
				writeUint64(cw, nid)
			}
		}
	}

	writeUint32(cw, uint32(len(g.tombstones)))
	for vid, deleted := range g.tombstones {
		if !deleted {
			continue
		}
		writeUint64(cw, vid)
	}

	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, cw.err
}

// loadGraph deserializes a graph written by writeTo.
func loadGraph(r io.Reader) (*graph, error) {
	br := bufio.NewReader(r)

	m, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	m0, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	efc, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	efs, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	g := newGraph(int(m), int(m0), int(efc), int(efs))

	empty, err := readBool(br)
	if err != nil {
		return nil, err
	}
	g.empty = empty

	entryPoint, err := readUint64(br)
	if err != nil {
		return nil, err
	}
	g.entryPoint = entryPoint

	maxLevel, err := readInt32(br)
	if err != nil {
		return nil, err
	}
	g.maxLevel = int(maxLevel)

	nodeCount, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nodeCount; i++ {
		vid, err := readUint64(br)
		if err != nil {
			return nil, err
		}
		level, err := readUint32(br)
		if err != nil {
			return nil, err
		}
		layerCount, err := readUint32(br)
		if err != nil {
			return nil, err
		}
		node := &graphNode{vid: vid, level: int(level), neighbors: make([][]uint64, layerCount)}
		for l := uint32(0); l < layerCount; l++ {
			neighborCount, err := readUint32(br)
			if err != nil {
				return nil, err
			}
			layer := make([]uint64, neighborCount)
			for n := uint32(0); n < neighborCount; n++ {
				nid, err := readUint64(br)
				if err != nil {
					return nil, err
				}
				layer[n] = nid
			}
			node.neighbors[l] = layer
		}
		g.nodes[vid] = node
	}

	tombCount, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < tombCount; i++ {
		vid, err := readUint64(br)
		if err != nil {
			return nil, err
		}
		g.tombstones[vid] = true
	}

	return g, nil
}

// writeVectorsTo serializes a vid -> vector map in the same
// length-prefixed shape the graph section uses.
func writeVectorsTo(w io.Writer, vecs map[uint64][]float32) (int64, error) {
	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}

	writeUint32(cw, uint32(len(vecs)))
	for vid, vec := range vecs {
		writeUint64(cw, vid)
		writeUint32(cw, uint32(len(vec)))
		for _, f := range vec {
			writeUint32(cw, math.Float32bits(f))
		}
	}

	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, cw.err
}

func loadVectorsFrom(r io.Reader) (map[uint64][]float32, error) {
	br := bufio.NewReader(r)
	count, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64][]float32, count)
	for i := uint32(0); i < count; i++ {
		vid, err := readUint64(br)
		if err != nil {
			return nil, err
		}
		dim, err := readUint32(br)
		if err != nil {
			return nil, err
		}
		vec := make([]float32, dim)
		for d := uint32(0); d < dim; d++ {
			bits, err := readUint32(br)
			if err != nil {
				return nil, err
			}
			vec[d] = math.Float32frombits(bits)
		}
		out[vid] = vec
	}
	return out, nil
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	if cw.err != nil {
		return 0, cw.err
	}
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	if err != nil {
		cw.err = err
	}
	return n, err
}

func writeUint64(w io.Writer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func writeUint32(w io.Writer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeInt32(w io.Writer, v int32) {
	writeUint32(w, uint32(v))
}

func writeBool(w io.Writer, v bool) {
	if v {
		w.Write([]byte{1})
	} else {
		w.Write([]byte{0})
	}
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readInt32(r io.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func readBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

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
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Snapshot file layout: a magic header followed by two length-prefixed
// sections, each trailed by its own CRC32. The file has no directory
// of section offsets; a reader decodes the sections in order.
//
//	magic(4) version(4)
//	graphLen(8) graphBytes(graphLen) graphCRC(4)
//	vectorsLen(8) vectorsBytes(vectorsLen) vectorsCRC(4)
const (
	snapshotMagic   = uint32(0x454e4752) // "ENGR"
	snapshotVersion = uint32(1)
)

const snapshotTmpSuffix = ".tmp"

// saveSnapshot writes g and vecs to path atomically: it builds the
// file at path+".tmp" and renames it into place, so a crash mid-write
// never leaves a half-written snapshot where the index expects one.
func saveSnapshot(path string, g *graph, vecs map[uint64][]float32) error {
	tmpPath := path + snapshotTmpSuffix
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("vectorindex: creating snapshot temp file: %w", err)
	}

	if err := writeSnapshot(f, g, vecs); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("vectorindex: committing snapshot: %w", err)
	}
	return nil
}

func writeSnapshot(w io.Writer, g *graph, vecs map[uint64][]float32) error {
	var graphBuf bytes.Buffer
	if _, err := g.writeTo(&graphBuf); err != nil {
		return fmt.Errorf("vectorindex: encoding graph section: %w", err)
	}
	var vecBuf bytes.Buffer
	if _, err := writeVectorsTo(&vecBuf, vecs); err != nil {
		return fmt.Errorf("vectorindex: encoding vectors section: %w", err)
	}

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], snapshotMagic)
	binary.LittleEndian.PutUint32(header[4:8], snapshotVersion)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	if err := writeSection(w, graphBuf.Bytes()); err != nil {
		return fmt.Errorf("vectorindex: writing graph section: %w", err)
	}
	if err := writeSection(w, vecBuf.Bytes()); err != nil {
		return fmt.Errorf("vectorindex: writing vectors section: %w", err)
	}
	return nil
}

func writeSection(w io.Writer, data []byte) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(data))
	_, err := w.Write(crcBuf[:])
	return err
}

func readSection(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(data) != binary.LittleEndian.Uint32(crcBuf[:]) {
		return nil, fmt.Errorf("vectorindex: snapshot section checksum mismatch, file is corrupt")
	}
	return data, nil
}

// loadSnapshot reads a snapshot written by saveSnapshot. ok is false
// if path does not exist, the normal state for a brand-new index.
func loadSnapshot(path string, m, m0, efConstruction, efSearch int) (*graph, map[uint64][]float32, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newGraph(m, m0, efConstruction, efSearch), make(map[uint64][]float32), false, nil
		}
		return nil, nil, false, err
	}
	defer f.Close()

	var header [8]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return nil, nil, false, fmt.Errorf("vectorindex: reading snapshot header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != snapshotMagic {
		return nil, nil, false, fmt.Errorf("vectorindex: unrecognized snapshot magic %x", magic)
	}
	if version := binary.LittleEndian.Uint32(header[4:8]); version != snapshotVersion {
		return nil, nil, false, fmt.Errorf("vectorindex: unsupported snapshot version %d", version)
	}

	graphBytes, err := readSection(f)
	if err != nil {
		return nil, nil, false, fmt.Errorf("vectorindex: reading graph section: %w", err)
	}
	g, err := loadGraph(bytes.NewReader(graphBytes))
	if err != nil {
		return nil, nil, false, fmt.Errorf("vectorindex: decoding graph section: %w", err)
	}

	vecBytes, err := readSection(f)
	if err != nil {
		return nil, nil, false, fmt.Errorf("vectorindex: reading vectors section: %w", err)
	}
	vecs, err := loadVectorsFrom(bytes.NewReader(vecBytes))
	if err != nil {
		return nil, nil, false, fmt.Errorf("vectorindex: decoding vectors section: %w", err)
	}

	return g, vecs, true, nil
}

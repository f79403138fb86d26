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
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// opCode discriminates the two mutations the op-log replays: the
// vector index never updates a vid's vector in place.
type opCode uint8

const (
	opInsert opCode = 1
	opDelete opCode = 2
)

// opLog is an append-only, zstd-compressed log of index mutations that
// happened since the last full snapshot, replayed on open before the
// index is usable for queries.
// Writers take mu; replay happens before any writer goroutine
// exists, so it needs no locking of its own.
type opLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *zstd.Encoder
	path   string
}

func openOpLog(path string) (*opLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: opening op-log: %w", err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &opLog{file: f, writer: enc, path: path}, nil
}

// appendInsert records vid/vec, to be replayed after the last snapshot.
func (l *opLog) appendInsert(vid uint64, vec []float32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := make([]byte, 1+8+4+4*len(vec))
	buf[0] = byte(opInsert)
	binary.LittleEndian.PutUint64(buf[1:9], vid)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(vec)))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[13+4*i:17+4*i], math.Float32bits(f))
	}
	return l.writeRecord(buf)
}

// appendDelete records a tombstone for vid.
func (l *opLog) appendDelete(vid uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := make([]byte, 1+8)
	buf[0] = byte(opDelete)
	binary.LittleEndian.PutUint64(buf[1:9], vid)
	return l.writeRecord(buf)
}

func (l *opLog) writeRecord(payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := l.writer.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := l.writer.Write(payload); err != nil {
		return err
	}
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(payload))
	if _, err := l.writer.Write(crcBuf[:]); err != nil {
		return err
	}
	return l.writer.Flush()
}

// truncate discards everything logged so far, called right after a
// snapshot makes those entries redundant.
func (l *opLog) truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer.Close()
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(l.file)
	if err != nil {
		return err
	}
	l.writer = enc
	return nil
}

func (l *opLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Close()
	return l.file.Close()
}

// replayOpLog reads every record from path (if it exists) and applies
// apply to each, in append order. It is called once at Open, before
// any concurrent writer exists.
func replayOpLog(path string, apply func(op opCode, vid uint64, vec []float32) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	r := bufio.NewReader(dec)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("vectorindex: reading op-log record length: %w", err)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("vectorindex: reading op-log record: %w", err)
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			return fmt.Errorf("vectorindex: reading op-log checksum: %w", err)
		}
		if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(crcBuf[:]) {
			return fmt.Errorf("vectorindex: op-log checksum mismatch, log is corrupt")
		}

		op := opCode(payload[0])
		switch op {
		case opInsert:
			vid := binary.LittleEndian.Uint64(payload[1:9])
			count := binary.LittleEndian.Uint32(payload[9:13])
			vec := make([]float32, count)
			for i := range vec {
				vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[13+4*i : 17+4*i]))
			}
			if err := apply(opInsert, vid, vec); err != nil {
				return err
			}
		case opDelete:
			vid := binary.LittleEndian.Uint64(payload[1:9])
			if err := apply(opDelete, vid, nil); err != nil {
				return err
			}
		default:
			return fmt.Errorf("vectorindex: unknown op-log opcode %d", op)
		}
	}
}

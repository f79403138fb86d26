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

package core

import (
	"strings"

	"github.com/go-crypt/x/blake2b"
)

// Canonicalize lowercases text and collapses runs of whitespace to a
// single space, the same normalization CanonicalTextHash hashes over so
// two captures differing only in case or incidental whitespace compare
// as duplicates.
func Canonicalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// CanonicalTextHash hashes the canonicalized form of text, the value
// stored in Capture.TextHash and compared by the dedup filter's exact
// level.
func CanonicalTextHash(text string) [32]byte {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(Canonicalize(text)))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

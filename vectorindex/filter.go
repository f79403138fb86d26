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

import "github.com/RoaringBitmap/roaring/v2/roaring64"

// Filter scopes a search to a set of vids, built on the fly from the
// record store's date/app indices by whatever caller needs to restrict
// a semantic query by time range or source app.
type Filter struct {
	bitmap *roaring64.Bitmap
}

// NewFilter builds a Filter containing exactly the given vids.
func NewFilter(vids ...uint64) *Filter {
	bm := roaring64.New()
	for _, v := range vids {
		bm.Add(v)
	}
	return &Filter{bitmap: bm}
}

// Add includes vid in the filter.
func (f *Filter) Add(vid uint64) {
	f.bitmap.Add(vid)
}

// Matches reports whether vid passes the filter.
func (f *Filter) Matches(vid uint64) bool {
	if f == nil || f.bitmap == nil {
		return true
	}
	return f.bitmap.Contains(vid)
}

// Cardinality returns the number of vids the filter admits.
func (f *Filter) Cardinality() uint64 {
	if f == nil || f.bitmap == nil {
		return 0
	}
	return f.bitmap.GetCardinality()
}

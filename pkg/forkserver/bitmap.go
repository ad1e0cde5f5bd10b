// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package forkserver

// AFL hit count buckets: 1, 2, 3, 4-7, 8-15, 16-31, 32-127, 128+.
var countClass [256]byte

func init() {
	for i := range countClass {
		switch {
		case i == 0:
			countClass[i] = 0
		case i <= 3:
			countClass[i] = 1 << (i - 1)
		case i <= 7:
			countClass[i] = 8
		case i <= 15:
			countClass[i] = 16
		case i <= 31:
			countClass[i] = 32
		case i <= 127:
			countClass[i] = 64
		default:
			countClass[i] = 128
		}
	}
}

// Classify replaces raw hit counts with bucket bits in place.
func Classify(trace []byte) {
	for i, v := range trace {
		if v != 0 {
			trace[i] = countClass[v]
		}
	}
}

// NonZero returns indices of all covered map entries.
func NonZero(trace []byte) []int {
	var res []int
	for i, v := range trace {
		if v != 0 {
			res = append(res, i)
		}
	}
	return res
}

// NewBits returns indices where trace has bucket bits not yet present in seen.
func NewBits(seen, trace []byte) []int {
	var res []int
	for i, v := range trace {
		if v&^seen[i] != 0 {
			res = append(res, i)
		}
	}
	return res
}

// Merge adds trace buckets into seen.
func Merge(seen, trace []byte) {
	for i, v := range trace {
		seen[i] |= v
	}
}

// Covers says if trace covers all of the given indices.
func Covers(trace []byte, bits []int) bool {
	for _, bit := range bits {
		if bit >= len(trace) || trace[bit] == 0 {
			return false
		}
	}
	return true
}

// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package hash identifies grammar files, subtrees and crash reports by content.
package hash

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

type Sig [sha1.Size]byte

func Hash(pieces ...[]byte) Sig {
	h := sha1.New()
	for _, data := range pieces {
		h.Write(data)
	}
	var sig Sig
	copy(sig[:], h.Sum(nil))
	return sig
}

func String(pieces ...[]byte) string {
	sig := Hash(pieces...)
	return sig.String()
}

// File hashes contents of the file.
func File(filename string) (Sig, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Sig{}, err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return Sig{}, fmt.Errorf("failed to hash %v: %w", filename, err)
	}
	var sig Sig
	copy(sig[:], h.Sum(nil))
	return sig, nil
}

func (sig Sig) String() string {
	return hex.EncodeToString(sig[:])
}

// Short returns a prefix of the hex representation suitable for file names and logs.
func (sig Sig) Short() string {
	return sig.String()[:16]
}

// Truncate64 returns first 64 bits of the hash.
func (sig Sig) Truncate64() uint64 {
	return binary.LittleEndian.Uint64(sig[:8])
}

func FromString(str string) (Sig, error) {
	bin, err := hex.DecodeString(str)
	if err != nil {
		return Sig{}, fmt.Errorf("failed to decode sig '%v': %w", str, err)
	}
	if len(bin) != len(Sig{}) {
		return Sig{}, fmt.Errorf("failed to decode sig '%v': bad len", str)
	}
	var sig Sig
	copy(sig[:], bin)
	return sig, nil
}

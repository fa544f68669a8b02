// Package chacha provides a deterministic ChaCha keystream generator.
//
// The generator is keyed directly by a 32-byte seed with a zero block
// counter and a zero stream id, and emits the keystream as little-endian
// 32-bit words. With 12 rounds this matches the StdRng generator of the Rust
// rand crate word for word, which is what makes a fixed seed reproducible
// across tooling. It is NOT a source of secrecy when the seed is known.
package chacha

import (
	"encoding/binary"
	"math/bits"
)

// SeedSize is the seed length in bytes.
const SeedSize = 32

// Rounds is the number of rounds used by NewRand.
const Rounds = 12

const blockWords = 16

// "expand 32-byte k"
const (
	sigma0 = 0x61707865
	sigma1 = 0x3320646e
	sigma2 = 0x79622d32
	sigma3 = 0x6b206574
)

// Rand is a ChaCha keystream generator. It is not safe for concurrent use.
type Rand struct {
	key     [8]uint32
	counter uint64
	stream  uint64
	rounds  int

	buf [blockWords]uint32
	pos int
}

// NewRand returns a ChaCha12 generator keyed by seed.
func NewRand(seed [SeedSize]byte) *Rand {
	return newRand(seed, Rounds)
}

func newRand(seed [SeedSize]byte, rounds int) *Rand {
	r := &Rand{rounds: rounds, pos: blockWords}
	for i := range r.key {
		r.key[i] = binary.LittleEndian.Uint32(seed[i*4:])
	}
	return r
}

// Uint32 returns the next keystream word.
func (r *Rand) Uint32() uint32 {
	if r.pos == blockWords {
		r.refill()
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

// Uint64 returns two consecutive keystream words, low word first.
func (r *Rand) Uint64() uint64 {
	lo := uint64(r.Uint32())
	hi := uint64(r.Uint32())
	return hi<<32 | lo
}

func (r *Rand) refill() {
	block(&r.buf, &r.key, r.counter, r.stream, r.rounds)
	r.counter++
	r.pos = 0
}

func block(out *[blockWords]uint32, key *[8]uint32, counter, stream uint64, rounds int) {
	in := [blockWords]uint32{
		sigma0, sigma1, sigma2, sigma3,
		key[0], key[1], key[2], key[3],
		key[4], key[5], key[6], key[7],
		uint32(counter), uint32(counter >> 32),
		uint32(stream), uint32(stream >> 32),
	}

	x := in
	for i := 0; i < rounds; i += 2 {
		// columns
		quarterRound(&x, 0, 4, 8, 12)
		quarterRound(&x, 1, 5, 9, 13)
		quarterRound(&x, 2, 6, 10, 14)
		quarterRound(&x, 3, 7, 11, 15)
		// diagonals
		quarterRound(&x, 0, 5, 10, 15)
		quarterRound(&x, 1, 6, 11, 12)
		quarterRound(&x, 2, 7, 8, 13)
		quarterRound(&x, 3, 4, 9, 14)
	}

	for i := range out {
		out[i] = x[i] + in[i]
	}
}

func quarterRound(x *[blockWords]uint32, a, b, c, d int) {
	x[a] += x[b]
	x[d] = bits.RotateLeft32(x[d]^x[a], 16)
	x[c] += x[d]
	x[b] = bits.RotateLeft32(x[b]^x[c], 12)
	x[a] += x[b]
	x[d] = bits.RotateLeft32(x[d]^x[a], 8)
	x[c] += x[d]
	x[b] = bits.RotateLeft32(x[b]^x[c], 7)
}

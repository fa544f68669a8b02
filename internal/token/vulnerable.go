package token

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shibukawa/tokenlab/internal/chacha"
)

// FixedSeedByte is the value of every byte of the vulnerable strategy's
// PRNG seed. Anyone who reads this line can predict every vulnerable token.
const FixedSeedByte = 1

// FixedSeed returns the hardcoded 32-byte seed of the vulnerable strategy.
// Each call returns a new copy.
func FixedSeed() [chacha.SeedSize]byte {
	var seed [chacha.SeedSize]byte
	for i := range seed {
		seed[i] = FixedSeedByte
	}
	return seed
}

// GenerateVulnerableToken returns userID joined with a number drawn from a
// generator seeded with FixedSeed. A fresh generator is built per call and
// only its first word is used, so the suffix never changes.
func GenerateVulnerableToken(userID string) Token {
	return userID + "-" + strconv.FormatUint(uint64(drawSuffix(FixedSeed())), 10)
}

// PredictedSuffix returns the numeric suffix shared by every vulnerable
// token. Computing it needs nothing but the seed.
func PredictedSuffix() uint32 {
	return drawSuffix(FixedSeed())
}

func drawSuffix(seed [chacha.SeedSize]byte) uint32 {
	return chacha.NewRand(seed).Uint32()
}

// ParseVulnerableToken splits a vulnerable token into its user id and
// numeric suffix. The user id may itself contain dashes.
func ParseVulnerableToken(s string) (userID string, suffix uint32, err error) {
	i := strings.LastIndexByte(s, '-')
	if i < 0 {
		return "", 0, fmt.Errorf("%w: missing separator", ErrMalformedToken)
	}
	n, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("%w: invalid suffix %q", ErrMalformedToken, s[i+1:])
	}
	return s[:i], uint32(n), nil
}

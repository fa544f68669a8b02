// Package token implements the two password-reset token strategies served by
// tokenlab: a secure one backed by OS entropy and a deliberately predictable
// one backed by a fixed-seed PRNG.
package token

import "errors"

// Static errors for token parsing.
var (
	ErrMalformedToken = errors.New("malformed token")
)

// Strategy names a token generation strategy.
type Strategy string

// Supported strategies.
const (
	StrategySecure     Strategy = "secure"
	StrategyVulnerable Strategy = "vulnerable"
)

// Token is an opaque password-reset token handed back to the caller.
type Token = string

package attendance

import (
	"math/rand/v2"
	"strconv"
)

const (
	codeMin = 100000
	codeMax = 999999
)

// Generator produces candidate codes. Uniqueness is enforced by the store, not here.
type Generator interface {
	Generate() string
}

// RandomGenerator draws 6-digit codes uniformly from [100000, 999999].
type RandomGenerator struct{}

func (RandomGenerator) Generate() string {
	return strconv.Itoa(codeMin + rand.IntN(codeMax-codeMin+1))
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func() string

func (f GeneratorFunc) Generate() string { return f() }

// ValidCode reports whether s has the shape of a generated code.
func ValidCode(s string) bool {
	if len(s) != 6 {
		return false
	}
	n, err := strconv.Atoi(s)
	return err == nil && n >= codeMin && n <= codeMax
}

// Package pickup generates the short codes students and walk-up customers
// show at the counter.
package pickup

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"strings"

	"github.com/skip2/go-qrcode"
)

// Alphabet omits characters that read alike on a screen (0/O, 1/I/L).
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	DefaultPrefix = "RC-"
	DefaultLength = 6
	qrSize        = 256
)

// QREncoder renders a code as a PNG.
type QREncoder interface {
	Encode(code string) ([]byte, error)
}

// Generator produces random pickup codes.
type Generator struct {
	prefix string
	length int
	random io.Reader
}

func NewGenerator(prefix string, length int) *Generator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{prefix: strings.ToUpper(prefix), length: length, random: rand.Reader}
}

// Next returns a fresh code such as RC-7KQ2XM.
func (g *Generator) Next() (string, error) {
	base := big.NewInt(int64(len(Alphabet)))
	var b strings.Builder
	b.Grow(len(g.prefix) + g.length)
	b.WriteString(g.prefix)
	for i := 0; i < g.length; i++ {
		n, err := rand.Int(g.random, base)
		if err != nil {
			return "", err
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize upper-cases and trims user input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code has the generator's shape.
func (g *Generator) Valid(code string) bool {
	code = Normalize(code)
	if !strings.HasPrefix(code, g.prefix) {
		return false
	}
	body := code[len(g.prefix):]
	if len(body) != g.length {
		return false
	}
	for _, r := range body {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}

// PNGEncoder renders codes with medium error correction.
type PNGEncoder struct {
	Size int
}

func (e PNGEncoder) Encode(code string) ([]byte, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("code required")
	}
	size := e.Size
	if size <= 0 {
		size = qrSize
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}

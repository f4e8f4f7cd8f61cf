package domain

import (
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	// CodeLength is the number of characters in a join code.
	CodeLength = 6
	// MaxNameLength caps student display names, in runes.
	MaxNameLength = 20

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NormalizeCode strips everything outside [A-Za-z0-9] and upper-cases the rest.
func NormalizeCode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SanitizeName trims, drops control characters and caps the length of a display name.
func SanitizeName(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, norm.NFC.String(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	runes := []rune(cleaned)
	if len(runes) > MaxNameLength {
		runes = runes[:MaxNameLength]
	}
	return strings.TrimSpace(string(runes))
}

// CodeGenerator produces join codes.
type CodeGenerator interface {
	NewCode() string
}

// RandomCodes generates uppercase alphanumeric join codes.
type RandomCodes struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomCodes() *RandomCodes {
	return NewSeededCodes(time.Now().UnixNano())
}

// NewSeededCodes is deterministic for a given seed.
func NewSeededCodes(seed int64) *RandomCodes {
	return &RandomCodes{rnd: rand.New(rand.NewSource(seed))}
}

func (g *RandomCodes) NewCode() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	result := make([]byte, CodeLength)
	for i := range result {
		result[i] = codeAlphabet[g.rnd.Intn(len(codeAlphabet))]
	}
	return string(result)
}

// ValidCode reports whether code is already in canonical join-code form.
func ValidCode(code string) bool {
	return len(code) == CodeLength && NormalizeCode(code) == code
}

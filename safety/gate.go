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

package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/poiesic/memorit/core"
)

// Placeholder tokens substituted for redacted spans. Each carries its
// kind so a downstream reader can tell what was removed without the
// original ever round-tripping through storage.
const (
	tokenCreditCard = "[REDACTED:credit_card]"
	tokenSSN        = "[REDACTED:ssn]"
	tokenEmail      = "[REDACTED:email]"
	tokenPhone      = "[REDACTED:phone]"
	tokenDenied     = "[REDACTED]"
)

var (
	// creditCardRun matches a run of digits interleaved with spaces or
	// dashes; the run is Luhn-validated after separators are stripped,
	// so this pattern alone overmatches by design.
	creditCardRun = regexp.MustCompile(`\b[0-9][0-9 -]{11,22}[0-9]\b`)
	ssnPattern    = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	emailPattern  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern  = regexp.MustCompile(`\(?\b\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`)
)

// Decision is the outcome of running the gate over one piece of text.
type Decision struct {
	Text           string
	Flags          core.PIIFlags
	RedactionCount int
	Denied         bool
	DenyReason     string
}

// Gate applies the detector set a Config enables. The detector patterns
// are package-level regexps compiled once at init, so constructing a
// Gate only stores its Config.
type Gate struct {
	cfg Config
}

// New builds a Gate from cfg.
func New(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Check inspects text and returns a Decision. Custom deny patterns are
// checked first and short-circuit everything else, matching the
// priority order the original safety gate used. PIIFlags are always
// populated, independent of cfg.RedactPII, so callers can audit what
// was present even when nothing was rewritten.
func (g *Gate) Check(text string) Decision {
	for _, pattern := range g.cfg.CustomDenyPatterns {
		if pattern != "" && strings.Contains(text, pattern) {
			return Decision{
				Text:       tokenDenied,
				Denied:     true,
				DenyReason: fmt.Sprintf("custom deny pattern matched: %s", pattern),
			}
		}
	}

	out := text
	var flags core.PIIFlags
	count := 0

	if g.cfg.DetectCreditCard {
		redacted, n := redactCreditCards(out, g.cfg.LuhnRequired)
		if n > 0 {
			flags = flags.Set(core.PIICreditCard)
			if g.cfg.RedactPII {
				out = redacted
				count += n
			}
		}
	}

	if g.cfg.DetectSSN {
		redacted, n := redactPattern(out, ssnPattern, tokenSSN)
		if n > 0 {
			flags = flags.Set(core.PIISSN)
			if g.cfg.RedactPII {
				out = redacted
				count += n
			}
		}
	}

	if g.cfg.DetectEmail {
		redacted, n := redactPattern(out, emailPattern, tokenEmail)
		if n > 0 {
			flags = flags.Set(core.PIIEmail)
			if g.cfg.RedactPII {
				out = redacted
				count += n
			}
		}
	}

	if g.cfg.DetectPhone {
		redacted, n := redactPattern(out, phonePattern, tokenPhone)
		if n > 0 {
			flags = flags.Set(core.PIIPhone)
			if g.cfg.RedactPII {
				out = redacted
				count += n
			}
		}
	}

	return Decision{Text: out, Flags: flags, RedactionCount: count}
}

func redactPattern(text string, re *regexp.Regexp, token string) (string, int) {
	n := 0
	out := re.ReplaceAllStringFunc(text, func(string) string {
		n++
		return token
	})
	return out, n
}

// redactCreditCards finds digit runs that look like 13-19 digit card
// numbers and replaces them with tokenCreditCard. When luhnRequired is
// set, a run must also pass the Luhn checksum — this is what keeps
// phone numbers, order IDs, and zip+4 sequences from being flagged.
func redactCreditCards(text string, luhnRequired bool) (string, int) {
	n := 0
	out := creditCardRun.ReplaceAllStringFunc(text, func(match string) string {
		digits := stripSeparators(match)
		if len(digits) < 13 || len(digits) > 19 {
			return match
		}
		if luhnRequired && !luhnValid(digits) {
			return match
		}
		n++
		return tokenCreditCard
	})
	return out, n
}

func stripSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// luhnValid implements the mod-10 checksum described in the original
// safety gate's design notes: double every second digit from the right,
// subtract 9 if the result exceeds 9, sum everything, and check that
// the sum is a multiple of 10.
func luhnValid(digits string) bool {
	sum := 0
	alternate := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if alternate {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alternate = !alternate
	}
	return sum%10 == 0
}

// Redact is a convenience wrapper returning the cleaned text alone: a
// deny collapses to tokenDenied, an allow or redact returns Decision.Text.
func (g *Gate) Redact(text string) string {
	return g.Check(text).Text
}

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

// Package safety implements the ingestion pipeline's PII gate: detection,
// optional redaction, and the deny-pattern escape hatch.
package safety

// Config controls which PII kinds the gate detects and whether matches
// are redacted in place or only flagged.
type Config struct {
	// RedactPII rewrites matched spans with their placeholder tokens.
	// When false the gate still runs detection and sets PIIFlags, it
	// just leaves the text untouched.
	RedactPII bool

	DetectCreditCard bool
	DetectSSN        bool
	DetectEmail      bool
	DetectPhone      bool

	// LuhnRequired gates whether a credit-card-shaped digit run must
	// pass the Luhn checksum to count as a detection. Leaving this on
	// is what keeps phone numbers and order IDs from being flagged as
	// card numbers; turning it off trades false positives for recall.
	LuhnRequired bool

	// CustomDenyPatterns are plain substrings; any match denies the
	// capture outright before redaction runs.
	CustomDenyPatterns []string
}

// DefaultConfig enables every detector with redaction on, matching the
// conservative default a local-first capture daemon should ship with.
func DefaultConfig() Config {
	return Config{
		RedactPII:          true,
		DetectCreditCard:   true,
		DetectSSN:          true,
		DetectEmail:        true,
		DetectPhone:        true,
		LuhnRequired:       true,
		CustomDenyPatterns: nil,
	}
}

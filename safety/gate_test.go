package safety

import (
	"testing"

	"github.com/poiesic/memorit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactCreditCardWithDashes(t *testing.T) {
	g := New(DefaultConfig())
	d := g.Check("pay with 4111-1111-1111-1111 please")
	assert.Equal(t, "pay with [REDACTED:credit_card] please", d.Text)
	assert.Equal(t, 1, d.RedactionCount)
	assert.True(t, d.Flags.Has(core.PIICreditCard))
}

func TestRedactCreditCardWithSpaces(t *testing.T) {
	g := New(DefaultConfig())
	d := g.Check("card 4111 1111 1111 1111 end")
	assert.Equal(t, "card [REDACTED:credit_card] end", d.Text)
}

func TestShortNumbersNotRedacted(t *testing.T) {
	g := New(DefaultConfig())
	d := g.Check("order 12345 confirmed")
	assert.Equal(t, "order 12345 confirmed", d.Text)
	assert.Equal(t, core.PIINone, d.Flags)
}

func TestNonLuhnDigitRunNotRedactedAsCard(t *testing.T) {
	g := New(DefaultConfig())
	// 13-16 digits but fails the Luhn check: not a real card number.
	d := g.Check("reference 1234-5678-9012-3456 noted")
	assert.Equal(t, "reference 1234-5678-9012-3456 noted", d.Text)
	assert.False(t, d.Flags.Has(core.PIICreditCard))
}

func TestRedactSSN(t *testing.T) {
	g := New(DefaultConfig())
	d := g.Check("my ssn is 123-45-6789")
	assert.Equal(t, "my ssn is [REDACTED:ssn]", d.Text)
	assert.True(t, d.Flags.Has(core.PIISSN))
}

func TestPartialSSNNotRedacted(t *testing.T) {
	g := New(DefaultConfig())
	d := g.Check("phone 123-45-678")
	assert.Equal(t, "phone 123-45-678", d.Text)
}

func TestRedactEmail(t *testing.T) {
	g := New(DefaultConfig())
	d := g.Check("contact user@example.com for info")
	assert.Equal(t, "contact [REDACTED:email] for info", d.Text)
	assert.True(t, d.Flags.Has(core.PIIEmail))
}

func TestRedactMultipleEmails(t *testing.T) {
	g := New(DefaultConfig())
	d := g.Check("a@b.com and c@d.org")
	assert.Equal(t, "[REDACTED:email] and [REDACTED:email]", d.Text)
	assert.Equal(t, 2, d.RedactionCount)
}

func TestRedactPhone(t *testing.T) {
	g := New(DefaultConfig())
	d := g.Check("call me at 555-123-4567 tomorrow")
	assert.Equal(t, "call me at [REDACTED:phone] tomorrow", d.Text)
	assert.True(t, d.Flags.Has(core.PIIPhone))
}

func TestCustomDenyPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomDenyPatterns = []string{"password"}
	g := New(cfg)
	d := g.Check("my password is secret123")
	require.True(t, d.Denied)
	assert.Contains(t, d.DenyReason, "password")
	assert.Equal(t, "[REDACTED]", d.Text)
}

func TestCleanTextAllowed(t *testing.T) {
	g := New(DefaultConfig())
	d := g.Check("the weather is nice today")
	assert.False(t, d.Denied)
	assert.Equal(t, 0, d.RedactionCount)
	assert.Equal(t, core.PIINone, d.Flags)
}

func TestMultipleRedactionKinds(t *testing.T) {
	g := New(DefaultConfig())
	d := g.Check("ssn 123-45-6789 and email user@test.com")
	assert.True(t, d.Flags.Has(core.PIISSN))
	assert.True(t, d.Flags.Has(core.PIIEmail))
	assert.Equal(t, 2, d.RedactionCount)
}

func TestDisabledCreditCardDetectionStillAllowsOtherKinds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectCreditCard = false
	g := New(cfg)
	d := g.Check("card 4111-1111-1111-1111")
	assert.False(t, d.Flags.Has(core.PIICreditCard))
}

func TestFlagsPopulatedEvenWhenRedactionDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedactPII = false
	g := New(cfg)
	d := g.Check("email user@example.com")
	assert.Equal(t, "email user@example.com", d.Text)
	assert.True(t, d.Flags.Has(core.PIIEmail))
	assert.Equal(t, 0, d.RedactionCount)
}

func TestRedactConvenienceMethod(t *testing.T) {
	g := New(DefaultConfig())
	assert.Equal(t, "clean text", g.Redact("clean text"))
	assert.Equal(t, "email [REDACTED:email]", g.Redact("email user@example.com"))
}

func TestCheckIsDeterministicAndIdempotent(t *testing.T) {
	g := New(DefaultConfig())
	text := "ssn 123-45-6789, card 4111-1111-1111-1111, email a@b.com"
	first := g.Check(text)
	second := g.Check(text)
	assert.Equal(t, first, second)

	thrice := g.Check(first.Text)
	assert.Equal(t, first.Text, thrice.Text)
}

func TestLuhnValid(t *testing.T) {
	assert.True(t, luhnValid("4111111111111111"))
	assert.False(t, luhnValid("1234567890123456"))
}

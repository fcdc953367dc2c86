// Package prescription holds the prescription identifiers and the status
// vocabulary shared by the dispensing workflow.
package prescription

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// checkAlphabet is the MOD 37-2 symbol set with '+' in place of '*'.
const checkAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ+"

const (
	segmentLength   = 6
	payloadLength   = 17
	shortFormLength = payloadLength + 1
	orgPadding      = "0"
)

// ShortFormID is the checksummed, human-facing prescription id in the form
// XXXXXX-YYYYYY-ZZZZZC.
type ShortFormID string

func (s ShortFormID) String() string { return string(s) }

// OrgCode returns the middle (prescriber organisation) segment.
func (s ShortFormID) OrgCode() string {
	parts := strings.Split(string(s), "-")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// ChecksumError reports a short-form id that fails validation. Invalid ids
// are never corrected.
type ChecksumError struct {
	Candidate string
	Reason    string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("invalid prescription identifier %q: %s", e.Candidate, e.Reason)
}

// Codec generates short-form ids. The random source is injectable so that
// generation is deterministic under test.
type Codec struct {
	random io.Reader
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithRandom replaces the crypto/rand source.
func WithRandom(r io.Reader) CodecOption {
	return func(c *Codec) { c.random = r }
}

// NewCodec creates a codec reading from crypto/rand unless overridden.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{random: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate creates a new short-form id for the prescriber organisation. The
// organisation code is upper-cased and left-padded with zeros to six
// characters; a code that cannot fit the segment or the check alphabet is
// rejected.
func (c *Codec) Generate(orgCode string) (ShortFormID, error) {
	org := strings.ToUpper(orgCode)
	if len(org) > segmentLength {
		return "", fmt.Errorf("organisation code %q longer than %d characters", orgCode, segmentLength)
	}
	org = strings.Repeat(orgPadding, segmentLength-len(org)) + org

	u, err := uuid.NewRandomFromReader(c.random)
	if err != nil {
		return "", fmt.Errorf("read random source: %w", err)
	}
	hex := strings.ToUpper(strings.ReplaceAll(u.String(), "-", ""))
	first, last := hex[0:6], hex[12:17]

	check, err := CheckDigit(first + org + last)
	if err != nil {
		return "", fmt.Errorf("organisation code %q: %w", orgCode, err)
	}
	return ShortFormID(fmt.Sprintf("%s-%s-%s%c", first, org, last, check)), nil
}

// NewLongFormID draws a prescription UUID from the codec's random source.
func (c *Codec) NewLongFormID() (string, error) {
	u, err := uuid.NewRandomFromReader(c.random)
	if err != nil {
		return "", fmt.Errorf("read random source: %w", err)
	}
	return strings.ToUpper(u.String()), nil
}

// GroupIdentifier pairs a short-form id with the long-form UUID of the
// same prescription group.
type GroupIdentifier struct {
	ShortForm ShortFormID
	LongForm  string
}

// NewGroupIdentifier generates a fresh short-form / long-form pair.
func (c *Codec) NewGroupIdentifier(orgCode string) (GroupIdentifier, error) {
	short, err := c.Generate(orgCode)
	if err != nil {
		return GroupIdentifier{}, err
	}
	long, err := c.NewLongFormID()
	if err != nil {
		return GroupIdentifier{}, err
	}
	return GroupIdentifier{ShortForm: short, LongForm: long}, nil
}

// Identifier renders the pair as a MedicationRequest.groupIdentifier.
func (g GroupIdentifier) Identifier() *r4.Identifier {
	return &r4.Identifier{
		System:    r4.SystemPrescriptionShortForm,
		Value:     g.ShortForm.String(),
		Extension: r4.Extensions{r4.NewPrescriptionID(g.LongForm)},
	}
}

// Extension renders the pair as the nested group identifier extension.
func (g GroupIdentifier) Extension() r4.Extension {
	return r4.NewGroupIdentifier(r4.GroupIdentifierValue{ShortForm: g.ShortForm.String(), UUID: g.LongForm})
}

// GroupIdentifierOf reads the pair from a MedicationRequest.
func GroupIdentifierOf(mr *r4.MedicationRequest) GroupIdentifier {
	return GroupIdentifier{ShortForm: ShortFormID(mr.ShortFormID()), LongForm: mr.LongFormID()}
}

// CheckDigit computes the check symbol over a payload.
func CheckDigit(payload string) (byte, error) {
	total, err := runningTotal(payload)
	if err != nil {
		return 0, err
	}
	return checkAlphabet[(38-total)%37], nil
}

// Validate reports whether candidate is a well-formed short-form id with a
// correct check digit. Delimiters are ignored and case is folded.
func Validate(candidate string) bool {
	return validate(candidate) == nil
}

// ParseShortFormID validates candidate and returns it in canonical form.
func ParseShortFormID(candidate string) (ShortFormID, error) {
	if err := validate(candidate); err != nil {
		return "", err
	}
	s := normalise(candidate)
	return ShortFormID(s[0:6] + "-" + s[6:12] + "-" + s[12:]), nil
}

func validate(candidate string) error {
	s := normalise(candidate)
	if len(s) != shortFormLength {
		return &ChecksumError{Candidate: candidate, Reason: fmt.Sprintf("expected %d symbols, got %d", shortFormLength, len(s))}
	}
	total, err := runningTotal(s[:payloadLength])
	if err != nil {
		return &ChecksumError{Candidate: candidate, Reason: err.Error()}
	}
	check := strings.IndexByte(checkAlphabet, s[payloadLength])
	if check < 0 {
		return &ChecksumError{Candidate: candidate, Reason: fmt.Sprintf("check digit %q outside alphabet", s[payloadLength])}
	}
	if (total+check)%37 != 1 {
		return &ChecksumError{Candidate: candidate, Reason: "check digit mismatch"}
	}
	return nil
}

// runningTotal folds the payload as total = ((total + v) * 2) mod 37.
func runningTotal(payload string) (int, error) {
	total := 0
	for i := 0; i < len(payload); i++ {
		v := strings.IndexByte(checkAlphabet, payload[i])
		if v < 0 {
			return 0, fmt.Errorf("symbol %q at position %d outside check alphabet", payload[i], i)
		}
		total = ((total + v) * 2) % 37
	}
	return total, nil
}

func normalise(candidate string) string {
	return strings.ToUpper(strings.ReplaceAll(candidate, "-", ""))
}

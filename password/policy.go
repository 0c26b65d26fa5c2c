package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrPolicy is returned by Policy.Validate when any rule fails.
	ErrPolicy = errors.New("password does not satisfy policy")
	// ErrReused is returned by Policy.CheckReuse on a history match.
	ErrReused = errors.New("password was used recently")
)

const (
	DefaultMinLength   = 8
	DefaultMaxLength   = 128
	DefaultHistorySize = 5
)

// Rule names reported in PolicyError.Failed.
const (
	RuleMinLength = "min_length"
	RuleMaxLength = "max_length"
	RuleUpper     = "upper"
	RuleLower     = "lower"
	RuleDigit     = "digit"
	RuleSpecial   = "special"
	RuleUnique    = "unique"
)

// Policy holds the strength and reuse rules for new passwords. Lengths count
// runes, not bytes.
type Policy struct {
	MinLength      int  `yaml:"min_length"`
	MaxLength      int  `yaml:"max_length"`
	RequireUpper   bool `yaml:"require_upper"`
	RequireLower   bool `yaml:"require_lower"`
	RequireDigit   bool `yaml:"require_digit"`
	RequireSpecial bool `yaml:"require_special"`
	MinUnique      int  `yaml:"min_unique"`
	HistorySize    int  `yaml:"history_size"`
}

// DefaultPolicy requires 8 characters with at least 4 distinct ones and
// rejects the last 5 passwords.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:   DefaultMinLength,
		MaxLength:   DefaultMaxLength,
		MinUnique:   4,
		HistorySize: DefaultHistorySize,
	}
}

// Normalized fills zero length fields with defaults. MinUnique defaults to
// min(4, MinLength). A zero HistorySize disables history checks.
func (p Policy) Normalized() Policy {
	if p.MinLength <= 0 {
		p.MinLength = DefaultMinLength
	}
	if p.MaxLength <= 0 {
		p.MaxLength = DefaultMaxLength
	}
	if p.MinUnique <= 0 {
		p.MinUnique = 4
		if p.MinLength < 4 {
			p.MinUnique = p.MinLength
		}
	}
	if p.HistorySize < 0 {
		p.HistorySize = 0
	}
	return p
}

// Check reports structural problems with the policy itself.
func (p Policy) Check() error {
	if p.MinLength < 1 {
		return errors.New("password policy min length must be >= 1")
	}
	if p.MaxLength < p.MinLength {
		return errors.New("password policy max length must be >= min length")
	}
	if p.MinUnique > p.MinLength {
		return errors.New("password policy min unique must be <= min length")
	}
	if p.HistorySize > 24 {
		return errors.New("password policy history size must be <= 24")
	}
	return nil
}

// PolicyError lists the rules a candidate failed. Callers expose only the
// generic ErrPolicy message; Failed is for logs and form hints.
type PolicyError struct {
	Failed []string
}

func (e *PolicyError) Error() string {
	return ErrPolicy.Error() + ": " + strings.Join(e.Failed, ",")
}

// Unwrap makes errors.Is(err, ErrPolicy) true.
func (e *PolicyError) Unwrap() error {
	return ErrPolicy
}

// Validate checks candidate against every strength rule and returns a
// *PolicyError naming all failures.
func (p Policy) Validate(candidate string) error {
	p = p.Normalized()

	var failed []string
	n := utf8.RuneCountInString(candidate)
	if n < p.MinLength {
		failed = append(failed, RuleMinLength)
	}
	if n > p.MaxLength {
		failed = append(failed, RuleMaxLength)
	}

	var upper, lower, digit, special bool
	seen := make(map[rune]struct{}, n)
	for _, r := range candidate {
		seen[r] = struct{}{}
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsSpace(r):
			special = true
		}
	}
	if p.RequireUpper && !upper {
		failed = append(failed, RuleUpper)
	}
	if p.RequireLower && !lower {
		failed = append(failed, RuleLower)
	}
	if p.RequireDigit && !digit {
		failed = append(failed, RuleDigit)
	}
	if p.RequireSpecial && !special {
		failed = append(failed, RuleSpecial)
	}
	if len(seen) < p.MinUnique {
		failed = append(failed, RuleUnique)
	}

	if len(failed) > 0 {
		return &PolicyError{Failed: failed}
	}
	return nil
}

// Matcher verifies a plaintext against a stored hash.
type Matcher interface {
	Verify(password, encodedHash string) (bool, error)
}

// CheckReuse returns ErrReused when candidate matches the current hash or any
// of the first HistorySize entries of history (newest first). Hashes that fail
// to parse are skipped.
func (p Policy) CheckReuse(m Matcher, candidate, currentHash string, history []string) error {
	p = p.Normalized()

	if currentHash != "" {
		if ok, err := m.Verify(candidate, currentHash); err == nil && ok {
			return ErrReused
		}
	}
	if len(history) > p.HistorySize {
		history = history[:p.HistorySize]
	}
	for _, h := range history {
		if h == "" || h == currentHash {
			continue
		}
		if ok, err := m.Verify(candidate, h); err == nil && ok {
			return ErrReused
		}
	}
	return nil
}

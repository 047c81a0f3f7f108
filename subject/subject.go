package subject

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// Separator delimits the tokens of a subject
	Separator = "."

	// SingleWildcard matches exactly one token
	SingleWildcard = "*"

	// FullWildcard matches one or more trailing tokens. It is only valid as
	// the final token of a pattern.
	FullWildcard = ">"

	// InboxPrefix starts every generated inbox subject
	InboxPrefix = "_INBOX"
)

var (
	ErrEmpty         = errors.New("Subject is empty")
	ErrWhitespace    = errors.New("Subject contains whitespace")
	ErrWildcard      = errors.New("Subject contains a wildcard token")
	ErrMisplacedFull = errors.New("Subject has a '>' token that is not the last token")
	ErrBadQueueGroup = errors.New("Queue group contains whitespace")
)

// Matches reports whether the literal subject is matched by pattern.
//
// Tokens are compared left to right. A '*' token matches exactly one token, a
// '>' token matches every remaining token but must be the last token of the
// pattern and must have at least one token to consume. Patterns with a '>' in
// any other position never match. Adjacent separators produce empty tokens
// which are compared literally.
func Matches(pattern, subject string) bool {
	for {
		pTok, pRest, pMore := cut(pattern)
		sTok, sRest, sMore := cut(subject)

		switch pTok {
		case FullWildcard:
			// '>' must be last and must consume at least one token, which
			// is always true here since we still have a subject token.
			return !pMore

		case SingleWildcard:
			// matches any single token

		default:
			if pTok != sTok {
				return false
			}
		}

		if !pMore || !sMore {
			// Both sides must run out of tokens at the same time
			return pMore == sMore
		}

		pattern, subject = pRest, sRest
	}
}

// cut splits off the first token of s. more is false when tok is the last
// token of s.
func cut(s string) (tok, rest string, more bool) {
	i := strings.Index(s, Separator)
	if i < 0 {
		return s, "", false
	}

	return s[:i], s[i+1:], true
}

// ValidatePublish checks that subject can be used as the destination of a
// published message: it must be non-empty and contain no whitespace and no
// wildcard characters, even inside a token.
func ValidatePublish(subject string) error {
	if err := validateCommon(subject); err != nil {
		return err
	}

	if strings.ContainsAny(subject, SingleWildcard+FullWildcard) {
		return fmt.Errorf("Invalid subject '%s': %w", subject, ErrWildcard)
	}

	return nil
}

// ValidatePattern checks that pattern can be subscribed to. Wildcards are
// permitted, but '>' must be the final token.
func ValidatePattern(pattern string) error {
	if err := validateCommon(pattern); err != nil {
		return err
	}

	toks := strings.Split(pattern, Separator)
	for i, tok := range toks {
		if tok == FullWildcard && i != len(toks)-1 {
			return fmt.Errorf("Invalid subject '%s': %w", pattern, ErrMisplacedFull)
		}
	}

	return nil
}

// ValidateQueueGroup checks an optional queue group name. The empty string
// means no queue group and is always valid.
func ValidateQueueGroup(queue string) error {
	if strings.ContainsAny(queue, " \t\r\n") {
		return fmt.Errorf("Invalid queue group '%s': %w", queue, ErrBadQueueGroup)
	}

	return nil
}

func validateCommon(s string) error {
	if s == "" {
		return ErrEmpty
	}

	if strings.ContainsAny(s, " \t\r\n") {
		return fmt.Errorf("Invalid subject '%s': %w", s, ErrWhitespace)
	}

	return nil
}

// NewInbox returns a new, globally unique, subject that can be used as a
// reply-to address.
func NewInbox() string {
	return InboxPrefix + Separator + NewToken()
}

// NewToken returns a random subject token that is safe to embed in a subject.
func NewToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// LastToken returns the final token of subject.
func LastToken(subject string) string {
	i := strings.LastIndex(subject, Separator)
	if i < 0 {
		return subject
	}

	return subject[i+1:]
}

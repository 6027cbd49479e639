// ABOUTME: Field-level validation rules for handles, subjects, bodies, and tags
// ABOUTME: Pure functions that run before any store write; failures never leave partial state

package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Field length limits.
const (
	HandleMinLen      = 2
	HandleMaxLen      = 64
	SubjectMaxLen     = 200
	BodyMaxLen        = 50000
	TagMinLen         = 1
	TagMaxLen         = 30
	MaxTags           = 20
	DescriptionMaxLen = 500
	DisplayNameMaxLen = 100
)

// ValidationError reports a malformed input field. It is always detected
// before any store mutation, so callers can correct the field and retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func fail(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Handle checks an agent handle: 2-64 characters from [a-z0-9._-],
// not starting or ending with '.' or '-'. The raw string is checked as-is;
// whitespace is rejected, never silently trimmed, since the handle is
// persisted verbatim and keys participant matching.
func Handle(handle string) error {
	if handle == "" {
		return fail("handle", "must not be empty")
	}
	n := utf8.RuneCountInString(handle)
	if n < HandleMinLen || n > HandleMaxLen {
		return fail("handle", "length must be between %d and %d characters", HandleMinLen, HandleMaxLen)
	}
	for _, c := range handle {
		if !isHandleChar(c) {
			return fail("handle", "character %q not allowed (use a-z, 0-9, '.', '_', '-')", c)
		}
	}
	if handle[0] == '.' || handle[0] == '-' || handle[len(handle)-1] == '.' || handle[len(handle)-1] == '-' {
		return fail("handle", "must not start or end with '.' or '-'")
	}
	return nil
}

func isHandleChar(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-'
}

// Subject checks a message subject: non-blank, at most 200 characters.
// Limits count runes, not bytes, so multi-byte text gets the full budget.
func Subject(subject string) error {
	if strings.TrimSpace(subject) == "" {
		return fail("subject", "must not be empty")
	}
	if utf8.RuneCountInString(subject) > SubjectMaxLen {
		return fail("subject", "must be at most %d characters", SubjectMaxLen)
	}
	return nil
}

// Body checks a message body: non-blank, at most 50,000 characters.
func Body(body string) error {
	if strings.TrimSpace(body) == "" {
		return fail("body", "must not be empty")
	}
	if utf8.RuneCountInString(body) > BodyMaxLen {
		return fail("body", "must be at most %d characters", BodyMaxLen)
	}
	return nil
}

// Tags checks a tag list and returns it with duplicates removed, first
// occurrence kept. Each tag must be 1-30 characters from [a-z0-9_-].
// At most 20 distinct tags are allowed; duplicates are dropped, not rejected.
func Tags(tags []string) ([]string, error) {
	seen := make(map[string]bool, len(tags))
	deduped := make([]string, 0, len(tags))
	for _, tag := range tags {
		if err := tagOK(tag); err != nil {
			return nil, err
		}
		if seen[tag] {
			continue
		}
		seen[tag] = true
		deduped = append(deduped, tag)
	}
	if len(deduped) > MaxTags {
		return nil, fail("tags", "at most %d tags allowed, got %d", MaxTags, len(deduped))
	}
	return deduped, nil
}

func tagOK(tag string) error {
	if n := utf8.RuneCountInString(tag); n < TagMinLen || n > TagMaxLen {
		return fail("tag", "length must be between %d and %d characters", TagMinLen, TagMaxLen)
	}
	for _, c := range tag {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return fail("tag", "character %q not allowed in %q (use a-z, 0-9, '_', '-')", c, tag)
	}
	return nil
}

// Description checks an address book description: non-blank, at most 500 characters.
func Description(desc string) error {
	if strings.TrimSpace(desc) == "" {
		return fail("description", "must not be empty")
	}
	if utf8.RuneCountInString(desc) > DescriptionMaxLen {
		return fail("description", "must be at most %d characters", DescriptionMaxLen)
	}
	return nil
}

// DisplayName checks a display name: non-blank, at most 100 characters.
func DisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fail("display_name", "must not be empty")
	}
	if utf8.RuneCountInString(name) > DisplayNameMaxLen {
		return fail("display_name", "must be at most %d characters", DisplayNameMaxLen)
	}
	return nil
}

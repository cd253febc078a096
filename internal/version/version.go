// Package version models Unity release identifiers such as "2022.3.5f1".
package version

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidVersion is wrapped by every ParseError.
var ErrInvalidVersion = errors.New("invalid unity version")

// Channel is the release stage of a version. The numeric value is its rank.
type Channel int

const (
	Alpha Channel = iota
	Beta
	Final
	Patch
)

// channelLetters is indexed by Channel.
const channelLetters = "abfp"

// Letter returns the single-letter form used in version strings.
func (c Channel) Letter() byte {
	if !c.Valid() {
		return '?'
	}
	return channelLetters[c]
}

// Valid reports whether c is one of the four known channels.
func (c Channel) Valid() bool {
	return c >= Alpha && c <= Patch
}

func (c Channel) String() string {
	switch c {
	case Alpha:
		return "alpha"
	case Beta:
		return "beta"
	case Final:
		return "final"
	case Patch:
		return "patch"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ChannelFromLetter maps a, b, f, p to their channel.
func ChannelFromLetter(l byte) (Channel, bool) {
	i := strings.IndexByte(channelLetters, l)
	if i < 0 {
		return 0, false
	}
	return Channel(i), true
}

// Version is an immutable Unity version value. Two versions are equal iff all
// fields match, so == can be used directly.
type Version struct {
	Major       int
	Minor       int
	Revision    int
	Channel     Channel
	Incremental int
}

// ParseError describes why a version string was rejected.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrInvalidVersion, e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrInvalidVersion }

// Parse reads "{major}.{minor}.{revision}{a|b|f|p}{incremental}".
func Parse(text string) (Version, error) {
	fail := func(reason string) (Version, error) {
		return Version{}, &ParseError{Input: text, Reason: reason}
	}

	parts := strings.Split(text, ".")
	if len(parts) != 3 {
		return fail(fmt.Sprintf("expected 3 dot-separated segments, got %d", len(parts)))
	}

	major, ok := parseUint(parts[0])
	if !ok {
		return fail("major is not a non-negative integer")
	}
	minor, ok := parseUint(parts[1])
	if !ok {
		return fail("minor is not a non-negative integer")
	}

	tail := parts[2]
	sep := strings.IndexAny(tail, channelLetters)
	if sep < 0 {
		return fail("missing release channel letter (a, b, f or p)")
	}
	if sep+1 >= len(tail) {
		return fail("missing incremental number after channel letter")
	}
	channel, _ := ChannelFromLetter(tail[sep])

	revision, ok := parseUint(tail[:sep])
	if !ok {
		return fail("revision is not a non-negative integer")
	}
	incremental, ok := parseUint(tail[sep+1:])
	if !ok {
		return fail("incremental is not a non-negative integer")
	}

	return Version{
		Major:       major,
		Minor:       minor,
		Revision:    revision,
		Channel:     channel,
		Incremental: incremental,
	}, nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// parseUint accepts plain decimal digits only; signs and spaces are rejected.
func parseUint(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// String returns the canonical form. Parse(v.String()) == v.
func (v Version) String() string {
	var b strings.Builder
	b.Grow(16)
	b.WriteString(strconv.Itoa(v.Major))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(v.Minor))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(v.Revision))
	b.WriteByte(v.Channel.Letter())
	b.WriteString(strconv.Itoa(v.Incremental))
	return b.String()
}

// Compare orders versions by major, minor, revision, channel rank and then
// incremental. It returns -1, 0 or +1.
func (v Version) Compare(other Version) int {
	fields := [...][2]int{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{v.Revision, other.Revision},
		{int(v.Channel), int(other.Channel)},
		{v.Incremental, other.Incremental},
	}
	for _, f := range fields {
		switch {
		case f[0] < f[1]:
			return -1
		case f[0] > f[1]:
			return 1
		}
	}
	return 0
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// Equal reports whether v and other name the same release.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	if !v.Channel.Valid() {
		return nil, fmt.Errorf("marshal version: invalid channel %d", int(v.Channel))
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Sort orders versions ascending in place.
func Sort(vs []Version) {
	slices.SortFunc(vs, Version.Compare)
}

// Max returns the greatest version in vs and false if vs is empty.
func Max(vs []Version) (Version, bool) {
	if len(vs) == 0 {
		return Version{}, false
	}
	return slices.MaxFunc(vs, Version.Compare), true
}

package catalog

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"catalogsync/lib/textutil"
)

// CanonicalKey identifies one product regardless of how its locator varies.
type CanonicalKey string

func (k CanonicalKey) String() string {
	return string(k)
}

func pathSegments(locator string) ([]string, error) {
	trimmed := strings.TrimSpace(locator)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedLocator)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedLocator, locator, err)
	}
	path := parsed.Path
	if parsed.Opaque != "" {
		path = parsed.Opaque
	}

	var out []string
	for _, segment := range strings.Split(path, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		out = append(out, segment)
	}
	return out, nil
}

// escapedSegments returns the non-empty path segments of `locator` as they
// appear on the wire, percent escapes intact.
func escapedSegments(locator string) ([]string, error) {
	trimmed := strings.TrimSpace(locator)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedLocator)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedLocator, locator, err)
	}
	path := parsed.EscapedPath()
	if parsed.Opaque != "" {
		path = parsed.Opaque
	}

	var out []string
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		out = append(out, segment)
	}
	return out, nil
}

func unreserved(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= '0' && r <= '9') ||
		r == '-' || r == '.' || r == '_' || r == '~'
}

// keySegment decodes an escaped path segment, lower-cases it and escapes
// again every ascii byte outside the unreserved set (and invalid utf-8), so
// the result parses back to itself as a relative locator.
func keySegment(escaped string) (string, error) {
	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		return "", err
	}
	decoded = strings.TrimSpace(decoded)

	var out strings.Builder
	for i := 0; i < len(decoded); {
		r, size := utf8.DecodeRuneInString(decoded[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&out, "%%%02x", decoded[i])
		case r >= utf8.RuneSelf && !unicode.IsSpace(r) && unicode.IsPrint(r):
			out.WriteRune(unicode.ToLower(r))
		case unreserved(unicode.ToLower(r)):
			out.WriteRune(unicode.ToLower(r))
		default:
			for _, b := range []byte(decoded[i : i+size]) {
				fmt.Fprintf(&out, "%%%02x", b)
			}
		}
		i += size
	}
	return out.String(), nil
}

// Normalize maps a raw locator to its canonical key: the last path segment
// that is not empty and not purely numeric, lower-cased. Scheme, host, query
// and fragment never contribute, and numeric product ids are discarded since
// the same product is published under several of them. Characters that
// would change how the key parses (%, ?, #, :, spaces...) stay percent
// escaped, so normalizing a key returns the key itself.
//
// ex. "https://shop.example/en/bmw/371/Brake-Kit/?c=5" -> "brake-kit"
// ex. "/371/50%25-rabatt/" -> "50%25-rabatt"
func Normalize(locator string) (CanonicalKey, error) {
	segments, err := escapedSegments(locator)
	if err != nil {
		return "", err
	}
	for i := len(segments) - 1; i >= 0; i-- {
		segment, err := keySegment(segments[i])
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrMalformedLocator, locator, err)
		}
		if segment == "" || textutil.IsNumeric(segment) {
			continue
		}
		return CanonicalKey(segment), nil
	}
	return "", fmt.Errorf("%w: %q has no usable path segment", ErrMalformedLocator, locator)
}

// DeriveCategory returns the first path segment that is neither numeric nor
// one of `localePrefixes`, lower-cased, or "" when there is none before the
// product slug.
func DeriveCategory(locator string, localePrefixes []string) string {
	segments, err := pathSegments(locator)
	if err != nil || len(segments) < 2 {
		return ""
	}
	skip := textutil.NormalizeSet(localePrefixes)
	// the last usable segment is the slug itself
	for _, segment := range segments[:len(segments)-1] {
		if textutil.IsNumeric(segment) {
			break
		}
		lower := strings.ToLower(segment)
		if _, isLocale := skip[textutil.NormalizeName(lower)]; isLocale {
			continue
		}
		return lower
	}
	return ""
}

// Package slug derives URL-safe identifiers from names and titles and
// disambiguates collisions with numeric suffixes ("team-alpha",
// "team-alpha-1", "team-alpha-2", ...).
package slug

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/obs"
)

// Kind selects the namespace a slug must be unique in.
type Kind string

const (
	KindSpace Kind = "space"
	KindItem  Kind = "item"
)

const (
	// MaxAttempts bounds how often a losing insert is retried.
	MaxAttempts = 5
	maxSuffix   = 10000
)

// Registry answers whether a candidate is already taken by a live record.
// It is backed by the same store as the entity table.
type Registry interface {
	SlugExists(ctx context.Context, kind Kind, candidate string) (bool, error)
}

// Make lower-cases s, folds accented letters to ASCII and joins words
// with single dashes. Input with no usable characters yields "".
func Make(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ReplaceAll(folded, "@", " at ")

	var b strings.Builder
	b.Grow(len(folded))
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	return b.String()
}

// Next returns the first free candidate for source: the bare slug, then
// slug-1, slug-2 and so on. The answer is only a hint; the unique index is
// authoritative and callers pair Next with Retry.
func Next(ctx context.Context, reg Registry, kind Kind, source string) (string, error) {
	base := Make(source)
	if base == "" {
		base = string(kind)
	}
	candidate := base
	for n := 1; n <= maxSuffix; n++ {
		taken, err := reg.SlugExists(ctx, kind, candidate)
		if err != nil {
			return "", fmt.Errorf("check %s slug %q: %w", kind, candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(n)
	}
	return "", fmt.Errorf("%w: no free %s slug for %q", apperr.ErrAlreadyExists, kind, base)
}

// Retry runs attempt until it succeeds or fails with anything other than a
// uniqueness conflict. Each attempt is expected to open its own
// transaction and call Next afresh, so a concurrent winner is observed.
func Retry(ctx context.Context, kind Kind, attempt func(ctx context.Context) error) error {
	var err error
	for i := 0; i < MaxAttempts; i++ {
		err = attempt(ctx)
		if err == nil || !errors.Is(err, apperr.ErrAlreadyExists) {
			return err
		}
		obs.RecordSlugCollision(string(kind))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("allocate %s slug after %d attempts: %w", kind, MaxAttempts, err)
}

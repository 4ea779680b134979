package tile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

var ErrInvalidTemplate = errors.New("invalid tile template")

const (
	placeholderZ       = "{z}"
	placeholderX       = "{x}"
	placeholderY       = "{y}"
	placeholderTMSY    = "{-y}"
	placeholderQuadkey = "{q}"
	placeholderSub     = "{s}"
)

// Template substitutes tile coordinates into a URL or path pattern.
type Template struct {
	pattern    string
	subdomains []string
	reverseY   bool
	zoomOffset int
	next       atomic.Uint32
}

type TemplateOption func(*Template)

// WithReverseY makes {y} produce TMS rows.
func WithReverseY(reverse bool) TemplateOption {
	return func(t *Template) { t.reverseY = reverse }
}

// WithZoomOffset shifts the {z} value for servers whose zoom numbering
// is offset from the standard pyramid. Columns and rows are not changed.
func WithZoomOffset(offset int) TemplateOption {
	return func(t *Template) { t.zoomOffset = offset }
}

// WithSubdomains supplies values rotated through {s}.
func WithSubdomains(subs ...string) TemplateOption {
	return func(t *Template) { t.subdomains = subs }
}

// ParseTemplate checks that pattern can address every tile:
// it needs {z}, {x} and {y} or {-y}, or a {q} quadkey.
func ParseTemplate(pattern string, opts ...TemplateOption) (*Template, error) {
	t := &Template{pattern: pattern}
	for _, opt := range opts {
		opt(t)
	}
	hasQ := strings.Contains(pattern, placeholderQuadkey)
	hasZXY := strings.Contains(pattern, placeholderZ) &&
		strings.Contains(pattern, placeholderX) &&
		(strings.Contains(pattern, placeholderY) || strings.Contains(pattern, placeholderTMSY))
	if !hasQ && !hasZXY {
		return nil, fmt.Errorf("%w: %q needs {z}, {x} and {y} (or {q})", ErrInvalidTemplate, pattern)
	}
	if strings.Contains(pattern, placeholderSub) && len(t.subdomains) == 0 {
		return nil, fmt.Errorf("%w: %q uses {s} without subdomains", ErrInvalidTemplate, pattern)
	}
	if strings.Count(pattern, "{") != strings.Count(pattern, "}") {
		return nil, fmt.Errorf("%w: %q has unbalanced braces", ErrInvalidTemplate, pattern)
	}
	return t, nil
}

func (t *Template) Pattern() string {
	return t.pattern
}

// Format returns the location of a. Subdomains rotate per call.
func (t *Template) Format(a Address) string {
	z := int(a.Z) + t.zoomOffset
	if z < 0 {
		z = 0
	}
	y := a.Y
	if t.reverseY {
		y = a.TMSRow()
	}
	pairs := []string{
		placeholderZ, strconv.Itoa(z),
		placeholderX, strconv.FormatUint(uint64(a.X), 10),
		placeholderTMSY, strconv.FormatUint(uint64(a.TMSRow()), 10),
		placeholderY, strconv.FormatUint(uint64(y), 10),
		placeholderQuadkey, a.Quadkey(),
	}
	if len(t.subdomains) > 0 {
		i := t.next.Add(1) - 1
		pairs = append(pairs, placeholderSub, t.subdomains[int(i)%len(t.subdomains)])
	}
	return strings.NewReplacer(pairs...).Replace(t.pattern)
}

// Package header reads and writes the self-closing textual element that
// precedes a packed terse buffer on disk.
package header

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Header mirrors the attributes of a single <Terse .../> element.
type Header struct {
	ProlixBits     int
	Signed         bool
	Block          int
	MemorySize     int
	NumberOfValues int
	Dimensions     []int // nil if the element carries no dimensions attribute
	NumberOfFrames int   // 0 if the element carries no number_of_frames attribute
}

// attrOrder is the order emitted headers list their attributes in.
// Parsing tolerates any order; this is only used by String.
var attrOrder = []string{
	"prolix_bits", "signed", "block", "memory_size",
	"number_of_values", "dimensions", "number_of_frames",
}

// String renders h as a self-closing <Terse .../> element using the
// fixed attribute order.
func (h Header) String() string {
	attrs := map[string]string{
		"prolix_bits":      strconv.Itoa(h.ProlixBits),
		"signed":           signedAttr(h.Signed),
		"block":            strconv.Itoa(h.Block),
		"memory_size":      strconv.Itoa(h.MemorySize),
		"number_of_values": strconv.Itoa(h.NumberOfValues),
	}
	if h.Dimensions != nil {
		attrs["dimensions"] = joinInts(h.Dimensions)
	}
	if h.NumberOfFrames != 0 {
		attrs["number_of_frames"] = strconv.Itoa(h.NumberOfFrames)
	}
	var b strings.Builder
	b.WriteString("<Terse")
	for _, name := range attrOrder {
		v, ok := attrs[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, " %s=%q", name, v)
	}
	b.WriteString("/>")
	return b.String()
}

// signedAttr renders the signed attribute the way the original C++
// implementation's non-boolalpha ostream does: "0" or "1".
func signedAttr(signed bool) string {
	if signed {
		return "1"
	}
	return "0"
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, " ")
}

var (
	elementRE = regexp.MustCompile(`<Terse\b([^>]*?)/?>`)
	attrRE    = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// Parse reads the first <Terse .../> element found in s, tolerating any
// attribute order, surrounding whitespace, and single or double quotes.
func Parse(s string) (Header, error) {
	m := elementRE.FindStringSubmatch(s)
	if m == nil {
		return Header{}, errors.Wrap(ErrMalformed, "no <Terse .../> element found")
	}
	attrs := map[string]string{}
	for _, am := range attrRE.FindAllStringSubmatch(m[1], -1) {
		key := am[1]
		val := am[2]
		if val == "" && am[3] != "" {
			val = am[3]
		}
		attrs[key] = val
	}

	h := Header{}
	var err error
	if h.ProlixBits, err = requireInt(attrs, "prolix_bits"); err != nil {
		return Header{}, err
	}
	if h.Signed, err = requireBool(attrs, "signed"); err != nil {
		return Header{}, err
	}
	if h.Block, err = requireInt(attrs, "block"); err != nil {
		return Header{}, err
	}
	if h.MemorySize, err = requireInt(attrs, "memory_size"); err != nil {
		return Header{}, err
	}
	if h.NumberOfValues, err = requireInt(attrs, "number_of_values"); err != nil {
		return Header{}, err
	}
	if raw, ok := attrs["dimensions"]; ok && raw != "" {
		dims, err := parseInts(raw)
		if err != nil {
			return Header{}, errors.Wrap(ErrMalformed, "dimensions: "+err.Error())
		}
		h.Dimensions = dims
	}
	if raw, ok := attrs["number_of_frames"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Header{}, errors.Wrap(ErrMalformed, "number_of_frames: "+err.Error())
		}
		h.NumberOfFrames = n
	}
	return h, nil
}

func requireInt(attrs map[string]string, name string) (int, error) {
	raw, ok := attrs[name]
	if !ok {
		return 0, errors.Wrapf(ErrMalformed, "missing required attribute %q", name)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.Wrapf(ErrMalformed, "attribute %q: %s", name, err)
	}
	return n, nil
}

func requireBool(attrs map[string]string, name string) (bool, error) {
	raw, ok := attrs[name]
	if !ok {
		return false, errors.Wrapf(ErrMalformed, "missing required attribute %q", name)
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, errors.Wrapf(ErrMalformed, "attribute %q: %s", name, err)
	}
	return b, nil
}

func parseInts(raw string) ([]int, error) {
	parts := strings.Fields(raw)
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

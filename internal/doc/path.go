package doc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPathSyntax is returned for malformed paths.
var ErrPathSyntax = errors.New("invalid path")

// ErrPathConflict is returned by Set when an existing non-object value sits
// where the path needs a container.
var ErrPathConflict = errors.New("path conflicts with existing value")

const arrayMarker = "[]"

// Segment is one dotted component of a Path.
type Segment struct {
	Name  string
	Array bool
}

// Path is a parsed field path. The zero Path is empty and addresses nothing.
type Path struct {
	raw  string
	segs []Segment
	fan  int
}

// ParsePath parses a dotted path with at most one "[]" array segment.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return Path{}, fmt.Errorf("%w: empty path", ErrPathSyntax)
	}
	parts := strings.Split(s, ".")
	p := Path{raw: s, segs: make([]Segment, 0, len(parts)), fan: -1}
	for i, part := range parts {
		seg := Segment{Name: part}
		if strings.HasSuffix(part, arrayMarker) {
			seg.Name = strings.TrimSuffix(part, arrayMarker)
			seg.Array = true
		}
		if seg.Name == "" || strings.ContainsAny(seg.Name, "[]") {
			return Path{}, fmt.Errorf("%w: bad segment %q in %q", ErrPathSyntax, part, s)
		}
		if seg.Array {
			if p.fan >= 0 {
				return Path{}, fmt.Errorf("%w: more than one array segment in %q", ErrPathSyntax, s)
			}
			p.fan = i
		}
		p.segs = append(p.segs, seg)
	}
	return p, nil
}

// MustPath is like ParsePath but panics on error.
// Use only in tests or with constant paths.
func MustPath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// NestedPath builds the path of a field that lives inside the elements of an
// array field: NestedPath("items", "sku") is "items[].sku". An empty parent
// yields the field itself.
func NestedPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + arrayMarker + "." + field
}

func (p Path) String() string { return p.raw }

// IsZero reports whether p is the empty path.
func (p Path) IsZero() bool { return len(p.segs) == 0 }

// FanOut reports whether p has an array segment.
func (p Path) FanOut() bool { return p.fan >= 0 }

// Segments returns a copy of the path segments.
func (p Path) Segments() []Segment {
	out := make([]Segment, len(p.segs))
	copy(out, p.segs)
	return out
}

// ArrayField returns the dotted path of the array segment (without the
// marker) and the dotted remainder inside each element. Both are empty when
// the path does not fan out.
func (p Path) ArrayField() (array, rest string) {
	if p.fan < 0 {
		return "", ""
	}
	return joinNames(p.segs[:p.fan+1]), joinNames(p.segs[p.fan+1:])
}

// Dotted returns the path with the array marker removed.
func (p Path) Dotted() string { return joinNames(p.segs) }

func joinNames(segs []Segment) string {
	names := make([]string, len(segs))
	for i, s := range segs {
		names[i] = s.Name
	}
	return strings.Join(names, ".")
}

// Get resolves p against d.
//
// Without an array segment it returns the addressed value and whether it
// exists. With an array segment it returns a []any holding one value per
// element of the array (nil where the element lacks the field) and true, or
// (nil, false) when the array itself is absent or not a list.
func Get(d Document, p Path) (any, bool) {
	if p.IsZero() {
		return nil, false
	}
	if !p.FanOut() {
		return walk(map[string]any(d), p.segs)
	}
	head, ok := walk(map[string]any(d), p.segs[:p.fan+1])
	if !ok {
		return nil, false
	}
	elems, ok := AsList(head)
	if !ok {
		return nil, false
	}
	tail := p.segs[p.fan+1:]
	out := make([]any, len(elems))
	for i, e := range elems {
		if len(tail) == 0 {
			out[i] = e
			continue
		}
		m, ok := AsMap(e)
		if !ok {
			continue
		}
		out[i], _ = walk(m, tail)
	}
	return out, true
}

// GetPath parses s and resolves it against d. Malformed paths resolve to
// absent.
func GetPath(d Document, s string) (any, bool) {
	p, err := ParsePath(s)
	if err != nil {
		return nil, false
	}
	return Get(d, p)
}

func walk(cur map[string]any, segs []Segment) (any, bool) {
	var v any = cur
	for _, seg := range segs {
		m, ok := AsMap(v)
		if !ok {
			return nil, false
		}
		v, ok = m[seg.Name]
		if !ok {
			return nil, false
		}
	}
	return v, true
}

// Set writes value at p, creating intermediate objects as needed.
//
// For a fan-out path, value must be a list; element i of the list is written
// into element i of the target array, which is grown with empty objects when
// shorter. Existing fields of existing elements are preserved.
func Set(d Document, p Path, value any) error {
	if d == nil {
		return fmt.Errorf("%w: nil document", ErrPathConflict)
	}
	if p.IsZero() {
		return fmt.Errorf("%w: empty path", ErrPathSyntax)
	}
	if !p.FanOut() {
		return setPlain(map[string]any(d), p.segs, value, p.raw)
	}
	values, ok := AsList(value)
	if !ok {
		return fmt.Errorf("%w: %q needs a list value, got %T", ErrPathConflict, p.raw, value)
	}

	parent, err := container(map[string]any(d), p.segs[:p.fan], p.raw)
	if err != nil {
		return err
	}
	name := p.segs[p.fan].Name
	var elems []any
	if existing, ok := parent[name]; ok && existing != nil {
		if elems, ok = AsList(existing); !ok {
			return fmt.Errorf("%w: %q is not a list", ErrPathConflict, name)
		}
		elems = append([]any(nil), elems...)
	}

	tail := p.segs[p.fan+1:]
	for len(elems) < len(values) {
		if len(tail) == 0 {
			elems = append(elems, nil)
		} else {
			elems = append(elems, Document{})
		}
	}
	for i, v := range values {
		if len(tail) == 0 {
			elems[i] = v
			continue
		}
		var m map[string]any
		switch {
		case elems[i] == nil:
			m = Document{}
			elems[i] = m
		default:
			var ok bool
			if m, ok = AsMap(elems[i]); !ok {
				return fmt.Errorf("%w: element %d of %q is not an object", ErrPathConflict, i, name)
			}
		}
		if err := setPlain(m, tail, v, p.raw); err != nil {
			return err
		}
	}
	parent[name] = elems
	return nil
}

func setPlain(cur map[string]any, segs []Segment, value any, raw string) error {
	parent, err := container(cur, segs[:len(segs)-1], raw)
	if err != nil {
		return err
	}
	parent[segs[len(segs)-1].Name] = value
	return nil
}

// container walks segs from cur, creating missing objects, and returns the
// innermost object.
func container(cur map[string]any, segs []Segment, raw string) (map[string]any, error) {
	for _, seg := range segs {
		next, ok := cur[seg.Name]
		if !ok || next == nil {
			m := Document{}
			cur[seg.Name] = m
			cur = m
			continue
		}
		m, ok := AsMap(next)
		if !ok {
			return nil, fmt.Errorf("%w: %q at %q", ErrPathConflict, seg.Name, raw)
		}
		cur = m
	}
	return cur, nil
}

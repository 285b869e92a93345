package engine

import (
	"github.com/packthread/packthread/pack"
)

// PropKind tags a property value as numeric or text.
type PropKind int

const (
	PropNumeric PropKind = iota
	PropText
)

// A PropValue is one tagged-variant tuning value.
type PropValue struct {
	Kind PropKind
	Num  uint64
	Text string
}

// reservedProps are switch names owned by the strongly-typed options;
// custom bags may not set them.
var reservedProps = map[string]string{
	"x":  "compression level",
	"m":  "compression method",
	"em": "zip encryption method",
}

// A PropBag is an ordered name → tagged-value map of engine tuning
// switches. Names colliding with the strongly-typed options are
// rejected here, at construction time, not when the bag is handed to
// the engine.
type PropBag struct {
	names  []string
	values map[string]PropValue
}

func NewPropBag() *PropBag {
	return &PropBag{
		values: make(map[string]PropValue),
	}
}

func (b *PropBag) set(name string, value PropValue) {
	if _, ok := b.values[name]; !ok {
		b.names = append(b.names, name)
	}
	b.values[name] = value
}

func (b *PropBag) checkName(name string) error {
	if name == "" {
		return pack.Configf("empty property name")
	}
	if owner, ok := reservedProps[name]; ok {
		return pack.Configf("property %q is reserved (%s): use the typed option instead", name, owner)
	}
	return nil
}

// SetNumeric adds a numeric switch, e.g. ("fb", 64).
func (b *PropBag) SetNumeric(name string, value uint64) error {
	if err := b.checkName(name); err != nil {
		return err
	}
	b.set(name, PropValue{Kind: PropNumeric, Num: value})
	return nil
}

// SetText adds a text switch, e.g. ("mt", "on").
func (b *PropBag) SetText(name string, value string) error {
	if err := b.checkName(name); err != nil {
		return err
	}
	b.set(name, PropValue{Kind: PropText, Text: value})
	return nil
}

// SetLevel sets the compression level through its reserved name.
func (b *PropBag) SetLevel(level uint64) {
	b.set("x", PropValue{Kind: PropNumeric, Num: level})
}

// SetMethod sets the compression method through its reserved name.
func (b *PropBag) SetMethod(method string) {
	b.set("m", PropValue{Kind: PropText, Text: method})
}

// SetZipEncryption sets the zip encryption method through its
// reserved name.
func (b *PropBag) SetZipEncryption(method string) {
	b.set("em", PropValue{Kind: PropText, Text: method})
}

// Names returns switch names in insertion order.
func (b *PropBag) Names() []string {
	res := make([]string, len(b.names))
	copy(res, b.names)
	return res
}

func (b *PropBag) Get(name string) (PropValue, bool) {
	v, ok := b.values[name]
	return v, ok
}

func (b *PropBag) Len() int {
	return len(b.names)
}

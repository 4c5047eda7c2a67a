// Package schema describes record layouts: the primitive and composite
// types an event field can carry, the attributes attached to a type, and the
// stable digest that identifies a layout on disk.
package schema

// Kind distinguishes the primitive and composite type families a column can
// carry. Record kinds are flattened to leaf columns before indexing; vector,
// set and map kinds stay on a single leaf column of a flattened layout.
type Kind uint8

const (
	BoolType Kind = iota
	IntType
	UintType
	RealType
	DurationType
	TimestampType
	StringType
	PatternType
	AddressType
	SubnetType
	PortType

	RecordType
	VectorType
	SetType
	MapType
)

func (k Kind) String() string {
	switch k {
	case BoolType:
		return "bool"
	case IntType:
		return "int"
	case UintType:
		return "uint"
	case RealType:
		return "real"
	case DurationType:
		return "duration"
	case TimestampType:
		return "timestamp"
	case StringType:
		return "string"
	case PatternType:
		return "pattern"
	case AddressType:
		return "address"
	case SubnetType:
		return "subnet"
	case PortType:
		return "port"
	case RecordType:
		return "record"
	case VectorType:
		return "vector"
	case SetType:
		return "set"
	case MapType:
		return "map"
	default:
		return "unknown"
	}
}

// IsPrimitive reports whether k is a leaf type a value index can be built
// over directly.
func (k Kind) IsPrimitive() bool {
	return k <= PortType
}

// Attributes are stable key/value annotations on a Type. The engine only
// interprets "skip" and "timestamp"; any other key round-trips unexamined.
type Attributes map[string]string

const (
	AttrSkip      = "skip"
	AttrTimestamp = "timestamp"
)

func (a Attributes) Has(key string) bool {
	_, ok := a[key]
	return ok
}

func (a Attributes) clone() Attributes {
	if len(a) == 0 {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Type is a value's schema: a primitive leaf, or a composite built from
// other Types. Two types are equal iff structurally identical including
// attributes (Equal below).
type Type struct {
	Kind Kind
	Attr Attributes

	// Record: ordered named fields.
	Fields []Field

	// Vector/Set: element type. Map: key/value types.
	Elem *Type
	Key  *Type
	Val  *Type
}

// Field is one named member of a record type.
type Field struct {
	Name string
	Type Type
}

func Bool() Type         { return Type{Kind: BoolType} }
func Int() Type          { return Type{Kind: IntType} }
func Uint() Type         { return Type{Kind: UintType} }
func Real() Type         { return Type{Kind: RealType} }
func Duration() Type     { return Type{Kind: DurationType} }
func Timestamp() Type    { return Type{Kind: TimestampType} }
func String() Type       { return Type{Kind: StringType} }
func Pattern() Type      { return Type{Kind: PatternType} }
func Address() Type      { return Type{Kind: AddressType} }
func Subnet() Type       { return Type{Kind: SubnetType} }
func Port() Type         { return Type{Kind: PortType} }
func Record(f ...Field) Type {
	return Type{Kind: RecordType, Fields: f}
}
func Vector(elem Type) Type {
	return Type{Kind: VectorType, Elem: &elem}
}
func Set(elem Type) Type {
	return Type{Kind: SetType, Elem: &elem}
}
func Map(key, val Type) Type {
	return Type{Kind: MapType, Key: &key, Val: &val}
}

// WithAttr returns a copy of t carrying the given attribute.
func (t Type) WithAttr(key, value string) Type {
	out := t
	out.Attr = t.Attr.clone()
	if out.Attr == nil {
		out.Attr = Attributes{}
	}
	out.Attr[key] = value
	return out
}

func (t Type) Skip() bool {
	return t.Attr.Has(AttrSkip)
}

func (t Type) IsTimestamp() bool {
	return t.Attr.Has(AttrTimestamp)
}

// Equal reports structural equality including attributes, recursively.
func (t Type) Equal(other Type) bool {
	if t.Kind != other.Kind {
		return false
	}
	if !attrsEqual(t.Attr, other.Attr) {
		return false
	}

	switch t.Kind {
	case RecordType:
		if len(t.Fields) != len(other.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != other.Fields[i].Name {
				return false
			}
			if !t.Fields[i].Type.Equal(other.Fields[i].Type) {
				return false
			}
		}
		return true
	case VectorType, SetType:
		return elemEqual(t.Elem, other.Elem)
	case MapType:
		return elemEqual(t.Key, other.Key) && elemEqual(t.Val, other.Val)
	default:
		return true
	}
}

func elemEqual(a, b *Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func attrsEqual(a, b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

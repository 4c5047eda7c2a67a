// Package query defines the boolean predicate expression tree the engine
// evaluates (spec section 4.6) and the relational operators a value index
// understands (spec section 4.1).
package query

// Operator is a relational operator appearing on the right-hand side of a
// predicate. Not every operator is supported by every column type; a value
// index reports errs.ErrUnsupportedOperator for the ones it doesn't.
type Operator int

const (
	Equal Operator = iota
	NotEqual
	Less
	LessEqual
	Greater
	GreaterEqual
	In
	NotIn
	Match // regex/glob match, patterns only
	Contains // CIDR containment, addresses/subnets only
)

func (op Operator) String() string {
	switch op {
	case Equal:
		return "=="
	case NotEqual:
		return "!="
	case Less:
		return "<"
	case LessEqual:
		return "<="
	case Greater:
		return ">"
	case GreaterEqual:
		return ">="
	case In:
		return "in"
	case NotIn:
		return "not in"
	case Match:
		return "match"
	case Contains:
		return "in (cidr)"
	default:
		return "unknown"
	}
}

// Negate returns the logical negation of op, when one exists without
// wrapping in a Not node (used by NOT-pushdown in the meta index).
func (op Operator) Negate() (Operator, bool) {
	switch op {
	case Equal:
		return NotEqual, true
	case NotEqual:
		return Equal, true
	case Less:
		return GreaterEqual, true
	case LessEqual:
		return Greater, true
	case Greater:
		return LessEqual, true
	case GreaterEqual:
		return Less, true
	case In:
		return NotIn, true
	case NotIn:
		return In, true
	default:
		return op, false
	}
}

// ExtractorKind selects what a predicate's left-hand side binds to.
type ExtractorKind int

const (
	// FieldExtractor binds to a dotted leaf column path.
	FieldExtractor ExtractorKind = iota
	// TypeExtractor is "#type", bound against the layout name.
	TypeExtractor
	// TimestampExtractor is "#timestamp", bound to whichever column of the
	// layout carries the "timestamp" attribute.
	TimestampExtractor
)

// Extractor is a predicate's left-hand side, prior to being resolved
// ("tailored") against a concrete layout.
type Extractor struct {
	Kind  ExtractorKind
	Field string // dotted path; only meaningful when Kind == FieldExtractor
}

func Field(path string) Extractor { return Extractor{Kind: FieldExtractor, Field: path} }
func TypeExtr() Extractor         { return Extractor{Kind: TypeExtractor} }
func TimestampExtr() Extractor    { return Extractor{Kind: TimestampExtractor} }

func (e Extractor) String() string {
	switch e.Kind {
	case TypeExtractor:
		return "#type"
	case TimestampExtractor:
		return "#timestamp"
	default:
		return e.Field
	}
}

// Predicate is one leaf condition: an extractor, an operator and a
// right-hand side value.
type Predicate struct {
	LHS Extractor
	Op  Operator
	RHS any
}

// Curried is a predicate stripped of its extractor, left for a specific
// column index to evaluate (spec glossary: "curried predicate").
type Curried struct {
	Op  Operator
	RHS any
}

func (p Predicate) Curry() Curried {
	return Curried{Op: p.Op, RHS: p.RHS}
}

// NodeKind distinguishes the four expression tree node shapes.
type NodeKind int

const (
	PredicateNode NodeKind = iota
	AndNode
	OrNode
	NotNode
)

// Expr is a boolean predicate expression tree: a predicate leaf, or an
// AND/OR/NOT combination of child expressions.
type Expr struct {
	Kind      NodeKind
	Predicate Predicate
	Children  []*Expr
}

func Pred(lhs Extractor, op Operator, rhs any) *Expr {
	return &Expr{Kind: PredicateNode, Predicate: Predicate{LHS: lhs, Op: op, RHS: rhs}}
}

func And(children ...*Expr) *Expr {
	return &Expr{Kind: AndNode, Children: children}
}

func Or(children ...*Expr) *Expr {
	return &Expr{Kind: OrNode, Children: children}
}

func Not(child *Expr) *Expr {
	return &Expr{Kind: NotNode, Children: []*Expr{child}}
}

// Predicates returns every predicate leaf in e, in left-to-right order. The
// returned pointers are stable identities usable as map keys (the evaluator
// keys cached hits by *Expr).
func (e *Expr) Predicates() []*Expr {
	var out []*Expr
	e.walk(&out)
	return out
}

func (e *Expr) walk(out *[]*Expr) {
	if e == nil {
		return
	}
	if e.Kind == PredicateNode {
		*out = append(*out, e)
		return
	}
	for _, c := range e.Children {
		c.walk(out)
	}
}

// Fields returns the set of distinct field paths referenced by field
// predicates in e, in the order they first appear.
func (e *Expr) Fields() []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range e.Predicates() {
		if p.Predicate.LHS.Kind != FieldExtractor {
			continue
		}
		if !seen[p.Predicate.LHS.Field] {
			seen[p.Predicate.LHS.Field] = true
			out = append(out, p.Predicate.LHS.Field)
		}
	}
	return out
}

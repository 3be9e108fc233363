package prismic

import (
	"strconv"
	"strings"
)

// Predicate is one clause of a Prismic query, rendered as `[op(path, args)]`.
type Predicate struct {
	op   string
	path string
	args []string
}

// At matches documents whose field at path equals value.
func At(path, value string) Predicate {
	return Predicate{op: "at", path: path, args: []string{value}}
}

// Any matches documents whose field at path equals one of values.
func Any(path string, values ...string) Predicate {
	return Predicate{op: "any", path: path, args: values}
}

// DocumentType restricts a query to one custom type.
func DocumentType(docType string) Predicate {
	return At("document.type", docType)
}

// UIDOf matches the document of docType with the given uid.
func UIDOf(docType, uid string) Predicate {
	return At("my."+docType+".uid", uid)
}

func (p Predicate) String() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(p.op)
	b.WriteString("(")
	b.WriteString(p.path)
	b.WriteString(",")
	switch p.op {
	case "any":
		quoted := make([]string, len(p.args))
		for i, arg := range p.args {
			quoted[i] = strconv.Quote(arg)
		}
		b.WriteString("[")
		b.WriteString(strings.Join(quoted, ","))
		b.WriteString("]")
	default:
		if len(p.args) > 0 {
			b.WriteString(strconv.Quote(p.args[0]))
		}
	}
	b.WriteString(")]")
	return b.String()
}

// encodeQuery joins predicates into the q parameter, `[[at(...)][any(...)]]`.
func encodeQuery(predicates []Predicate) string {
	if len(predicates) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[")
	for _, p := range predicates {
		b.WriteString(p.String())
	}
	b.WriteString("]")
	return b.String()
}

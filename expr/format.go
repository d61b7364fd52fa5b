package expr

import (
	"fmt"
	"strings"
)

// Format renders n as a compact infix string for logs and error messages.
func Format(n Node) string {
	var sb strings.Builder
	format(&sb, n)
	return sb.String()
}

func format(sb *strings.Builder, n Node) {
	switch n := n.(type) {
	case nil:
		sb.WriteString("<nil>")
	case *Param:
		sb.WriteString(n.Name)
		if n.Index >= 0 {
			fmt.Fprintf(sb, "#%d", n.Index)
		}
	case *Captured:
		sb.WriteString("$const")
	case *Field:
		format(sb, n.Of)
		if n.Path != "" {
			sb.WriteByte('.')
			sb.WriteString(n.Path)
		}
	case *Value:
		if s, ok := n.V.(string); ok {
			fmt.Fprintf(sb, "%q", s)
			return
		}
		fmt.Fprintf(sb, "%v", n.V)
	case *Bool:
		fmt.Fprintf(sb, "%t", n.V)
	case *Compare:
		sb.WriteByte('(')
		format(sb, n.Left)
		sb.WriteString(" " + n.Op.symbol() + " ")
		format(sb, n.Right)
		sb.WriteByte(')')
	case *Membership:
		format(sb, n.Field)
		if n.Negate {
			sb.WriteString(" not")
		}
		fmt.Fprintf(sb, " in %v", n.Values)
	case *Exists:
		if !n.Want {
			sb.WriteByte('!')
		}
		sb.WriteString("exists(")
		format(sb, n.Field)
		sb.WriteByte(')')
	case *Logical:
		sep := " && "
		if n.Any {
			sep = " || "
		}
		sb.WriteByte('(')
		for i, term := range n.Terms {
			if i > 0 {
				sb.WriteString(sep)
			}
			format(sb, term)
		}
		sb.WriteByte(')')
	case *Not:
		sb.WriteByte('!')
		format(sb, n.Term)
	default:
		fmt.Fprintf(sb, "%T", n)
	}
}

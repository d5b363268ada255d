package execctx

import (
	"regexp"
	"strings"
)

// Template token grammar:
//
//	token   = "{{" ws? ident ( "." segment | "[" uint "]" )* ws? "}}"
//	ident   = [A-Za-z_][A-Za-z0-9_]*
//
// Anything that does not match is literal text. Resolution is eager and
// fails closed.
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+|\[[0-9]+\])*)\s*\}\}`)

// Ref is one parsed template reference.
type Ref struct {
	// Raw is the full token text, braces included.
	Raw string
	// Root is the leading identifier.
	Root string
	// Segments are the path pieces after the root; array indices appear
	// as bare digits so the slice joins directly into a gjson path.
	Segments []string
}

// Path joins the segments after the root into a gjson path.
func (r Ref) Path() string {
	return strings.Join(r.Segments, ".")
}

// Expr reconstructs the dotted expression without braces, for messages.
func (r Ref) Expr() string {
	if len(r.Segments) == 0 {
		return r.Root
	}
	return r.Root + "." + strings.Join(r.Segments, ".")
}

// IsNodeOutput reports whether the reference reads another node's output.
func (r Ref) IsNodeOutput() bool {
	return len(r.Segments) > 0 && r.Segments[0] == "output"
}

func parseRef(raw, expr string) Ref {
	var segs []string
	rest := expr
	// root runs until the first '.' or '['
	end := len(rest)
	for i := 0; i < len(rest); i++ {
		if rest[i] == '.' || rest[i] == '[' {
			end = i
			break
		}
	}
	root := rest[:end]
	rest = rest[end:]
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			j := len(rest)
			for i := 0; i < len(rest); i++ {
				if rest[i] == '.' || rest[i] == '[' {
					j = i
					break
				}
			}
			segs = append(segs, rest[:j])
			rest = rest[j:]
		case '[':
			j := strings.IndexByte(rest, ']')
			segs = append(segs, rest[1:j])
			rest = rest[j+1:]
		}
	}
	return Ref{Raw: raw, Root: root, Segments: segs}
}

// ScanRefs returns every template reference in s, in order of appearance.
func ScanRefs(s string) []Ref {
	matches := tokenPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]Ref, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, parseRef(m[0], m[1]))
	}
	return refs
}

// SingleRef reports whether s is exactly one token and nothing else.
// Whole-string templates resolve type-preserving.
func SingleRef(s string) (Ref, bool) {
	loc := tokenPattern.FindStringSubmatchIndex(s)
	if loc == nil || loc[0] != 0 || loc[1] != len(s) {
		return Ref{}, false
	}
	return parseRef(s, s[loc[2]:loc[3]]), true
}

// RewriteNodeRefs rewrites the root of node-output references according
// to mapping, leaving everything else untouched. The planner uses this
// when it duplicates a subgraph and the copies must reference their own
// siblings.
func RewriteNodeRefs(s string, mapping map[string]string) string {
	if len(mapping) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		sub := tokenPattern.FindStringSubmatch(tok)
		ref := parseRef(tok, sub[1])
		if !ref.IsNodeOutput() {
			return tok
		}
		repl, ok := mapping[ref.Root]
		if !ok {
			return tok
		}
		expr := repl
		for _, seg := range ref.Segments {
			expr += "." + seg
		}
		return "{{" + expr + "}}"
	})
}

// RewriteConfigRefs applies RewriteNodeRefs to every string leaf of a
// config tree, returning a deep copy.
func RewriteConfigRefs(config map[string]interface{}, mapping map[string]string) map[string]interface{} {
	out, _ := rewriteValue(config, mapping).(map[string]interface{})
	return out
}

func rewriteValue(v interface{}, mapping map[string]string) interface{} {
	switch val := v.(type) {
	case string:
		return RewriteNodeRefs(val, mapping)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = rewriteValue(item, mapping)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = rewriteValue(item, mapping)
		}
		return out
	default:
		return v
	}
}

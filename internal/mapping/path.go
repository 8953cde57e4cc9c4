package mapping

import (
	"strconv"
	"strings"
	"sync"
)

// segment is one hop of a compiled path: either a named object field or a
// numeric array index.
type segment struct {
	field   string
	index   int
	isIndex bool
}

// compiledPaths caches the tokenized form of each distinct path string in a
// sync.Map, avoiding repeated parsing for hot rules applied across many
// requests.
var compiledPaths sync.Map // map[string][]segment

// resolve walks root following path, supporting dotted names and [n]
// numeric indices (e.g. "data.items[0].price"). A fast path is used when
// the path contains neither '.' nor '['. Missing segments return Null, not
// an error.
func resolve(root Node, path string) Node {
	if path == "" {
		return Null
	}
	if !strings.ContainsAny(path, ".[") {
		return root.Field(path)
	}

	segs := compiledSegments(path)
	cur := root
	for _, s := range segs {
		if cur.IsNull() {
			return Null
		}
		if s.isIndex {
			cur = cur.Index(s.index)
		} else {
			cur = cur.Field(s.field)
		}
	}
	return cur
}

func compiledSegments(path string) []segment {
	if v, ok := compiledPaths.Load(path); ok {
		return v.([]segment)
	}
	segs := tokenize(path)
	compiledPaths.Store(path, segs)
	return segs
}

// tokenize splits "data.items[0].price" into
// [{field:"data"}, {field:"items"}, {index:0,isIndex:true}, {field:"price"}].
func tokenize(path string) []segment {
	var segs []segment
	var field strings.Builder

	flushField := func() {
		if field.Len() > 0 {
			segs = append(segs, segment{field: field.String()})
			field.Reset()
		}
	}

	i := 0
	for i < len(path) {
		c := path[i]
		switch c {
		case '.':
			flushField()
			i++
		case '[':
			flushField()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				// Malformed bracket: treat the rest as a literal field name
				// rather than erroring — the resolver never errors, it
				// simply fails to resolve.
				field.WriteString(path[i:])
				i = len(path)
				continue
			}
			numStr := path[i+1 : i+end]
			n, err := strconv.Atoi(numStr)
			if err != nil {
				field.WriteString(path[i : i+end+1])
			} else {
				segs = append(segs, segment{index: n, isIndex: true})
			}
			i += end + 1
		default:
			field.WriteByte(c)
			i++
		}
	}
	flushField()
	return segs
}

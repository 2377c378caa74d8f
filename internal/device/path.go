package device

import (
	"fmt"
	"regexp"
	"strings"
)

// PathFilter selects data items by an XPath-like expression over the probe
// document, the grammar accepted by the REST `path` parameter:
//
//	//Devices/Device[@uuid="000"]//Axes//DataItem[@category="SAMPLE"]
//
// Alternatives are separated by '|'. A step starting with "//" matches any
// descendant, "/" an immediate child. Predicates are attribute equality
// tests joined with "and". A '*' step matches any element.
type PathFilter struct {
	alternatives [][]pathStep
}

type pathStep struct {
	element  string
	anyDepth bool
	attrs    map[string]string
}

var predicateRe = regexp.MustCompile(`@([A-Za-z]+)\s*=\s*"([^"]*)"|@([A-Za-z]+)\s*=\s*'([^']*)'`)

// CompilePath parses a path expression.
func CompilePath(expr string) (*PathFilter, error) {
	f := &PathFilter{}
	for _, alt := range strings.Split(expr, "|") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			return nil, fmt.Errorf("%w: empty alternative in %q", ErrInvalidPath, expr)
		}
		steps, err := parseSteps(alt)
		if err != nil {
			return nil, err
		}
		f.alternatives = append(f.alternatives, steps)
	}
	return f, nil
}

func parseSteps(alt string) ([]pathStep, error) {
	var steps []pathStep
	rest := alt
	for rest != "" {
		anyDepth := false
		switch {
		case strings.HasPrefix(rest, "//"):
			anyDepth = true
			rest = rest[2:]
		case strings.HasPrefix(rest, "/"):
			rest = rest[1:]
		default:
			// A leading bare name is treated as a descendant step.
			anyDepth = true
		}

		end := strings.IndexByte(rest, '/')
		var raw string
		if end < 0 {
			raw, rest = rest, ""
		} else {
			// Keep a predicate's slashes out of the element split.
			if br := strings.IndexByte(rest, '['); br >= 0 && br < end {
				closing := strings.IndexByte(rest, ']')
				if closing < 0 {
					return nil, fmt.Errorf("%w: unterminated predicate in %q", ErrInvalidPath, alt)
				}
				end = closing + 1
				if end >= len(rest) {
					raw, rest = rest, ""
				} else {
					raw, rest = rest[:end], rest[end:]
				}
			} else {
				raw, rest = rest[:end], rest[end:]
			}
		}

		step := pathStep{anyDepth: anyDepth}
		if br := strings.IndexByte(raw, '['); br >= 0 {
			if !strings.HasSuffix(raw, "]") {
				return nil, fmt.Errorf("%w: unterminated predicate in %q", ErrInvalidPath, alt)
			}
			step.element = raw[:br]
			pred := raw[br:]
			step.attrs = make(map[string]string)
			for _, m := range predicateRe.FindAllStringSubmatch(pred, -1) {
				if m[1] != "" {
					step.attrs[m[1]] = m[2]
				} else {
					step.attrs[m[3]] = m[4]
				}
			}
		} else {
			step.element = raw
		}
		if step.element == "" {
			return nil, fmt.Errorf("%w: empty step in %q", ErrInvalidPath, alt)
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, alt)
	}
	return steps, nil
}

// pathNode is one element of a data item's document ancestry.
type pathNode struct {
	element string
	attrs   map[string]string
}

// ancestry builds the document path of a data item, container elements
// included, mirroring the probe layout.
func ancestry(di *DataItem) []pathNode {
	comp := di.Component()
	if comp == nil {
		return nil
	}
	dev := comp.Device()

	var comps []*Component
	for c := comp; c != nil; c = c.Parent() {
		comps = append([]*Component{c}, comps...)
	}

	nodes := []pathNode{{element: "Devices"}}
	for i, c := range comps {
		if i == 0 {
			element := "Device"
			if dev.IsAgent {
				element = "Agent"
			}
			nodes = append(nodes, pathNode{
				element: element,
				attrs:   map[string]string{"id": c.ID, "name": c.Name, "uuid": dev.UUID()},
			})
			continue
		}
		nodes = append(nodes,
			pathNode{element: "Components"},
			pathNode{element: c.Type, attrs: map[string]string{"id": c.ID, "name": c.Name}},
		)
	}
	nodes = append(nodes,
		pathNode{element: "DataItems"},
		pathNode{element: "DataItem", attrs: map[string]string{
			"id":       di.ID,
			"name":     di.Name,
			"type":     di.Type,
			"subType":  di.SubType,
			"category": string(di.Category),
		}},
	)
	return nodes
}

// Matches reports whether the data item is selected by the filter.
func (f *PathFilter) Matches(di *DataItem) bool {
	nodes := ancestry(di)
	for _, alt := range f.alternatives {
		if matchSteps(alt, nodes) {
			return true
		}
	}
	return false
}

// matchSteps matches the step list against the ancestry. A trailing
// component-level match selects every data item beneath it.
func matchSteps(steps []pathStep, nodes []pathNode) bool {
	return matchFrom(steps, nodes, 0, 0)
}

func matchFrom(steps []pathStep, nodes []pathNode, si, ni int) bool {
	if si == len(steps) {
		return true
	}
	step := steps[si]

	limit := ni + 1
	if step.anyDepth {
		limit = len(nodes)
	}
	for i := ni; i < limit; i++ {
		if stepMatches(step, nodes[i]) && matchFrom(steps, nodes, si+1, i+1) {
			return true
		}
	}
	return false
}

func stepMatches(step pathStep, node pathNode) bool {
	if step.element != "*" && step.element != node.element {
		return false
	}
	for k, v := range step.attrs {
		if node.attrs[k] != v {
			return false
		}
	}
	return true
}

package store

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	inlinePlaceholderRe     = regexp.MustCompile(`\{\{[^{}]*\}\}`)
	positionalPlaceholderRe = regexp.MustCompile(`\$(\d+)`)
	anyPlaceholderRe        = regexp.MustCompile(`\{\{[^{}]*\}\}|\$(\d+)`)
)

// Normalize rewrites an operator-supplied eligibility query to the
// driver's native `?` parameter markers and reorders the supplied
// parameters to match each marker occurrence.
//
// Two placeholder dialects are supported in one statement:
//
//   - positional $n (1-indexed, may repeat): every occurrence of $n
//     binds params[n-1]; repeats duplicate the bound value so each `?`
//     gets its own parameter.
//   - inline template placeholders of the form {{ ... }}, as emitted by
//     workflow tools: the k inline occurrences consume the last k
//     parameters of the supplied list, in order of appearance.
//
// Inline occurrences are discovered first, which fixes the split
// between the positional head and the inline tail; $n indexes are then
// validated against the head only.
func Normalize(query string, params []interface{}) (string, []interface{}, error) {
	inlineCount := len(inlinePlaceholderRe.FindAllString(query, -1))
	if inlineCount > len(params) {
		return "", nil, fmt.Errorf("query has %d inline placeholders but only %d parameters were supplied", inlineCount, len(params))
	}

	head := params[:len(params)-inlineCount]
	tail := params[len(params)-inlineCount:]

	// Validate positional indexes against the head before rewriting.
	for _, match := range positionalPlaceholderRe.FindAllStringSubmatch(query, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 {
			return "", nil, fmt.Errorf("invalid positional placeholder %q", match[0])
		}
		if n > len(head) {
			return "", nil, fmt.Errorf("positional placeholder $%d exceeds the %d available parameters", n, len(head))
		}
	}

	var (
		ordered   []interface{}
		inlineIdx int
	)
	rewritten := anyPlaceholderRe.ReplaceAllStringFunc(query, func(match string) string {
		if match[0] == '$' {
			n, _ := strconv.Atoi(match[1:])
			ordered = append(ordered, head[n-1])
		} else {
			ordered = append(ordered, tail[inlineIdx])
			inlineIdx++
		}
		return "?"
	})

	return rewritten, ordered, nil
}

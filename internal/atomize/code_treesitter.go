package atomize

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"starcore/internal/logging"
)

// languageFor resolves the tree-sitter grammar for a language tag. Returns
// nil for an unrecognized tag, signaling the caller to fall back to the
// brace-depth heuristic.
func languageFor(language string) *sitter.Language {
	switch language {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	case "rust":
		return rust.GetLanguage()
	default:
		return nil
	}
}

// treeSitterBlockBounds parses content with the grammar for language and
// returns the byte ranges of its top-level named declarations (function,
// type, class, struct, impl, ...), one molecule per declaration. Returns
// nil on an unrecognized language or a parse failure, letting atomizeCode
// fall back to the brace heuristic; a parse error here is never a hard
// failure.
func treeSitterBlockBounds(content []byte, language string) [][2]int {
	lang := languageFor(language)
	if lang == nil {
		return nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		logging.Get(logging.CategoryAtomize).Warn("tree-sitter parse failed for language %s, falling back to brace heuristic: %v", language, err)
		return nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		logging.Get(logging.CategoryAtomize).Debug("tree-sitter produced an error node for language %s, falling back to brace heuristic", language)
		return nil
	}

	n := int(root.NamedChildCount())
	if n == 0 {
		return nil
	}

	bounds := make([][2]int, 0, n)
	cursor := 0
	for i := 0; i < n; i++ {
		child := root.NamedChild(i)
		start := int(child.StartByte())
		end := int(child.EndByte())
		if start < cursor {
			start = cursor
		}
		if end <= start {
			continue
		}
		bounds = append(bounds, [2]int{cursor, end})
		cursor = end
	}
	if cursor < len(content) {
		bounds = append(bounds, [2]int{cursor, len(content)})
	}
	if len(bounds) <= 1 {
		return nil
	}
	return bounds
}

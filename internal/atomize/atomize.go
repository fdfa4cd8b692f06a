// Package atomize splits sanitized compound content into byte-offset
// molecules using one of three strategies (prose, code, data).
// Output ranges are non-overlapping, ascending, and exactly
// cover the input (up to trailing whitespace); byte offsets are true
// UTF-8 byte positions.
package atomize

import (
	"bytes"
	"unicode/utf8"

	"starcore/internal/store"
)

// Molecule is a pre-persistence atomization result: a byte range plus the
// strategy that produced it. The caller (ingestion orchestrator) fills in
// id, compound id, tags, embedding, etc. before handing it to the store.
type Molecule struct {
	Sequence  int
	StartByte int
	EndByte   int
	Type      store.MoleculeType
}

// Options bounds molecule sizes across all strategies.
type Options struct {
	MinProseBytes int // paragraphs below this are merged with a neighbor
	MaxBytes      int // any molecule above this is hard-split

	// Language selects the tree-sitter grammar for StrategyCode, by file
	// extension convention ("go", "python", "javascript", "typescript",
	// "rust"). Empty or unrecognized falls back to the brace-depth
	// heuristic; a parse failure is never a hard failure.
	Language string
}

// DefaultOptions matches the sizes the planet searcher and context
// assembler are tuned against: small enough that a handful of molecules
// fit comfortably in a focused-mode budget, large enough to avoid
// fragmenting every short paragraph into its own row.
func DefaultOptions() Options {
	return Options{MinProseBytes: 120, MaxBytes: 4096}
}

// Strategy selects which splitter Atomize uses for a given compound.
type Strategy string

const (
	StrategyProse Strategy = "prose"
	StrategyCode  Strategy = "code"
	StrategyData  Strategy = "data"
)

// Atomize splits content according to strategy, falling back to prose
// splitting for malformed data.
func Atomize(content []byte, strategy Strategy, opts Options) []Molecule {
	switch strategy {
	case StrategyCode:
		return atomizeCode(content, opts)
	case StrategyData:
		molecules := atomizeData(content, opts)
		if molecules == nil {
			return atomizeProse(content, opts)
		}
		return molecules
	default:
		return atomizeProse(content, opts)
	}
}

// atomizeProse splits on blank-line paragraph boundaries, merging runs
// below MinProseBytes into the following paragraph and hard-splitting
// anything over MaxBytes.
func atomizeProse(content []byte, opts Options) []Molecule {
	bounds := paragraphBounds(content)
	bounds = mergeSmallRuns(content, bounds, opts.MinProseBytes)
	return toMolecules(content, bounds, opts.MaxBytes, store.MoleculeProse)
}

// paragraphBounds finds [start,end) ranges for each paragraph, where a
// paragraph is a maximal run of non-blank lines. A literal "\n\n" is the
// separator; a line holding only spaces or tabs does not count as blank.
//
// The search cursor that hunts for the next "\n\n" and the start of the
// next bound are deliberately tracked separately: the cursor skips past
// the whole run of blank-line bytes so an embedded newline inside a
// longer run (e.g. "\n\n\n") is never mistaken for a fresh boundary, but
// each bound starts exactly where the previous one ended, so every byte
// of the separator still lands inside some bound. Skipping the cursor
// ahead without also advancing the bound start would leave the
// in-between blank-line bytes covered by no bound at all.
func paragraphBounds(content []byte) [][2]int {
	var bounds [][2]int
	start := 0
	n := len(content)
	i := 0
	for i < n {
		// find next blank line (two consecutive '\n', ignoring \r)
		idx := bytes.Index(content[i:], []byte("\n\n"))
		if idx < 0 {
			break
		}
		end := i + idx + 1 // include first \n, exclude the blank line
		if end > start {
			bounds = append(bounds, [2]int{start, end})
		}
		// advance the search cursor past the run of blank lines, but start
		// the next bound right where this one ended.
		j := i + idx + 1
		for j < n && content[j] == '\n' {
			j++
		}
		start = end
		i = j
	}
	if start < n {
		bounds = append(bounds, [2]int{start, n})
	}
	if len(bounds) == 0 && n > 0 {
		bounds = [][2]int{{0, n}}
	}
	return bounds
}

// mergeSmallRuns merges a paragraph shorter than minSize into the
// following one, keeping molecule count proportional to real content
// rather than to incidental short paragraphs (list items, headers).
func mergeSmallRuns(content []byte, bounds [][2]int, minSize int) [][2]int {
	if minSize <= 0 || len(bounds) == 0 {
		return bounds
	}
	var out [][2]int
	pending := bounds[0]
	for i := 1; i < len(bounds); i++ {
		if pending[1]-pending[0] < minSize {
			pending[1] = bounds[i][1]
			continue
		}
		out = append(out, pending)
		pending = bounds[i]
	}
	out = append(out, pending)
	return out
}

// atomizeCode splits on balanced block boundaries: first by the top-level
// declarations of a tree-sitter parse for opts.Language, then by a
// brace-depth heuristic (a block closes at the end of the line where brace
// depth returns to 0 after having gone positive). Falls back to
// size-bounded line splits when no such boundaries are found (e.g.
// non-brace languages).
func atomizeCode(content []byte, opts Options) []Molecule {
	bounds := treeSitterBlockBounds(content, opts.Language)
	if len(bounds) == 0 {
		bounds = balancedBlockBounds(content)
	}
	if len(bounds) == 0 {
		bounds = lineSizeBounds(content, opts.MaxBytes)
	}
	return toMolecules(content, bounds, opts.MaxBytes, store.MoleculeCode)
}

// balancedBlockBounds scans line-by-line tracking brace depth, and closes
// a block whenever depth returns to 0 after having gone positive. This
// captures top-level function/type/class declarations without a
// language-aware parser.
func balancedBlockBounds(content []byte) [][2]int {
	var bounds [][2]int
	depth := 0
	sawOpen := false
	blockStart := 0
	n := len(content)

	for i := 0; i < n; i++ {
		switch content[i] {
		case '{':
			depth++
			sawOpen = true
		case '}':
			depth--
		case '\n':
			if depth <= 0 && sawOpen {
				end := i + 1
				bounds = append(bounds, [2]int{blockStart, end})
				blockStart = end
				sawOpen = false
				depth = 0
			}
		}
	}
	if blockStart < n {
		bounds = append(bounds, [2]int{blockStart, n})
	}
	if len(bounds) <= 1 {
		return nil
	}
	return bounds
}

// lineSizeBounds groups whole lines into chunks no larger than maxBytes.
func lineSizeBounds(content []byte, maxBytes int) [][2]int {
	if maxBytes <= 0 {
		maxBytes = 4096
	}
	var bounds [][2]int
	lineStart := 0
	chunkStart := 0
	n := len(content)
	for i := 0; i <= n; i++ {
		if i < n && content[i] != '\n' {
			continue
		}
		lineEnd := min(i+1, n)
		if lineEnd-chunkStart > maxBytes && lineStart > chunkStart {
			// current line would overflow the chunk; flush what we have first
			bounds = append(bounds, [2]int{chunkStart, lineStart})
			chunkStart = lineStart
		}
		lineStart = lineEnd
	}
	if chunkStart < n {
		bounds = append(bounds, [2]int{chunkStart, n})
	}
	if len(bounds) == 0 && n > 0 {
		bounds = [][2]int{{0, n}}
	}
	return bounds
}

// atomizeData splits on blank-line-separated top-level records (the
// convention for YAML documents and Markdown block lists). Returns nil
// when no blank-line boundaries exist, signaling the caller to fall back
// to prose splitting for malformed data.
func atomizeData(content []byte, opts Options) []Molecule {
	bounds := paragraphBounds(content)
	if len(bounds) <= 1 {
		return nil
	}
	return toMolecules(content, bounds, opts.MaxBytes, store.MoleculeData)
}

// toMolecules converts byte-range bounds into Molecules, hard-splitting
// any range over maxBytes at a UTF-8-safe boundary, and numbering them in
// document order.
func toMolecules(content []byte, bounds [][2]int, maxBytes int, typ store.MoleculeType) []Molecule {
	if maxBytes <= 0 {
		maxBytes = 4096
	}
	var out []Molecule
	seq := 0
	for _, b := range bounds {
		start, end := b[0], b[1]
		for start < end {
			chunkEnd := end
			if chunkEnd-start > maxBytes {
				chunkEnd = safeUTF8Boundary(content, start+maxBytes)
				if chunkEnd <= start {
					chunkEnd = end
				}
			}
			out = append(out, Molecule{Sequence: seq, StartByte: start, EndByte: chunkEnd, Type: typ})
			seq++
			start = chunkEnd
		}
	}
	return out
}

// safeUTF8Boundary walks backward from pos (capped to len(content)) until
// it lands on a UTF-8 codepoint boundary, guaranteeing a hard split never
// cuts a multi-byte character.
func safeUTF8Boundary(content []byte, pos int) int {
	if pos >= len(content) {
		return len(content)
	}
	if pos <= 0 {
		return 0
	}
	for pos > 0 && !utf8.RuneStart(content[pos]) {
		pos--
	}
	return pos
}

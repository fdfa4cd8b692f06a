// Package assembler inflates fused molecule candidates back to text by
// reading their byte ranges from the mirror store, and concatenates them
// into the final context string returned to the caller.
package assembler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"starcore/internal/fuser"
	"starcore/internal/logging"
	"starcore/internal/mirror"
	"starcore/internal/starerrors"
)

// MoleculeResult is the per-molecule metadata returned alongside the
// assembled context string.
type MoleculeResult struct {
	MoleculeID string
	CompoundID string
	Gravity    float64
	Class      fuser.Class
	Provenance fuser.Source
	Skipped    bool // true when the mirror read failed (MirrorMiss)
}

// Assembled is the full response payload Assemble builds.
type Assembled struct {
	Context      string
	Results      []MoleculeResult
	Strategy     string
	SplitQueries []string
	Metadata     map[string]any
}

// Assemble inflates each fused candidate's byte range via m, concatenates
// with lightweight source/provenance/gravity markers, and stops exactly
// at maxChars, UTF-8-safely truncating the last molecule if needed.
// Molecules whose mirror read fails are skipped (not hard failures): they
// are flagged in the metadata's reindex list and the response continues
// with a warning rather than erroring out.
func Assemble(m *mirror.Store, candidates []fuser.Result, maxChars int, strategy string, splitQueries []string) Assembled {
	timer := logging.StartTimer(logging.CategoryAssembler, "Assemble")
	defer timer.Stop()

	var b strings.Builder
	results := make([]MoleculeResult, 0, len(candidates))
	var needsReindex []string
	var warnings []string

	for _, c := range candidates {
		if b.Len() >= maxChars {
			break
		}

		text, err := m.ReadRange(c.Molecule.CompoundID, c.Molecule.StartByte, c.Molecule.EndByte)
		if err != nil {
			if starerrors.CodeOf(err) == starerrors.MirrorMiss {
				logging.Get(logging.CategoryAssembler).Warn("mirror miss for molecule %s, skipping and flagging for reindex: %v", c.Molecule.ID, err)
				needsReindex = append(needsReindex, c.Molecule.ID)
				warnings = append(warnings, fmt.Sprintf("molecule %s unavailable, flagged for reindex", c.Molecule.ID))
				results = append(results, MoleculeResult{
					MoleculeID: c.Molecule.ID, CompoundID: c.Molecule.CompoundID,
					Gravity: c.Gravity, Class: c.Class, Provenance: c.Provenance, Skipped: true,
				})
				continue
			}
			continue
		}

		marker := fmt.Sprintf("\n--- [%s|%s|gravity=%.3f] ---\n", c.Molecule.CompoundID, c.Class, c.Gravity)
		remaining := maxChars - b.Len()
		budgetForThis := remaining - len(marker)
		if budgetForThis <= 0 {
			break
		}

		content := string(text)
		if len(content) > budgetForThis {
			content = safeUTF8Truncate(content, budgetForThis)
		}

		b.WriteString(marker)
		b.WriteString(content)

		results = append(results, MoleculeResult{
			MoleculeID: c.Molecule.ID, CompoundID: c.Molecule.CompoundID,
			Gravity: c.Gravity, Class: c.Class, Provenance: c.Provenance,
		})

		if len(content) < len(text) {
			break // truncated the last molecule; budget is exhausted
		}
	}

	metadata := map[string]any{}
	if len(needsReindex) > 0 {
		metadata["needs_reindex"] = needsReindex
	}
	if len(warnings) > 0 {
		metadata["warnings"] = warnings
	}

	return Assembled{
		Context:      b.String(),
		Results:      results,
		Strategy:     strategy,
		SplitQueries: splitQueries,
		Metadata:     metadata,
	}
}

// safeUTF8Truncate cuts s to at most n bytes without splitting a multi-
// byte rune.
func safeUTF8Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

/**
 * Duplicate resolver
 *
 * Overlapping tiles detect the same text more than once. The resolver keeps
 * the best copy of each physical region: candidates are ranked by mean token
 * confidence, then by text length, and a candidate is discarded when its box
 * overlaps an already-kept block beyond the IoU threshold. Greedy over the
 * ranked order, one pass.
 *
 * Tables and figures are not deduplicated here; callers concatenate them
 * across tiles as-is.
 */

package tiles

import (
	"sort"

	"github.com/nexadoc/ocr-service/internal/document"
	"github.com/nexadoc/ocr-service/internal/geometry"
)

// DefaultIoUThreshold is the overlap ratio above which two blocks are
// considered the same detection.
const DefaultIoUThreshold = 0.5

// blockScore ranks a block for duplicate resolution. Compared
// lexicographically: confidence first, length as the tiebreak.
type blockScore struct {
	meanConfidence float64
	textLength     int
}

func scoreBlock(b document.Block) blockScore {
	var sum float64
	var count int
	for _, line := range b.Lines {
		for _, token := range line.Tokens {
			// Unknown confidence ranks below any scored token.
			if token.Confidence != nil {
				sum += *token.Confidence
			}
			count++
		}
	}
	if count == 0 {
		count = 1
	}
	return blockScore{
		meanConfidence: sum / float64(count),
		textLength:     len(b.Text),
	}
}

func (s blockScore) betterThan(o blockScore) bool {
	if s.meanConfidence != o.meanConfidence {
		return s.meanConfidence > o.meanConfidence
	}
	return s.textLength > o.textLength
}

// ResolveDuplicates returns the blocks that survive duplicate resolution at
// the given IoU threshold. The input slice is not modified; survivors keep
// their rank order. A threshold <= 0 falls back to DefaultIoUThreshold.
func ResolveDuplicates(blocks []document.Block, threshold float64) []document.Block {
	if threshold <= 0 {
		threshold = DefaultIoUThreshold
	}
	if len(blocks) <= 1 {
		return append([]document.Block(nil), blocks...)
	}

	ranked := make([]int, len(blocks))
	scores := make([]blockScore, len(blocks))
	for i, b := range blocks {
		ranked[i] = i
		scores[i] = scoreBlock(b)
	}
	// Stable keeps input order among equally scored blocks deterministic.
	sort.SliceStable(ranked, func(a, b int) bool {
		return scores[ranked[a]].betterThan(scores[ranked[b]])
	})

	kept := make([]document.Block, 0, len(blocks))
	keptBoxes := make([]geometry.BBox, 0, len(blocks))
	for _, idx := range ranked {
		candidate := blocks[idx]
		duplicate := false
		for _, box := range keptBoxes {
			if geometry.IoU(candidate.BBox, box) > threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, candidate)
		keptBoxes = append(keptBoxes, candidate.BBox)
	}

	return kept
}

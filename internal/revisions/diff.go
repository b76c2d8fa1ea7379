package revisions

import "strings"

// Action classifies one aligned line pair.
type Action string

const (
	Unchanged Action = "="
	Added     Action = "+"
	Removed   Action = "-"
	Changed   Action = "!"
)

// Change is one position of a line alignment. Positions are zero based.
type Change struct {
	Action      Action  `json:"action"`
	OldPosition int     `json:"old_position"`
	NewPosition int     `json:"new_position"`
	OldLine     *string `json:"old_line"`
	NewLine     *string `json:"new_line"`
}

// SplitLines splits text on CRLF, CR or LF. Trailing empty lines are dropped.
func SplitLines(text *string) []string {
	if text == nil || *text == "" {
		return nil
	}
	normalized := strings.ReplaceAll(*text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	lines := strings.Split(normalized, "\n")
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// DiffText aligns the lines of two texts.
func DiffText(oldText, newText *string) []Change {
	return DiffLines(SplitLines(oldText), SplitLines(newText))
}

// DiffLines aligns two line sequences along a longest common subsequence.
// Unmatched lines between two matches are paired as changes first, the
// remainder is reported as removals or additions.
func DiffLines(oldLines, newLines []string) []Change {
	matches := commonSubsequence(oldLines, newLines)
	changes := make([]Change, 0, max(len(oldLines), len(newLines)))

	oldIndex, newIndex := 0, 0
	flush := func(oldLimit, newLimit int) {
		for oldIndex < oldLimit || newIndex < newLimit {
			switch {
			case oldIndex < oldLimit && newIndex < newLimit:
				changes = append(changes, Change{
					Action:      Changed,
					OldPosition: oldIndex,
					NewPosition: newIndex,
					OldLine:     &oldLines[oldIndex],
					NewLine:     &newLines[newIndex],
				})
				oldIndex++
				newIndex++
			case oldIndex < oldLimit:
				changes = append(changes, Change{
					Action:      Removed,
					OldPosition: oldIndex,
					NewPosition: newIndex,
					OldLine:     &oldLines[oldIndex],
				})
				oldIndex++
			default:
				changes = append(changes, Change{
					Action:      Added,
					OldPosition: oldIndex,
					NewPosition: newIndex,
					NewLine:     &newLines[newIndex],
				})
				newIndex++
			}
		}
	}

	for _, match := range matches {
		flush(match.old, match.new)
		changes = append(changes, Change{
			Action:      Unchanged,
			OldPosition: oldIndex,
			NewPosition: newIndex,
			OldLine:     &oldLines[oldIndex],
			NewLine:     &newLines[newIndex],
		})
		oldIndex++
		newIndex++
	}
	flush(len(oldLines), len(newLines))
	return changes
}

// HasChanges reports whether any position differs.
func HasChanges(changes []Change) bool {
	for _, change := range changes {
		if change.Action != Unchanged {
			return true
		}
	}
	return false
}

type linePair struct {
	old int
	new int
}

func commonSubsequence(oldLines, newLines []string) []linePair {
	prefix := 0
	for prefix < len(oldLines) && prefix < len(newLines) && oldLines[prefix] == newLines[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(oldLines)-prefix && suffix < len(newLines)-prefix &&
		oldLines[len(oldLines)-1-suffix] == newLines[len(newLines)-1-suffix] {
		suffix++
	}

	pairs := make([]linePair, 0, prefix+suffix)
	for index := 0; index < prefix; index++ {
		pairs = append(pairs, linePair{old: index, new: index})
	}

	oldMiddle := oldLines[prefix : len(oldLines)-suffix]
	newMiddle := newLines[prefix : len(newLines)-suffix]
	rows, cols := len(oldMiddle), len(newMiddle)
	if rows > 0 && cols > 0 {
		// lengths[i][j] is the LCS length of oldMiddle[i:] and newMiddle[j:].
		lengths := make([][]int, rows+1)
		for i := range lengths {
			lengths[i] = make([]int, cols+1)
		}
		for i := rows - 1; i >= 0; i-- {
			for j := cols - 1; j >= 0; j-- {
				if oldMiddle[i] == newMiddle[j] {
					lengths[i][j] = lengths[i+1][j+1] + 1
				} else {
					lengths[i][j] = max(lengths[i+1][j], lengths[i][j+1])
				}
			}
		}
		i, j := 0, 0
		for i < rows && j < cols {
			switch {
			case oldMiddle[i] == newMiddle[j]:
				pairs = append(pairs, linePair{old: prefix + i, new: prefix + j})
				i++
				j++
			case lengths[i+1][j] >= lengths[i][j+1]:
				i++
			default:
				j++
			}
		}
	}

	for index := suffix; index > 0; index-- {
		pairs = append(pairs, linePair{old: len(oldLines) - index, new: len(newLines) - index})
	}
	return pairs
}

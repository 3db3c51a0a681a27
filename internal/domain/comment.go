package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Recovery orders carry a structured tag in the broker comment field. The
// comment is the only place stack membership survives a process restart, so
// the format is stable and parsed strictly at the boundary; raw strings
// never reach policy logic.
//
// Wire format:
//
//	"Grid L{n} - {parent}"   pyramided same-direction child of parent
//	"DCA L{n} - {parent}"    averaging child of parent
//	"Hedge - {parent}"       offsetting child of parent
//	"HDCA L{n} - {hedge}"    averaging child of a hedge (parent is the hedge ticket)
type RecoveryKind string

const (
	RecoveryGrid     RecoveryKind = "grid"
	RecoveryDCA      RecoveryKind = "dca"
	RecoveryHedge    RecoveryKind = "hedge"
	RecoveryHedgeDCA RecoveryKind = "hedge_dca"
)

// CommentTag is a parsed recovery comment.
type CommentTag struct {
	Kind   RecoveryKind
	Level  int   // 0 for hedges
	Parent int64 // Original ticket; for hedge-DCA, the hedge ticket
}

// FormatGridComment tags a grid child order.
func FormatGridComment(level int, parent int64) string {
	return fmt.Sprintf("Grid L%d - %d", level, parent)
}

// FormatDCAComment tags an averaging order.
func FormatDCAComment(level int, parent int64) string {
	return fmt.Sprintf("DCA L%d - %d", level, parent)
}

// FormatHedgeComment tags a hedge order.
func FormatHedgeComment(parent int64) string {
	return fmt.Sprintf("Hedge - %d", parent)
}

// FormatHedgeDCAComment tags an averaging order on a hedge.
func FormatHedgeDCAComment(level int, hedge int64) string {
	return fmt.Sprintf("HDCA L%d - %d", level, hedge)
}

// IsRecoveryComment reports whether the comment carries any recovery tag.
func IsRecoveryComment(comment string) bool {
	_, ok := ParseComment(comment)
	return ok
}

// ParseComment parses a broker comment into a CommentTag. It returns
// ok=false for untagged comments (original entries) and for tags it cannot
// parse: a malformed tag is treated as untagged rather than halting the
// caller, which handles the degraded case via reconciliation.
func ParseComment(comment string) (CommentTag, bool) {
	comment = strings.TrimSpace(comment)
	switch {
	case strings.HasPrefix(comment, "Grid L"):
		return parseLeveled(comment, "Grid L", RecoveryGrid)
	case strings.HasPrefix(comment, "DCA L"):
		return parseLeveled(comment, "DCA L", RecoveryDCA)
	case strings.HasPrefix(comment, "HDCA L"):
		return parseLeveled(comment, "HDCA L", RecoveryHedgeDCA)
	case strings.HasPrefix(comment, "Hedge - "):
		parent, err := strconv.ParseInt(strings.TrimPrefix(comment, "Hedge - "), 10, 64)
		if err != nil || parent <= 0 {
			return CommentTag{}, false
		}
		return CommentTag{Kind: RecoveryHedge, Parent: parent}, true
	}
	return CommentTag{}, false
}

func parseLeveled(comment, prefix string, kind RecoveryKind) (CommentTag, bool) {
	rest := strings.TrimPrefix(comment, prefix)
	parts := strings.SplitN(rest, " - ", 2)
	if len(parts) != 2 {
		return CommentTag{}, false
	}
	level, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || level <= 0 {
		return CommentTag{}, false
	}
	parent, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || parent <= 0 {
		return CommentTag{}, false
	}
	return CommentTag{Kind: kind, Level: level, Parent: parent}, true
}

package ir

// PatternExpr returns the regular expression evaluated for a search test.
// mode is match, search or regex; match anchors at the start of the
// subject. flags holds the inline flags (i, m) to prepend.
func PatternExpr(mode, pattern, flags string) string {
	expr := pattern
	if mode == "match" {
		expr = "^(?:" + pattern + ")"
	}
	if flags != "" {
		expr = "(?" + flags + ")" + expr
	}
	return expr
}

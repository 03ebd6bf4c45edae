package logview

import "regexp"

// ansiPattern covers CSI sequences (colors, cursor movement) and OSC
// sequences (titles, hyperlinks) terminated by BEL or ST.
var ansiPattern = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[ -/]*[@-~]|\][^\x07\x1b]*(?:\x07|\x1b\\))`)

// StripANSI removes transport-level color and formatting escape sequences so
// they never produce false matches or break user regexes.
func StripANSI(s string) string {
	if !containsEscape(s) {
		return s
	}
	return ansiPattern.ReplaceAllString(s, "")
}

func containsEscape(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b {
			return true
		}
	}
	return false
}

package genai

import "regexp"

// Models sometimes wrap the JSON object in markdown fences or explanatory
// prose. The greedy match takes everything between the first '{' and the last
// '}' in the text.
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSON pulls the outermost JSON object out of surrounding text.
func extractJSON(text string) (string, bool) {
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return "", false
	}
	return match, true
}

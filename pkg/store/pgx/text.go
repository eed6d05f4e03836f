package pgx

import "strings"

// pgText drops what a Postgres text column rejects: NUL bytes and invalid
// UTF-8. Model output and scraped transcripts carry both occasionally.
func pgText(s string) string {
	if s == "" {
		return s
	}
	return strings.ReplaceAll(strings.ToValidUTF8(s, ""), "\x00", "")
}

func pgTexts(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = pgText(s)
	}
	return out
}

package crawler

import "strings"

var corporateSuffixes = map[string]struct{}{
	"limited": {}, "ltd": {}, "pvt": {}, "private": {},
}

// StripCorporateSuffixes lowercases name and drops corporate-form tokens such
// as "Pvt" or "Ltd.". It is idempotent.
func StripCorporateSuffixes(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	kept := fields[:0]
	for _, f := range fields {
		token := strings.Trim(f, ".,")
		if _, drop := corporateSuffixes[token]; drop {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

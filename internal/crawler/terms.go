package crawler

import (
	"fmt"
	"strings"
)

// Language tags. The secondary language gets its own subdirectory.
const (
	LangEnglish = ""
	LangHindi   = "Hindi"
)

var englishRiskTerms = []string{
	`"facilitation payment"`, "litigation", "judicial", "fine", "launder", "OFAC",
	"terror", "manipulate", "counterfeit", "traffic", "court", "appeal", "investigate", "guilty", "illegal",
	"arrest", "evasion", "sentence", "kickback", "prison", "jail", "corruption", "corrupt", `"grease payment"`,
	"crime", "bribe", "fraud", "condemn", "accuse", "implicate",
}

var hindiRiskTerms = []string{
	"अपराध", "रिश्वत", "धोखाधड़ी", "निंदा", "आरोप", "शामिल", "ग्रेस भुगतान",
	"मुकदमा", "न्यायिक", "जुर्माना", "मनी लॉन्ड्रिंग", "आतंकवाद", "नकली", "तस्करी", "कोर्ट",
	"अपील", "जांच", "दोषी", "अवैध", "गिरफ्तारी", "चोरी", "सजा", "घूस", "जेल", "भ्रष्टाचार",
}

const excludeSpreadsheets = "-filetype:csv -filetype:xls -filetype:xlsx"

func orClause(terms []string) string {
	return "(" + strings.Join(terms, " | ") + ")"
}

// RiskQuery builds the search for name in the given language.
func RiskQuery(name, lang string) string {
	terms := englishRiskTerms
	if lang == LangHindi {
		terms = hindiRiskTerms
	}
	return fmt.Sprintf(`%s "%s" %s`, excludeSpreadsheets, name, orClause(terms))
}

// SiteRiskQuery restricts the English risk search to one site.
func SiteRiskQuery(site, name string) string {
	return fmt.Sprintf(`site:%s "%s" %s`, site, name, orClause(englishRiskTerms))
}

// ExchangeQuery looks for filings about name on an exchange site.
func ExchangeQuery(site, name string) string {
	return fmt.Sprintf(`-filetype:pdf -filetype:xls -filetype:xlsx site:%s "%s"`, site, name)
}

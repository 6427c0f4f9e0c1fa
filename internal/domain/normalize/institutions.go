package normalize

import "strings"

// knownInstitutions maps opaque provider institution ids to display names.
// Providers that only ship an id would otherwise leave accounts unlabelled
// in every downstream view.
var knownInstitutions = map[string]string{
	"ins_1":            "Bank of America",
	"ins_3":            "Chase",
	"ins_4":            "Wells Fargo",
	"ins_5":            "Citibank",
	"ins_13":           "Capital One",
	"se-handelsbanken": "Handelsbanken",
	"se-seb":           "SEB",
	"se-swedbank":      "Swedbank",
	"de-n26":           "N26",
	"de-dkb":           "DKB",
	"nl-ing":           "ING",
	"nl-abnamro":       "ABN AMRO",
}

// InstitutionName resolves an institution id to a human-readable name.
// Lookup table first; otherwise a best-effort formatted fallback so the
// field is never blank when an id exists.
func InstitutionName(institutionID string) string {
	if institutionID == "" {
		return ""
	}
	if name, ok := knownInstitutions[institutionID]; ok {
		return name
	}
	return formatInstitutionID(institutionID)
}

// formatInstitutionID turns ids like "de-sparkasse_berlin" or
// "ins_first_platypus" into "Sparkasse Berlin" / "First Platypus".
func formatInstitutionID(id string) string {
	s := strings.TrimPrefix(id, "ins_")

	// Country prefixes like "de-", "se-" are routing detail, not identity.
	if len(s) > 3 && s[2] == '-' {
		s = s[3:]
	}

	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)

	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

package registration

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// UFSet is the set of Brazilian state codes (26 states + Distrito Federal).
var UFSet = map[string]struct{}{
	"AC": {}, "AL": {}, "AP": {}, "AM": {}, "BA": {}, "CE": {},
	"DF": {}, "ES": {}, "GO": {}, "MA": {}, "MT": {}, "MS": {},
	"MG": {}, "PA": {}, "PB": {}, "PR": {}, "PE": {}, "PI": {},
	"RJ": {}, "RN": {}, "RS": {}, "RO": {}, "RR": {}, "SC": {},
	"SP": {}, "SE": {}, "TO": {},
}

type stateName struct {
	name string
	uf   string
}

// stateNames maps accent-stripped full state names to their UF code.
// Ordered longest-prefix first so "PARANA" never matches "PARA".
var stateNames = []stateName{
	{"RIO GRANDE DO NORTE", "RN"},
	{"RIO GRANDE DO SUL", "RS"},
	{"MATO GROSSO DO SUL", "MS"},
	{"DISTRITO FEDERAL", "DF"},
	{"RIO DE JANEIRO", "RJ"},
	{"SANTA CATARINA", "SC"},
	{"ESPIRITO SANTO", "ES"},
	{"MINAS GERAIS", "MG"},
	{"MATO GROSSO", "MT"},
	{"PERNAMBUCO", "PE"},
	{"SAO PAULO", "SP"},
	{"TOCANTINS", "TO"},
	{"AMAZONAS", "AM"},
	{"MARANHAO", "MA"},
	{"RONDONIA", "RO"},
	{"ALAGOAS", "AL"},
	{"PARAIBA", "PB"},
	{"RORAIMA", "RR"},
	{"SERGIPE", "SE"},
	{"PARANA", "PR"},
	{"BAHIA", "BA"},
	{"CEARA", "CE"},
	{"GOIAS", "GO"},
	{"PIAUI", "PI"},
	{"AMAPA", "AP"},
	{"ACRE", "AC"},
	{"PARA", "PA"},
}

var (
	nonDigits   = regexp.MustCompile(`\D`)
	cityPrefix  = regexp.MustCompile(`(?i)^(moro em|sou de|sou da cidade de|sou da|sou do|vivo em|vivo na|vivo no|moro na|moro no)\s+`)
	accentStrip = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// StripAccents removes combining marks, so "Paraná" becomes "Parana".
func StripAccents(s string) string {
	out, _, err := transform.String(accentStrip, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeCPF strips formatting and returns the bare 11 digits, or "" when
// the input is not a plausible CPF. All-equal digit sequences (111.111.111-11
// and friends) are rejected.
func NormalizeCPF(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) != 11 {
		return ""
	}
	allEqual := true
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			allEqual = false
			break
		}
	}
	if allEqual {
		return ""
	}
	return digits
}

// NormalizePhone extracts the digits of a Brazilian mobile number and
// formats them as "+55 DD XXXXX-XXXX". Returns "" when the input doesn't
// contain a plausible number.
func NormalizePhone(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")

	// Drop a leading country code when present ("5541999380969").
	if strings.HasPrefix(digits, "55") && len(digits) > 11 {
		digits = digits[2:]
	}

	// Mobile with area code: 11 digits.
	if len(digits) != 11 {
		return ""
	}

	ddd := digits[:2]
	num := digits[2:]
	return "+55 " + ddd + " " + num[:5] + "-" + num[5:]
}

// NormalizeCityState extracts (city, uf) from free text. Accepted shapes:
// "Londrina/PR", "moro em Londrina/PARANÁ", "Londrina PR", or just the city
// name, in which case uf is "".
func NormalizeCityState(raw string) (string, string) {
	text := strings.TrimSpace(raw)
	text = strings.TrimSpace(cityPrefix.ReplaceAllString(text, ""))

	if city, state, found := strings.Cut(text, "/"); found {
		cityName := titleCase(strings.TrimSpace(city))
		return cityName, lookupUF(state)
	}

	// No slash: try a trailing UF code ("Londrina PR").
	words := strings.Fields(text)
	if len(words) >= 2 {
		last := strings.ToUpper(words[len(words)-1])
		if _, ok := UFSet[last]; ok {
			return titleCase(strings.Join(words[:len(words)-1], " ")), last
		}
	}

	return titleCase(text), ""
}

// LookupUF resolves a state given as a code or a full name, scanning phrases
// like "sou do Paraná" for either. Returns "" when nothing matches.
func LookupUF(raw string) string {
	if uf := lookupUF(raw); uf != "" {
		return uf
	}

	// Last resort: a bare two-letter code anywhere in the phrase.
	for _, word := range strings.Fields(strings.ToUpper(strings.TrimSpace(raw))) {
		if _, ok := UFSet[word]; ok && len(word) == 2 {
			return word
		}
	}
	return ""
}

func lookupUF(raw string) string {
	clean := strings.ToUpper(strings.TrimSpace(StripAccents(raw)))
	if _, ok := UFSet[clean]; ok && len(clean) == 2 {
		return clean
	}
	for _, entry := range stateNames {
		if strings.Contains(clean, entry.name) {
			return entry.uf
		}
	}
	return ""
}

// NormalizeProfile buckets free-text answers into the standard profile set,
// falling back to the title-cased input.
func NormalizeProfile(raw string) string {
	text := strings.ToLower(strings.TrimSpace(raw))

	switch {
	case containsAny(text, "produtor", "fazenda", "fazendeiro"):
		return "Produtor rural"
	case containsAny(text, "pesquisador", "professor", "academia", "pesquisa"):
		return "Pesquisador(a)"
	case containsAny(text, "empresa", "expositor", "indústria", "industria"):
		return "Empresa/Expositor"
	case containsAny(text, "consultor", "consultoria"):
		return "Consultor(a)"
	case containsAny(text, "estudante", "aluno", "universidade"):
		return "Estudante"
	}

	return titleCase(strings.TrimSpace(raw))
}

// IsValidEmail checks the syntactic shape: something@domain.tld.
func IsValidEmail(email string) bool {
	local, domain, found := strings.Cut(email, "@")
	return found && local != "" && strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Package issuer resolves which distribution company issued a contract.
// Resolution tries explicit labels first, then the address reference table,
// then a global name match, so every document ends up with some issuer key
// even if only a low-confidence one.
package issuer

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// Method records which resolution path produced the issuer.
type Method string

const (
	MethodLabelled Method = "labelled"
	MethodAddress  Method = "address"
	MethodName     Method = "name"
	MethodUnknown  Method = "unknown"
)

const (
	confidenceLabelled = 0.95
	confidenceAddress  = 0.80
	confidenceName     = 0.60
	confidenceUnknown  = 0.30
)

// UnknownIssuer is assigned when no resolution path matches.
const UnknownIssuer = "DESCONHECIDA"

// knownDistributors maps a normalized match token to the canonical issuer key.
// Longer tokens are tried first so "CPFL PAULISTA" beats "CPFL".
var knownDistributors = []struct {
	token string
	key   string
}{
	{"CEMIG DISTRIBUICAO", "CEMIG"},
	{"CPFL PAULISTA", "CPFL_PAULISTA"},
	{"CPFL PIRATININGA", "CPFL_PIRATININGA"},
	{"ENEL DISTRIBUICAO SAO PAULO", "ENEL_SP"},
	{"ENEL DISTRIBUICAO RIO", "ENEL_RJ"},
	{"ENEL DISTRIBUICAO CEARA", "ENEL_CE"},
	{"ENERGISA MINAS GERAIS", "ENERGISA_MG"},
	{"ENERGISA MATO GROSSO", "ENERGISA_MT"},
	{"EQUATORIAL MARANHAO", "EQUATORIAL_MA"},
	{"EQUATORIAL PARA", "EQUATORIAL_PA"},
	{"NEOENERGIA PERNAMBUCO", "CELPE"},
	{"NEOENERGIA COELBA", "COELBA"},
	{"CEMIG", "CEMIG"},
	{"COPEL", "COPEL"},
	{"CELESC", "CELESC"},
	{"COELBA", "COELBA"},
	{"CELPE", "CELPE"},
	{"COSERN", "COSERN"},
	{"LIGHT", "LIGHT"},
	{"ELEKTRO", "ELEKTRO"},
	{"ENERGISA", "ENERGISA"},
	{"EQUATORIAL", "EQUATORIAL"},
	{"NEOENERGIA", "NEOENERGIA"},
	{"CPFL", "CPFL_PAULISTA"},
	{"ENEL", "ENEL_SP"},
	{"EDP SAO PAULO", "EDP_SP"},
	{"EDP ESPIRITO SANTO", "EDP_ES"},
}

// addressTable maps a normalized "CITY/UF" concession-area key to its issuer.
// The table is deliberately small; it only needs to cover the corpus.
var addressTable = map[string]string{
	"BELO HORIZONTE/MG": "CEMIG",
	"CONTAGEM/MG":       "CEMIG",
	"UBERLANDIA/MG":     "CEMIG",
	"SAO PAULO/SP":      "ENEL_SP",
	"CAMPINAS/SP":       "CPFL_PAULISTA",
	"SOROCABA/SP":       "CPFL_PIRATININGA",
	"RIO DE JANEIRO/RJ": "LIGHT",
	"NITEROI/RJ":        "ENEL_RJ",
	"CURITIBA/PR":       "COPEL",
	"FLORIANOPOLIS/SC":  "CELESC",
	"SALVADOR/BA":       "COELBA",
	"RECIFE/PE":         "CELPE",
	"NATAL/RN":          "COSERN",
	"FORTALEZA/CE":      "ENEL_CE",
	"SAO LUIS/MA":       "EQUATORIAL_MA",
	"BELEM/PA":          "EQUATORIAL_PA",
	"CUIABA/MT":         "ENERGISA_MT",
	"VITORIA/ES":        "EDP_ES",
}

var (
	labelPattern   = regexp.MustCompile(`(?i)(?:distribuidora|concession[aá]ria|emitente)\s*[:\-]\s*([^\n]{3,80})`)
	cityUFPattern  = regexp.MustCompile(`([A-ZÀ-Ú][A-Za-zÀ-ú ]{2,40})\s*[-/]\s*([A-Z]{2})\b`)
	diacriticsFold = strings.NewReplacer(
		"Á", "A", "À", "A", "Â", "A", "Ã", "A", "Ä", "A",
		"É", "E", "Ê", "E", "È", "E",
		"Í", "I", "Î", "I",
		"Ó", "O", "Ô", "O", "Õ", "O", "Ö", "O",
		"Ú", "U", "Û", "U", "Ü", "U",
		"Ç", "C",
		"á", "A", "à", "A", "â", "A", "ã", "A", "ä", "A",
		"é", "E", "ê", "E", "è", "E",
		"í", "I", "î", "I",
		"ó", "O", "ô", "O", "õ", "O", "ö", "O",
		"ú", "U", "û", "U", "ü", "U",
		"ç", "C",
	)
)

// Normalize uppercases, folds diacritics and collapses whitespace.
func Normalize(s string) string {
	folded := diacriticsFold.Replace(s)
	upper := strings.ToUpper(folded)
	return strings.Join(strings.Fields(upper), " ")
}

// Result is one resolved issuer.
type Result struct {
	Issuer     string
	Method     Method
	Confidence float64
}

// Classifier resolves issuers with a small per-run cache keyed by file path.
type Classifier struct {
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]Result
}

func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		logger: logger,
		cache:  make(map[string]Result),
	}
}

// Resolve determines the issuer of a document given its path (cache key) and
// extracted text.
func (c *Classifier) Resolve(path, text string) Result {
	c.mu.RLock()
	if cached, ok := c.cache[path]; ok {
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	result := c.resolve(text)

	c.mu.Lock()
	c.cache[path] = result
	c.mu.Unlock()

	c.logger.Debug("issuer resolved",
		"file", path,
		"issuer", result.Issuer,
		"method", result.Method,
		"confidence", result.Confidence,
	)
	return result
}

func (c *Classifier) resolve(text string) Result {
	if issuer, ok := fromLabel(text); ok {
		return Result{Issuer: issuer, Method: MethodLabelled, Confidence: confidenceLabelled}
	}
	if issuer, ok := fromAddress(text); ok {
		return Result{Issuer: issuer, Method: MethodAddress, Confidence: confidenceAddress}
	}
	if issuer, ok := fromName(text); ok {
		return Result{Issuer: issuer, Method: MethodName, Confidence: confidenceName}
	}
	return Result{Issuer: UnknownIssuer, Method: MethodUnknown, Confidence: confidenceUnknown}
}

// fromLabel matches explicitly labelled issuer lines.
func fromLabel(text string) (string, bool) {
	for _, m := range labelPattern.FindAllStringSubmatch(text, 5) {
		if issuer, ok := matchDistributor(m[1]); ok {
			return issuer, true
		}
	}
	return "", false
}

// fromAddress looks up CITY/UF pairs in the concession-area table. Only the
// opening of the document is scanned; party addresses appear up front.
func fromAddress(text string) (string, bool) {
	head := text
	if len(head) > 4000 {
		head = head[:4000]
	}
	for _, m := range cityUFPattern.FindAllStringSubmatch(head, 20) {
		key := Normalize(m[1]) + "/" + m[2]
		if issuer, ok := addressTable[key]; ok {
			return issuer, true
		}
	}
	return "", false
}

// fromName scans the whole text for any known distributor name.
func fromName(text string) (string, bool) {
	return matchDistributor(text)
}

func matchDistributor(s string) (string, bool) {
	normalized := Normalize(s)
	for _, d := range knownDistributors {
		if strings.Contains(normalized, d.token) {
			return d.key, true
		}
	}
	return "", false
}

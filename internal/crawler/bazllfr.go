package crawler

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/skyspy/flightradar-go/internal/datastore"
	"github.com/skyspy/flightradar-go/internal/modes"
)

// manufacturerReplacements maps the registry's verbose legal entity names
// to the common manufacturer names.
var manufacturerReplacements = map[string]string{
	"C SERIES AIRCRAFT LIMITED PARTNERSHIP": "Bombardier",
	"REIMS AVIATION S.A.":                   "Cessna (Reims)",
	"AIRBUS S.A.S.":                         "Airbus",
	"AIRBUS INDUSTRIE":                      "Airbus",
	"CESSNA AIRCRAFT COMPANY":               "Cessna",
	"AGUSTAWESTLAND S.P.A.":                 "Agusta Westland",
	"THE BOEING COMPANY":                    "Boeing",
	"ROBINSON HELICOPTER COMPANY":           "Robinson",
	"PILATUS AIRCRAFT LTD.":                 "Pilatus",
}

// BazlLFR queries the Swiss federal aircraft registry (BAZL
// Luftfahrzeugregister). It only answers for addresses out of the Swiss
// ICAO allocation block.
type BazlLFR struct {
	baseURL string
	client  *http.Client
}

// NewBazlLFR returns a BAZL registry source.
func NewBazlLFR() *BazlLFR {
	return &BazlLFR{
		baseURL: "https://app02.bazl.admin.ch",
		client:  &http.Client{Timeout: sourceTimeout},
	}
}

func (b *BazlLFR) Name() string { return "bazl-lfr" }

func (b *BazlLFR) Accept(icao24 string) bool { return modes.IsSwiss(icao24) }

type bazlQuery struct {
	ICAO           string   `json:"icao"`
	AircraftStatus []string `json:"aircraftStatus"`
}

type bazlRequest struct {
	CurrentPageNumber int       `json:"current_page_number"`
	Language          string    `json:"language"`
	PageResultLimit   int       `json:"page_result_limit"`
	SortList          string    `json:"sort_list"`
	Query             bazlQuery `json:"query"`
	QueryProperties   bazlQuery `json:"queryProperties"`
}

type bazlAircraft struct {
	Registration      string `json:"registration"`
	ICAOCode          string `json:"icaoCode"`
	Manufacturer      string `json:"manufacturer"`
	AircraftModelType string `json:"aircraftModelType"`
	Details           struct {
		Marketing string `json:"marketing"`
	} `json:"details"`
	OwnerOperators []struct {
		OwnerOperator  string `json:"ownerOperator"`
		HolderCategory struct {
			CategoryNames struct {
				De string `json:"de"`
			} `json:"categoryNames"`
		} `json:"holderCategory"`
	} `json:"ownerOperators"`
}

// Lookup posts a registry search for one address. An empty result set means
// the address is not registered and is not an error.
func (b *BazlLFR) Lookup(icao24 string) (*datastore.Aircraft, error) {
	query := bazlQuery{ICAO: icao24, AircraftStatus: []string{"Registered"}}
	request := bazlRequest{
		CurrentPageNumber: 1,
		Language:          "en",
		PageResultLimit:   10,
		SortList:          "registration",
		Query:             query,
		QueryProperties:   query,
	}

	var records []bazlAircraft
	url := b.baseURL + "/web/bazl-backend/lfr"
	if err := postJSON(b.client, b.Name(), url, request, &records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	record := records[0]
	manufacturer := record.Manufacturer
	if replacement, ok := manufacturerReplacements[manufacturer]; ok {
		manufacturer = replacement
	}
	manufacturer = titleIfUpper(manufacturer)
	model := titleIfUpper(record.AircraftModelType)

	// the operator is the registered main holder (Haupthalter)
	var operator string
	for _, op := range record.OwnerOperators {
		if strings.Contains(op.HolderCategory.CategoryNames.De, "Haupthalter") {
			operator = op.OwnerOperator
		}
	}
	operator = titleIfUpper(operator)

	typeName := strings.TrimSpace(manufacturer + " " + model)
	if marketing := record.Details.Marketing; marketing != "" && marketing != "N/A" {
		typeName += " (" + titleIfUpper(marketing) + ")"
	}

	return &datastore.Aircraft{
		ICAO24:       strings.ToUpper(icao24),
		Registration: record.Registration,
		TypeCode:     record.ICAOCode,
		TypeName:     typeName,
		Operator:     operator,
		Source:       b.Name(),
	}, nil
}

// titleIfUpper converts an all-uppercase registry string to title case and
// leaves mixed-case values alone.
func titleIfUpper(s string) string {
	if s != strings.ToUpper(s) || s == strings.ToLower(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range strings.ToLower(s) {
		isLetter := unicode.IsLetter(r)
		if isLetter && !prevLetter {
			r = unicode.ToUpper(r)
		}
		b.WriteRune(r)
		prevLetter = isLetter
	}
	return b.String()
}

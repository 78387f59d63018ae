package crawler

import (
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBazlLFRAccept(t *testing.T) {
	src := NewBazlLFR()

	assert.True(t, src.Accept("4b1805"))
	assert.True(t, src.Accept("4B7000"))
	assert.False(t, src.Accept("4840D6"))
	assert.False(t, src.Accept("AE0123"))
}

func TestBazlLFRLookup(t *testing.T) {
	src := NewBazlLFR()
	httpmock.ActivateNonDefault(src.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://app02.bazl.admin.ch/web/bazl-backend/lfr",
		httpmock.NewJsonResponderOrPanic(200, []map[string]any{{
			"registration":      "HB-JCA",
			"icaoCode":          "BCS3",
			"manufacturer":      "C SERIES AIRCRAFT LIMITED PARTNERSHIP",
			"aircraftModelType": "BD-500-1A11",
			"details":           map[string]any{"marketing": "A220-300"},
			"ownerOperators": []map[string]any{
				{
					"ownerOperator": "SOME LEASING COMPANY",
					"holderCategory": map[string]any{
						"categoryNames": map[string]any{"de": "Eigentümer"},
					},
				},
				{
					"ownerOperator": "SWISS INTERNATIONAL AIR LINES LTD.",
					"holderCategory": map[string]any{
						"categoryNames": map[string]any{"de": "Haupthalter"},
					},
				},
			},
		}}))

	aircraft, err := src.Lookup("4b1805")
	require.NoError(t, err)
	require.NotNil(t, aircraft)
	assert.Equal(t, "4B1805", aircraft.ICAO24)
	assert.Equal(t, "HB-JCA", aircraft.Registration)
	assert.Equal(t, "BCS3", aircraft.TypeCode)
	assert.Equal(t, "Bombardier Bd-500-1A11 (A220-300)", aircraft.TypeName)
	assert.Equal(t, "Swiss International Air Lines Ltd.", aircraft.Operator)
	assert.Equal(t, "bazl-lfr", aircraft.Source)
}

func TestBazlLFRLookupUnregistered(t *testing.T) {
	src := NewBazlLFR()
	httpmock.ActivateNonDefault(src.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://app02.bazl.admin.ch/web/bazl-backend/lfr",
		httpmock.NewJsonResponderOrPanic(200, []map[string]any{}))

	aircraft, err := src.Lookup("4b9999")
	require.NoError(t, err)
	assert.Nil(t, aircraft)
}

func TestTitleIfUpper(t *testing.T) {
	assert.Equal(t, "Pilatus", titleIfUpper("PILATUS"))
	assert.Equal(t, "Swiss International Air Lines Ltd.", titleIfUpper("SWISS INTERNATIONAL AIR LINES LTD."))
	assert.Equal(t, "Cessna (Reims)", titleIfUpper("Cessna (Reims)"))
	assert.Equal(t, "A220-300", titleIfUpper("A220-300"))
	assert.Equal(t, "", titleIfUpper(""))
}

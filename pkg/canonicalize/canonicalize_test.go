package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havbruk/aquahist/pkg/permit"
)

func TestJSON_SortedCompact(t *testing.T) {
	r := permit.Record{
		"NAVN":    "Havbruk AS",
		"TILL_NR": "H-F-0920",
		"LOK_NR":  "12345",
	}
	got, err := JSON(r)
	require.NoError(t, err)
	assert.Equal(t, `{"LOK_NR":"12345","NAVN":"Havbruk AS","TILL_NR":"H-F-0920"}`, got)
}

func TestJSON_NullMarkersBecomeNull(t *testing.T) {
	for _, marker := range []string{"", "   ", "nan", "NaN", "None", "NULL", " null "} {
		got, err := JSON(permit.Record{"FELT": marker})
		require.NoError(t, err)
		assert.Equal(t, `{"FELT":null}`, got, "marker %q", marker)
	}
}

func TestJSON_TrimsKeysAndValues(t *testing.T) {
	got, err := JSON(permit.Record{" NAVN ": "  Havbruk AS  "})
	require.NoError(t, err)
	assert.Equal(t, `{"NAVN":"Havbruk AS"}`, got)
}

func TestJSON_NoHTMLEscaping(t *testing.T) {
	got, err := JSON(permit.Record{"NAVN": "Fisk & Vilt <AS>"})
	require.NoError(t, err)
	assert.Equal(t, `{"NAVN":"Fisk & Vilt <AS>"}`, got)
}

func TestHashRecord_StableUnderNoise(t *testing.T) {
	a := permit.Record{"TILL_NR": "H-F-0920", "NAVN": "Havbruk AS", "MERK": ""}
	b := permit.Record{"TILL_NR": " H-F-0920 ", "NAVN": "Havbruk AS  ", "MERK": "nan"}

	_, ha, err := HashRecord(a)
	require.NoError(t, err)
	_, hb, err := HashRecord(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "whitespace and null-marker noise must not change the hash")
}

func TestHashRecord_ChangesWithContent(t *testing.T) {
	a := permit.Record{"TILL_NR": "H-F-0920", "NAVN": "Havbruk AS"}
	b := permit.Record{"TILL_NR": "H-F-0920", "NAVN": "Laksefjord AS"}

	_, ha, err := HashRecord(a)
	require.NoError(t, err)
	_, hb, err := HashRecord(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestCleanRecord(t *testing.T) {
	got := CleanRecord(permit.Record{
		" NAVN ":  " Havbruk AS ",
		"TOM":     "",
		"MARKER":  "none",
		"TILL_NR": "H-F-0920",
	})
	assert.Equal(t, permit.Record{"NAVN": "Havbruk AS", "TILL_NR": "H-F-0920"}, got)
}

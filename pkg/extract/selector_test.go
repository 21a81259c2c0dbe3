package extract

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havbruk/aquahist/pkg/permit"
)

func row(key, lokNr, lokNavn string) permit.Record {
	return permit.Record{
		permit.KeyCol: key,
		"LOK_NR":      lokNr,
		"LOK_NAVN":    lokNavn,
	}
}

func TestSelectRepresentative_LowestLocalityWins(t *testing.T) {
	rows := []permit.Record{
		row("H F 0920", "12345", "Indre Vik"),
		row("H F 0920", "12001", "Ytre Vik"),
		row("H F 0920", "13000", "Nordvik"),
	}
	chosen := SelectRepresentative(rows)
	require.Len(t, chosen, 1)
	assert.Equal(t, "Ytre Vik", chosen["H-F-0920"].Clean("LOK_NAVN"))
}

func TestSelectRepresentative_UnparseableLocalitySortsLast(t *testing.T) {
	rows := []permit.Record{
		row("H F 0920", "ukjent", "A"),
		row("H F 0920", "", "B"),
		row("H F 0920", "99999", "C"),
	}
	chosen := SelectRepresentative(rows)
	assert.Equal(t, "C", chosen["H-F-0920"].Clean("LOK_NAVN"))
}

func TestSelectRepresentative_SpreadsheetFloatSuffix(t *testing.T) {
	rows := []permit.Record{
		row("H F 0920", "12345.0", "A"),
		row("H F 0920", "12346", "B"),
	}
	chosen := SelectRepresentative(rows)
	assert.Equal(t, "A", chosen["H-F-0920"].Clean("LOK_NAVN"))
}

func TestSelectRepresentative_StringTieBreakers(t *testing.T) {
	a := row("H F 0920", "12345", "Indre Vik")
	b := row("H F 0920", "12345", "Ytre Vik")
	chosen := SelectRepresentative([]permit.Record{b, a})
	assert.Equal(t, "Indre Vik", chosen["H-F-0920"].Clean("LOK_NAVN"))
}

func TestSelectRepresentative_SkipsRowsWithoutKey(t *testing.T) {
	rows := []permit.Record{
		row("", "1", "A"),
		row("   ", "2", "B"),
		row("N T 0001", "3", "C"),
	}
	chosen := SelectRepresentative(rows)
	require.Len(t, chosen, 1)
	assert.Contains(t, chosen, "N-T-0001")
}

// Input order must never influence which row represents a permit.
func TestSelectRepresentative_OrderInvariant(t *testing.T) {
	rows := []permit.Record{
		row("H F 0920", "12345", "Indre Vik"),
		row("H F 0920", "12001", "Ytre Vik"),
		row("N T 0001", "abc", "A"),
		row("N T 0001", "", "B"),
		row("N T 0001", "500", "C"),
		row("H R 0001", "7", "X"),
	}

	want := SelectRepresentative(rows)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := make([]permit.Record, len(rows))
		copy(shuffled, rows)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := SelectRepresentative(shuffled)
		assert.Equal(t, want, got)
	}
}

package extract

import (
	"strconv"
	"strings"

	"github.com/havbruk/aquahist/pkg/permit"
)

// An extract routinely carries several rows per permit (one per locality).
// The snapshot store needs exactly one row per permit per day, chosen the
// same way on every run regardless of input order — otherwise content
// hashing would spuriously detect change. Rows are ranked by a composite
// key over fixed tie-break fields; the smallest key wins.

// repRankFields are the string tie-breakers applied after the locality
// number, in priority order.
var repRankFields = []string{
	"LOK_KOMNR",
	"LOK_NAVN",
	"LOK_PLASS",
	"VANNMILJØ",
	"N_GEOWGS84",
	"Ø_GEOWGS84",
}

// lokNrLast sorts rows with an empty or non-numeric locality number after
// every parseable one.
const lokNrLast = int64(1) << 62

// lokNrRank parses a locality number leniently. Values exported through
// spreadsheet tooling sometimes arrive as "12345.0"; a trailing ".0" is
// stripped before parsing. Unparseable input ranks last, never errors.
func lokNrRank(v string) int64 {
	s := strings.TrimSpace(v)
	if s == "" {
		return lokNrLast
	}
	s = strings.TrimSuffix(s, ".0")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return lokNrLast
	}
	return n
}

type repRank struct {
	lokNr int64
	rest  [6]string
}

func rankOf(r permit.Record) repRank {
	k := repRank{lokNr: lokNrRank(r.Clean("LOK_NR"))}
	for i, f := range repRankFields {
		k.rest[i] = r.Clean(f)
	}
	return k
}

// less is a total order over ranks; ties leave the earlier selection in
// place, which is stable because ranks over identical content are identical.
func (a repRank) less(b repRank) bool {
	if a.lokNr != b.lokNr {
		return a.lokNr < b.lokNr
	}
	for i := range a.rest {
		if a.rest[i] != b.rest[i] {
			return a.rest[i] < b.rest[i]
		}
	}
	return false
}

// SelectRepresentative reduces raw rows to one representative row per
// normalized permit key. Rows without a permit key are skipped.
func SelectRepresentative(rows []permit.Record) map[string]permit.Record {
	chosen := make(map[string]permit.Record)
	ranks := make(map[string]repRank)

	for _, r := range rows {
		key := permit.NormalizeKey(r.Clean(permit.KeyCol))
		if key == "" {
			continue
		}
		rank := rankOf(r)
		if prev, ok := ranks[key]; ok && !rank.less(prev) {
			continue
		}
		ranks[key] = rank
		chosen[key] = r
	}
	return chosen
}

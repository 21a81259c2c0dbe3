package reconcile

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/havbruk/aquahist/pkg/permit"
)

// writeExtractFile writes a minimal one-permit extract for isoDate, with
// owner given as "orgnr;name".
func writeExtractFile(t *testing.T, dir, isoDate, owner string) {
	t.Helper()
	d, err := permit.ParseDate(isoDate)
	require.NoError(t, err)

	content := fmt.Sprintf("AKVAKULTURTILLATELSER PR. %s\n%s;%s;%s\nH-F-0920;%s\n",
		dmy(d), permit.KeyCol, permit.OwnerOrgCol, permit.OwnerNameCol, owner)
	path := filepath.Join(dir, isoDate+"-akvakulturtillatelser.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func dmy(d permit.Date) string {
	iso := d.String()
	return iso[8:10] + "-" + iso[5:7] + "-" + iso[0:4]
}

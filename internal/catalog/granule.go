package catalog

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Granule is one orbit-segment product file as listed by the catalog.
type Granule struct {
	// ID is the producer granule ID (the catalog entry title).
	ID string
	// DataLinks are the download URLs for the granule's file, primary
	// link first.
	DataLinks []string
}

// PrimaryLink returns the granule's first data link.
func (g Granule) PrimaryLink() (string, error) {
	if len(g.DataLinks) == 0 {
		return "", fmt.Errorf("catalog: granule %q has no data links", g.ID)
	}
	return g.DataLinks[0], nil
}

// DateToken extracts the YYYYMMDD token embedded in the primary link's
// filename. Granule filenames look like
// SNDR.J1.CRIMSS.20191009T2354.m06.g240.L2_CLIMCAPS_RET.std.v02_28.G.200215102526.nc;
// the date is the first 8 characters of the 4th dot-delimited segment.
func (g Granule) DateToken() (string, error) {
	link, err := g.PrimaryLink()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("catalog: granule %q: bad data link: %w", g.ID, err)
	}
	name := path.Base(u.Path)
	segs := strings.Split(name, ".")
	if len(segs) < 4 || len(segs[3]) < 8 {
		return "", fmt.Errorf("catalog: no date token in granule filename %q", name)
	}
	return segs[3][:8], nil
}

package catalog

import (
	"fmt"
	"sort"
)

// climcapsShortNames maps platform keys to the catalog's product short
// names for the CLIMCAPS level-2 retrieval collections.
var climcapsShortNames = map[string]string{
	"snpp-normal": "SNDRSNIML2CCPRETN",
	"snpp-full":   "SNDRSNIML2CCPRET",
	"jpss1":       "SNDRJ1IML2CCPRET",
}

// ShortName returns the product short name for a platform key.
func ShortName(platform string) (string, error) {
	sn, ok := climcapsShortNames[platform]
	if !ok {
		return "", fmt.Errorf("catalog: unknown platform %q (have %v)", platform, Platforms())
	}
	return sn, nil
}

// Platforms lists the known platform keys in sorted order.
func Platforms() []string {
	ps := make([]string, 0, len(climcapsShortNames))
	for p := range climcapsShortNames {
		ps = append(ps, p)
	}
	sort.Strings(ps)
	return ps
}

package scrape

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var offsetOnclickRE = regexp.MustCompile(`v=(-?\d+)`)

// DiscoverOffsets extracts the sorted, deduplicated set of week offsets
// navigable from baseWeekHTML: every anchor whose onclick
// attribute contains a `v=N` reference contributes one offset.
func DiscoverOffsets(baseWeekHTML string) ([]int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(baseWeekHTML))
	if err != nil {
		return nil, err
	}

	seen := map[int]bool{}
	doc.Find("a[onclick]").Each(func(_ int, s *goquery.Selection) {
		onclick, _ := s.Attr("onclick")
		m := offsetOnclickRE.FindStringSubmatch(onclick)
		if m == nil {
			return
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}
		seen[n] = true
	})

	offsets := make([]int, 0, len(seen))
	for n := range seen {
		offsets = append(offsets, n)
	}
	sort.Ints(offsets)
	return offsets, nil
}

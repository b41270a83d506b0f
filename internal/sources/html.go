package sources

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"fabricsync/internal"
	"fabricsync/internal/util"
)

// maxColspan bounds blank padding for a malformed colspan attribute.
const maxColspan = 50

// HTMLGrid turns the tableIndex-th <table> of an HTML document into a grid,
// one row per <tr> and one cell per <th>/<td>. Rows of nested tables belong
// to the nested table only.
func HTMLGrid(body []byte, tableIndex int) (internal.Grid, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &internal.SourceUnavailableError{Source: "html", Err: err}
	}

	tables := doc.Find("table")
	if tableIndex < 0 || tableIndex >= tables.Length() {
		return nil, &internal.SourceFormatError{
			Source: "html",
			Reason: fmt.Sprintf("table #%d not found", tableIndex),
			Found:  describeTables(tables),
		}
	}
	table := tables.Eq(tableIndex)

	grid := internal.Grid{}
	table.Find("tr").FilterFunction(func(_ int, row *goquery.Selection) bool {
		return row.Closest("table").IsSelection(table)
	}).Each(func(_ int, row *goquery.Selection) {
		cells := []string{}
		row.ChildrenFiltered("th,td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, util.NormalizeSpaces(util.CleanSpaces(cell.Text())))
			if span, err := strconv.Atoi(strings.TrimSpace(cell.AttrOr("colspan", "1"))); err == nil && span > 1 {
				if span > maxColspan {
					span = maxColspan
				}
				for i := 1; i < span; i++ {
					cells = append(cells, "")
				}
			}
		})
		grid = append(grid, cells)
	})
	return grid, nil
}

func describeTables(tables *goquery.Selection) []string {
	out := []string{}
	tables.Each(func(i int, t *goquery.Selection) {
		label := fmt.Sprintf("table[%d]", i)
		if id, ok := t.Attr("id"); ok && id != "" {
			label += "#" + id
		}
		label += fmt.Sprintf(" (%d rows)", t.Find("tr").Length())
		out = append(out, label)
	})
	return out
}

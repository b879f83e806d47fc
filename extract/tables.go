package extract

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/civic-crawler/models"
	"github.com/aluiziolira/civic-crawler/parser"
)

// extractTables keeps up to maxTables tables with at least one data row.
// Header cells come from the first row holding th elements; unnamed
// columns are numbered.
func extractTables(doc *parser.Document, maxTables, maxRows int) []models.Table {
	var tables []models.Table
	doc.Doc.Find("table").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if maxTables > 0 && len(tables) >= maxTables {
			return false
		}
		if t, ok := readTable(sel, maxRows); ok {
			tables = append(tables, t)
		}
		return true
	})
	return tables
}

func readTable(sel *goquery.Selection, maxRows int) (models.Table, bool) {
	t := models.Table{Caption: parser.NormalizeSpace(sel.ChildrenFiltered("caption").Text())}

	rows := sel.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(sel)
	})

	headerRow := -1
	rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if tr.ChildrenFiltered("th").Length() > 0 && tr.ChildrenFiltered("td").Length() == 0 {
			tr.ChildrenFiltered("th").Each(func(_ int, th *goquery.Selection) {
				t.Headers = append(t.Headers, parser.NormalizeSpace(th.Text()))
			})
			headerRow = i
			return false
		}
		return true
	})

	rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if i == headerRow {
			return true
		}
		if maxRows > 0 && len(t.Rows) >= maxRows {
			return false
		}
		cells := tr.ChildrenFiltered("td, th")
		if cells.Length() == 0 {
			return true
		}
		row := make(map[string]string, cells.Length())
		empty := true
		cells.Each(func(j int, cell *goquery.Selection) {
			v := parser.NormalizeSpace(cell.Text())
			if v != "" {
				empty = false
			}
			row[columnName(t.Headers, j)] = v
		})
		if !empty {
			t.Rows = append(t.Rows, row)
		}
		return true
	})

	if len(t.Rows) == 0 {
		return t, false
	}
	if len(t.Headers) == 0 {
		width := 0
		for _, r := range t.Rows {
			width = max(width, len(r))
		}
		for j := 0; j < width; j++ {
			t.Headers = append(t.Headers, columnName(nil, j))
		}
	}
	return t, true
}

func columnName(headers []string, i int) string {
	if i < len(headers) && headers[i] != "" {
		return headers[i]
	}
	return fmt.Sprintf("column_%d", i+1)
}

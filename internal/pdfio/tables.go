package pdfio

import (
	"sort"
	"strings"
)

const (
	cellGap         = 18.0 // points; a horizontal gap this wide splits cells
	minGridRows     = 2
	minCellsPerRow  = 2
	densityBuckets  = 12
)

// Cell is one reconstructed table cell.
type Cell struct {
	Text string
	X    float64
	Y    float64
}

// TableGrid is a block of consecutive multi-cell rows on one page.
type TableGrid struct {
	Page int
	Rows [][]Cell
}

// Tables returns the table grids of one page (1-based), building them on
// first access and caching the result on the document.
func (d *Document) Tables(page int) []TableGrid {
	if page < 1 || page > len(d.pages) {
		return nil
	}
	pd := &d.pages[page-1]
	if !pd.gridsOK {
		pd.grids = buildGrids(page, pd.elements)
		pd.gridsOK = true
	}
	return pd.grids
}

// HasTables reports whether any text-extracted page contains a table grid.
func (d *Document) HasTables() bool {
	for i := 1; i <= len(d.pages); i++ {
		if len(d.Tables(i)) > 0 {
			return true
		}
	}
	return false
}

// Find scans the grid for a cell whose text contains any of the label
// keywords (case-insensitive) and returns the adjacent value: the next cell
// to the right, or the same-column cell on the next row.
func (g *TableGrid) Find(labels ...string) (string, bool) {
	for ri, row := range g.Rows {
		for ci, cell := range row {
			if !matchesLabel(cell.Text, labels) {
				continue
			}
			if ci+1 < len(row) && strings.TrimSpace(row[ci+1].Text) != "" {
				return strings.TrimSpace(row[ci+1].Text), true
			}
			if ri+1 < len(g.Rows) {
				if below, ok := cellNear(g.Rows[ri+1], cell.X); ok {
					return below, true
				}
			}
		}
	}
	return "", false
}

func matchesLabel(text string, labels []string) bool {
	lower := strings.ToLower(text)
	for _, label := range labels {
		if strings.Contains(lower, strings.ToLower(label)) {
			return true
		}
	}
	return false
}

func cellNear(row []Cell, x float64) (string, bool) {
	best := -1
	bestDist := cellGap * 3
	for i, c := range row {
		dist := c.X - x
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	if best < 0 || strings.TrimSpace(row[best].Text) == "" {
		return "", false
	}
	return strings.TrimSpace(row[best].Text), true
}

// buildGrids groups positioned runs into rows by Y tolerance, splits rows
// into cells on wide X gaps, and collects runs of consecutive multi-cell
// rows into grids.
func buildGrids(page int, elements []TextElement) []TableGrid {
	if len(elements) < minGridRows*minCellsPerRow {
		return nil
	}

	rows := groupRows(elements)

	var grids []TableGrid
	var current [][]Cell
	for _, row := range rows {
		cells := splitCells(row)
		if len(cells) >= minCellsPerRow {
			current = append(current, cells)
			continue
		}
		if len(current) >= minGridRows {
			grids = append(grids, TableGrid{Page: page, Rows: current})
		}
		current = nil
	}
	if len(current) >= minGridRows {
		grids = append(grids, TableGrid{Page: page, Rows: current})
	}
	return grids
}

func groupRows(elements []TextElement) [][]TextElement {
	sorted := make([]TextElement, len(elements))
	copy(sorted, elements)
	sort.SliceStable(sorted, func(i, j int) bool {
		if diff := sorted[i].Y - sorted[j].Y; diff > rowTolerance || diff < -rowTolerance {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var rows [][]TextElement
	currentRow := []TextElement{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if currentRow[len(currentRow)-1].Y-sorted[i].Y <= rowTolerance {
			currentRow = append(currentRow, sorted[i])
		} else {
			rows = append(rows, currentRow)
			currentRow = []TextElement{sorted[i]}
		}
	}
	rows = append(rows, currentRow)
	return rows
}

func splitCells(row []TextElement) []Cell {
	if len(row) == 0 {
		return nil
	}

	var cells []Cell
	var parts []string
	startX := row[0].X
	startY := row[0].Y
	prevEnd := row[0].X + row[0].W

	flush := func() {
		text := strings.TrimSpace(strings.Join(parts, " "))
		if text != "" {
			cells = append(cells, Cell{Text: text, X: startX, Y: startY})
		}
		parts = nil
	}

	for i, el := range row {
		if i > 0 && el.X-prevEnd > cellGap {
			flush()
			startX = el.X
			startY = el.Y
		}
		parts = append(parts, el.Text)
		if end := el.X + el.W; end > prevEnd {
			prevEnd = end
		}
	}
	flush()
	return cells
}

// ColumnEstimate estimates the column count of a page by slicing its width
// into buckets and counting contiguous occupied runs.
func (d *Document) ColumnEstimate(page int) int {
	if page < 1 || page > len(d.pages) {
		return 0
	}
	pd := d.pages[page-1]
	if len(pd.elements) == 0 {
		return 0
	}

	width := pd.width
	if width == 0 {
		for _, el := range pd.elements {
			if end := el.X + el.W; end > width {
				width = end
			}
		}
	}
	if width == 0 {
		return 0
	}

	occupied := make([]bool, densityBuckets)
	for _, el := range pd.elements {
		lo := int(el.X / width * densityBuckets)
		hi := int((el.X + el.W) / width * densityBuckets)
		for b := lo; b <= hi && b < densityBuckets; b++ {
			if b >= 0 {
				occupied[b] = true
			}
		}
	}

	columns := 0
	inRun := false
	for _, o := range occupied {
		if o && !inRun {
			columns++
			inRun = true
		} else if !o {
			inRun = false
		}
	}
	return columns
}

// TextDensity returns the covered-area ratio of a page, clamped to [0, 1].
func (d *Document) TextDensity(page int) float64 {
	if page < 1 || page > len(d.pages) {
		return 0
	}
	pd := d.pages[page-1]
	if pd.width == 0 || pd.height == 0 {
		return 0
	}

	var covered float64
	for _, el := range pd.elements {
		covered += el.W * el.H
	}
	density := covered / (pd.width * pd.height)
	if density > 1 {
		density = 1
	}
	return density
}

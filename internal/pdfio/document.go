package pdfio

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const (
	defaultMaxPages = 50
	rowTolerance    = 5.0 // points; text within this Y distance shares a line
)

// Options controls how a document is opened.
type Options struct {
	MaxPages int // page cap for text extraction; 0 means the default
}

// OpenError wraps a failure to open or validate a document. It is fatal for
// that document only, never for the batch.
type OpenError struct {
	Path  string
	Stage string
	Err   error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s (%s): %v", e.Path, e.Stage, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// TextElement is one positioned text run on a page. Coordinates are PDF
// points with the origin at the lower-left corner.
type TextElement struct {
	Text string
	X    float64
	Y    float64
	W    float64
	H    float64
	Font string
	Size float64
}

type pageData struct {
	text     string
	elements []TextElement
	width    float64
	height   float64
	grids    []TableGrid
	gridsOK  bool
}

// Document is one opened input file. It is immutable once opened and lives
// for a single extraction call; table grids are built lazily per page.
type Document struct {
	Path     string
	FileSize int64
	ModTime  int64

	file     *os.File
	pages    []pageData
	numPages int // real page count, which may exceed len(pages) under the cap
}

// Open validates the file with pdfcpu, then walks the text layer with
// ledongthuc/pdf up to the configured page cap.
func Open(path string, opts Options) (*Document, error) {
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &OpenError{Path: path, Stage: "stat", Err: err}
	}

	dims, err := probePages(path)
	if err != nil {
		return nil, &OpenError{Path: path, Stage: "validate", Err: err}
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, &OpenError{Path: path, Stage: "parse", Err: err}
	}

	doc := &Document{
		Path:     path,
		FileSize: info.Size(),
		ModTime:  info.ModTime().Unix(),
		file:     f,
		numPages: reader.NumPage(),
	}

	limit := doc.numPages
	if limit > maxPages {
		limit = maxPages
	}

	walk := func(n int) []TextElement {
		page := reader.Page(n)
		if page.V.IsNull() {
			return nil
		}
		var elements []TextElement
		for _, txt := range page.Content().Text {
			h := txt.FontSize
			if h == 0 {
				h = 12.0
			}
			elements = append(elements, TextElement{
				Text: txt.S,
				X:    txt.X,
				Y:    txt.Y,
				W:    txt.W,
				H:    h,
				Font: txt.Font,
				Size: txt.FontSize,
			})
		}
		return elements
	}

	for i := 1; i <= limit; i++ {
		pd := pageData{}
		if i-1 < len(dims) {
			pd.width = dims[i-1].Width
			pd.height = dims[i-1].Height
		}

		elements, err := readPage(walk, i)
		if err != nil {
			f.Close()
			return nil, &OpenError{Path: path, Stage: "content", Err: err}
		}
		pd.elements = elements
		pd.text = assemblePageText(pd.elements)
		doc.pages = append(doc.pages, pd)
	}

	return doc, nil
}

// readPage runs one page walk behind a recover. The content-stream
// interpreter panics on malformed streams that still pass structural
// validation; the panic must stay fatal for this document only.
func readPage(walk func(n int) []TextElement, n int) (elements []TextElement, err error) {
	defer func() {
		if r := recover(); r != nil {
			elements = nil
			err = fmt.Errorf("panic reading page %d: %v", n, r)
		}
	}()
	return walk(n), nil
}

// NewDocumentFromText builds an in-memory document from already-extracted
// page text, with no positioned elements. Used for OCR-derived text and in
// tests.
func NewDocumentFromText(path string, pageTexts []string) *Document {
	d := &Document{Path: path, numPages: len(pageTexts)}
	for _, t := range pageTexts {
		d.pages = append(d.pages, pageData{text: t})
	}
	return d
}

// NewDocumentFromElements builds an in-memory document from positioned text
// runs, one slice per page. Page text is assembled the same way Open does.
func NewDocumentFromElements(path string, pages [][]TextElement) *Document {
	d := &Document{Path: path, numPages: len(pages)}
	for _, elements := range pages {
		d.pages = append(d.pages, pageData{
			text:     assemblePageText(elements),
			elements: elements,
		})
	}
	return d
}

// Close releases the underlying file handle.
func (d *Document) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

// NumPages returns the real page count of the document.
func (d *Document) NumPages() int { return d.numPages }

// PagesRead returns how many pages were actually text-extracted (page cap).
func (d *Document) PagesRead() int { return len(d.pages) }

// Text returns the full extracted text, pages joined by form feeds.
func (d *Document) Text() string {
	parts := make([]string, len(d.pages))
	for i := range d.pages {
		parts[i] = d.pages[i].text
	}
	return strings.Join(parts, "\n\f\n")
}

// PageText returns the text of one page (1-based). Empty for out-of-range.
func (d *Document) PageText(n int) string {
	if n < 1 || n > len(d.pages) {
		return ""
	}
	return d.pages[n-1].text
}

// PageElements returns the positioned text runs of one page (1-based).
func (d *Document) PageElements(n int) []TextElement {
	if n < 1 || n > len(d.pages) {
		return nil
	}
	return d.pages[n-1].elements
}

// AspectRatio returns width/height of the first page, 0 when unknown.
func (d *Document) AspectRatio() float64 {
	if len(d.pages) == 0 || d.pages[0].height == 0 {
		return 0
	}
	return d.pages[0].width / d.pages[0].height
}

// probePages validates the file structure with pdfcpu and returns per-page
// dimensions. A file pdfcpu cannot read in relaxed mode is treated as corrupt.
func probePages(path string) ([]types.Dim, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(f, conf)
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}

	dims, err := ctx.PageDims()
	if err != nil {
		// Dimensions are advisory; the aspect-ratio feature degrades to zero.
		return make([]types.Dim, ctx.PageCount), nil
	}
	return dims, nil
}

// assemblePageText orders positioned runs into reading order: rows grouped
// by Y within a tolerance, left to right inside a row.
func assemblePageText(elements []TextElement) string {
	if len(elements) == 0 {
		return ""
	}

	sorted := make([]TextElement, len(elements))
	copy(sorted, elements)
	sort.SliceStable(sorted, func(i, j int) bool {
		if diff := sorted[i].Y - sorted[j].Y; diff > rowTolerance || diff < -rowTolerance {
			return sorted[i].Y > sorted[j].Y // PDF Y grows upward
		}
		return sorted[i].X < sorted[j].X
	})

	var b strings.Builder
	lastY := sorted[0].Y
	for i, el := range sorted {
		if i > 0 {
			if lastY-el.Y > rowTolerance {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(el.Text)
		lastY = el.Y
	}
	return b.String()
}

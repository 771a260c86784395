// Package parser turns FOIA entry detail pages into normalized records.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wvfoia-sync/internal/model"
)

// Selectors are the CSS selectors for the three regions of an entry page.
// They are a fixed contract with the remote markup.
type Selectors struct {
	// Labels selects the emphasized field labels of the primary column.
	Labels string
	// Values selects the primary value cells, in the same order as Labels.
	Values string
	// Details selects each "additional details" panel.
	Details string
	// DetailLabel and DetailValue are evaluated inside each panel.
	DetailLabel string
	DetailValue string
}

// DefaultSelectors returns the selectors matching the current entry page.
func DefaultSelectors() Selectors {
	return Selectors{
		Labels:      ".content-col-label .content-div-var strong",
		Values:      ".content-col-data .content-div-var",
		Details:     ".container-requestitems .panel-body",
		DetailLabel: "strong",
		DetailValue: "p",
	}
}

// ParseError means a page was fetched but could not be turned into a record.
type ParseError struct {
	ID    int
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parser: entry %d: field %s: %v", e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("parser: entry %d: %v", e.ID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser extracts records using a fixed set of selectors.
type Parser struct {
	sel Selectors
}

// New returns a Parser. Empty selector fields fall back to the defaults.
func New(sel Selectors) *Parser {
	def := DefaultSelectors()
	if sel.Labels == "" {
		sel.Labels = def.Labels
	}
	if sel.Values == "" {
		sel.Values = def.Values
	}
	if sel.Details == "" {
		sel.Details = def.Details
	}
	if sel.DetailLabel == "" {
		sel.DetailLabel = def.DetailLabel
	}
	if sel.DetailValue == "" {
		sel.DetailValue = def.DetailValue
	}
	return &Parser{sel: sel}
}

// Parse builds the record for id from raw markup. It fails with a
// *ParseError when the markup cannot be read or a date field is missing or
// malformed; nothing partial is returned in that case.
func (p *Parser) Parse(raw []byte, id int) (*model.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{ID: id, Err: eris.Wrap(err, "read html")}
	}

	rec := model.NewRecord(id)

	labels := doc.Find(p.sel.Labels)
	values := doc.Find(p.sel.Values)
	if labels.Length() != values.Length() {
		zap.L().Warn("label and value counts differ, zipping common prefix",
			zap.Int("entry_id", id),
			zap.Int("labels", labels.Length()),
			zap.Int("values", values.Length()),
		)
	}
	labels.EachWithBreak(func(i int, label *goquery.Selection) bool {
		if i >= values.Length() {
			return false
		}
		if key := NormalizeKey(label.Text()); key != "" {
			rec.Set(key, CleanText(values.Eq(i).Text()))
		}
		return true
	})
	rec.MarkPrimary()

	doc.Find(p.sel.Details).Each(func(_ int, panel *goquery.Selection) {
		label := panel.Find(p.sel.DetailLabel).First()
		value := panel.Find(p.sel.DetailValue).First()
		if label.Length() == 0 || value.Length() == 0 {
			return
		}
		if key := NormalizeKey(label.Text()); key != "" {
			rec.Set(key, CleanText(value.Text()))
		}
	})

	// id is carried on the record itself; a scraped "id" label must not
	// shadow it.
	rec.Delete(model.KeyID)
	rec.Delete(model.KeyIsAmended)

	for _, key := range model.DateKeys {
		v, ok := rec.Get(key)
		if !ok {
			return nil, &ParseError{ID: id, Field: key, Err: eris.New("missing")}
		}
		d, err := NormalizeDate(v)
		if err != nil {
			return nil, &ParseError{ID: id, Field: key, Err: err}
		}
		rec.Set(key, d)
	}

	rec.IsAmended = rec.Has(model.KeyAmended)
	rec.Delete(model.KeyAmended)

	return rec, nil
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonKeyRe     = regexp.MustCompile(`[^a-z0-9_]+`)
	underscoreRe = regexp.MustCompile(`_+`)
)

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// NormalizeKey turns a page label such as "Request Date:" into a field key
// such as "request_date".
func NormalizeKey(label string) string {
	k := strings.ReplaceAll(label, ":", "")
	k = strings.ToLower(strings.TrimSpace(k))
	k = whitespaceRe.ReplaceAllString(k, "_")
	k = nonKeyRe.ReplaceAllString(k, "")
	k = underscoreRe.ReplaceAllString(k, "_")
	return strings.Trim(k, "_")
}

// NormalizeDate converts MM/DD/YYYY (one- or two-digit month and day) to
// YYYY-MM-DD. The calendar day must be valid.
func NormalizeDate(s string) (string, error) {
	t, err := time.Parse("1/2/2006", strings.TrimSpace(s))
	if err != nil {
		return "", eris.Errorf("date %q is not MM/DD/YYYY", s)
	}
	return t.Format(time.DateOnly), nil
}

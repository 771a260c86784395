package syncer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/wvfoia-sync/internal/model"
)

// Output formats for retrieved records.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Formats lists the accepted output formats.
var Formats = []string{FormatText, FormatJSON, FormatYAML}

const separator = "========================================"

// Reporter writes the user-facing output of a sync: one status line per
// processed entry and the records printed by retrieve.
type Reporter struct {
	w      io.Writer
	format string
	now    func() time.Time
}

// NewReporter returns a Reporter writing to w. An empty format means text.
func NewReporter(w io.Writer, format string) (*Reporter, error) {
	switch format {
	case "":
		format = FormatText
	case FormatText, FormatJSON, FormatYAML:
	default:
		return nil, eris.Errorf("syncer: unknown output format %q", format)
	}
	return &Reporter{w: w, format: format, now: time.Now}, nil
}

func (r *Reporter) stamp() string {
	return r.now().Format(time.DateTime)
}

// Status prints the line for one processed entry, including how long the
// engine will wait before the next one.
func (r *Reporter) Status(res Result, next time.Duration) {
	var marker, what string
	switch res.Outcome {
	case OutcomeAdded:
		marker, what = "✅", "added"
	case OutcomeExists:
		marker, what = "➖", "already exists"
	case OutcomeMissing:
		marker, what = "❌", "not found"
	default:
		marker, what = "⚠️", "failed"
		if res.Err != nil {
			what = "failed: " + res.Err.Error()
		}
	}
	fmt.Fprintf(r.w, "%s %s #%d\t%s in %.2fs ... ⏳ for %.2fs ...\n",
		r.stamp(), marker, res.ID, what, res.Elapsed.Seconds(), next.Seconds())
}

// Notice prints a timestamped informational line.
func (r *Reporter) Notice(format string, args ...any) {
	fmt.Fprintf(r.w, "%s ❕ %s\n", r.stamp(), fmt.Sprintf(format, args...))
}

// Println prints a bare line.
func (r *Reporter) Println(s string) {
	fmt.Fprintln(r.w, s)
}

// Interrupted prints the summary shown when a run is stopped by a signal.
func (r *Reporter) Interrupted(added int) {
	fmt.Fprintf(r.w, " exiting...saved %d this run\n", added)
}

// RetrieveInterrupted prints the summary shown when a retrieve is stopped by
// a signal.
func (r *Reporter) RetrieveInterrupted(done, total int) {
	fmt.Fprintf(r.w, " exiting...printed %d of %d entries\n", done, total)
}

// Record prints one retrieved record. sep adds a separator after it when
// several ids were requested.
func (r *Reporter) Record(rec *model.Record, sep bool) error {
	switch r.format {
	case FormatJSON:
		b, err := orderedJSON(rec.Flatten())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(r.w, string(b))
		return err
	case FormatYAML:
		b, err := orderedYAML(rec.Flatten())
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(r.w, "---\n"+string(b))
		return err
	}

	if _, err := fmt.Fprintln(r.w, strings.Join(rec.Lines(), "\n")); err != nil {
		return err
	}
	if sep {
		_, err := fmt.Fprintln(r.w, separator)
		return err
	}
	return nil
}

// Missing reports an id with no remote entry.
func (r *Reporter) Missing(id int) {
	switch r.format {
	case FormatJSON:
		fmt.Fprintf(r.w, "{\"id\":%d,\"exists\":false}\n", id)
	case FormatYAML:
		fmt.Fprintf(r.w, "---\nid: %d\nexists: false\n", id)
	default:
		fmt.Fprintf(r.w, "Entry %d does not exist.\n", id)
	}
}

// Failed reports an id that could not be retrieved.
func (r *Reporter) Failed(id int, err error) {
	fmt.Fprintf(r.w, "Entry %d could not be retrieved: %v\n", id, err)
}

// orderedJSON encodes fields as a JSON object in field order. The id is
// written as a number and is_amended as a boolean.
func orderedJSON(fields []model.Field) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, eris.Wrap(err, "syncer: encode key")
		}
		buf.Write(k)
		buf.WriteByte(':')

		var v any = f.Value
		switch f.Key {
		case model.KeyID:
			if n, err := strconv.Atoi(f.Value); err == nil {
				v = n
			}
		case model.KeyIsAmended:
			v = f.Value == "1"
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, eris.Wrapf(err, "syncer: encode %s", f.Key)
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// orderedYAML encodes fields as a YAML mapping in field order.
func orderedYAML(fields []model.Field) ([]byte, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range fields {
		val := &yaml.Node{Kind: yaml.ScalarNode, Value: f.Value}
		switch f.Key {
		case model.KeyID:
			val.Tag = "!!int"
		case model.KeyIsAmended:
			val.Tag = "!!bool"
			val.Value = strconv.FormatBool(f.Value == "1")
		default:
			val.Tag = "!!str"
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Key},
			val,
		)
	}
	b, err := yaml.Marshal(node)
	return b, eris.Wrap(err, "syncer: encode yaml")
}

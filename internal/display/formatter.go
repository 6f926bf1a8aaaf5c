// Package display normalizes arbitrary values into mimetype-keyed bundles.
package display

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/seantiz/kernelgate/internal/model"
)

// Values may opt into rich representations by implementing any of these.
type (
	HTMLer     interface{ HTML() string }
	Markdowner interface{ Markdown() string }
	PNGer      interface{ PNG() []byte }
)

// Formatter turns values into (data, metadata) mimetype maps. It is
// stateless and safe for concurrent use.
type Formatter struct{}

// NewFormatter creates a Formatter.
func NewFormatter() *Formatter {
	return &Formatter{}
}

// Format normalizes v. A model.DisplayBundle, or a map whose keys are all
// mimetypes, is taken as an already-formatted bundle and passed through.
// Any other value gets a text/plain representation plus whatever rich
// representations it implements.
func (f *Formatter) Format(v any) (data, metadata map[string]any) {
	switch b := v.(type) {
	case model.DisplayBundle:
		nb := model.NewDisplayBundle(b.Data, b.Metadata)
		return nb.Data, nb.Metadata
	case *model.DisplayBundle:
		if b != nil {
			nb := model.NewDisplayBundle(b.Data, b.Metadata)
			return nb.Data, nb.Metadata
		}
	case map[string]any:
		if isMimeBundle(b) {
			return b, map[string]any{}
		}
	}

	data = map[string]any{model.MIMETextPlain: PlainText(v)}
	metadata = map[string]any{}

	if h, ok := v.(HTMLer); ok {
		data[model.MIMETextHTML] = h.HTML()
	}
	if m, ok := v.(Markdowner); ok {
		data[model.MIMEMarkdown] = m.Markdown()
	}
	if p, ok := v.(PNGer); ok {
		data[model.MIMEPNG] = base64.StdEncoding.EncodeToString(p.PNG())
	}
	if j, ok := v.(json.Marshaler); ok {
		if raw, err := j.MarshalJSON(); err == nil && json.Valid(raw) {
			data[model.MIMEJSON] = json.RawMessage(raw)
		}
	}
	return data, metadata
}

// PlainText renders v the way a REPL echoes a value.
func PlainText(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(x)
	case error:
		return x.Error()
	case fmt.Stringer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "nil"
		}
		return x.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// isMimeBundle reports whether every key of m looks like a mimetype.
func isMimeBundle(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		typ, sub, ok := strings.Cut(k, "/")
		if !ok || typ == "" || sub == "" || strings.ContainsAny(k, " \t") {
			return false
		}
	}
	return true
}

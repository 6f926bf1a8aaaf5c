package model

// Well-known mimetypes carried in display bundles.
const (
	MIMETextPlain = "text/plain"
	MIMETextHTML  = "text/html"
	MIMEMarkdown  = "text/markdown"
	MIMEJSON      = "application/json"
	MIMEPNG       = "image/png"
)

// DisplayBundle is a result or rendered side effect expressed as one or more
// keyed representations. Both execute results and display data use it.
type DisplayBundle struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

// NewDisplayBundle returns a bundle with non-nil maps.
func NewDisplayBundle(data, metadata map[string]any) DisplayBundle {
	if data == nil {
		data = map[string]any{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return DisplayBundle{Data: data, Metadata: metadata}
}

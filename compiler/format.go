package compiler

import "fmt"

// Format is the closed set of output formats the converter can produce.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatDVI Format = "dvi"
	FormatPS  Format = "ps"
)

// FormatProps carries the per-value properties of a Format. Keeping these as
// data returned by a pure function, rather than methods on Format, avoids
// dispatch on the enum value at call sites.
type FormatProps struct {
	Ext         string
	ContentType string
}

var formatProps = map[Format]FormatProps{
	FormatPDF: {Ext: "pdf", ContentType: "application/pdf"},
	FormatDVI: {Ext: "dvi", ContentType: "application/x-dvi"},
	FormatPS:  {Ext: "ps", ContentType: "application/postscript"},
}

// Props returns the extension and content-type for f. The zero Format, and
// any value outside the closed set, is not a valid argument; callers must
// validate with ParseFormat first.
func Props(f Format) FormatProps {
	p, ok := formatProps[f]
	if !ok {
		panic(fmt.Sprintf("compiler: %q is not a valid Format", f))
	}
	return p
}

// ParseFormat validates s against the closed set of formats.
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if _, ok := formatProps[f]; !ok {
		return "", fmt.Errorf("compiler: invalid output_format %q", s)
	}
	return f, nil
}

package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"
)

const (
	Namespace   = "http://www.w3.org/2005/Atom"
	ContentType = "application/atom+xml;type=entry"
)

// Entry is a single Atom entry document. Elements the model does not know
// about are kept in Extensions so a fetched entry survives a round trip.
type Entry struct {
	XMLName    xml.Name
	Attrs      []xml.Attr  `xml:",any,attr"`
	ID         string      `xml:"id,omitempty"`
	Title      *Text       `xml:"title,omitempty"`
	Links      []Link      `xml:"link,omitempty"`
	Updated    string      `xml:"updated,omitempty"`
	Published  string      `xml:"published,omitempty"`
	Authors    []Person    `xml:"author,omitempty"`
	Summary    *Text       `xml:"summary,omitempty"`
	Content    *Text       `xml:"content,omitempty"`
	Extensions []Extension `xml:",any"`
}

// Text is an Atom text or content construct. Body is the element's own
// character data. A decoded element also keeps its raw inner XML in Markup,
// which is written back verbatim while it is set, so xhtml and inline XML
// survive a round trip. Clear Markup when replacing Body.
type Text struct {
	Type   string
	Src    string
	Attrs  []xml.Attr
	Body   string
	Markup string
}

func (t *Text) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		Chardata string `xml:",chardata"`
		Inner    string `xml:",innerxml"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	*t = Text{Body: raw.Chardata, Markup: raw.Inner}
	for _, attr := range start.Attr {
		switch {
		case attr.Name.Space == "" && attr.Name.Local == "type":
			t.Type = attr.Value
		case attr.Name.Space == "" && attr.Name.Local == "src":
			t.Src = attr.Value
		case isNamespaceDecl(attr):
		default:
			t.Attrs = append(t.Attrs, attr)
		}
	}
	return nil
}

func (t Text) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Attr = nil
	if t.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: t.Type})
	}
	if t.Src != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "src"}, Value: t.Src})
	}
	start.Attr = append(start.Attr, withoutNamespaceDecls(t.Attrs)...)
	if t.Markup != "" {
		return e.EncodeElement(struct {
			Inner string `xml:",innerxml"`
		}{t.Markup}, start)
	}
	return e.EncodeElement(struct {
		Body string `xml:",chardata"`
	}{t.Body}, start)
}

type Link struct {
	Href     string     `xml:"href,attr"`
	Rel      string     `xml:"rel,attr,omitempty"`
	Type     string     `xml:"type,attr,omitempty"`
	Hreflang string     `xml:"hreflang,attr,omitempty"`
	Title    string     `xml:"title,attr,omitempty"`
	Length   string     `xml:"length,attr,omitempty"`
	Attrs    []xml.Attr `xml:",any,attr"`
	Inner    string     `xml:",innerxml"`
}

type Person struct {
	Attrs      []xml.Attr  `xml:",any,attr"`
	Name       string      `xml:"name"`
	URI        string      `xml:"uri,omitempty"`
	Email      string      `xml:"email,omitempty"`
	Extensions []Extension `xml:",any"`
}

type Extension struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   string     `xml:",innerxml"`
}

func ParseEntry(data []byte) (*Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("parse atom entry: empty document")
	}
	var entry Entry
	if err := xml.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse atom entry: %w", err)
	}
	if entry.XMLName.Local != "entry" {
		return nil, fmt.Errorf("parse atom entry: unexpected root element <%s>", entry.XMLName.Local)
	}
	return &entry, nil
}

func (e *Entry) Marshal() ([]byte, error) {
	out := e.Clone()
	out.XMLName = xml.Name{Space: Namespace, Local: "entry"}
	out.Attrs = withoutNamespaceDecls(out.Attrs)
	for index := range out.Links {
		out.Links[index].Attrs = withoutNamespaceDecls(out.Links[index].Attrs)
	}
	for index := range out.Authors {
		out.Authors[index].Attrs = withoutNamespaceDecls(out.Authors[index].Attrs)
		out.Authors[index].Extensions = cleanExtensions(out.Authors[index].Extensions)
	}
	out.Extensions = cleanExtensions(out.Extensions)
	body, err := xml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode atom entry: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func (e *Entry) SetPublished(at time.Time) {
	e.Published = formatTimestamp(at)
}

func (e *Entry) SetUpdated(at time.Time) {
	e.Updated = formatTimestamp(at)
}

// AlternateLink returns the href of the first link without a rel or with
// rel="alternate".
func (e *Entry) AlternateLink() string {
	if e == nil {
		return ""
	}
	for _, link := range e.Links {
		if link.Rel == "" || link.Rel == "alternate" {
			return link.Href
		}
	}
	return ""
}

// EditLink returns the href of the rel="edit" link, if any.
func (e *Entry) EditLink() string {
	if e == nil {
		return ""
	}
	for _, link := range e.Links {
		if link.Rel == "edit" {
			return link.Href
		}
	}
	return ""
}

func (e *Entry) Clone() *Entry {
	if e == nil {
		return &Entry{}
	}
	out := *e
	out.Attrs = cloneAttrs(e.Attrs)
	out.Title = cloneText(e.Title)
	out.Summary = cloneText(e.Summary)
	out.Content = cloneText(e.Content)
	if e.Links != nil {
		out.Links = make([]Link, len(e.Links))
		for index, link := range e.Links {
			link.Attrs = cloneAttrs(link.Attrs)
			out.Links[index] = link
		}
	}
	if e.Authors != nil {
		out.Authors = make([]Person, len(e.Authors))
		for index, author := range e.Authors {
			author.Attrs = cloneAttrs(author.Attrs)
			author.Extensions = cloneExtensions(author.Extensions)
			out.Authors[index] = author
		}
	}
	out.Extensions = cloneExtensions(e.Extensions)
	return &out
}

func cloneText(text *Text) *Text {
	if text == nil {
		return nil
	}
	copied := *text
	copied.Attrs = cloneAttrs(text.Attrs)
	return &copied
}

func cloneAttrs(attrs []xml.Attr) []xml.Attr {
	if attrs == nil {
		return nil
	}
	return append([]xml.Attr(nil), attrs...)
}

func cloneExtensions(extensions []Extension) []Extension {
	if extensions == nil {
		return nil
	}
	out := make([]Extension, len(extensions))
	for index, extension := range extensions {
		extension.Attrs = cloneAttrs(extension.Attrs)
		out[index] = extension
	}
	return out
}

func cleanExtensions(extensions []Extension) []Extension {
	for index := range extensions {
		extensions[index].Attrs = withoutNamespaceDecls(extensions[index].Attrs)
	}
	return extensions
}

// withoutNamespaceDecls drops xmlns attributes captured on decode; the
// encoder writes its own declarations from element names.
func withoutNamespaceDecls(attrs []xml.Attr) []xml.Attr {
	var kept []xml.Attr
	for _, attr := range attrs {
		if isNamespaceDecl(attr) {
			continue
		}
		kept = append(kept, attr)
	}
	return kept
}

func isNamespaceDecl(attr xml.Attr) bool {
	return attr.Name.Space == "xmlns" || (attr.Name.Space == "" && attr.Name.Local == "xmlns")
}

func formatTimestamp(at time.Time) string {
	return at.UTC().Format(time.RFC3339)
}

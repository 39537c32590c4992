package feed

import (
	"fmt"
	"strings"
	"time"
)

// BuildEntry populates the standard elements of an entry from record. With a
// nil base it starts from an empty entry; otherwise it works on a copy of base
// and leaves every element the record does not mention untouched.
func BuildEntry(record Record, base *Entry) (*Entry, error) {
	entry := base.Clone()
	for _, element := range elements {
		value, ok := record.Get(element)
		if !ok {
			continue
		}
		if err := apply(entry, element, value); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// TimestampError reports a date element that is not an RFC 3339 timestamp.
type TimestampError struct {
	Element Element
	Value   string
	Err     error
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("element %s: %q is not an RFC 3339 timestamp", e.Element, e.Value)
}

func (e *TimestampError) Unwrap() error {
	return e.Err
}

func apply(entry *Entry, element Element, value string) error {
	switch element {
	case ElementID:
		entry.ID = strings.TrimSpace(value)
	case ElementTitle:
		entry.Title = setText(entry.Title, value)
	case ElementSummary:
		entry.Summary = setText(entry.Summary, value)
	case ElementContent:
		entry.Content = setText(entry.Content, value)
	case ElementLink:
		setAlternateLink(entry, strings.TrimSpace(value))
	case ElementAuthor:
		setAuthor(entry, strings.TrimSpace(value))
	case ElementUpdated:
		stamp, err := parseTimestamp(element, value)
		if err != nil {
			return err
		}
		entry.Updated = stamp
	case ElementPublished:
		stamp, err := parseTimestamp(element, value)
		if err != nil {
			return err
		}
		entry.Published = stamp
	}
	return nil
}

// setText replaces the body of a text construct with a plain value. Text and
// html types are kept; xhtml, inline XML and out-of-line content become text.
func setText(current *Text, value string) *Text {
	if current == nil {
		return &Text{Type: "text", Body: value}
	}
	if current.Type != "text" && current.Type != "html" {
		current.Type = "text"
	}
	current.Src = ""
	current.Markup = ""
	current.Body = value
	return current
}

func setAlternateLink(entry *Entry, href string) {
	for index, link := range entry.Links {
		if link.Rel == "" || link.Rel == "alternate" {
			entry.Links[index].Href = href
			return
		}
	}
	entry.Links = append(entry.Links, Link{Href: href, Rel: "alternate"})
}

// setAuthor names the first author and keeps its uri and email.
func setAuthor(entry *Entry, name string) {
	if len(entry.Authors) == 0 {
		entry.Authors = []Person{{Name: name}}
		return
	}
	entry.Authors[0].Name = name
}

func parseTimestamp(element Element, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if _, err := time.Parse(time.RFC3339Nano, trimmed); err != nil {
		return "", &TimestampError{Element: element, Value: value, Err: err}
	}
	return trimmed, nil
}

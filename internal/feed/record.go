package feed

import (
	"sort"
	"strings"
)

// Element names a standard Atom entry element that a record may carry.
type Element string

const (
	ElementID        Element = "id"
	ElementTitle     Element = "title"
	ElementLink      Element = "link"
	ElementUpdated   Element = "updated"
	ElementAuthor    Element = "author"
	ElementPublished Element = "published"
	ElementSummary   Element = "summary"
	ElementContent   Element = "content"
)

var elements = []Element{
	ElementID,
	ElementTitle,
	ElementLink,
	ElementUpdated,
	ElementAuthor,
	ElementPublished,
	ElementSummary,
	ElementContent,
}

// Elements returns the supported entry elements in canonical order.
func Elements() []Element {
	out := make([]Element, len(elements))
	copy(out, elements)
	return out
}

func ParseElement(name string) (Element, bool) {
	normalized := Element(strings.ToLower(strings.TrimSpace(name)))
	for _, element := range elements {
		if element == normalized {
			return element, true
		}
	}
	return "", false
}

// Record is one stream event keyed by entry element. A missing key means the
// element is not set by the event; an empty value is still a value.
type Record map[Element]string

// NewRecord keeps the fields that name a supported element and returns the
// remaining keys, sorted, so callers can report them.
func NewRecord(fields map[string]string) (Record, []string) {
	record := Record{}
	var ignored []string
	for key, value := range fields {
		element, ok := ParseElement(key)
		if !ok {
			ignored = append(ignored, key)
			continue
		}
		record[element] = value
	}
	sort.Strings(ignored)
	return record, ignored
}

func (r Record) Get(element Element) (string, bool) {
	if r == nil {
		return "", false
	}
	value, ok := r[element]
	return value, ok
}

func (r Record) Has(element Element) bool {
	_, ok := r.Get(element)
	return ok
}

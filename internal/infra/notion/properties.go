package notion

import (
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

// Builders produce property values for create and update requests.

func titleProperty(content string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Title: []notionapi.RichText{
			{
				Type: notionapi.ObjectTypeText,
				Text: &notionapi.Text{
					Content: content,
				},
			},
		},
	}
}

func richTextProperty(content string) notionapi.RichTextProperty {
	if content == "" {
		return notionapi.RichTextProperty{RichText: []notionapi.RichText{}}
	}
	return notionapi.RichTextProperty{
		RichText: []notionapi.RichText{
			{
				Type: notionapi.ObjectTypeText,
				Text: &notionapi.Text{
					Content: content,
				},
			},
		},
	}
}

func selectProperty(name string) notionapi.SelectProperty {
	return notionapi.SelectProperty{
		Select: notionapi.Option{
			Name: name,
		},
	}
}

func numberProperty(d decimal.Decimal) notionapi.NumberProperty {
	return notionapi.NumberProperty{
		Number: d.InexactFloat64(),
	}
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{
			Start: &d,
		},
	}
}

func relationProperty(pageID string) notionapi.RelationProperty {
	return notionapi.RelationProperty{
		Relation: []notionapi.Relation{
			{ID: notionapi.PageID(pageID)},
		},
	}
}

func checkboxProperty(v bool) notionapi.CheckboxProperty {
	return notionapi.CheckboxProperty{
		Checkbox: v,
	}
}

// Extractors read property values. Pages decoded from the API carry pointer
// property types while pages built in-process carry values, so both are
// accepted.

func plainText(rt []notionapi.RichText) string {
	var b strings.Builder
	for _, r := range rt {
		switch {
		case r.PlainText != "":
			b.WriteString(r.PlainText)
		case r.Text != nil:
			b.WriteString(r.Text.Content)
		}
	}
	return b.String()
}

func extractTitle(props notionapi.Properties, name string) string {
	switch p := props[name].(type) {
	case *notionapi.TitleProperty:
		return plainText(p.Title)
	case notionapi.TitleProperty:
		return plainText(p.Title)
	}
	return ""
}

func extractRichText(props notionapi.Properties, name string) string {
	switch p := props[name].(type) {
	case *notionapi.RichTextProperty:
		return plainText(p.RichText)
	case notionapi.RichTextProperty:
		return plainText(p.RichText)
	}
	return ""
}

func extractSelect(props notionapi.Properties, name string) string {
	switch p := props[name].(type) {
	case *notionapi.SelectProperty:
		return p.Select.Name
	case notionapi.SelectProperty:
		return p.Select.Name
	}
	return ""
}

func extractNumber(props notionapi.Properties, name string) decimal.Decimal {
	switch p := props[name].(type) {
	case *notionapi.NumberProperty:
		return decimal.NewFromFloat(p.Number)
	case notionapi.NumberProperty:
		return decimal.NewFromFloat(p.Number)
	}
	return decimal.Zero
}

func extractDate(props notionapi.Properties, name string) time.Time {
	var obj *notionapi.DateObject
	switch p := props[name].(type) {
	case *notionapi.DateProperty:
		obj = p.Date
	case notionapi.DateProperty:
		obj = p.Date
	}
	if obj == nil || obj.Start == nil {
		return time.Time{}
	}
	return time.Time(*obj.Start)
}

func extractRelation(props notionapi.Properties, name string) string {
	var rel []notionapi.Relation
	switch p := props[name].(type) {
	case *notionapi.RelationProperty:
		rel = p.Relation
	case notionapi.RelationProperty:
		rel = p.Relation
	}
	if len(rel) == 0 {
		return ""
	}
	return normalizeID(string(rel[0].ID))
}

func extractCheckbox(props notionapi.Properties, name string) bool {
	switch p := props[name].(type) {
	case *notionapi.CheckboxProperty:
		return p.Checkbox
	case notionapi.CheckboxProperty:
		return p.Checkbox
	}
	return false
}

// normalizeID strips dashes so relation ids compare equal to page ids
// regardless of how the API formatted them.
func normalizeID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

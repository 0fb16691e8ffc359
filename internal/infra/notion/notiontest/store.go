// Package notiontest provides an in-memory stand-in for the Notion API that
// honours the filters, sorts and cursors the notion repository emits.
package notiontest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jomei/notionapi"
)

// Store is an in-memory NotionService. It is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	seq   int
	pages map[string]*notionapi.Page
	order []string

	// PageSize caps results per query. Zero means 100.
	PageSize int

	// Hooks run before a call takes effect; a non-nil error aborts it.
	CreateHook  func(databaseID string, props notionapi.Properties) error
	UpdateHook  func(pageID string, props notionapi.Properties) error
	ArchiveHook func(pageID string) error
	QueryHook   func(databaseID string) error

	// Queries counts QueryDatabase calls per database.
	Queries map[string]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		pages:   make(map[string]*notionapi.Page),
		Queries: make(map[string]int),
	}
}

// CreatePage stores a page under databaseID.
func (s *Store) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if s.CreateHook != nil {
		if err := s.CreateHook(databaseID, properties); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := fmt.Sprintf("page-%04d", s.seq)
	page := &notionapi.Page{
		ID: notionapi.ObjectID(id),
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: clone(properties),
	}
	s.pages[id] = page
	s.order = append(s.order, id)

	out := *page
	return &out, nil
}

// UpdatePage merges properties into an existing page.
func (s *Store) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if s.UpdateHook != nil {
		if err := s.UpdateHook(pageID, properties); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("page %s: object_not_found", pageID)
	}
	merged := clone(page.Properties)
	for k, v := range properties {
		merged[k] = v
	}
	page.Properties = merged

	out := *page
	return &out, nil
}

// ArchivePage marks a page archived.
func (s *Store) ArchivePage(ctx context.Context, pageID string) error {
	if s.ArchiveHook != nil {
		if err := s.ArchiveHook(pageID); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.pages[pageID]
	if !ok {
		return fmt.Errorf("page %s: object_not_found", pageID)
	}
	page.Archived = true
	return nil
}

// QueryDatabase returns the live pages of databaseID matching req.
func (s *Store) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if s.QueryHook != nil {
		if err := s.QueryHook(databaseID); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Queries[databaseID]++

	var matched []notionapi.Page
	for _, id := range s.order {
		p := s.pages[id]
		if p.Archived || string(p.Parent.DatabaseID) != databaseID {
			continue
		}
		if req != nil && req.Filter != nil && !matches(req.Filter, p.Properties) {
			continue
		}
		matched = append(matched, *p)
	}

	if req != nil && len(req.Sorts) > 0 {
		sortPages(matched, req.Sorts)
	}

	size := s.PageSize
	if size <= 0 {
		size = 100
	}
	offset := 0
	if req != nil && req.StartCursor != "" {
		n, err := strconv.Atoi(string(req.StartCursor))
		if err != nil {
			return nil, fmt.Errorf("invalid start_cursor %q", req.StartCursor)
		}
		offset = n
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + size
	if end > len(matched) {
		end = len(matched)
	}

	resp := &notionapi.DatabaseQueryResponse{
		Results: matched[offset:end],
		HasMore: end < len(matched),
	}
	if resp.HasMore {
		resp.NextCursor = notionapi.Cursor(strconv.Itoa(end))
	}
	return resp, nil
}

// Page returns a copy of a stored page, archived or not.
func (s *Store) Page(id string) (notionapi.Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[id]
	if !ok {
		return notionapi.Page{}, false
	}
	return *p, true
}

// Pages returns copies of the live pages of a database in insertion order.
func (s *Store) Pages(databaseID string) []notionapi.Page {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []notionapi.Page
	for _, id := range s.order {
		p := s.pages[id]
		if !p.Archived && string(p.Parent.DatabaseID) == databaseID {
			out = append(out, *p)
		}
	}
	return out
}

func clone(props notionapi.Properties) notionapi.Properties {
	out := make(notionapi.Properties, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func matches(f notionapi.Filter, props notionapi.Properties) bool {
	switch f := f.(type) {
	case notionapi.AndCompoundFilter:
		for _, sub := range f {
			if !matches(sub, props) {
				return false
			}
		}
		return true
	case *notionapi.AndCompoundFilter:
		return matches(*f, props)
	case notionapi.OrCompoundFilter:
		for _, sub := range f {
			if matches(sub, props) {
				return true
			}
		}
		return false
	case notionapi.PropertyFilter:
		return matchProperty(f, props)
	case *notionapi.PropertyFilter:
		return matchProperty(*f, props)
	}
	return true
}

func matchProperty(f notionapi.PropertyFilter, props notionapi.Properties) bool {
	if f.Date != nil {
		t, ok := dateOf(props[f.Property])
		if !ok {
			return false
		}
		c := f.Date
		if c.OnOrAfter != nil && t.Before(time.Time(*c.OnOrAfter)) {
			return false
		}
		if c.Before != nil && !t.Before(time.Time(*c.Before)) {
			return false
		}
		if c.After != nil && !t.After(time.Time(*c.After)) {
			return false
		}
		if c.OnOrBefore != nil && t.After(time.Time(*c.OnOrBefore)) {
			return false
		}
	}
	if f.RichText != nil {
		text := textOf(props[f.Property])
		c := f.RichText
		if c.IsNotEmpty && text == "" {
			return false
		}
		if c.IsEmpty && text != "" {
			return false
		}
		if c.Equals != "" && text != c.Equals {
			return false
		}
		if c.Contains != "" && !strings.Contains(text, c.Contains) {
			return false
		}
	}
	if f.Checkbox != nil {
		if checkboxOf(props[f.Property]) != f.Checkbox.Equals {
			return false
		}
	}
	return true
}

func sortPages(pages []notionapi.Page, sorts []notionapi.SortObject) {
	sort.SliceStable(pages, func(i, j int) bool {
		for _, s := range sorts {
			a, _ := dateOf(pages[i].Properties[s.Property])
			b, _ := dateOf(pages[j].Properties[s.Property])
			if a.Equal(b) {
				continue
			}
			if s.Direction == notionapi.SortOrderDESC {
				return a.After(b)
			}
			return a.Before(b)
		}
		return false
	})
}

func dateOf(p notionapi.Property) (time.Time, bool) {
	var obj *notionapi.DateObject
	switch v := p.(type) {
	case notionapi.DateProperty:
		obj = v.Date
	case *notionapi.DateProperty:
		obj = v.Date
	}
	if obj == nil || obj.Start == nil {
		return time.Time{}, false
	}
	return time.Time(*obj.Start), true
}

func textOf(p notionapi.Property) string {
	var rt []notionapi.RichText
	switch v := p.(type) {
	case notionapi.RichTextProperty:
		rt = v.RichText
	case *notionapi.RichTextProperty:
		rt = v.RichText
	case notionapi.TitleProperty:
		rt = v.Title
	case *notionapi.TitleProperty:
		rt = v.Title
	}
	var b strings.Builder
	for _, r := range rt {
		if r.Text != nil {
			b.WriteString(r.Text.Content)
		} else {
			b.WriteString(r.PlainText)
		}
	}
	return b.String()
}

func checkboxOf(p notionapi.Property) bool {
	switch v := p.(type) {
	case notionapi.CheckboxProperty:
		return v.Checkbox
	case *notionapi.CheckboxProperty:
		return v.Checkbox
	}
	return false
}

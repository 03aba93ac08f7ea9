package cxone

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/ppiankov/cx1export/internal/pagination"
)

const (
	auditPath = "audit"
	scansPath = "scans"
)

// itemKeys are the fields that may hold a page's records, in lookup order.
var itemKeys = []string{"events", "scans", "items", "results"}

// decodePage decodes an API response body. A bare JSON array is a page of
// records; an object carries records under one of itemKeys together with
// pagination metadata.
func decodePage(body io.Reader) (pagination.Page, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return pagination.Page{}, nil
		}
		return pagination.Page{}, err
	}

	switch v := raw.(type) {
	case nil:
		return pagination.Page{}, nil
	case []any:
		return pagination.Page{Items: records(v)}, nil
	case map[string]any:
		return decodeObject(v), nil
	default:
		return pagination.Page{}, fmt.Errorf("unexpected response of type %T", raw)
	}
}

func decodeObject(obj map[string]any) pagination.Page {
	var page pagination.Page
	for _, key := range itemKeys {
		if list, ok := obj[key].([]any); ok {
			page.Items = records(list)
			break
		}
	}

	switch links := obj["links"].(type) {
	case []any:
		for _, l := range links {
			switch link := l.(type) {
			case string:
				page.Links = append(page.Links, pagination.Link{URL: link})
			case map[string]any:
				u, _ := link["url"].(string)
				if u == "" {
					u, _ = link["href"].(string)
				}
				date, _ := link["eventDate"].(string)
				if u != "" {
					page.Links = append(page.Links, pagination.Link{URL: u, Date: date})
				}
			}
		}
	case map[string]any:
		page.Next, _ = links["next"].(string)
	}
	if page.Next == "" {
		page.Next, _ = obj["next"].(string)
	}
	if page.Next == "" {
		page.Next, _ = obj["nextLink"].(string)
	}

	for _, key := range []string{"filteredTotalCount", "totalCount"} {
		if n, ok := toInt(obj[key]); ok {
			page.Total = n
			page.HasTotal = true
			break
		}
	}
	return page
}

func records(list []any) []pagination.Record {
	out := make([]pagination.Record, 0, len(list))
	for _, el := range list {
		if rec, ok := el.(map[string]any); ok {
			out = append(out, rec)
			continue
		}
		out = append(out, pagination.Record{"value": el})
	}
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// AuditURL is the seed URL of the audit trail. The endpoint takes no date
// filter; the range is applied to announced links and to events.
func (c *Client) AuditURL() string {
	return c.baseURL.JoinPath(auditPath).String()
}

// ScanQuery selects a range of scans.
type ScanQuery struct {
	From time.Time
	To   time.Time
}

// ScansURL returns the URL of the scans page starting at offset.
func (c *Client) ScansURL(q ScanQuery, offset, limit int) string {
	u := c.baseURL.JoinPath(scansPath)
	v := url.Values{}
	v.Set("offset", strconv.Itoa(offset))
	v.Set("limit", strconv.Itoa(limit))
	v.Set("sort", "+created_at")
	if !q.From.IsZero() {
		v.Set("from-date", StartOfDay(q.From))
	}
	if !q.To.IsZero() {
		v.Set("to-date", EndOfDay(q.To))
	}
	u.RawQuery = v.Encode()
	return u.String()
}

// ScansRequest builds the collection request for scans. The seed asks for
// the first page; later pages are addressed by offset.
func (c *Client) ScansRequest(q ScanQuery, offset, limit, pageSize int) pagination.Request {
	first := pageSize
	if limit > 0 && limit < first {
		first = limit
	}
	return pagination.Request{
		Source:   "scans",
		URL:      c.ScansURL(q, offset, first),
		Offset:   offset,
		Limit:    limit,
		PageSize: pageSize,
		OffsetURL: func(o, l int) string {
			return c.ScansURL(q, o, l)
		},
	}
}

// StartOfDay formats the first millisecond of t's date in UTC.
func StartOfDay(t time.Time) string {
	return t.Format("2006-01-02") + "T00:00:00.000Z"
}

// EndOfDay formats the last millisecond of t's date in UTC.
func EndOfDay(t time.Time) string {
	return t.Format("2006-01-02") + "T23:59:59.999Z"
}

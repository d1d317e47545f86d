// SPDX-License-Identifier: MIT

package radio

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// QueryParams is the validated form of the /stations query string.
type QueryParams struct {
	Refresh  bool
	Limit    int
	Offset   int
	Page     int
	Country  string
	Language string
	Tag      string
	Genre    string
	Search   string

	requestedLimit string
}

var knownQueryKeys = map[string]struct{}{
	"refresh": {}, "limit": {}, "offset": {}, "page": {},
	"country": {}, "language": {}, "tag": {}, "genre": {}, "search": {},
}

// ParseQueryParams validates the query string strictly: unknown keys are
// rejected, limit is clamped to [1, maxLimit], "all" maps to maxLimit,
// offset wins over page, page=0 is treated as page 1.
func ParseQueryParams(values url.Values, defaultLimit, maxLimit int) (QueryParams, error) {
	for key := range values {
		if _, ok := knownQueryKeys[key]; !ok {
			return QueryParams{}, fmt.Errorf("unknown query parameter %q", key)
		}
	}

	p := QueryParams{
		Limit:    defaultLimit,
		Country:  values.Get("country"),
		Language: values.Get("language"),
		Tag:      values.Get("tag"),
		Genre:    values.Get("genre"),
		Search:   strings.ToLower(strings.TrimSpace(values.Get("search"))),
	}

	if raw := values.Get("refresh"); raw != "" {
		p.Refresh = raw == "true" || raw == "1"
	}

	if raw := values.Get("limit"); raw != "" {
		p.requestedLimit = raw
		if raw == "all" {
			p.Limit = maxLimit
		} else {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return QueryParams{}, fmt.Errorf("invalid limit %q", raw)
			}
			switch {
			case n <= 0:
				p.Limit = defaultLimit
			case n > maxLimit:
				p.Limit = maxLimit
			default:
				p.Limit = n
			}
		}
	}

	page := 1
	if raw := values.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return QueryParams{}, fmt.Errorf("invalid page %q", raw)
		}
		if n == 0 {
			n = 1
		}
		page = n
	}
	p.Page = page
	p.Offset = (page - 1) * p.Limit

	if raw := values.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return QueryParams{}, fmt.Errorf("invalid offset %q", raw)
		}
		// Explicit offset wins over page-derived offset.
		p.Offset = n
	}

	return p, nil
}

// QueryMeta describes the page returned by Execute.
type QueryMeta struct {
	Total          int      `json:"total"`
	Filtered       int      `json:"filtered"`
	Matches        int      `json:"matches"`
	HasMore        bool     `json:"hasMore"`
	Page           int      `json:"page"`
	Limit          int      `json:"limit"`
	MaxLimit       int      `json:"maxLimit"`
	RequestedLimit string   `json:"requestedLimit,omitempty"`
	Offset         int      `json:"offset"`
	CacheSource    string   `json:"cacheSource"`
	Origin         string   `json:"origin"`
	UpdatedAt      string   `json:"updatedAt"`
	Countries      []string `json:"countries"`
	Genres         []string `json:"genres"`
}

// QueryResult is the /stations response body.
type QueryResult struct {
	Meta  QueryMeta     `json:"meta"`
	Items []StationView `json:"items"`
}

// Execute evaluates the query against one payload snapshot and its index.
// cacheSource records where the payload came from ("memory", "store",
// "refresh").
func Execute(payload *StationsPayload, idx *ProcessedIndex, p QueryParams, maxLimit int, cacheSource string) QueryResult {
	matched := matchIndices(payload, idx, p)

	total := len(payload.Stations)
	matches := len(matched)

	offset := p.Offset
	if offset > matches {
		offset = matches
	}
	end := offset + p.Limit
	if end > matches {
		end = matches
	}

	items := make([]StationView, 0, end-offset)
	for _, i := range matched[offset:end] {
		items = append(items, Project(payload.Stations[i]))
	}

	return QueryResult{
		Meta: QueryMeta{
			Total:          total,
			Filtered:       total - matches,
			Matches:        matches,
			HasMore:        end < matches,
			Page:           p.Page,
			Limit:          p.Limit,
			MaxLimit:       maxLimit,
			RequestedLimit: p.requestedLimit,
			Offset:         p.Offset,
			CacheSource:    cacheSource,
			Origin:         payload.Source,
			UpdatedAt:      payload.UpdatedAt,
			Countries:      idx.Countries,
			Genres:         idx.Genres,
		},
		Items: items,
	}
}

// matchIndices evaluates the filters and returns matching station
// indices in catalog order.
func matchIndices(payload *StationsPayload, idx *ProcessedIndex, p QueryParams) []int {
	var lists [][]int
	if p.Country != "" {
		lists = append(lists, idx.countryCandidates(p.Country))
	}
	if p.Language != "" {
		lists = append(lists, idx.languageCandidates(p.Language))
	}
	if p.Tag != "" {
		lists = append(lists, idx.tagCandidates(p.Tag))
	}
	if p.Genre != "" {
		lists = append(lists, idx.tagCandidates(p.Genre))
	}

	var matched []int
	switch len(lists) {
	case 0:
		matched = make([]int, len(payload.Stations))
		for i := range matched {
			matched[i] = i
		}
	default:
		// Any empty candidate list short-circuits to an empty result.
		for _, l := range lists {
			if len(l) == 0 {
				return nil
			}
		}
		matched = intersect(lists)
	}

	if p.Search != "" {
		filtered := matched[:0:0]
		for _, i := range matched {
			if strings.Contains(idx.searchTexts[i], p.Search) {
				filtered = append(filtered, i)
			}
		}
		matched = filtered
	}
	return matched
}

// intersect scans the smallest candidate list against hash sets built
// from the others. Output order follows the scanned list, which is in
// catalog order because every index list is.
func intersect(lists [][]int) []int {
	smallest := 0
	for i, l := range lists {
		if len(l) < len(lists[smallest]) {
			smallest = i
		}
	}

	var sets []map[int]struct{}
	for i, l := range lists {
		if i == smallest {
			continue
		}
		set := make(map[int]struct{}, len(l))
		for _, v := range l {
			set[v] = struct{}{}
		}
		sets = append(sets, set)
	}

	out := make([]int, 0, len(lists[smallest]))
scan:
	for _, v := range lists[smallest] {
		for _, set := range sets {
			if _, ok := set[v]; !ok {
				continue scan
			}
		}
		out = append(out, v)
	}
	return out
}

// SPDX-License-Identifier: MIT

package radio

import (
	"sort"
	"strings"
)

const topGenreCount = 40

// ProcessedIndex accelerates catalog queries for one payload. It is
// rebuilt whenever the payload is replaced.
type ProcessedIndex struct {
	Countries []string
	Genres    []string

	byCountry  map[string][]int
	byLanguage map[string][]int
	byTag      map[string][]int

	// searchTexts is aligned with the payload's stations slice.
	searchTexts []string
}

// BuildIndex derives the inverted indices and search texts for payload.
func BuildIndex(payload *StationsPayload) *ProcessedIndex {
	idx := &ProcessedIndex{
		byCountry:   make(map[string][]int),
		byLanguage:  make(map[string][]int),
		byTag:       make(map[string][]int),
		searchTexts: make([]string, len(payload.Stations)),
	}

	countrySet := make(map[string]struct{})
	tagCounts := make(map[string]int)

	for i, s := range payload.Stations {
		if s.Country != "" {
			countrySet[s.Country] = struct{}{}
			idx.byCountry[strings.ToLower(s.Country)] = append(idx.byCountry[strings.ToLower(s.Country)], i)
		}
		if s.CountryCode != "" {
			code := strings.ToLower(s.CountryCode)
			if s.Country == "" || code != strings.ToLower(s.Country) {
				idx.byCountry[code] = append(idx.byCountry[code], i)
			}
		}
		for _, lang := range s.Languages {
			key := strings.ToLower(lang)
			idx.byLanguage[key] = append(idx.byLanguage[key], i)
		}
		for _, tag := range s.Tags {
			key := strings.ToLower(tag)
			idx.byTag[key] = append(idx.byTag[key], i)
			tagCounts[key]++
		}

		var b strings.Builder
		b.WriteString(strings.ToLower(s.Name))
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(s.Country))
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(s.State))
		for _, tag := range s.Tags {
			b.WriteByte(' ')
			b.WriteString(strings.ToLower(tag))
		}
		for _, lang := range s.Languages {
			b.WriteByte(' ')
			b.WriteString(strings.ToLower(lang))
		}
		idx.searchTexts[i] = b.String()
	}

	idx.Countries = make([]string, 0, len(countrySet))
	for c := range countrySet {
		idx.Countries = append(idx.Countries, c)
	}
	sort.Strings(idx.Countries)

	idx.Genres = topTags(tagCounts, topGenreCount)
	return idx
}

// topTags returns the n most frequent tags, ties broken alphabetically.
func topTags(counts map[string]int, n int) []string {
	tags := make([]string, 0, len(counts))
	for t := range counts {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > n {
		tags = tags[:n]
	}
	return tags
}

// candidates returns the index list for a lowercase country key, merging
// full-name and code lookups.
func (idx *ProcessedIndex) countryCandidates(value string) []int {
	return idx.byCountry[strings.ToLower(value)]
}

func (idx *ProcessedIndex) languageCandidates(value string) []int {
	return idx.byLanguage[strings.ToLower(value)]
}

func (idx *ProcessedIndex) tagCandidates(value string) []int {
	return idx.byTag[strings.ToLower(value)]
}

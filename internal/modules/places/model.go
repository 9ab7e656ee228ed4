// README: Place catalog entries and the search and suggestion result shapes.
package places

import (
	"strings"

	"hailing/internal/types"
)

type Place struct {
	ID          types.ID `json:"id"`
	Name        string   `json:"place_name"`
	Category    string   `json:"category,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description,omitempty"`
	Lat         float64  `json:"latitude"`
	Lng         float64  `json:"longitude"`
	Active      bool     `json:"is_active"`
}

func (p *Place) clone() *Place {
	c := *p
	c.Aliases = append([]string(nil), p.Aliases...)
	return &c
}

func (p *Place) aliasText() string {
	return strings.ToLower(strings.Join(p.Aliases, ", "))
}

// Source tags where search results came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceGoogle Source = "google"
	SourceNone   Source = "none"
)

type Result struct {
	PlaceName   string   `json:"place_name"`
	DisplayName string   `json:"display_name"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lon"`
	Category    string   `json:"category,omitempty"`
	Source      Source   `json:"source"`
	DistanceKm  *float64 `json:"distance_km,omitempty"`
}

type SearchResponse struct {
	Source  Source   `json:"source"`
	Results []Result `json:"results"`
	Message string   `json:"message,omitempty"`
}

type Suggestion struct {
	Label    string  `json:"label"`
	Value    string  `json:"value"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lon"`
	Category string  `json:"category,omitempty"`
}

const (
	minQueryLen         = 2
	defaultSearchLimit  = 5
	defaultSuggestLimit = 10
	maxLimit            = 50
)

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

package scraper

import (
	"strings"

	"animehub/pkg/models"
)

// Jikan v4 list endpoint, public
const DefaultBaseURL = "https://api.jikan.moe/v4"

type jikanPage struct {
	Data       []jikanAnime `json:"data"`
	Pagination struct {
		LastVisiblePage int  `json:"last_visible_page"`
		HasNextPage     bool `json:"has_next_page"`
	} `json:"pagination"`
}

type jikanAnime struct {
	MalID    int64    `json:"mal_id"`
	Title    string   `json:"title"`
	Score    *float64 `json:"score"`
	Episodes *int     `json:"episodes"`
	Status   string   `json:"status"`
	Aired    struct {
		From *string `json:"from"`
		To   *string `json:"to"`
	} `json:"aired"`
	Genres []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Source    string `json:"source"`
	Rating    string `json:"rating"`
	Favorites *int   `json:"favorites"`
}

// toRecord maps one API item. Items without an id are dropped.
func (a jikanAnime) toRecord() (models.Record, bool) {
	if a.MalID <= 0 {
		return models.Record{}, false
	}

	title := strings.TrimSpace(a.Title)
	if title == "" {
		title = "Unknown"
	}

	genres := make([]string, 0, len(a.Genres))
	for _, g := range a.Genres {
		if name := strings.TrimSpace(g.Name); name != "" {
			genres = append(genres, name)
		}
	}

	favorites := 0
	if a.Favorites != nil {
		favorites = *a.Favorites
	}

	return models.Record{
		ID:            a.MalID,
		Title:         title,
		Score:         a.Score,
		Episodes:      a.Episodes,
		Status:        strings.TrimSpace(a.Status),
		Genres:        genres,
		Source:        strings.TrimSpace(a.Source),
		Rating:        strings.TrimSpace(a.Rating),
		FavoriteCount: favorites,
		AiredFrom:     deref(a.Aired.From),
		AiredTo:       deref(a.Aired.To),
	}, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

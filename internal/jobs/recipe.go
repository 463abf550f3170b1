// SPDX-License-Identifier: MIT

package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/larderhq/larder/internal/events"
	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/netguard"
)

// RecipeDoc is the stored form of an imported recipe.
type RecipeDoc struct {
	ID         string    `json:"id"`
	Slug       string    `json:"slug"`
	Title      string    `json:"title"`
	SourceURL  string    `json:"source_url"`
	ImportedAt time.Time `json:"imported_at"`
}

// RecipeImporter fetches a recipe page through the outbound guard, extracts
// its title, and stores the recipe document.
type RecipeImporter struct {
	fetcher *netguard.Fetcher
	dir     string
	logger  zerolog.Logger
}

func NewRecipeImporter(fetcher *netguard.Fetcher, dir string, logger *zerolog.Logger) (*RecipeImporter, error) {
	if fetcher == nil {
		panic("jobs: RecipeImporter requires a Fetcher")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create recipe dir: %w", err)
	}
	l := log.WithComponent("jobs")
	if logger != nil {
		l = *logger
	}
	return &RecipeImporter{fetcher: fetcher, dir: dir, logger: l}, nil
}

// Handle implements HandlerFunc for import_recipe jobs.
func (ri *RecipeImporter) Handle(ctx context.Context, job Job) (Completion, error) {
	if job.Params.URL == "" {
		return Completion{}, errors.New("recipe import requires a url")
	}

	res, err := ri.fetcher.Fetch(ctx, job.Params.URL)
	if err != nil {
		return Completion{}, fmt.Errorf("fetch recipe page: %w", err)
	}

	title := extractTitle(res.Body)
	if title == "" {
		title = "Imported Recipe"
	}
	slug := slugify(title)
	// same title from two sources must not collide
	recipeID := slug + "-" + shortHash(res.FinalURL)

	doc := RecipeDoc{
		ID:         recipeID,
		Slug:       slug,
		Title:      title,
		SourceURL:  res.FinalURL,
		ImportedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Completion{}, fmt.Errorf("encode recipe: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(ri.dir, recipeID+".json"), data); err != nil {
		return Completion{}, fmt.Errorf("store recipe: %w", err)
	}

	ri.logger.Info().
		Str("event", "jobs.recipe_imported").
		Str(log.FieldJobID, job.ID).
		Str("recipe_id", recipeID).
		Str(log.FieldURL, res.FinalURL).
		Msg("recipe imported")

	return Completion{
		ResourceID: recipeID,
		Channel:    events.ChannelRecipes,
		Name:       events.NameImportComplete,
		Payload: recipeImported{
			JobID:    job.ID,
			RecipeID: recipeID,
			Slug:     slug,
			Title:    title,
			URL:      res.FinalURL,
		},
	}, nil
}

type recipeImported struct {
	JobID    string `json:"job_id"`
	RecipeID string `json:"recipe_id"`
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

// extractTitle prefers og:title and falls back to the <title> element.
func extractTitle(body []byte) string {
	tz := html.NewTokenizer(bytes.NewReader(body))
	var fallback string
	for {
		switch tz.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(fallback)
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tz.Token()
			switch tok.Data {
			case "meta":
				var prop, content string
				for _, a := range tok.Attr {
					switch a.Key {
					case "property", "name":
						prop = a.Val
					case "content":
						content = a.Val
					}
				}
				if prop == "og:title" && strings.TrimSpace(content) != "" {
					return strings.TrimSpace(content)
				}
			case "title":
				if fallback == "" && tz.Next() == html.TextToken {
					fallback = tz.Token().Data
				}
			}
		}
	}
}

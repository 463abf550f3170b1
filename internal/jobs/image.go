// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/events"
	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/netguard"
)

// imageExt maps accepted content types to stored extensions. Anything else
// is refused; the media dir holds images only.
var imageExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ImageImporter fetches a recipe image through the outbound guard and
// stores it in the media directory.
type ImageImporter struct {
	fetcher *netguard.Fetcher
	dir     string
	logger  zerolog.Logger
}

func NewImageImporter(fetcher *netguard.Fetcher, dir string, logger *zerolog.Logger) (*ImageImporter, error) {
	if fetcher == nil {
		panic("jobs: ImageImporter requires a Fetcher")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	l := log.WithComponent("jobs")
	if logger != nil {
		l = *logger
	}
	return &ImageImporter{fetcher: fetcher, dir: dir, logger: l}, nil
}

// Handle implements HandlerFunc for import_image jobs.
func (ii *ImageImporter) Handle(ctx context.Context, job Job) (Completion, error) {
	if job.Params.RecipeID == "" {
		return Completion{}, errors.New("image import requires a recipe id")
	}
	if job.Params.URL == "" {
		return Completion{}, errors.New("image import requires a url")
	}

	res, err := ii.fetcher.Fetch(ctx, job.Params.URL)
	if err != nil {
		return Completion{}, fmt.Errorf("fetch image: %w", err)
	}

	mediaType, _, err := mime.ParseMediaType(res.ContentType)
	if err != nil {
		mediaType = res.ContentType
	}
	ext, ok := imageExt[mediaType]
	if !ok {
		return Completion{}, fmt.Errorf("unsupported content type %q", res.ContentType)
	}

	name := job.Params.RecipeID + "-" + shortHash(res.FinalURL) + ext
	if err := writeFileAtomic(filepath.Join(ii.dir, name), res.Body); err != nil {
		return Completion{}, fmt.Errorf("store image: %w", err)
	}

	ii.logger.Info().
		Str("event", "jobs.image_imported").
		Str(log.FieldJobID, job.ID).
		Str("recipe_id", job.Params.RecipeID).
		Str("image", name).
		Msg("image imported")

	return Completion{
		ResourceID: name,
		Channel:    events.ChannelRecipes,
		Name:       events.NameImportComplete,
		Payload: imageImported{
			JobID:    job.ID,
			RecipeID: job.Params.RecipeID,
			Image:    name,
			URL:      res.FinalURL,
		},
	}, nil
}

type imageImported struct {
	JobID    string `json:"job_id"`
	RecipeID string `json:"recipe_id"`
	Image    string `json:"image"`
	URL      string `json:"url"`
}

// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larderhq/larder/internal/admission"
	"github.com/larderhq/larder/internal/events"
	"github.com/larderhq/larder/internal/netguard"
)

func newLocalFetcher(t *testing.T) *netguard.Fetcher {
	t.Helper()
	return netguard.NewFetcher(netguard.FetchConfig{
		Policy: netguard.Policy{AllowPrivate: true},
	}, nil)
}

func recipeJob(url string) Job {
	return Job{
		ID:       "job-1",
		Kind:     KindImportRecipe,
		Identity: admission.Identity{Kind: string(KindImportRecipe), Target: url},
		Params:   Params{URL: url},
	}
}

func TestRecipeImportExtractsOgTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<!doctype html><html><head>
			<title>stew | SomeSite</title>
			<meta property="og:title" content="Hearty Beef Stew">
			</head><body></body></html>`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	importer, err := NewRecipeImporter(newLocalFetcher(t), dir, nil)
	require.NoError(t, err)

	comp, err := importer.Handle(context.Background(), recipeJob(srv.URL+"/stew"))
	require.NoError(t, err)

	assert.Equal(t, events.ChannelRecipes, comp.Channel)
	assert.Equal(t, events.NameImportComplete, comp.Name)
	assert.True(t, strings.HasPrefix(comp.ResourceID, "hearty-beef-stew-"), comp.ResourceID)

	payload, ok := comp.Payload.(recipeImported)
	require.True(t, ok)
	assert.Equal(t, "Hearty Beef Stew", payload.Title)
	assert.Equal(t, "hearty-beef-stew", payload.Slug)

	data, err := os.ReadFile(filepath.Join(dir, comp.ResourceID+".json"))
	require.NoError(t, err)
	var doc RecipeDoc
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, comp.ResourceID, doc.ID)
	assert.Equal(t, "Hearty Beef Stew", doc.Title)
	assert.Equal(t, srv.URL+"/stew", doc.SourceURL)
	assert.False(t, doc.ImportedAt.IsZero())
}

func TestRecipeImportFallsBackToTitleTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Weeknight Tacos</title></head><body></body></html>`))
	}))
	defer srv.Close()

	importer, err := NewRecipeImporter(newLocalFetcher(t), t.TempDir(), nil)
	require.NoError(t, err)

	comp, err := importer.Handle(context.Background(), recipeJob(srv.URL+"/tacos"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(comp.ResourceID, "weeknight-tacos-"), comp.ResourceID)
}

func TestRecipeImportUntitledPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>no title here</p></body></html>`))
	}))
	defer srv.Close()

	importer, err := NewRecipeImporter(newLocalFetcher(t), t.TempDir(), nil)
	require.NoError(t, err)

	comp, err := importer.Handle(context.Background(), recipeJob(srv.URL+"/mystery"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(comp.ResourceID, "imported-recipe-"), comp.ResourceID)
}

func TestRecipeImportFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	importer, err := NewRecipeImporter(newLocalFetcher(t), t.TempDir(), nil)
	require.NoError(t, err)

	_, err = importer.Handle(context.Background(), recipeJob(srv.URL+"/gone"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch recipe page")
}

func TestRecipeImportRequiresURL(t *testing.T) {
	importer, err := NewRecipeImporter(newLocalFetcher(t), t.TempDir(), nil)
	require.NoError(t, err)

	_, err = importer.Handle(context.Background(), Job{ID: "job-1", Kind: KindImportRecipe})
	require.Error(t, err)
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "og title wins over title tag",
			html: `<head><title>SEO Junk</title><meta property="og:title" content="Real Name"></head>`,
			want: "Real Name",
		},
		{
			name: "title tag fallback",
			html: `<head><title>Plain Title</title></head>`,
			want: "Plain Title",
		},
		{
			name: "meta name attribute works too",
			html: `<head><meta name="og:title" content="Named"></head>`,
			want: "Named",
		},
		{
			name: "whitespace trimmed",
			html: "<head><title>\n  Spaced Out  \n</title></head>",
			want: "Spaced Out",
		},
		{
			name: "nothing to extract",
			html: `<body><h1>heading only</h1></body>`,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractTitle([]byte(tt.html)))
		})
	}
}

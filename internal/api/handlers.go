// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/larderhq/larder/internal/admission"
	"github.com/larderhq/larder/internal/events"
	"github.com/larderhq/larder/internal/jobs"
	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/netguard"
	"github.com/larderhq/larder/internal/telemetry"
)

// writeDecision maps an admission decision onto the HTTP contract: 202 for
// fresh work, 200 with the prior result, 409 while a claim is live.
func writeDecision(w http.ResponseWriter, d admission.Decision, resourceField string) {
	switch d.Outcome {
	case admission.OutcomeAdmitted:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": string(d.Outcome),
			"job_id": d.JobID,
		})
	case admission.OutcomeAlreadyExists:
		writeJSON(w, http.StatusOK, map[string]string{
			"status":      string(d.Outcome),
			resourceField: d.ResourceID,
		})
	case admission.OutcomeAlreadyInFlight:
		writeJSON(w, http.StatusConflict, map[string]string{
			"status": string(d.Outcome),
			"job_id": d.JobID,
		})
	}
}

// admit runs one identity through the controller, enqueueing via build when
// the claim is won, and writes the outcome.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, id admission.Identity, build func(jobID string) jobs.Job, resourceField string) {
	decision, err := s.admission.TryAdmit(r.Context(), id, func(ctx context.Context, jobID string) error {
		return s.runner.Enqueue(ctx, build(jobID))
	})
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			writeServiceUnavailable(w, jobs.ErrQueueFull)
			return
		}
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("event", "api.admit_failed").
			Str(log.FieldIdentity, id.Key()).
			Msg("admission decision failed")
		writeErrorCode(w, http.StatusInternalServerError, "admission failed")
		return
	}
	writeDecision(w, decision, resourceField)
}

type importRecipeRequest struct {
	URL string `json:"url"`
}

// handleImportRecipe admits one recipe import per normalized source URL.
func (s *Server) handleImportRecipe(w http.ResponseWriter, r *http.Request) {
	var req importRecipeRequest
	if err := decodeJSON(r, &req, 0); err != nil {
		writeError(w, err)
		return
	}

	normalized, err := netguard.NormalizeURL(req.URL)
	if err != nil {
		writeError(w, err)
		return
	}

	id := admission.Identity{Kind: string(jobs.KindImportRecipe), Target: normalized}
	s.admit(w, r, id, func(jobID string) jobs.Job {
		return jobs.Job{
			ID:       jobID,
			Kind:     jobs.KindImportRecipe,
			Identity: id,
			Params:   jobs.Params{URL: normalized},
		}
	}, "recipe_id")
}

type importImageRequest struct {
	RecipeID string `json:"recipe_id"`
	URL      string `json:"url"`
}

// handleImportImage admits one image fetch per normalized source URL. Two
// recipes pointing at the same image share the stored media.
func (s *Server) handleImportImage(w http.ResponseWriter, r *http.Request) {
	var req importImageRequest
	if err := decodeJSON(r, &req, 0); err != nil {
		writeError(w, err)
		return
	}
	if req.RecipeID == "" {
		writeError(w, errors.New("recipe_id is required"))
		return
	}

	normalized, err := netguard.NormalizeURL(req.URL)
	if err != nil {
		writeError(w, err)
		return
	}

	id := admission.Identity{Kind: string(jobs.KindImportImage), Target: normalized}
	s.admit(w, r, id, func(jobID string) jobs.Job {
		return jobs.Job{
			ID:       jobID,
			Kind:     jobs.KindImportImage,
			Identity: id,
			Params:   jobs.Params{URL: normalized, RecipeID: req.RecipeID},
		}
	}, "media_id")
}

type estimateNutritionRequest struct {
	RecipeID string `json:"recipe_id"`
}

// handleEstimateNutrition admits one nutrition estimate per recipe.
func (s *Server) handleEstimateNutrition(w http.ResponseWriter, r *http.Request) {
	var req estimateNutritionRequest
	if err := decodeJSON(r, &req, 0); err != nil {
		writeError(w, err)
		return
	}
	if req.RecipeID == "" {
		writeError(w, errors.New("recipe_id is required"))
		return
	}

	id := admission.Identity{Kind: string(jobs.KindEstimateNutrition), Target: req.RecipeID}
	s.admit(w, r, id, func(jobID string) jobs.Job {
		return jobs.Job{
			ID:       jobID,
			Kind:     jobs.KindEstimateNutrition,
			Identity: id,
			Params:   jobs.Params{RecipeID: req.RecipeID},
		}
	}, "estimate_id")
}

type syncCalDAVRequest struct {
	HouseholdID string `json:"household_id"`
}

// handleSyncCalDAV admits a calendar sync for one household. The identity
// carries the current window fingerprint, so a manual request and the cron
// tick landing in the same window are one sync.
func (s *Server) handleSyncCalDAV(w http.ResponseWriter, r *http.Request) {
	var req syncCalDAVRequest
	if err := decodeJSON(r, &req, 0); err != nil {
		writeError(w, err)
		return
	}
	if req.HouseholdID == "" {
		writeError(w, errors.New("household_id is required"))
		return
	}

	calURL, ok := s.cfg.CalDAV.Sources[req.HouseholdID]
	if !ok {
		writeNotFound(w)
		return
	}

	window := jobs.SyncWindow(time.Now(), 0)
	id := admission.Identity{
		Kind:        string(jobs.KindSyncCalDAV),
		Target:      req.HouseholdID,
		Fingerprint: window,
	}
	s.admit(w, r, id, func(jobID string) jobs.Job {
		return jobs.Job{
			ID:       jobID,
			Kind:     jobs.KindSyncCalDAV,
			Identity: id,
			Params:   jobs.Params{HouseholdID: req.HouseholdID, CalendarURL: calURL},
		}
	}, "sync_id")
}

type publishEventRequest struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// handlePublishEvent is the publish boundary for the trusted CRUD app.
// Delivery is fire-and-forget; 202 means the medium accepted the envelope.
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := decodeJSON(r, &req, 0); err != nil {
		writeError(w, err)
		return
	}

	channel, err := events.ParseChannel(req.Channel)
	if err != nil {
		writeError(w, err)
		return
	}
	name, err := events.ParseName(channel, req.Event)
	if err != nil {
		writeError(w, err)
		return
	}

	if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
		span.SetAttributes(telemetry.EventAttributes(string(channel), string(name), "", "")...)
	}

	if err := s.bus.Publish(r.Context(), channel, name, req.Payload); err != nil {
		writeServiceUnavailable(w, errors.New("event not accepted"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type invalidateRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// handleInvalidate broadcasts a session invalidation for one user. Local
// and remote connections alike are terminated when the message arrives.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeJSON(r, &req, 0); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		writeError(w, errors.New("user_id is required"))
		return
	}

	if err := s.invalidator.Invalidate(r.Context(), req.UserID, req.Reason); err != nil {
		writeServiceUnavailable(w, errors.New("invalidation not accepted"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

package api

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/realm"
	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, http.StatusOK, map[string]any{
		"status": "ready",
		"lands":  len(s.opts.Realm.List()),
	})
}

// handleListLands snapshots stats for every live land. Lands that terminate
// mid-listing are skipped rather than failing the whole response.
func (s *Server) handleListLands(w http.ResponseWriter, r *http.Request) {
	ids := s.opts.Realm.List()
	sort.Strings(ids)

	lands := make([]keeper.Stats, 0, len(ids))
	for _, id := range ids {
		k, ok := s.opts.Realm.Get(id)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		stats, err := k.Stats(ctx)
		cancel()
		if err != nil {
			continue
		}
		lands = append(lands, stats)
	}
	writeResult(w, http.StatusOK, map[string]any{"lands": lands, "count": len(lands)})
}

func (s *Server) landFor(w http.ResponseWriter, r *http.Request) (*keeper.Keeper, bool) {
	landID := chi.URLParam(r, "landID")
	k, ok := s.opts.Realm.Get(landID)
	if !ok {
		writeError(w, http.StatusNotFound, "land-not-found", "no live land "+landID)
		return nil, false
	}
	return k, true
}

func (s *Server) handleLandStats(w http.ResponseWriter, r *http.Request) {
	k, ok := s.landFor(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	stats, err := k.Stats(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "land-unavailable", err.Error())
		return
	}
	writeResult(w, http.StatusOK, stats)
}

// handleLandState returns the unfiltered authoritative snapshot, including
// internal and per-player fields. Admin eyes only.
func (s *Server) handleLandState(w http.ResponseWriter, r *http.Request) {
	k, ok := s.landFor(w, r)
	if !ok {
		return
	}
	var snapshot state.Value
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := k.Inspect(ctx, func(k *keeper.Keeper) {
		snapshot = k.RootSnapshot()
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "land-unavailable", err.Error())
		return
	}
	raw, err := wire.MarshalValue(snapshot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeResult(w, http.StatusOK, map[string]any{
		"landID": k.LandID(),
		"state":  raw,
	})
}

func (s *Server) handleLandReplay(w http.ResponseWriter, r *http.Request) {
	if s.opts.ReplayRecord == nil {
		writeError(w, http.StatusNotFound, "replay-disabled", "replay recording is not enabled")
		return
	}
	landID := chi.URLParam(r, "landID")
	record, ok := s.opts.ReplayRecord(landID)
	if !ok {
		writeError(w, http.StatusNotFound, "land-not-found", "no recording for "+landID)
		return
	}
	writeResult(w, http.StatusOK, record)
}

func (s *Server) handleRemoveLand(w http.ResponseWriter, r *http.Request) {
	landID := chi.URLParam(r, "landID")
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.opts.Realm.Remove(ctx, landID, "admin-remove"); err != nil {
		if errors.Is(err, realm.ErrLandNotFound) {
			writeError(w, http.StatusNotFound, "land-not-found", err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "remove-failed", err.Error())
		return
	}
	writeResult(w, http.StatusOK, map[string]string{"landID": landID, "status": "removed"})
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	result := map[string]any{
		"version":    s.opts.Version,
		"goVersion":  runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
		"lands":      len(s.opts.Realm.List()),
		"uptime":     time.Since(s.started).String(),
	}
	if s.opts.Sessions != nil {
		result["sessions"] = s.opts.Sessions.SessionCount()
	}
	writeResult(w, http.StatusOK, result)
}

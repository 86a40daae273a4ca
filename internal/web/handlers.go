package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sheetfeed/sheetfeed/internal/core"
)

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleListSheets returns the registered sheets. With ?group= the list is
// filtered to one group; with ?grouped=true sheets are keyed by group.
func (s *Server) handleListSheets(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("grouped") == "true" {
		writeJSON(w, s.service.ListSheetsByGroup())
		return
	}

	if group := r.URL.Query().Get("group"); group != "" {
		defs := core.ByGroup(group)
		infos := make([]core.SheetInfo, len(defs))
		for i, def := range defs {
			infos[i] = def.Info
		}
		writeJSON(w, infos)
		return
	}

	writeJSON(w, s.service.ListSheets())
}

// handleSheetDetail returns one sheet's metadata, field catalog, and most
// recent completed import when one exists.
func (s *Server) handleSheetDetail(w http.ResponseWriter, r *http.Request) {
	def, ok := s.sheet(w, r)
	if !ok {
		return
	}

	detail := map[string]interface{}{
		"info":   def.Info,
		"fields": def.Source.Fields(),
	}
	if title := def.Source.WorksheetTitle(); title != "" {
		detail["worksheetTitle"] = title
	}
	if identity := def.Source.Identity(); identity != "" {
		detail["identity"] = identity
	}
	if last, err := s.service.LatestImport(r.Context(), def.Info.Key); err == nil {
		detail["lastImport"] = last
	}

	writeJSON(w, detail)
}

// handleSheetFields returns the sheet's field catalog: field name to
// description. Before the first import this is the configured overrides alone.
func (s *Server) handleSheetFields(w http.ResponseWriter, r *http.Request) {
	def, ok := s.sheet(w, r)
	if !ok {
		return
	}
	writeJSON(w, def.Source.Fields())
}

// handleStartImport kicks off an asynchronous import and returns its ID.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	sheetKey := chi.URLParam(r, "sheetKey")

	importID, err := s.service.StartImport(r.Context(), sheetKey)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, core.ErrTooManyImports) {
			status = http.StatusServiceUnavailable
		}
		s.respondError(w, r, err, status)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"import_id": importID})
}

// handleSheetRecords returns a page of the sheet's most recently imported
// records. Supports limit and offset query parameters.
func (s *Server) handleSheetRecords(w http.ResponseWriter, r *http.Request) {
	def, ok := s.sheet(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := s.service.SheetRecords(r.Context(), def.Info.Key, limit, offset)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"sheetKey": def.Info.Key,
		"offset":   offset,
		"count":    len(records),
		"records":  records,
	})
}

// handleSheetHistory returns the sheet's import history, newest first.
func (s *Server) handleSheetHistory(w http.ResponseWriter, r *http.Request) {
	def, ok := s.sheet(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.service.ListImports(r.Context(), def.Info.Key, limit)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, entries)
}

// handleImportProgress streams import progress via Server-Sent Events.
// The event ID is the progress percentage, so reconnecting clients can skip
// events they already received via the lastEventId query parameter.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	progressCh, ok := s.service.SubscribeProgress(importID)
	if !ok {
		s.respondError(w, r, fmt.Errorf("import not found: %s", importID), http.StatusNotFound)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		s.respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	lastEventID, _ := strconv.Atoi(r.URL.Query().Get("lastEventId"))

	for {
		select {
		case progress, open := <-progressCh:
			if !open {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			percent := progress.Percent()
			if percent < lastEventID {
				continue
			}
			lastEventID = percent

			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: ", percent)
			writeJSON(w, progress)
			fmt.Fprint(w, "\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleImportResult returns the final result of an import.
// Responds 404 while the import is still running or after cleanup.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	result, ok := s.service.GetResult(importID)
	if !ok {
		if progress, running := s.service.GetProgress(importID); running {
			writeJSON(w, map[string]interface{}{
				"status":   "running",
				"progress": progress,
			})
			return
		}
		s.respondError(w, r, fmt.Errorf("import not found: %s", importID), http.StatusNotFound)
		return
	}

	writeJSON(w, result)
}

// handleCancelImport requests cancellation of a running import.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	if err := s.service.CancelImport(importID); err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]string{"status": "cancelling"})
}

// handleRollbackImport deletes all records inserted by one import.
func (s *Server) handleRollbackImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	result, err := s.service.RollbackImport(r.Context(), importID)
	if err != nil {
		status := http.StatusConflict
		if result.SheetKey == "" {
			status = http.StatusNotFound
		}
		s.respondError(w, r, err, status)
		return
	}

	writeJSON(w, result)
}

// handleStatus reports the import limiter and registry state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"imports": s.service.ImportLimiterStatus(),
		"sheets":  core.SheetCount(),
	})
}

// sheet resolves the sheetKey URL parameter, responding 404 when unknown.
func (s *Server) sheet(w http.ResponseWriter, r *http.Request) (core.SheetDefinition, bool) {
	sheetKey := chi.URLParam(r, "sheetKey")
	def, ok := core.Get(sheetKey)
	if !ok {
		s.respondError(w, r, fmt.Errorf("unknown sheet: %s", sheetKey), http.StatusNotFound)
		return core.SheetDefinition{}, false
	}
	return def, true
}

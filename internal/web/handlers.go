package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/recimport/internal/importer"
	"github.com/JonMunkholm/recimport/internal/logging"
	"github.com/JonMunkholm/recimport/internal/schema"
)

var (
	errNoFile       = errors.New("no file provided")
	errFileTooLarge = errors.New("file too large")
	errNoHistory    = errors.New("run history is not enabled")
	errRunning      = errors.New("import still running")
)

type jobView struct {
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Table            string     `json:"table"`
	TolerateFailures bool       `json:"tolerate_failures"`
	Destinations     []destView `json:"destinations"`
}

type destView struct {
	Name string                   `json:"name"`
	Type importer.DestinationType `json:"type"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.service.Jobs()
	out := make([]jobView, len(jobs))
	for i, j := range jobs {
		v := jobView{
			Name:             j.Name,
			Description:      j.Description,
			Table:            j.Table,
			TolerateFailures: j.TolerateFailures,
			Destinations:     make([]destView, len(j.Destinations)),
		}
		for k, d := range j.Destinations {
			v.Destinations[k] = destView{Name: d.Name, Type: d.Type}
		}
		out[i] = v
	}
	s.writeJSON(w, http.StatusOK, out)
}

type tableView struct {
	Key     string       `json:"key"`
	Group   string       `json:"group"`
	Label   string       `json:"label"`
	Columns []columnView `json:"columns"`
}

type columnView struct {
	Name       string   `json:"name"`
	Column     string   `json:"column"`
	Type       string   `json:"type"`
	Required   bool     `json:"required"`
	EnumValues []string `json:"enum_values,omitempty"`
}

// handleListTables lists the registered tables, limited to ?group= when set.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	defs := schema.All()
	if group := r.URL.Query().Get("group"); group != "" {
		defs = schema.ByGroup(group)
	}
	out := make([]tableView, len(defs))
	for i, def := range defs {
		v := tableView{Key: def.Info.Key, Group: def.Info.Group, Label: def.Info.Label}
		for _, spec := range def.FieldSpecs {
			v.Columns = append(v.Columns, columnView{
				Name:       spec.Name,
				Column:     spec.Column(),
				Type:       spec.Type.String(),
				Required:   spec.Required,
				EnumValues: spec.EnumValues,
			})
		}
		out[i] = v
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleStartRun streams the multipart "file" part to disk and starts the
// job on it. The file is removed once the run finishes.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	jobName := chi.URLParam(r, "job")
	if _, err := s.service.Job(jobName); err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}

	part, err := filePart(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	defer part.Close()

	path, size, err := s.saveUpload(part)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.respondError(w, r, err, status)
		return
	}

	runID, err := s.service.Start(r.Context(), jobName, importer.Input{
		Name:   part.FileName(),
		Path:   path,
		Size:   size,
		Remove: true,
	})
	if err != nil {
		os.Remove(path)
		s.respondError(w, r, err, statusFor(err))
		return
	}

	logging.WithFields(r.Context(), "run_id", runID, "job", jobName).Info("import started",
		"file", part.FileName(),
		"size", size,
	)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":   runID,
		"progress": "/api/runs/" + runID + "/progress",
		"result":   "/api/runs/" + runID + "/result",
		"page":     "/runs/" + runID,
	})
}

func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errNoFile
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errNoFile
		}
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

// saveUpload copies src into a temp file in the upload directory, failing
// with errFileTooLarge past the configured limit.
func (s *Server) saveUpload(src io.Reader) (string, int64, error) {
	limit := s.cfg.Import.MaxFileSize

	f, err := os.CreateTemp(s.cfg.Import.UploadDir, "upload-*.csv")
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(src, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > limit {
		err = errFileTooLarge
	}
	if err != nil {
		os.Remove(f.Name())
		return "", 0, err
	}
	return f.Name(), n, nil
}

// handleRunProgress streams progress as server-sent events. The event id is
// the percentage so a reconnecting client passing lastEventId skips what it
// has seen. A final "complete" event carries the summary.
func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	lastEventID, _ := strconv.Atoi(lastEventIDStr)

	updates, cancel, err := s.service.Subscribe(runID)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)

	for {
		select {
		case p, ok := <-updates:
			if !ok {
				sum, err := s.service.Result(r.Context(), runID)
				if err != nil {
					return
				}
				data, _ := json.Marshal(sum)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				rc.Flush()
				return
			}

			if lastEventIDStr != "" && p.Percent <= lastEventID && !p.Status.Done() {
				continue
			}

			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", p.Percent, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleRunResult returns the summary of a finished run, or 202 with the
// current progress while it runs. ?wait=true blocks until it finishes.
func (s *Server) handleRunResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if r.URL.Query().Get("wait") != "true" {
		p, err := s.service.Progress(runID)
		if err != nil {
			s.respondError(w, r, err, http.StatusNotFound)
			return
		}
		if !p.Status.Done() {
			s.writeJSON(w, http.StatusAccepted, p)
			return
		}
	}

	sum, err := s.service.Result(r.Context(), runID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.service.Cancel(runID); err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleRunFailures(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	p, err := s.service.Progress(runID)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	if !p.Status.Done() {
		s.respondError(w, r, errRunning, http.StatusConflict)
		return
	}
	sum, err := s.service.Result(r.Context(), runID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s-failures.csv"`, sum.Job, runID))
	if err := importer.WriteFailureReport(w, sum.Failures); err != nil {
		logging.FromContext(r.Context()).Error("write failure report", "run_id", runID, "error", err)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, r, errNoHistory, http.StatusNotFound)
		return
	}
	entries, err := s.history.Recent(r.Context(), r.URL.Query().Get("job"), parseIntParam(r, "limit", 50))
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []importer.HistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"imports": s.service.LimiterStatus(),
	})
}

func (s *Server) handleRunPage(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	p, err := s.service.Progress(runID)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	var sum *importer.Summary
	if p.Status.Done() {
		if sum, err = s.service.Result(r.Context(), runID); err != nil {
			s.respondError(w, r, err, statusFor(err))
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := runPage(p, sum).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render run page", "run_id", runID, "error", err)
	}
}

// parseIntParam parses a positive integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	i, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

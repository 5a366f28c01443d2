package web

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/ingest"
	"github.com/JonMunkholm/finimport/internal/logging"
	"github.com/JonMunkholm/finimport/internal/web/views"
)

// multipartMemory is how much of a form is buffered before spilling to disk.
const multipartMemory = 32 << 20

// formOverhead leaves room for the multipart envelope and the other fields.
const formOverhead = 1 << 20

var errMalformedMapping = errors.New("malformed mapping")

// handleHealth reports liveness and import slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"imports": s.service.LimiterStatus(),
	})
}

// handleProbe lists the sheets of an uploaded file with their shape.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	upload, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.service.Probe(r.Context(), upload)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handlePreview classifies the columns of a sheet and suggests a mapping.
// htmx clients receive an HTML fragment.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	upload, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	mapping, err := parseMapping(r.FormValue("mapping"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	preview, err := s.service.Preview(r.Context(), upload, r.FormValue("sheet"), mapping)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if wantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		renderFragment(w, r, views.PreviewFragment(preview))
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleStartImport starts an asynchronous import and returns its job ID.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	upload, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	mapping, err := parseMapping(r.FormValue("mapping"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := withRequestMetadata(r.Context(), r)
	jobID, err := s.service.StartImport(ctx, core.ImportRequest{
		Upload:  upload,
		Sheet:   r.FormValue("sheet"),
		Mapping: mapping,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/imports/"+jobID)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// handleGetJob returns the current state of an import.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.tenantJob(r, chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if wantsHTML(r) {
		renderFragment(w, r, views.JobSummary(job))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleImportProgress streams import progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter or the
// Last-Event-ID header; the event ID is the progress percentage.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	if _, err := s.tenantJob(r, jobID); err != nil {
		s.respondError(w, r, err)
		return
	}

	progressCh, err := s.service.SubscribeProgress(jobID)
	if errors.Is(err, core.ErrJobNotFound) {
		// Finished jobs drop out of memory; report the stored final state.
		job, jobErr := s.service.Job(r.Context(), jobID)
		if jobErr != nil {
			s.respondError(w, r, jobErr)
			return
		}
		final := make(chan core.ImportJob, 1)
		final <- job
		close(final)
		progressCh = final
	} else if err != nil {
		s.respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var last core.ImportJob
	for {
		select {
		case job, ok := <-progressCh:
			if !ok {
				// Channel closed: the import finished.
				data, _ := json.Marshal(last)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}
			last = job

			percent := job.Percent()
			if percent <= lastEventID && !job.Status.Terminal() {
				continue
			}
			lastEventID = percent

			data, _ := json.Marshal(job)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", percent, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleCancelImport cancels an in-progress import.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.tenantJob(r, jobID); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.CancelImport(jobID); err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleExportRowErrors exports the row error log of an import as CSV.
func (s *Server) handleExportRowErrors(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.tenantJob(r, jobID); err != nil {
		s.respondError(w, r, err)
		return
	}

	rowErrors, err := s.service.RowErrors(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="row_errors_%s.csv"`, jobID))

	csvWriter := csv.NewWriter(w)
	csvWriter.Write([]string{"row", "column", "message"})
	for _, re := range rowErrors {
		csvWriter.Write([]string{strconv.Itoa(re.RowNumber), re.Column, re.Message})
	}
	csvWriter.Flush()
}

// tenantJob looks up a job on behalf of the request's tenant. Jobs of
// other tenants are reported as not found.
func (s *Server) tenantJob(r *http.Request, jobID string) (core.ImportJob, error) {
	job, err := s.service.Job(r.Context(), jobID)
	if err != nil {
		return core.ImportJob{}, err
	}
	if job.TenantID != requestTenant(r) {
		return core.ImportJob{}, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	return job, nil
}

// renderFragment writes an HTML fragment. The status line may already be
// sent when rendering fails, so the failure is only logged.
func renderFragment(w http.ResponseWriter, r *http.Request, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render fragment",
			"path", r.URL.Path,
			"error", err,
		)
	}
}

// readUpload reads the multipart "file" field and the optional "format"
// override, enforcing the configured size limit.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (core.Upload, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			return core.Upload{}, fmt.Errorf("%w: request exceeds %d bytes", ingest.ErrSourceTooLarge, maxSize)
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return core.Upload{}, core.ErrNoFile
		}
		return core.Upload{}, fmt.Errorf("%w: %v", ingest.ErrSourceUnreadable, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.Upload{}, core.ErrNoFile
	}
	defer file.Close()

	if header.Size > maxSize {
		return core.Upload{}, fmt.Errorf("%w: file is %d bytes, limit is %d", ingest.ErrSourceTooLarge, header.Size, maxSize)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return core.Upload{}, fmt.Errorf("%w: %v", ingest.ErrSourceUnreadable, err)
	}

	upload := core.Upload{FileName: header.Filename, Data: data}
	if f := r.FormValue("format"); f != "" {
		format, err := ingest.ParseFormat(f)
		if err != nil {
			return core.Upload{}, err
		}
		upload.Format = format
	}
	return upload, nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

// parseMapping decodes a {"column": "target"} override. Empty input means
// no override.
func parseMapping(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var mapping map[string]string
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return nil, &core.UserError{
			Technical: fmt.Errorf("%w: %v", errMalformedMapping, err),
			User: core.UserMessage{
				Message: "The column mapping could not be read",
				Action:  `Send the mapping as a JSON object such as {"Posted": "date"}`,
				Code:    "MAP003",
			},
		}
	}
	return mapping, nil
}

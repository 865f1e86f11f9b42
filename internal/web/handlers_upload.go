package web

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalog-import/internal/core"
)

// UploadResponse is the body of an accepted upload.
type UploadResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handleUpload accepts a multipart CSV upload and starts the import.
// The file is validated and its header read before the 202 is sent, so
// input problems come back synchronously.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartMemory)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.respondError(w, r, core.ErrFileTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, core.ErrNoFile, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, core.ErrNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	delimiter, err := core.ParseDelimiter(r.FormValue("delimiter"))
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	job, err := s.service.StartImport(ctx, core.ImportRequest{
		FileName:  header.Filename,
		Body:      file,
		Size:      header.Size,
		Delimiter: delimiter,
		Strategy:  r.FormValue("strategy"),
		Encoding:  r.FormValue("encoding"),
	})
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	writeJSON(w, http.StatusAccepted, UploadResponse{
		TaskID:  job.ID,
		Status:  string(job.Status),
		Message: job.Message,
	})
}

// handleProgress returns the job record of a task.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Progress(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancel cancels a pending or processing task.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := WithRequestMetadata(r.Context(), r)
	job, err := s.service.Cancel(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

package httpapi

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"broadcaster/internal/contacts"
	"broadcaster/internal/model"
)

var mediaKinds = map[string]string{
	model.KindImage:    ".jpg",
	model.KindVideo:    ".mp4",
	model.KindAudio:    ".ogg",
	model.KindDocument: ".pdf",
}

// saveUpload stores the "file" form field in dir under a random name that
// keeps the original extension, or fallbackExt when there is none.
func (a *API) saveUpload(w http.ResponseWriter, r *http.Request, dir, fallbackExt string) (name, original string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
		writeErr(w, http.StatusBadRequest, "parse multipart failed")
		return "", "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "file missing")
		return "", "", false
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = fallbackExt
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeErr(w, http.StatusInternalServerError, "mkdir uploads failed")
		return "", "", false
	}
	name = uuid.NewString() + ext
	out, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "save file failed")
		return "", "", false
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		writeErr(w, http.StatusInternalServerError, "write file failed")
		return "", "", false
	}
	return name, header.Filename, true
}

func (a *API) handleMediaUpload(w http.ResponseWriter, r *http.Request) {
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = model.KindDocument
	}
	fallback, known := mediaKinds[kind]
	if !known {
		writeErr(w, http.StatusBadRequest, "invalid kind")
		return
	}
	name, original, ok := a.saveUpload(w, r, a.UploadDir, fallback)
	if !ok {
		return
	}
	a.Log.Info().Str("file", name).Str("kind", kind).Msg("media uploaded")
	writeJSON(w, http.StatusOK, map[string]any{
		"mediaPath":   name,
		"messageKind": kind,
		"url":         "/uploads/" + name,
		"filename":    original,
	})
}

func (a *API) handleContactsUpload(w http.ResponseWriter, r *http.Request) {
	name, original, ok := a.saveUpload(w, r, a.ContactsDir, ".csv")
	if !ok {
		return
	}
	if !contacts.Supported(name) {
		_ = os.Remove(filepath.Join(a.ContactsDir, name))
		writeErr(w, http.StatusBadRequest, "contacts file must be .csv, .json or .xlsx")
		return
	}
	sum, err := a.Contacts.Preview(name, 5)
	if err != nil {
		_ = os.Remove(filepath.Join(a.ContactsDir, name))
		writeErr(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	a.Log.Info().Str("file", name).Int("total", sum.Total).Int("valid", sum.Valid).Msg("contacts uploaded")
	writeJSON(w, http.StatusOK, map[string]any{
		"contactsPath": name,
		"filename":     original,
		"summary":      sum,
	})
}

func (a *API) handleContactsPreview(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" || path != filepath.Base(path) {
		writeErr(w, http.StatusBadRequest, "path must be a file name returned by the upload")
		return
	}
	sum, err := a.Contacts.Preview(path, 10)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			writeErr(w, http.StatusNotFound, "contacts file not found")
		case errors.Is(err, contacts.ErrUnsupportedFormat):
			writeErr(w, http.StatusBadRequest, err.Error())
		default:
			writeErr(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/grovetools/slidesync/internal/daemon/engine"
)

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	images, err := engine.ListImages(s.store.Read())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list images")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read images"})
		return
	}
	writeJSON(w, http.StatusOK, images)
}

// handleImage serves one processed image. Only plain file names with an
// allowed extension are served.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	snap := s.store.Read()

	filter, err := engine.FilterFor(snap)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Invalid image filter"})
		return
	}
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." || !filter.AllowedExtension(name) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
		return
	}

	path := filepath.Join(snap.Resolve(snap.ImagePath), name)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
			return
		}
		s.logger.WithError(err).WithField("file", name).Warn("Failed to open image")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read image"})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

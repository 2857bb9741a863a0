package server

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"strings"
	"time"

	apperrors "github.com/grovetools/slidesync/errors"
	"github.com/grovetools/slidesync/internal/daemon/collector"
	"github.com/grovetools/slidesync/internal/daemon/engine"
)

// maxConfigBody bounds the admin config request body.
const maxConfigBody = 1 << 20

// adminOnly restricts next to loopback and the configured allow list. An
// empty list admits everyone.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := s.store.Read().Admin.AllowedIPs
		if !ipAllowed(r.RemoteAddr, allowed) {
			s.logger.WithField("remote", r.RemoteAddr).Warn("Admin access denied")
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Access denied"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ipAllowed(remote string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	addrPort, err := netip.ParseAddrPort(remote)
	var addr netip.Addr
	if err == nil {
		addr = addrPort.Addr()
	} else if addr, err = netip.ParseAddr(remote); err != nil {
		return false
	}
	addr = addr.Unmap()
	if addr.IsLoopback() {
		return true
	}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			if prefix, err := netip.ParsePrefix(entry); err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil && a.Unmap() == addr {
			return true
		}
	}
	return false
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Read().Document())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var partial map[string]interface{}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBody)).Decode(&partial); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON: " + err.Error()})
		return
	}

	_, changes, err := s.store.Replace(partial)
	if err != nil {
		s.writeConfigError(w, err)
		return
	}

	reprocessing, err := s.jobs.RequestOnGeometryChange(r.Context(), changes)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeJobConflict) {
			s.logger.Warn("Geometry changed while a reprocessing job is in flight")
		} else {
			s.logger.WithError(err).Error("Failed to request reprocessing")
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"reprocessing": reprocessing,
	})
}

func (s *Server) writeConfigError(w http.ResponseWriter, err error) {
	if ge, ok := apperrors.As(err); ok {
		switch ge.Code {
		case apperrors.ErrCodeConfigValidation:
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":      ge.Message,
				"field":      ge.Detail("field"),
				"constraint": ge.Detail("constraint"),
			})
			return
		case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeConfigInvalid:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": ge.Error()})
			return
		}
	}
	s.logger.WithError(err).Error("Failed to update config")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to save configuration"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Read()

	processed, err := engine.ListImages(snap)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to count processed images")
	}

	raw := 0
	if filter, err := collector.NewFilter(snap.Preprocessing.InputExtensions, snap.IgnorePatterns); err == nil {
		if files, err := engine.Scan(snap.Resolve(snap.Preprocessing.RawImagePath), filter); err == nil {
			raw = len(files)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"raw":         raw,
		"processed":   len(processed),
		"subscribers": s.hub.Stats().Subscribers,
		"timestamp":   time.Now().UnixMilli(),
	})
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.RequestJob(r.Context(), "requested via admin API"); err != nil {
		if apperrors.Is(err, apperrors.ErrCodeJobConflict) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "Reprocessing already in progress"})
			return
		}
		s.logger.WithError(err).Error("Failed to request reprocessing")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to trigger reprocessing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "triggered",
		"message": "Reprocessing will start when the ingest process picks up the request",
	})
}

func (s *Server) handleClearReprocess(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Clear(r.Context()); err != nil {
		s.logger.WithError(err).Error("Failed to clear reprocessing markers")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to clear reprocessing state"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleReprocessStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Status(r.Context()))
}

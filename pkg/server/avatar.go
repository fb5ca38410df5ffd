package server

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/aeolun/hsschat/pkg/protocol"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/blake2b"
)

// Avatar files are named by content hash so identical uploads share a file.
var avatarExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var avatarNamePattern = regexp.MustCompile(`^[0-9a-f]{32}\.(png|jpg|gif|webp)$`)

// multipart overhead allowed on top of the file itself
const uploadSlack = 64 << 10

// sessionFromRequest trusts the user id header: any joined id is accepted, and
// every client learns all ids from the roster. There is no authentication.
func (s *Server) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := r.Header.Get(protocol.UserIDHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing "+protocol.UserIDHeader+" header")
		return nil, false
	}
	sess, ok := s.sessions.GetSession(id)
	if !ok || !sess.Joined() {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		s.metrics.RecordAvatar("upload", "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxAvatarBytes+uploadSlack)
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.metrics.RecordAvatar("upload", "too_large")
			writeError(w, http.StatusRequestEntityTooLarge, "avatar too large")
			return
		}
		s.metrics.RecordAvatar("upload", "bad_request")
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.config.MaxAvatarBytes+1))
	if err != nil {
		s.metrics.RecordAvatar("upload", "bad_request")
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}
	if int64(len(data)) > s.config.MaxAvatarBytes {
		s.metrics.RecordAvatar("upload", "too_large")
		writeError(w, http.StatusRequestEntityTooLarge, "avatar too large")
		return
	}

	ext, ok := avatarExtensions[http.DetectContentType(data)]
	if !ok {
		s.metrics.RecordAvatar("upload", "unsupported")
		writeError(w, http.StatusUnsupportedMediaType, "avatar must be a PNG, JPEG, GIF or WebP image")
		return
	}

	name, err := s.storeAvatar(data, ext)
	if err != nil {
		s.metrics.RecordAvatar("upload", "error")
		s.logger.Error().Err(err).Msg("Failed to store avatar")
		writeError(w, http.StatusInternalServerError, "could not store avatar")
		return
	}

	url := "/avatars/" + name
	s.sessions.SetAvatar(sess.ID, url)
	s.metrics.RecordAvatar("upload", "ok")
	s.logger.Info().Str("session", sess.ID).Str("url", url).Msg("Avatar uploaded")

	s.broadcastRoster()
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleRemoveAvatar(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		s.metrics.RecordAvatar("remove", "unauthorized")
		return
	}
	s.sessions.SetAvatar(sess.ID, "")
	s.metrics.RecordAvatar("remove", "ok")

	s.broadcastRoster()
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Server) handleServeAvatar(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !avatarNamePattern.MatchString(name) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, filepath.Join(s.config.AvatarDir, name))
}

// storeAvatar writes data under its content hash and returns the file name.
func (s *Server) storeAvatar(data []byte, ext string) (string, error) {
	sum := blake2b.Sum256(data)
	name := hex.EncodeToString(sum[:16]) + ext
	path := filepath.Join(s.config.AvatarDir, name)

	if _, err := os.Stat(path); err == nil {
		return name, nil
	}

	tmp, err := os.CreateTemp(s.config.AvatarDir, ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename avatar: %w", err)
	}
	return name, nil
}

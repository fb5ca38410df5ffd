package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvatarUpload(t *testing.T) {
	var gotID, gotName string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload-avatar", r.URL.Path)
		gotID = r.Header.Get(UserIDHeader)
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotName = hdr.Filename
		gotBody, _ = io.ReadAll(f)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"url":"/avatars/abc.png"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(path, []byte("pngdata"), 0o600))

	a := NewAvatarClient(srv.URL+"/", zerolog.Nop())
	url, err := a.UploadAvatar(context.Background(), "42", path)
	require.NoError(t, err)
	assert.Equal(t, "/avatars/abc.png", url)
	assert.Equal(t, "42", gotID)
	assert.Equal(t, "me.png", gotName)
	assert.Equal(t, "pngdata", string(gotBody))
}

func TestAvatarErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
		wantBody   string
	}{
		{"json detail", http.StatusRequestEntityTooLarge, `{"detail":"File too large (max 2 MB)"}`, "File too large (max 2 MB)", ""},
		{"json message", http.StatusBadRequest, `{"message":"bad"}`, "bad", ""},
		{"plain text", http.StatusInternalServerError, "boom\n", "", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewAvatarClient(srv.URL, zerolog.Nop()).RemoveAvatar(context.Background(), "1")
			var herr *HTTPError
			require.ErrorAs(t, err, &herr)
			assert.Equal(t, tt.status, herr.Status)
			assert.Equal(t, tt.wantDetail, herr.Detail)
			assert.Equal(t, tt.wantBody, herr.Body)
			assert.NotEmpty(t, herr.Error())
		})
	}
}

func TestAvatarUploadMissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	_, err := NewAvatarClient(srv.URL, zerolog.Nop()).UploadAvatar(context.Background(), "1", path)
	assert.Error(t, err)
}

func TestAvatarRemove(t *testing.T) {
	var method, id string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, id = r.Method+" "+r.URL.Path, r.Header.Get(UserIDHeader)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	require.NoError(t, NewAvatarClient(srv.URL, zerolog.Nop()).RemoveAvatar(context.Background(), "9"))
	assert.Equal(t, "POST /remove-avatar", method)
	assert.Equal(t, "9", id)
}

package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"av-go/internal/av"
	"av-go/internal/fs"
)

// multipartMemory is how much of an upload is held in memory before spilling to disk.
const multipartMemory = 32 << 20

type versionResponse struct {
	ID            string        `json:"id"`
	RootID        string        `json:"root_id"`
	ParentID      string        `json:"parent_id,omitempty"`
	VersionNumber int64         `json:"version_number"`
	BlobKey       string        `json:"blob_key"`
	BlobLocation  string        `json:"blob_location"`
	Encrypted     bool          `json:"encrypted"`
	SizeBytes     int64         `json:"size_bytes"`
	OwnerID       string        `json:"owner_id"`
	Descriptor    av.Descriptor `json:"descriptor"`
	CreatedAt     time.Time     `json:"created_at"`
}

type listResponse struct {
	RootID   string            `json:"root_id"`
	Versions []versionResponse `json:"versions"`
}

func toResponse(rec *av.VersionRecord) versionResponse {
	return versionResponse{
		ID:            rec.ID,
		RootID:        rec.RootID,
		ParentID:      rec.ParentID,
		VersionNumber: rec.VersionNumber,
		BlobKey:       rec.BlobKey,
		BlobLocation:  rec.BlobLocation,
		Encrypted:     rec.Encrypted,
		SizeBytes:     rec.SizeBytes,
		OwnerID:       rec.OwnerID,
		Descriptor:    rec.Descriptor,
		CreatedAt:     rec.CreatedAt,
	}
}

func principal(r *http.Request) av.Principal {
	p, _ := PrincipalFrom(r.Context())
	return p
}

func (s *Server) handleImportAsset(w http.ResponseWriter, r *http.Request) {
	payload, filename, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	overrides, err := parseOverrides(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	desc := av.Descriptor{Filename: filename}.Apply(overrides)

	rec, err := s.mgr.ImportAsset(r.Context(), principal(r), payload, desc)
	s.metrics.observe("import", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(rec))
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	rootID := chi.URLParam(r, "rootID")
	recs, err := s.mgr.ListVersions(r.Context(), rootID, principal(r))
	s.metrics.observe("list", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := listResponse{RootID: rootID, Versions: make([]versionResponse, 0, len(recs))}
	for _, rec := range recs {
		resp.Versions = append(resp.Versions, toResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	payload, _, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	overrides, err := parseOverrides(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.mgr.CreateVersion(r.Context(), chi.URLParam(r, "rootID"), principal(r), payload, overrides)
	s.metrics.observe("create", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(rec))
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	rec, err := s.mgr.GetVersion(r.Context(), chi.URLParam(r, "rootID"), chi.URLParam(r, "versionID"), principal(r))
	s.metrics.observe("get", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *Server) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	rec, err := s.mgr.RestoreVersion(r.Context(), chi.URLParam(r, "rootID"), chi.URLParam(r, "versionID"), principal(r))
	s.metrics.observe("restore", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(rec))
}

func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	err := s.mgr.DeleteVersion(r.Context(), chi.URLParam(r, "rootID"), chi.URLParam(r, "versionID"), principal(r))
	s.metrics.observe("delete", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	rootID, versionID := chi.URLParam(r, "rootID"), chi.URLParam(r, "versionID")
	p := principal(r)

	rec, err := s.mgr.GetVersion(r.Context(), rootID, versionID, p)
	if err != nil {
		s.metrics.observe("content", err)
		s.writeError(w, r, err)
		return
	}

	lw := &lazyWriter{w: w, rec: rec}
	err = s.mgr.ReadContent(r.Context(), rootID, versionID, p, lw, s.opts.Decryption)
	s.metrics.observe("content", err)
	if err != nil {
		if !lw.started {
			s.writeError(w, r, err)
			return
		}
		// Headers are gone; all we can do is cut the body short.
		s.logger.Error("content stream aborted", "root_id", rootID, "version_id", versionID, "error", err)
		return
	}
	lw.start()
}

// lazyWriter delays the 200 header until the first byte arrives so that errors
// raised before any content is read still get a proper status.
type lazyWriter struct {
	w       http.ResponseWriter
	rec     *av.VersionRecord
	started bool
}

func (l *lazyWriter) start() {
	if l.started {
		return
	}
	l.started = true
	h := l.w.Header()
	if ct := l.rec.Descriptor.MimeType; ct != "" {
		h.Set("Content-Type", ct)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	if name := l.rec.Descriptor.Filename; name != "" {
		h.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	}
	l.w.WriteHeader(http.StatusOK)
}

func (l *lazyWriter) Write(p []byte) (int, error) {
	l.start()
	return l.w.Write(p)
}

// readUpload reads the multipart "file" part into a payload. The part's own
// Content-Type wins; otherwise the type is derived from the filename and bytes.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (av.Payload, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return av.Payload{}, "", fmt.Errorf("%w: upload exceeds %d bytes", av.ErrInvalidArgument, tooLarge.Limit)
		}
		return av.Payload{}, "", fmt.Errorf("%w: expected multipart/form-data: %v", av.ErrInvalidArgument, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return av.Payload{}, "", fmt.Errorf("%w: missing form file \"file\"", av.ErrInvalidArgument)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return av.Payload{}, "", fmt.Errorf("%w: reading upload: %v", av.ErrInvalidArgument, err)
	}

	ct := header.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = fs.DetectContentType(header.Filename, data)
	}
	return av.Payload{Data: data, ContentType: ct}, header.Filename, nil
}

// parseOverrides reads descriptor form fields. Only fields present in the form
// are set: filename, width, height, duration_seconds, description, folder,
// tags (repeated or comma separated) and extra.<key>.
func parseOverrides(r *http.Request) (av.DescriptorOverrides, error) {
	var o av.DescriptorOverrides
	if r.MultipartForm == nil {
		return o, nil
	}
	form := r.MultipartForm.Value

	str := func(key string) *string {
		if vs, ok := form[key]; ok && len(vs) > 0 {
			v := vs[0]
			return &v
		}
		return nil
	}

	o.Filename = str("filename")
	o.Description = str("description")
	o.Folder = str("folder")

	for _, key := range []string{"width", "height"} {
		raw := str(key)
		if raw == nil {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(*raw))
		if err != nil || n < 0 {
			return o, fmt.Errorf("%w: %s must be a non-negative integer", av.ErrInvalidArgument, key)
		}
		if key == "width" {
			o.Width = &n
		} else {
			o.Height = &n
		}
	}

	if raw := str("duration_seconds"); raw != nil {
		d, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
		if err != nil || d < 0 {
			return o, fmt.Errorf("%w: duration_seconds must be a non-negative number", av.ErrInvalidArgument)
		}
		o.DurationSeconds = &d
	}

	if vs, ok := form["tags"]; ok {
		o.Tags = []string{}
		for _, v := range vs {
			for _, tag := range strings.Split(v, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					o.Tags = append(o.Tags, tag)
				}
			}
		}
	}

	for key, vs := range form {
		name, ok := strings.CutPrefix(key, "extra.")
		if !ok || name == "" || len(vs) == 0 {
			continue
		}
		if o.Extra == nil {
			o.Extra = make(map[string]string)
		}
		o.Extra[name] = vs[0]
	}

	return o, nil
}

package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/documents"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/match"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/pagination"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/report"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/session"
)

var errMissingFile = errors.New("multipart field \"file\" is required")

type loadResponse struct {
	Documents  int             `json:"documents"`
	Skipped    []string        `json:"skipped"`
	Collisions []collisionView `json:"collisions"`
}

type collisionView struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

type matchView struct {
	Index      int    `json:"index"`
	DocumentID string `json:"documentId"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Address    string `json:"address"`
	Score      int    `json:"score"`
	MatchedBy  string `json:"matchedBy"`
	Selected   bool   `json:"selected"`
}

func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", nil, fmt.Errorf("%w: %v", errMissingFile, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, errMissingFile
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	return header.Filename, data, nil
}

func (s *Server) handleArchiveUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	_, data, err := readUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := sess.LoadArchive(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toLoadResponse(result))
}

func (s *Server) handleCombinedUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	name, data, err := readUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	marker := strings.TrimSpace(r.FormValue("marker"))
	if marker == "" {
		marker = s.cfg.Letters.SplitMarker
	}
	doc := documents.Document{
		ID:      strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)),
		Content: data,
	}
	result, err := sess.LoadCombined(r.Context(), doc, marker)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toLoadResponse(result))
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, struct {
		IDs        []string        `json:"ids"`
		Collisions []collisionView `json:"collisions"`
	}{
		IDs:        append([]string{}, sess.DocumentIDs()...),
		Collisions: toCollisionViews(sess.Collisions()),
	})
}

func (s *Server) handleRecipientsUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	name, data, err := readUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := sess.LoadRecipients(name, bytes.NewReader(data))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"recipients": n})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	outcome, err := sess.Match()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct {
		Matches   int      `json:"matches"`
		Unmatched []string `json:"unmatched"`
	}{
		Matches:   len(outcome.Matches),
		Unmatched: outcome.Unmatched,
	})
}

const matchesPageSize = 50

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	matches := sess.Matches()
	params := pagination.FromQuery(r.URL.Query(), pagination.WithDefaultLimit(matchesPageSize))
	start, end := pagination.Window(params, len(matches))

	views := make([]matchView, 0, end-start)
	for i := start; i < end; i++ {
		views = append(views, toMatchView(i, matches[i]))
	}
	s.respondJSON(w, http.StatusOK, struct {
		Matches   []matchView `json:"matches"`
		Unmatched []string    `json:"unmatched"`
		Total     int         `json:"total"`
		Page      int32       `json:"page"`
		Limit     int32       `json:"limit"`
		HasNext   bool        `json:"hasNext"`
	}{
		Matches:   views,
		Unmatched: append([]string{}, sess.Unmatched()...),
		Total:     len(matches),
		Page:      params.Page,
		Limit:     params.Limit,
		HasNext:   pagination.HasNext(params.Offset, params.Limit, int32(len(matches))),
	})
}

// handleMatchSelection serves PUT /api/matches/{index} and
// PUT /api/matches/all with a {"selected": bool} body.
func (s *Server) handleMatchSelection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var payload struct {
		Selected bool `json:"selected"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	target := strings.TrimPrefix(r.URL.Path, "/api/matches/")
	if target == "all" {
		sess.SelectAll(payload.Selected)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	index, err := strconv.Atoi(target)
	if err != nil {
		http.Error(w, "invalid match index", http.StatusBadRequest)
		return
	}
	if err := sess.SetSelected(index, payload.Selected); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnmatchedExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteUnmatched(&buf, format, sess.Unmatched()); err != nil {
		s.respondError(w, err)
		return
	}
	writeDownload(w, format, report.UnmatchedFilename(format), buf.Bytes())
}

func writeDownload(w http.ResponseWriter, format report.Format, filename string, data []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func toLoadResponse(result session.LoadResult) loadResponse {
	return loadResponse{
		Documents:  result.Documents,
		Skipped:    append([]string{}, result.Skipped...),
		Collisions: toCollisionViews(result.Collisions),
	}
}

func toCollisionViews(collisions []documents.Collision) []collisionView {
	views := make([]collisionView, 0, len(collisions))
	for _, c := range collisions {
		views = append(views, collisionView{ID: c.ID, Count: c.Count})
	}
	return views
}

func toMatchView(index int, m match.Result) matchView {
	return matchView{
		Index:      index,
		DocumentID: m.DocumentID,
		Name:       m.Recipient.Name,
		Email:      m.Recipient.Email,
		Address:    m.Recipient.Address,
		Score:      m.Score,
		MatchedBy:  string(m.MatchedBy),
		Selected:   m.Selected,
	}
}

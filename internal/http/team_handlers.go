package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zrcvae/partnermatch/internal/domain"
	"github.com/zrcvae/partnermatch/internal/service/team"
)

type teamAddRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	MaxNum      int        `json:"maxNum"`
	Status      *int       `json:"status"`
	Password    string     `json:"password"`
	ExpireTime  *time.Time `json:"expireTime"`
}

type teamUpdateRequest struct {
	ID          int64      `json:"id"`
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	MaxNum      *int       `json:"maxNum"`
	Status      *int       `json:"status"`
	Password    *string    `json:"password"`
	ExpireTime  *time.Time `json:"expireTime"`
}

type teamIDRequest struct {
	ID int64 `json:"id"`
}

type teamJoinRequest struct {
	TeamID   int64  `json:"teamId"`
	Password string `json:"password"`
}

type teamQuitRequest struct {
	TeamID int64 `json:"teamId"`
}

type teamListRequest struct {
	ID          int64   `json:"id"`
	IDs         []int64 `json:"idList"`
	SearchText  string  `json:"searchText"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	MaxNum      int     `json:"maxNum"`
	OwnerID     int64   `json:"userId"`
	Status      *int    `json:"status"`
	PageSize    int     `json:"pageSize"`
	PageNum     int     `json:"pageNum"`
}

func (lr teamListRequest) query() domain.TeamQuery {
	q := domain.TeamQuery{
		ID:          lr.ID,
		IDs:         lr.IDs,
		SearchText:  strings.TrimSpace(lr.SearchText),
		Name:        strings.TrimSpace(lr.Name),
		Description: strings.TrimSpace(lr.Description),
		MaxNum:      lr.MaxNum,
		OwnerID:     lr.OwnerID,
		Limit:       lr.PageSize,
	}
	if lr.Status != nil {
		status := domain.TeamStatus(*lr.Status)
		q.Status = &status
	}
	if lr.PageNum > 1 && lr.PageSize > 0 {
		q.Offset = (lr.PageNum - 1) * lr.PageSize
	}
	return q
}

// decodeBody reads a JSON request body into dst. An empty body leaves dst
// untouched.
func decodeBody(w http.ResponseWriter, req *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func (r *Router) handleTeamAdd(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var body teamAddRequest
	if !decodeBody(w, req, &body) {
		return
	}
	id, err := r.team.Create(req.Context(), callerFromContext(req.Context()), team.CreateInput{
		Name:        body.Name,
		Description: body.Description,
		MaxNum:      body.MaxNum,
		Status:      body.Status,
		Password:    body.Password,
		ExpireTime:  body.ExpireTime,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (r *Router) handleTeamUpdate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var body teamUpdateRequest
	if !decodeBody(w, req, &body) {
		return
	}
	err := r.team.Update(req.Context(), callerFromContext(req.Context()), team.UpdateInput{
		ID:          body.ID,
		Name:        body.Name,
		Description: body.Description,
		MaxNum:      body.MaxNum,
		Status:      body.Status,
		Password:    body.Password,
		ExpireTime:  body.ExpireTime,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (r *Router) handleTeamDelete(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var body teamIDRequest
	if !decodeBody(w, req, &body) {
		return
	}
	if err := r.team.Delete(req.Context(), callerFromContext(req.Context()), body.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (r *Router) handleTeamGet(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	id, err := strconv.ParseInt(strings.TrimSpace(req.URL.Query().Get("id")), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	view, err := r.team.Get(req.Context(), callerFromContext(req.Context()), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (r *Router) handleTeamList(w http.ResponseWriter, req *http.Request) {
	body, ok := r.listRequest(w, req)
	if !ok {
		return
	}
	views, err := r.team.List(req.Context(), callerFromContext(req.Context()), body.query())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Router) handleTeamListOwned(w http.ResponseWriter, req *http.Request) {
	body, ok := r.listRequest(w, req)
	if !ok {
		return
	}
	views, err := r.team.ListOwned(req.Context(), callerFromContext(req.Context()), body.query())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Router) handleTeamListJoined(w http.ResponseWriter, req *http.Request) {
	body, ok := r.listRequest(w, req)
	if !ok {
		return
	}
	views, err := r.team.ListJoined(req.Context(), callerFromContext(req.Context()), body.query())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// listRequest accepts filters as a JSON body on POST or as query
// parameters on GET.
func (r *Router) listRequest(w http.ResponseWriter, req *http.Request) (teamListRequest, bool) {
	var body teamListRequest
	switch req.Method {
	case http.MethodPost:
		return body, decodeBody(w, req, &body)
	case http.MethodGet:
	default:
		r.methodNotAllowed(w)
		return body, false
	}

	values := req.URL.Query()
	ints := map[string]*int{
		"maxNum":   &body.MaxNum,
		"pageSize": &body.PageSize,
		"pageNum":  &body.PageNum,
	}
	for name, dst := range ints {
		raw := strings.TrimSpace(values.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+" must be an integer")
			return body, false
		}
		*dst = n
	}
	ids := map[string]*int64{
		"id":     &body.ID,
		"userId": &body.OwnerID,
	}
	for name, dst := range ids {
		raw := strings.TrimSpace(values.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+" must be an integer")
			return body, false
		}
		*dst = n
	}
	if raw := strings.TrimSpace(values.Get("status")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "status must be an integer")
			return body, false
		}
		body.Status = &n
	}
	body.SearchText = values.Get("searchText")
	body.Name = values.Get("name")
	body.Description = values.Get("description")
	return body, true
}

func (r *Router) handleTeamJoin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var body teamJoinRequest
	if !decodeBody(w, req, &body) {
		return
	}
	err := r.team.Join(req.Context(), callerFromContext(req.Context()), team.JoinInput{
		TeamID:   body.TeamID,
		Password: body.Password,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"joined": true})
}

func (r *Router) handleTeamQuit(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var body teamQuitRequest
	if !decodeBody(w, req, &body) {
		return
	}
	if err := r.team.Quit(req.Context(), callerFromContext(req.Context()), body.TeamID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"quit": true})
}

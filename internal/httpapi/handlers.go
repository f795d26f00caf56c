package httpapi

import (
	"errors"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/petrijr/relay/pkg/api"
)

func (s *Server) health(c echo.Context) error {
	pending, err := s.drafts.List(c.Request().Context(), api.DraftPending)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"pending": len(pending),
	})
}

type createDraftRequest struct {
	ID            string `json:"id"`
	AIText        string `json:"ai_text"`
	SourceSummary string `json:"source_summary"`
}

func (s *Server) createDraft(c echo.Context) error {
	var req createDraftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.AIText == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ai_text is required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	d := api.Draft{
		ID:            req.ID,
		CreatedAt:     s.now(),
		Status:        api.DraftPending,
		AIText:        req.AIText,
		SourceSummary: req.SourceSummary,
	}

	if err := s.drafts.Append(c.Request().Context(), d); err != nil {
		if errors.Is(err, api.ErrDraftExists) {
			return echo.NewHTTPError(http.StatusConflict, "draft already exists: "+req.ID)
		}
		return httpError(err)
	}

	s.logger.Info("draft stored", "draft_id", d.ID)
	return c.JSON(http.StatusCreated, d)
}

var validListStatuses = map[api.DraftStatus]bool{
	api.DraftPending:    true,
	api.DraftApproved:   true,
	api.DraftRejected:   true,
	api.DraftSent:       true,
	api.DraftSendFailed: true,
}

func (s *Server) listDrafts(c echo.Context) error {
	status := api.DraftStatus(c.QueryParam("status"))
	if status != "" && !validListStatuses[status] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status: "+string(status))
	}

	drafts, err := s.drafts.List(c.Request().Context(), status)
	if err != nil {
		return httpError(err)
	}
	if drafts == nil {
		drafts = []api.Draft{}
	}
	return c.JSON(http.StatusOK, drafts)
}

func (s *Server) getDraft(c echo.Context) error {
	d, err := s.drafts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

type approveRequest struct {
	Text string `json:"text"`
}

func (s *Server) approveDraft(c echo.Context) error {
	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	res, err := s.ctrl.Approve(c.Request().Context(), c.Param("id"), req.Text)
	if err != nil {
		return httpError(err)
	}

	body := map[string]any{
		"draft_id": res.DraftID,
		"status":   res.Status,
		"attempts": res.Attempts,
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) rejectDraft(c echo.Context) error {
	if err := s.ctrl.Reject(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"draft_id": c.Param("id"),
		"status":   api.DraftRejected,
	})
}

type editRequest struct {
	Text string `json:"text"`
}

func (s *Server) editDraft(c echo.Context) error {
	var req editRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	if err := s.ctrl.Edit(c.Request().Context(), c.Param("id"), req.Text); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"draft_id": c.Param("id"),
		"status":   api.DraftPending,
	})
}

func (s *Server) testSendDraft(c echo.Context) error {
	if err := s.ctrl.TestSend(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"draft_id": c.Param("id"),
		"sent":     true,
	})
}

func (s *Server) getSeenArticles(c echo.Context) error {
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}

	v, ok, err := s.state.Get(c.Request().Context(), seenArticlesWorkflow, date)
	if err != nil {
		return httpError(err)
	}

	titles := []string{}
	if ok {
		// JSON round-tripping stores the list as []any.
		if list, isList := v.([]any); isList {
			for _, item := range list {
				if title, isStr := item.(string); isStr {
					titles = append(titles, title)
				}
			}
		} else if list, isList := v.([]string); isList {
			titles = list
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"date": date, "titles": titles})
}

type seenArticlesRequest struct {
	Date   string   `json:"date"`
	Titles []string `json:"titles"`
}

// storeSeenArticles merges the posted titles into the day's seen set.
// The merge runs inside the state store's atomic Update, so concurrent
// ingestion runs don't drop each other's entries.
func (s *Server) storeSeenArticles(c echo.Context) error {
	var req seenArticlesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.Date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}

	var count int
	err := s.state.Update(c.Request().Context(), seenArticlesWorkflow, req.Date,
		func(value any, ok bool) (any, error) {
			seen := map[string]bool{}
			if ok {
				switch list := value.(type) {
				case []any:
					for _, item := range list {
						if title, isStr := item.(string); isStr {
							seen[title] = true
						}
					}
				case []string:
					for _, title := range list {
						seen[title] = true
					}
				}
			}
			for _, title := range req.Titles {
				seen[title] = true
			}

			merged := make([]string, 0, len(seen))
			for title := range seen {
				merged = append(merged, title)
			}
			sort.Strings(merged)
			count = len(merged)
			return merged, nil
		})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"date": req.Date, "count": count})
}

// httpError maps the error taxonomy onto HTTP status codes. Precondition
// violations (not found / wrong state) come back as client errors the
// approval surface must not retry.
func httpError(err error) error {
	switch {
	case api.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case api.IsInvalidTransition(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/pcesched/pcesched/pkg/engine"
	"github.com/pcesched/pcesched/pkg/manager"
	"github.com/pcesched/pcesched/pkg/schedule"
)

const actor = "api"

// ListRuleSets returns rule sets, filtered by the q query parameter.
func (s *Server) ListRuleSets(c echo.Context) error {
	sets, err := s.manager.RuleSets(c.Request().Context(), strings.TrimSpace(c.QueryParam("q")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sets)
}

// GetRuleSet returns one rule set with its rules.
func (s *Server) GetRuleSet(c echo.Context) error {
	detail, err := s.manager.RuleSet(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

// ListSchedules returns every schedule grouped by rule set. live=true adds
// the objects' current state.
func (s *Server) ListSchedules(c echo.Context) error {
	groups, err := s.manager.List(c.Request().Context(), c.QueryParam("live") == "true")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, groups)
}

// dayList accepts either a JSON array or a comma-separated string.
type dayList []string

func (d *dayList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*d = list
		return nil
	}
	var csv string
	if err := json.Unmarshal(data, &csv); err != nil {
		return fmt.Errorf("days must be a list or a comma-separated string")
	}
	*d = nil
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*d = append(*d, part)
		}
	}
	return nil
}

// ScheduleRequest is the body of POST /api/schedules.
type ScheduleRequest struct {
	Href         string  `json:"href" validate:"required"`
	ScheduleType string  `json:"schedule_type" validate:"required,oneof=recurring one_time"`
	Name         string  `json:"name"`
	IsRuleSet    bool    `json:"is_ruleset"`
	Action       string  `json:"action" validate:"omitempty,oneof=allow block"`
	Days         dayList `json:"days"`
	Start        string  `json:"start" validate:"required_if=ScheduleType recurring"`
	End          string  `json:"end" validate:"required_if=ScheduleType recurring"`
	ExpireAt     string  `json:"expire_at" validate:"required_if=ScheduleType one_time"`

	DetailRS  string `json:"detail_rs"`
	DetailSrc string `json:"detail_src"`
	DetailDst string `json:"detail_dst"`
	DetailSvc string `json:"detail_svc"`
}

var validate = validator.New()

func (r *ScheduleRequest) record() (*schedule.Record, error) {
	var (
		rec *schedule.Record
		err error
	)
	if r.ScheduleType == string(schedule.KindRecurring) {
		rec, err = schedule.NewRecurring(r.Name, r.IsRuleSet, r.Action, r.Days, r.Start, r.End)
	} else {
		rec, err = schedule.NewOneTime(r.Name, r.IsRuleSet, strings.Replace(strings.TrimSpace(r.ExpireAt), " ", "T", 1))
	}
	if err != nil {
		return nil, err
	}
	rec.Detail = schedule.Detail{
		RuleSet:     r.DetailRS,
		Source:      r.DetailSrc,
		Destination: r.DetailDst,
		Service:     r.DetailSvc,
		Name:        r.Name,
	}
	return rec, nil
}

// CreateSchedule creates or replaces a schedule.
func (s *Server) CreateSchedule(c echo.Context) error {
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s is invalid (%s)", verrs[0].Field(), verrs[0].Tag()))
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec, err := req.record()
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if rec.Detail.RuleSet == "" {
		if detail, _, err := s.manager.DescribeTarget(ctx, req.Href); err == nil {
			if rec.Detail.Name == "" {
				rec.Detail.Name = detail.Name
			}
			detail.Name = rec.Detail.Name
			rec.Detail = detail
		}
	}

	res, err := s.manager.Add(ctx, manager.AddRequest{Href: req.Href, Record: rec, Actor: actor})
	if err != nil {
		return err
	}

	body := map[string]interface{}{"ok": true, "result": res, "message": "Schedule saved."}
	if res.NoteError != nil {
		body["warning"] = "note update failed: " + res.NoteError.Error()
	}
	status := http.StatusCreated
	if res.Overwritten {
		status = http.StatusOK
	}
	return c.JSON(status, body)
}

// DeleteSchedule removes the schedule named by the href query parameter or
// the :id path parameter.
func (s *Server) DeleteSchedule(c echo.Context) error {
	ref := c.QueryParam("href")
	if ref == "" {
		ref = c.Param("id")
	}
	if ref == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "href is required")
	}

	res, err := s.manager.Delete(c.Request().Context(), ref, actor)
	if err != nil {
		return err
	}
	body := map[string]interface{}{"ok": true, "href": res.Href}
	if res.NoteError != nil {
		body["warning"] = "note removal failed: " + res.NoteError.Error()
	}
	return c.JSON(http.StatusOK, body)
}

type checkResponse struct {
	RunID   string         `json:"run_id"`
	Logs    []string       `json:"logs"`
	Summary engine.Summary `json:"summary"`
	Error   string         `json:"error,omitempty"`
}

// Check runs one reconciliation pass and returns its log lines. The pass
// outlives a disconnected client.
func (s *Server) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), s.checkTimeout)
	defer cancel()
	report, err := s.checker.Check(ctx, engine.CheckOptions{Silent: true, Source: actor})
	if report == nil {
		return err
	}
	resp := checkResponse{RunID: report.RunID, Logs: report.Lines, Summary: report.Summary}
	if resp.Logs == nil {
		resp.Logs = []string{}
	}
	if err != nil {
		resp.Error = err.Error()
		return c.JSON(http.StatusInternalServerError, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/duynguyendang/kbfuse/pkg/common/errors"
	"github.com/duynguyendang/kbfuse/pkg/config"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/report"
)

// processorInfo describes a registered processor type.
type processorInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// reportInfo describes a report kind.
type reportInfo struct {
	Kind        report.Kind `json:"kind"`
	Description string      `json:"description"`
}

// handleProcessors lists the processor types plans may use.
func (s *Server) handleProcessors(c *gin.Context) {
	types := s.service.ProcessorTypes()
	out := make([]processorInfo, 0, len(types))
	for _, t := range types {
		out = append(out, processorInfo{Name: t.Name, Kind: t.Kind.String(), Description: t.Description})
	}
	c.JSON(http.StatusOK, out)
}

// handleReportKinds lists the available reports.
func (s *Server) handleReportKinds(c *gin.Context) {
	kinds := report.Kinds()
	out := make([]reportInfo, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, reportInfo{Kind: k, Description: k.Describe()})
	}
	c.JSON(http.StatusOK, out)
}

// bindPlan reads a plan from the body. YAML bodies are accepted when the
// content type says so; everything else is JSON.
func bindPlan(c *gin.Context) (*config.Plan, error) {
	if strings.Contains(c.ContentType(), "yaml") {
		data, err := c.GetRawData()
		if err != nil {
			return nil, errors.NewAppError(http.StatusBadRequest, "Invalid request body", err)
		}
		return config.ParsePlan(data)
	}
	var p config.Plan
	if err := c.ShouldBindJSON(&p); err != nil {
		return nil, errors.NewAppError(http.StatusBadRequest, "Invalid request body", err)
	}
	return &p, nil
}

// handleValidatePlan checks a plan without running it.
func (s *Server) handleValidatePlan(c *gin.Context) {
	p, err := bindPlan(c)
	if err != nil {
		handleError(c, err)
		return
	}
	plan, err := s.service.ValidatePlan(p)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":           true,
		"order":           plan.Order(),
		"knowledge_bases": plan.KnowledgeBases(),
	})
}

// handleStartRun starts a run. With ?wait=true the response is sent once
// the run has finished.
func (s *Server) handleStartRun(c *gin.Context) {
	p, err := bindPlan(c)
	if err != nil {
		handleError(c, err)
		return
	}

	if c.Query("wait") == "true" {
		rec, err := s.service.RunPlan(c.Request.Context(), p)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
		return
	}

	rec, err := s.service.StartRun(c.Request.Context(), p)
	if err != nil {
		handleError(c, err)
		return
	}
	c.Header("Location", "/v1/runs/"+rec.ID)
	c.JSON(http.StatusAccepted, rec)
}

// handleListRuns returns every known run, newest first.
func (s *Server) handleListRuns(c *gin.Context) {
	runs, err := s.service.ListRuns()
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

// handleGetRun returns a run's status with per-processor state and progress.
func (s *Server) handleGetRun(c *gin.Context) {
	rec, err := s.service.GetRun(c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDeleteRun(c *gin.Context) {
	if err := s.service.DeleteRun(c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCancelRun(c *gin.Context) {
	if err := s.service.CancelRun(c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// handleReport computes a report for one processor of a run.
func (s *Server) handleReport(c *gin.Context) {
	kind, err := report.ParseKind(c.Param("kind"))
	if err != nil {
		handleError(c, err)
		return
	}
	res, err := s.service.Report(c.Request.Context(),
		c.Param("id"), processor.ID(c.Param("pid")), kind, c.Query("category"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func handleError(c *gin.Context, err error) {
	appErr := errors.MapError(err)
	body := gin.H{"error": appErr.Message}
	if appErr.Err != nil {
		body["detail"] = appErr.Err.Error()
	}
	c.JSON(appErr.Code, body)
}

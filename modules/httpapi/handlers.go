package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/e7canasta/orion-posematch/modules/matchloop"
	"github.com/e7canasta/orion-posematch/modules/posestore"
	"github.com/e7canasta/orion-posematch/modules/session"
)

// CaptureRequest is the body of POST /v1/poses. All fields optional.
type CaptureRequest struct {
	TolerancePct *float64 `json:"tolerancePct"`
}

// ToleranceRequest is the body of PUT /v1/poses/:id/tolerance.
type ToleranceRequest struct {
	TolerancePct *float64 `json:"tolerancePct" binding:"required"`
}

// StartTestRequest is the body of POST /v1/test.
type StartTestRequest struct {
	PoseID string `json:"poseId" binding:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func abort(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, errorResponse{Error: err.Error()})
}

// statusFor maps session errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, matchloop.ErrUnknownPose):
		return http.StatusNotFound
	case errors.Is(err, posestore.ErrUsage):
		return http.StatusConflict
	case errors.Is(err, session.ErrDestroyed), errors.Is(err, matchloop.ErrNotOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptimeS": time.Since(s.started).Seconds(),
	})
}

func (s *Server) readiness(c *gin.Context) {
	failed := map[string]string{}
	for _, chk := range s.cfg.Checks {
		if err := chk.Fn(); err != nil {
			failed[chk.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.sess.Status())
}

func (s *Server) listPoses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"poses": s.sess.Poses()})
}

func (s *Server) capture(c *gin.Context) {
	var req CaptureRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
	}

	id, err := s.sess.Capture(req.TolerancePct)
	if err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"poseId": id})
}

func (s *Server) removePose(c *gin.Context) {
	if err := s.sess.Remove(c.Param("id")); err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setTolerance(c *gin.Context) {
	var req ToleranceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := s.sess.UpdateTolerance(c.Param("id"), *req.TolerancePct); err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) startTest(c *gin.Context) {
	var req StartTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := s.sess.StartTest(req.PoseID); err != nil {
		abort(c, statusFor(err), err)
		return
	}
	st := s.sess.Status()
	c.JSON(http.StatusOK, gin.H{"poseId": st.TargetPoseID, "thresholdPct": st.ThresholdPct})
}

func (s *Server) stopTest(c *gin.Context) {
	s.sess.StopTest()
	c.Status(http.StatusNoContent)
}

func (s *Server) latestResult(c *gin.Context) {
	res := s.sess.Latest()
	if res == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, res)
}

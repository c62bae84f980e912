package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/conductor/internal/audit"
	"github.com/zulandar/conductor/internal/review"
	"github.com/zulandar/conductor/internal/runbook"
)

// handleSubmit stores a proposal for review under the caller's identity.
func (s *Server) handleSubmit(c *gin.Context) {
	var in review.SubmitInput
	if !bindJSON(c, &in) {
		return
	}
	caller := callerOf(c)
	in.SubmittedBy, in.SubmittedByRole = caller.Name, caller.Role
	res, err := s.opts.Review.Submit(c.Request.Context(), projectOf(c).ID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if res.ChangesCount == 0 {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (s *Server) handlePendingList(c *gin.Context) {
	q := review.Query{Status: c.Query("status"), SubmissionID: c.Query("submission_id")}
	changes, err := s.opts.Review.List(projectOf(c).ID, q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, changes)
}

func (s *Server) handleAccept(c *gin.Context) {
	s.decide(c, s.opts.Review.Accept)
}

func (s *Server) handleDecline(c *gin.Context) {
	s.decide(c, s.opts.Review.Decline)
}

type decideFunc = func(ctx context.Context, projectID, changeID uint, reviewer string) (*review.Decision, error)

func (s *Server) decide(c *gin.Context, fn decideFunc) {
	changeID, err := paramID(c, "changeId")
	if err != nil {
		respondError(c, err)
		return
	}
	d, err := fn(c.Request.Context(), projectOf(c).ID, changeID, callerOf(c).Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleAcceptAll(c *gin.Context) {
	s.decideAll(c, s.opts.Review.AcceptAll)
}

func (s *Server) handleDeclineAll(c *gin.Context) {
	s.decideAll(c, s.opts.Review.DeclineAll)
}

type decideAllFunc = func(ctx context.Context, projectID uint, submissionID, reviewer string) ([]review.Decision, error)

// decideAll reports the decisions made before a failure alongside the
// error so clients can tell how far the batch got.
func (s *Server) decideAll(c *gin.Context, fn decideAllFunc) {
	decisions, err := fn(c.Request.Context(), projectOf(c).ID, c.Param("submissionId"), callerOf(c).Name)
	if err != nil {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			respondError(c, err)
			return
		}
		c.JSON(status, gin.H{"error": err.Error(), "decisions": decisions})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (s *Server) handleLogList(c *gin.Context) {
	var q audit.Query
	if v := c.Query("epoch"); v != "" {
		epoch, err := strconv.Atoi(v)
		if err != nil || epoch < 0 {
			respondError(c, fmt.Errorf("invalid epoch %q: %w", v, runbook.ErrInvalid))
			return
		}
		q.Epoch = &epoch
	}
	if v := c.Query("row_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(c, fmt.Errorf("invalid row_id %q: %w", v, runbook.ErrInvalid))
			return
		}
		q.RowID = uint(id)
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			respondError(c, fmt.Errorf("invalid limit %q: %w", v, runbook.ErrInvalid))
			return
		}
		q.Limit = limit
	}
	q.ActionType = c.Query("action_type")
	q.UserName = c.Query("user")

	logs, err := audit.List(s.opts.Store.DB, projectOf(c), q)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]logView, len(logs))
	for i, l := range logs {
		out[i] = viewLog(l)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleLogEpochs(c *gin.Context) {
	p := projectOf(c)
	epochs, err := audit.Epochs(s.opts.Store.DB, p.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"epochs": epochs, "current": p.ResetEpoch})
}

func (s *Server) handleLogClear(c *gin.Context) {
	n, err := audit.Clear(s.opts.Store.DB, projectOf(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) handleResetStatuses(c *gin.Context) {
	res, err := s.opts.Store.ResetStatuses(projectOf(c).ID, callerOf(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "reset_statuses")
	c.JSON(http.StatusOK, res)
}

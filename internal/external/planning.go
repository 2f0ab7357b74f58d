package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/types"
)

// PlanningClient talks to the observation planning service: plan request
// submission, plan statistics retrieval, and execution queue management.
type PlanningClient struct {
	base    *BaseClient
	baseURL string
	token   types.SecretString
	alloc   string
}

// NewPlanningClient creates a PlanningClient from config.
func NewPlanningClient(httpClient *http.Client, cfg config.PlanningConfig) *PlanningClient {
	return &PlanningClient{
		base:    NewBaseClient(httpClient, "planning", types.ErrCodeTransientPlanning),
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		alloc:   cfg.AllocationID,
	}
}

// PlanRequest is the payload for one observation plan computation.
type PlanRequest struct {
	EventID   string    `json:"event_id"`
	QueueName string    `json:"queue_name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	// Contour is the integrated localization probability to tile.
	Contour float64 `json:"integrated_probability"`
}

// SubmitPlanRequest asks the planning service to compute a plan. The
// service works asynchronously; statistics become available later via
// GetPlanStats.
func (c *PlanningClient) SubmitPlanRequest(ctx context.Context, req PlanRequest) error {
	payload := struct {
		PlanRequest
		AllocationID string `json:"allocation_id"`
	}{PlanRequest: req, AllocationID: c.alloc}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode plan request", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/observation_plan", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return types.NewAppError(types.ErrCodeTransientPlanning,
			fmt.Sprintf("plan request rejected with status %d", resp.StatusCode), nil)
	}
	return nil
}

// planRequestEntry mirrors one plan request in the service's listing.
type planRequestEntry struct {
	QueueName string `json:"queue_name"`
	Status    string `json:"status"`
	Plans     []struct {
		PlanID     int64 `json:"plan_id"`
		Statistics []struct {
			TotalTime   float64   `json:"total_time"`
			Probability float64   `json:"probability"`
			StartTime   time.Time `json:"start_observation"`
		} `json:"statistics"`
	} `json:"observation_plans"`
}

// GetPlanStats fetches the statistics for the plan request identified by
// queueName. The boolean result is false while the plan is still being
// computed. Multiple generated plans or multiple statistics entries for one
// queue name are a consistency error: the record must stop automated
// progress.
//
// PlanStats.AlreadySubmitted is true when any plan request for the event,
// regardless of origin, has already been submitted to the telescope queue.
// The decision engine uses it to avoid double-triggering.
func (c *PlanningClient) GetPlanStats(ctx context.Context, eventID, queueName string) (*types.PlanStats, bool, error) {
	resp, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/events/%s/observation_plan_requests", eventID), nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, types.NewAppError(types.ErrCodeTransientPlanning,
			fmt.Sprintf("plan listing failed with status %d", resp.StatusCode), nil)
	}

	var listing struct {
		Data []planRequestEntry `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, false, types.NewAppError(types.ErrCodeTransientPlanning,
			"failed to decode plan listing", err)
	}

	alreadySubmitted := false
	for _, entry := range listing.Data {
		if entry.Status == "submitted to telescope queue" {
			alreadySubmitted = true
		}
	}

	var matched []planRequestEntry
	for _, entry := range listing.Data {
		if entry.QueueName == queueName {
			matched = append(matched, entry)
		}
	}
	if len(matched) == 0 {
		// Request not registered yet; still pending.
		return nil, false, nil
	}
	if len(matched) > 1 {
		return nil, false, types.NewAppError(types.ErrCodeConsistencyMultiplePlans,
			"multiple plan requests found for queue "+queueName, nil)
	}

	entry := matched[0]
	if len(entry.Plans) == 0 {
		return nil, false, nil
	}
	if len(entry.Plans) > 1 {
		return nil, false, types.NewAppError(types.ErrCodeConsistencyMultiplePlans,
			"multiple generated plans for queue "+queueName, nil)
	}
	plan := entry.Plans[0]
	if len(plan.Statistics) == 0 {
		return nil, false, nil
	}
	if len(plan.Statistics) > 1 {
		return nil, false, types.NewAppError(types.ErrCodeConsistencyMultiplePlans,
			"multiple statistics entries for queue "+queueName, nil)
	}

	stats := plan.Statistics[0]
	return &types.PlanStats{
		PlanID:           plan.PlanID,
		TotalTimeSec:     stats.TotalTime,
		Probability:      stats.Probability,
		StartTime:        stats.StartTime,
		AlreadySubmitted: alreadySubmitted,
	}, true, nil
}

// EnqueueExecution commits a computed plan to the live telescope queue.
func (c *PlanningClient) EnqueueExecution(ctx context.Context, planID int64) error {
	resp, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/observation_plan/%d/queue", planID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewAppError(types.ErrCodeTransientPlanning,
			fmt.Sprintf("enqueue failed with status %d", resp.StatusCode), nil)
	}
	return nil
}

// DequeueExecution withdraws a queued plan from the telescope queue.
func (c *PlanningClient) DequeueExecution(ctx context.Context, planID int64) error {
	resp, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/api/observation_plan/%d/queue", planID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return types.NewAppError(types.ErrCodeTransientPlanning,
			fmt.Sprintf("dequeue failed with status %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *PlanningClient) do(ctx context.Context, method, path string, body *bytes.Reader) (*http.Response, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build planning request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "token "+c.token.Reveal())
	return c.base.Do(req)
}

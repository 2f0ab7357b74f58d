package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/types"
)

// MassClient fetches compact-binary parameter estimates for a candidate
// event. Estimates appear some minutes after the alert, so availability is a
// value, not an error; the decision engine owns the poll budget.
type MassClient struct {
	base    *BaseClient
	baseURL string
}

// NewMassClient creates a MassClient from config.
func NewMassClient(httpClient *http.Client, cfg config.MassConfig) *MassClient {
	return &MassClient{
		base:    NewBaseClient(httpClient, "mass", types.ErrCodeTransientUpstream),
		baseURL: cfg.BaseURL,
	}
}

// ChirpMass returns the catalog chirp-mass estimate for the event. The
// boolean result is false while no estimate has been published yet.
func (c *MassClient) ChirpMass(ctx context.Context, eventID string) (float64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/events/%s/parameters", c.baseURL, eventID), nil)
	if err != nil {
		return 0, false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build mass request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, false, nil
	default:
		return 0, false, types.NewAppError(types.ErrCodeTransientUpstream,
			fmt.Sprintf("mass query failed with status %d", resp.StatusCode), nil)
	}

	var payload struct {
		ChirpMass *float64 `json:"chirp_mass"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, false, types.NewAppError(types.ErrCodeTransientUpstream,
			"failed to decode mass response", err)
	}
	if payload.ChirpMass == nil {
		return 0, false, nil
	}
	return *payload.ChirpMass, true, nil
}

// PredictTotalMass returns the regression fallback estimate of total mass,
// derived from the alert's distance and false-alarm rate. Used when no
// catalog estimate appears within the poll budget.
func (c *MassClient) PredictTotalMass(ctx context.Context, event types.Event) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/predict?distance_mpc=%g&far_years=%g&sky_area_deg2=%g",
			c.baseURL, event.DistanceMpc, event.FAR, event.SkyAreaDeg2), nil)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build prediction request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, types.NewAppError(types.ErrCodeTransientUpstream,
			fmt.Sprintf("mass prediction failed with status %d", resp.StatusCode), nil)
	}

	var payload struct {
		TotalMass float64 `json:"total_mass"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, types.NewAppError(types.ErrCodeTransientUpstream,
			"failed to decode mass prediction", err)
	}
	return payload.TotalMass, nil
}

package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/types"
)

// CoverageClient queries the survey-coverage service for the fraction of a
// localization region imaged over a time range. Used both for the
// serendipitous check at trigger time and for pending-observation rechecks.
type CoverageClient struct {
	base     *BaseClient
	baseURL  string
	username string
	password types.SecretString
}

// NewCoverageClient creates a CoverageClient from config.
func NewCoverageClient(httpClient *http.Client, cfg config.CoverageConfig) *CoverageClient {
	return &CoverageClient{
		base:     NewBaseClient(httpClient, "coverage", types.ErrCodeTransientCoverage),
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
	}
}

// FractionCovered returns the fraction of the localization identified by
// skymapName (at the given probability contour) that the survey imaged in
// [start, end). The result is in [0, 1].
func (c *CoverageClient) FractionCovered(ctx context.Context, skymapName string, contour float64, start, end time.Time) (float64, error) {
	q := url.Values{}
	q.Set("skymap", skymapName)
	q.Set("contour", fmt.Sprintf("%g", contour))
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/coverage?"+q.Encode(), nil)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build coverage request", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password.Reveal())
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, types.NewAppError(types.ErrCodeTransientCoverage,
			fmt.Sprintf("coverage query failed with status %d", resp.StatusCode), nil)
	}

	var payload struct {
		Fraction float64 `json:"probability_covered"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, types.NewAppError(types.ErrCodeTransientCoverage,
			"failed to decode coverage response", err)
	}
	if payload.Fraction < 0 || payload.Fraction > 1 {
		return 0, types.NewAppError(types.ErrCodeTransientCoverage,
			fmt.Sprintf("coverage fraction %g out of range", payload.Fraction), nil)
	}
	return payload.Fraction, nil
}

package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/types"
)

// fetchConcurrency bounds parallel result downloads per pass.
const fetchConcurrency = 4

// BatchClient talks to the bulk photometry retrieval service. The service is
// asynchronous and globally rate limited: requests are submitted in bounded
// sub-batches and results are collected on later passes.
type BatchClient struct {
	base     *BaseClient
	baseURL  string
	email    string
	userpass types.SecretString
	authUser string
	authPass types.SecretString
}

// NewBatchClient creates a BatchClient from config.
func NewBatchClient(httpClient *http.Client, cfg config.BatchConfig) *BatchClient {
	return &BatchClient{
		base:     NewBaseClient(httpClient, "batch", types.ErrCodeTransientBatch),
		baseURL:  cfg.BaseURL,
		email:    cfg.Email,
		userpass: cfg.UserPass,
		authUser: cfg.AuthUsername,
		authPass: cfg.AuthPassword,
	}
}

// SubmissionReceipt identifies one accepted sub-batch.
type SubmissionReceipt struct {
	BatchID      string
	NumSubmitted int
}

// SubmitBatch submits one sub-batch of coordinates covering [jdStart, jdEnd]
// in Julian days. Callers must respect the service batch-size limit; the
// client does not split oversized input.
func (c *BatchClient) SubmitBatch(ctx context.Context, coords []types.Coordinate, jdStart, jdEnd float64) (SubmissionReceipt, error) {
	ras := make([]string, len(coords))
	decs := make([]string, len(coords))
	for i, coord := range coords {
		ras[i] = strconv.FormatFloat(coord.RA, 'f', -1, 64)
		decs[i] = strconv.FormatFloat(coord.Dec, 'f', -1, 64)
	}

	form := url.Values{}
	form.Set("ra", strings.Join(ras, ","))
	form.Set("dec", strings.Join(decs, ","))
	form.Set("jdstart", strconv.FormatFloat(jdStart, 'f', -1, 64))
	form.Set("jdend", strconv.FormatFloat(jdEnd, 'f', -1, 64))
	form.Set("email", c.email)
	form.Set("userpass", c.userpass.Reveal())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/requests", strings.NewReader(form.Encode()))
	if err != nil {
		return SubmissionReceipt{}, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build batch request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.authUser, c.authPass.Reveal())

	resp, err := c.base.Do(req)
	if err != nil {
		return SubmissionReceipt{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SubmissionReceipt{}, types.NewAppError(types.ErrCodeTransientBatch,
			fmt.Sprintf("batch submission failed with status %d", resp.StatusCode), nil)
	}

	var payload struct {
		BatchID string `json:"batch_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return SubmissionReceipt{}, types.NewAppError(types.ErrCodeTransientBatch,
			"failed to decode batch receipt", err)
	}
	return SubmissionReceipt{BatchID: payload.BatchID, NumSubmitted: len(coords)}, nil
}

// PendingCount returns how many of this account's requests the service still
// holds in flight. The budget reconciles against this at startup.
func (c *BatchClient) PendingCount(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/requests?status=pending&email="+url.QueryEscape(c.email), nil)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build pending query", err)
	}
	req.SetBasicAuth(c.authUser, c.authPass.Reveal())

	resp, err := c.base.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, types.NewAppError(types.ErrCodeTransientBatch,
			fmt.Sprintf("pending query failed with status %d", resp.StatusCode), nil)
	}

	var payload struct {
		Pending int `json:"pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, types.NewAppError(types.ErrCodeTransientBatch,
			"failed to decode pending count", err)
	}
	return payload.Pending, nil
}

// SourceLightcurve is one returned per-source payload.
type SourceLightcurve struct {
	RA      float64         `json:"ra"`
	Dec     float64         `json:"dec"`
	Payload json.RawMessage `json:"payload"`
}

// BatchResult summarizes one returned sub-batch.
type BatchResult struct {
	BatchID        string `json:"batch_id"`
	Done           bool   `json:"done"`
	NumberReturned int    `json:"number_returned"`
	NumberBroken   int    `json:"number_broken"`
	// Lightcurves holds the per-source payloads for archiving.
	Lightcurves []SourceLightcurve `json:"lightcurves"`
}

// FetchResults downloads the results for the given batch IDs concurrently.
// Batches the service has not finished come back with Done=false and empty
// counts; a partial return is not an error.
func (c *BatchClient) FetchResults(ctx context.Context, batchIDs []string) ([]BatchResult, error) {
	results := make([]BatchResult, len(batchIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range batchIDs {
		i, id := i, id
		g.Go(func() error {
			res, err := c.fetchOne(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *BatchClient) fetchOne(ctx context.Context, batchID string) (BatchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/requests/"+url.PathEscape(batchID)+"/results", nil)
	if err != nil {
		return BatchResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build results query", err)
	}
	req.SetBasicAuth(c.authUser, c.authPass.Reveal())

	resp, err := c.base.Do(req)
	if err != nil {
		return BatchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted:
		// Still processing.
		return BatchResult{BatchID: batchID}, nil
	default:
		return BatchResult{}, types.NewAppError(types.ErrCodeTransientBatch,
			fmt.Sprintf("results fetch for %s failed with status %d", batchID, resp.StatusCode), nil)
	}

	var res BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return BatchResult{}, types.NewAppError(types.ErrCodeTransientBatch,
			"failed to decode batch results", err)
	}
	res.BatchID = batchID
	res.Done = true
	return res, nil
}

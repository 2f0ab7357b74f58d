package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/types"
)

// CatalogClient queries the source catalog for objects inside an event's
// localization region. The coverage service hosts the crossmatch endpoint,
// so the client shares its configuration.
type CatalogClient struct {
	base     *BaseClient
	baseURL  string
	username string
	password types.SecretString
}

// NewCatalogClient creates a CatalogClient from config.
func NewCatalogClient(httpClient *http.Client, cfg config.CoverageConfig) *CatalogClient {
	return &CatalogClient{
		base:     NewBaseClient(httpClient, "catalog", types.ErrCodeTransientUpstream),
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
	}
}

// SourcesInLocalization returns catalog coordinates inside the localization
// identified by skymapName at the given probability contour.
func (c *CatalogClient) SourcesInLocalization(ctx context.Context, skymapName string, contour float64) ([]types.Coordinate, error) {
	q := url.Values{}
	q.Set("skymap", skymapName)
	q.Set("contour", fmt.Sprintf("%g", contour))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/catalog/crossmatch?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build catalog request", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password.Reveal())
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(types.ErrCodeTransientUpstream,
			fmt.Sprintf("catalog crossmatch failed with status %d", resp.StatusCode), nil)
	}

	var payload struct {
		Sources []types.Coordinate `json:"sources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, types.NewAppError(types.ErrCodeTransientUpstream,
			"failed to decode catalog crossmatch", err)
	}
	return payload.Sources, nil
}

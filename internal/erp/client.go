// Package erp fetches entity batches from the Verial ERP and the store REST
// API, staging the payloads for application on the destination side.
package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/erp-sync/internal/config"
	"github.com/erp-sync/internal/logging"
	"github.com/erp-sync/internal/storage"
	"github.com/erp-sync/internal/types"
	"github.com/erp-sync/internal/worker"
)

// resourcePaths maps entity types to API resource names, shared by both
// source systems.
var resourcePaths = map[types.EntityType]string{
	types.EntityProducts: "products",
	types.EntityOrders:   "orders",
}

// ItemStager persists fetched payloads, reporting how many actually changed.
// Satisfied by storage.StagingRepository.
type ItemStager interface {
	UpsertBatch(ctx context.Context, entity types.EntityType, direction types.SyncDirection, items []storage.StagedItem) (int, error)
}

// Client implements worker.BatchSource by fetching pages from whichever
// system is the source of truth for the run's direction and staging them.
type Client struct {
	cfg     config.ERPConfig
	http    *http.Client
	staging ItemStager
	logger  *logging.Logger
}

// NewClient creates a batch-source client
func NewClient(cfg config.ERPConfig, staging ItemStager, logger *logging.Logger) (*Client, error) {
	if staging == nil {
		return nil, fmt.Errorf("staging repository cannot be nil")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		staging: staging,
		logger:  logger,
	}, nil
}

// CountItems returns the total item count on the source system
func (c *Client) CountItems(ctx context.Context, entity types.EntityType, direction types.SyncDirection) (int, error) {
	resource, ok := resourcePaths[entity]
	if !ok {
		return 0, fmt.Errorf("unknown entity type: %s", entity)
	}

	if direction == types.DirectionERPToStore {
		return c.countVerial(ctx, resource)
	}
	return c.countStore(ctx, resource)
}

// SyncBatch fetches one page from the source system and stages it. Items
// whose payload matches what is already staged count as duplicates.
func (c *Client) SyncBatch(ctx context.Context, entity types.EntityType, direction types.SyncDirection, batch, batchSize int) (worker.BatchResult, error) {
	resource, ok := resourcePaths[entity]
	if !ok {
		return worker.BatchResult{}, fmt.Errorf("unknown entity type: %s", entity)
	}

	var (
		payloads []json.RawMessage
		err      error
	)
	if direction == types.DirectionERPToStore {
		payloads, err = c.fetchVerialPage(ctx, resource, batch, batchSize)
	} else {
		payloads, err = c.fetchStorePage(ctx, resource, batch, batchSize)
	}
	if err != nil {
		return worker.BatchResult{}, err
	}

	result := worker.BatchResult{}
	items := make([]storage.StagedItem, 0, len(payloads))

	for _, payload := range payloads {
		var head struct {
			ID     json.Number       `json:"id"`
			Images []json.RawMessage `json:"images"`
		}
		if err := json.Unmarshal(payload, &head); err != nil || head.ID.String() == "" {
			result.Errors++
			continue
		}

		items = append(items, storage.StagedItem{
			ExternalID: head.ID.String(),
			Payload:    payload,
		})
		if entity == types.EntityProducts {
			result.ImagesProcessed += len(head.Images)
		}
	}

	changed, err := c.staging.UpsertBatch(ctx, entity, direction, items)
	if err != nil {
		return result, fmt.Errorf("failed to stage batch %d: %w", batch, err)
	}

	result.ItemsSynced = changed
	result.DuplicatesSkipped = len(items) - changed

	return result, nil
}

// countVerial reads the total from the ERP count endpoint
func (c *Client) countVerial(ctx context.Context, resource string) (int, error) {
	endpoint := fmt.Sprintf("%s/%s/count?x=%s", c.cfg.VerialBaseURL, resource, url.QueryEscape(c.cfg.VerialSessionID))

	body, _, err := c.get(ctx, endpoint, false)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s on ERP: %w", resource, err)
	}

	var response struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("failed to decode ERP count response: %w", err)
	}

	return response.Count, nil
}

// countStore reads the total from the store's X-WP-Total pagination header
func (c *Client) countStore(ctx context.Context, resource string) (int, error) {
	endpoint := fmt.Sprintf("%s/wp-json/wc/v3/%s?page=1&per_page=1", c.cfg.WooBaseURL, resource)

	_, header, err := c.get(ctx, endpoint, true)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s on store: %w", resource, err)
	}

	total := header.Get("X-WP-Total")
	if total == "" {
		return 0, fmt.Errorf("store response missing X-WP-Total header")
	}

	count, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("invalid X-WP-Total header %q: %w", total, err)
	}

	return count, nil
}

// fetchVerialPage fetches one page of items from the ERP
func (c *Client) fetchVerialPage(ctx context.Context, resource string, page, pageSize int) ([]json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/%s?x=%s&pagina=%d&tam=%d",
		c.cfg.VerialBaseURL, resource, url.QueryEscape(c.cfg.VerialSessionID), page, pageSize)

	body, _, err := c.get(ctx, endpoint, false)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s page %d from ERP: %w", resource, page, err)
	}

	var payloads []json.RawMessage
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, fmt.Errorf("failed to decode ERP %s page: %w", resource, err)
	}

	return payloads, nil
}

// fetchStorePage fetches one page of items from the store REST API
func (c *Client) fetchStorePage(ctx context.Context, resource string, page, pageSize int) ([]json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/wp-json/wc/v3/%s?page=%d&per_page=%d", c.cfg.WooBaseURL, resource, page, pageSize)

	body, _, err := c.get(ctx, endpoint, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s page %d from store: %w", resource, page, err)
	}

	var payloads []json.RawMessage
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, fmt.Errorf("failed to decode store %s page: %w", resource, err)
	}

	return payloads, nil
}

// get performs an HTTP GET, with store basic auth when asked
func (c *Client) get(ctx context.Context, endpoint string, storeAuth bool) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if storeAuth {
		req.SetBasicAuth(c.cfg.WooKey, c.cfg.WooSecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return body, resp.Header, nil
}

package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vitos/ig_price_stream/internal/domain"
)

// Client resolves instrument master records from the IG reference-data API.
type Client struct {
	baseURL       string
	apiKey        string
	cst           string
	securityToken string
	client        *http.Client
}

func NewClient(baseURL, apiKey, cst, securityToken string) *Client {
	return &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		apiKey:        apiKey,
		cst:           cst,
		securityToken: securityToken,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// LookupMarkets fetches market details for the given epics in one batched
// request. Epics the service does not know are simply absent from the result.
func (c *Client) LookupMarkets(ctx context.Context, epics []domain.Epic) ([]domain.MarketInfo, error) {
	if len(epics) == 0 {
		return nil, nil
	}

	ids := make([]string, len(epics))
	for i, e := range epics {
		ids[i] = string(e)
	}
	endpoint := c.baseURL + "/markets?epics=" + url.QueryEscape(strings.Join(ids, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-IG-API-KEY", c.apiKey)
	req.Header.Set("CST", c.cst)
	req.Header.Set("X-SECURITY-TOKEN", c.securityToken)
	req.Header.Set("Version", "2")
	req.Header.Set("Accept", "application/json; charset=UTF-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("reference data API error (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		MarketDetails []struct {
			Instrument struct {
				Epic   string `json:"epic"`
				Name   string `json:"name"`
				Type   string `json:"type"`
				Expiry string `json:"expiry"`
			} `json:"instrument"`
		} `json:"marketDetails"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("reference data decode: %w", err)
	}

	var markets []domain.MarketInfo
	for _, d := range result.MarketDetails {
		epic, err := domain.ParseEpic(d.Instrument.Epic)
		if err != nil {
			continue
		}
		markets = append(markets, domain.MarketInfo{
			Epic:           epic,
			InstrumentName: d.Instrument.Name,
			InstrumentType: d.Instrument.Type,
			Expiry:         d.Instrument.Expiry,
		})
	}
	return markets, nil
}

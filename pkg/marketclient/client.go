/**
 * @description
 * This package provides a client for the marketplace seller API. It
 * encapsulates the OAuth client-credentials token exchange and the metric
 * endpoints the snapshot builder polls: calls, chats, phone reveals, rating,
 * reviews, listings, listing statistics, balance, and billing transactions.
 *
 * Key features:
 * - Token acquisition and transparent refresh on 401 responses.
 * - Typed response structs per endpoint, validated at the boundary.
 * - Every metric method returns its zero value alongside the error, so the
 *   caller can degrade a failed metric group to defaults and keep going.
 */
package marketclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ItemStatsBatchLimit is the maximum number of item IDs the statistics
// endpoint accepts per request.
const ItemStatsBatchLimit = 200

// ItemsPageSize is the page size used when listing active items.
const ItemsPageSize = 100

// Client is a client for the marketplace API. It is credential-agnostic;
// per-account sessions are created through Authenticate.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new marketplace API client. The timeout applies to
// every upstream call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Session is an authenticated view of one account. It carries the access
// token and the marketplace-side user ID resolved during authentication.
type Session struct {
	client       *Client
	clientID     string
	clientSecret string
	token        string
	userID       int64
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type selfResponse struct {
	ID int64 `json:"id"`
}

// Authenticate exchanges the credential pair for an access token and
// resolves the account's marketplace user ID. A failure here is fatal for
// the whole snapshot build; the caller retries at the next scheduled tick.
func (c *Client) Authenticate(ctx context.Context, clientID, clientSecret string) (*Session, error) {
	token, err := c.fetchToken(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	s := &Session{client: c, clientID: clientID, clientSecret: clientSecret, token: token}

	var self selfResponse
	if err := s.do(ctx, http.MethodGet, "/core/v1/accounts/self", nil, nil, &self); err != nil {
		return nil, fmt.Errorf("failed to resolve account user id: %w", err)
	}
	if self.ID == 0 {
		return nil, fmt.Errorf("marketplace returned empty user id")
	}
	s.userID = self.ID

	return s, nil
}

func (c *Client) fetchToken(ctx context.Context, clientID, clientSecret string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access token")
	}
	return tok.AccessToken, nil
}

// do executes one authenticated request and decodes the JSON response into
// out. On a 401 it refreshes the token once and retries.
func (s *Session) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return s.doOnce(ctx, method, path, query, body, out, true)
}

func (s *Session) doOnce(ctx context.Context, method, path string, query url.Values, body, out any, allowRefresh bool) error {
	reqURL := s.client.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && allowRefresh {
		token, err := s.client.fetchToken(ctx, s.clientID, s.clientSecret)
		if err != nil {
			return fmt.Errorf("token refresh failed: %w", err)
		}
		s.token = token
		return s.doOnce(ctx, method, path, query, body, out, false)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

// CallStats summarizes call activity inside a window.
type CallStats struct {
	Total  int
	Missed int
}

type callsRequest struct {
	DateTimeFrom string `json:"dateTimeFrom"`
	DateTimeTo   string `json:"dateTimeTo"`
	Limit        int    `json:"limit"`
	Offset       int    `json:"offset"`
}

type callsResponse struct {
	Calls []struct {
		TalkDuration int `json:"talkDuration"`
	} `json:"calls"`
}

// FetchCalls returns call counts for the window. A call with zero talk
// duration counts as missed.
func (s *Session) FetchCalls(ctx context.Context, from, to time.Time) (CallStats, error) {
	req := callsRequest{
		DateTimeFrom: from.UTC().Format(time.RFC3339),
		DateTimeTo:   to.UTC().Format(time.RFC3339),
		Limit:        100,
		Offset:       0,
	}
	var resp callsResponse
	if err := s.do(ctx, http.MethodPost, "/calltracking/v1/getCalls/", nil, req, &resp); err != nil {
		return CallStats{}, err
	}

	stats := CallStats{Total: len(resp.Calls)}
	for _, call := range resp.Calls {
		if call.TalkDuration == 0 {
			stats.Missed++
		}
	}
	return stats, nil
}

type windowRequest struct {
	DateTimeFrom string `json:"dateTimeFrom"`
	Limit        int    `json:"limit"`
	Offset       int    `json:"offset"`
}

type chatsResponse struct {
	Chats []json.RawMessage `json:"chats"`
}

// FetchChats returns the number of chats opened since the window start.
func (s *Session) FetchChats(ctx context.Context, from time.Time) (int, error) {
	req := windowRequest{DateTimeFrom: from.UTC().Format(time.RFC3339), Limit: 100, Offset: 0}
	var resp chatsResponse
	if err := s.do(ctx, http.MethodPost, "/cpa/v2/chatsByTime", nil, req, &resp); err != nil {
		return 0, err
	}
	return len(resp.Chats), nil
}

type phonesResponse struct {
	Total int `json:"total"`
}

// FetchPhoneReveals returns how many times the account's phone number was
// revealed from chats since the window start.
func (s *Session) FetchPhoneReveals(ctx context.Context, from time.Time) (int, error) {
	req := windowRequest{DateTimeFrom: from.UTC().Format(time.RFC3339), Limit: 100, Offset: 0}
	var resp phonesResponse
	if err := s.do(ctx, http.MethodPost, "/cpa/v1/phonesInfoFromChats", nil, req, &resp); err != nil {
		return 0, err
	}
	return resp.Total, nil
}

type ratingResponse struct {
	Rating struct {
		Score float64 `json:"score"`
	} `json:"rating"`
}

// FetchRating returns the account's current seller rating (0-5).
func (s *Session) FetchRating(ctx context.Context) (float64, error) {
	var resp ratingResponse
	if err := s.do(ctx, http.MethodGet, "/ratings/v1/info", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Rating.Score, nil
}

// ReviewStats summarizes reviews: the account total and how many were
// created inside the requested window.
type ReviewStats struct {
	Total    int
	InWindow int
}

type reviewsResponse struct {
	Total   int `json:"total"`
	Reviews []struct {
		CreatedAt int64 `json:"createdAt"`
	} `json:"reviews"`
}

// FetchReviews returns review counts. The window filter compares each
// review's creation timestamp against the bounds, inclusive on both ends.
func (s *Session) FetchReviews(ctx context.Context, from, to time.Time) (ReviewStats, error) {
	query := url.Values{}
	query.Set("offset", "0")
	query.Set("limit", "50")

	var resp reviewsResponse
	if err := s.do(ctx, http.MethodGet, "/ratings/v1/reviews", query, nil, &resp); err != nil {
		return ReviewStats{}, err
	}

	stats := ReviewStats{Total: resp.Total}
	fromUnix, toUnix := from.Unix(), to.Unix()
	for _, review := range resp.Reviews {
		if review.CreatedAt >= fromUnix && review.CreatedAt <= toUnix {
			stats.InWindow++
		}
	}
	return stats, nil
}

// ItemList holds the active listing inventory: every active item ID plus
// how many of them carry the XL promotion package.
type ItemList struct {
	IDs              []int64 `json:"ids"`
	XLPromotionCount int     `json:"xl_promotion_count"`
}

type itemsResponse struct {
	Resources []struct {
		ID  int64 `json:"id"`
		Vas []struct {
			Slug string `json:"vas_id"`
		} `json:"vas"`
	} `json:"resources"`
	Meta struct {
		Total int `json:"total"`
	} `json:"meta"`
}

// FetchActiveItems lists all active listings, paging through the items
// endpoint until a short page is returned, and counts XL promotions from
// the attached value-added-service packages.
func (s *Session) FetchActiveItems(ctx context.Context) (ItemList, error) {
	var list ItemList
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("status", "active")
		query.Set("per_page", fmt.Sprint(ItemsPageSize))
		query.Set("page", fmt.Sprint(page))

		var resp itemsResponse
		if err := s.do(ctx, http.MethodGet, "/core/v1/items", query, nil, &resp); err != nil {
			return ItemList{}, err
		}
		for _, item := range resp.Resources {
			list.IDs = append(list.IDs, item.ID)
			for _, vas := range item.Vas {
				if strings.HasPrefix(vas.Slug, "xl") {
					list.XLPromotionCount++
					break
				}
			}
		}
		if len(resp.Resources) < ItemsPageSize {
			break
		}
	}
	return list, nil
}

// ItemStats is the aggregated view/contact/favorite counts for a set of
// listings inside a window.
type ItemStats struct {
	Views     int
	Contacts  int
	Favorites int
}

type itemStatsRequest struct {
	DateFrom       string   `json:"dateFrom"`
	DateTo         string   `json:"dateTo"`
	ItemIDs        []int64  `json:"itemIds"`
	Fields         []string `json:"fields"`
	PeriodGrouping string   `json:"periodGrouping"`
}

type itemStatsResponse struct {
	Result struct {
		Items []struct {
			Stats []struct {
				UniqViews     int `json:"uniqViews"`
				UniqContacts  int `json:"uniqContacts"`
				UniqFavorites int `json:"uniqFavorites"`
			} `json:"stats"`
		} `json:"items"`
	} `json:"result"`
}

// FetchItemStats returns aggregated statistics for at most
// ItemStatsBatchLimit listings. Larger batches are rejected locally rather
// than letting the upstream truncate them silently.
func (s *Session) FetchItemStats(ctx context.Context, itemIDs []int64, from, to time.Time) (ItemStats, error) {
	if len(itemIDs) == 0 {
		return ItemStats{}, nil
	}
	if len(itemIDs) > ItemStatsBatchLimit {
		return ItemStats{}, fmt.Errorf("item stats batch of %d exceeds limit %d", len(itemIDs), ItemStatsBatchLimit)
	}

	req := itemStatsRequest{
		DateFrom:       from.Format("2006-01-02"),
		DateTo:         to.Format("2006-01-02"),
		ItemIDs:        itemIDs,
		Fields:         []string{"uniqViews", "uniqContacts", "uniqFavorites"},
		PeriodGrouping: "day",
	}

	var resp itemStatsResponse
	path := fmt.Sprintf("/stats/v1/accounts/%d/items", s.userID)
	if err := s.do(ctx, http.MethodPost, path, nil, req, &resp); err != nil {
		return ItemStats{}, err
	}

	var stats ItemStats
	for _, item := range resp.Result.Items {
		for _, day := range item.Stats {
			stats.Views += day.UniqViews
			stats.Contacts += day.UniqContacts
			stats.Favorites += day.UniqFavorites
		}
	}
	return stats, nil
}

// Balance holds the three balance figures the marketplace exposes, in
// rubles.
type Balance struct {
	Real    float64
	Bonus   float64
	Advance float64
}

// Total returns the combined balance used for expense inference.
func (b Balance) Total() float64 {
	return b.Real + b.Bonus + b.Advance
}

type accountBalanceResponse struct {
	Real  float64 `json:"real"`
	Bonus float64 `json:"bonus"`
}

type cpaBalanceResponse struct {
	Balance int64 `json:"balance"` // kopecks
}

// FetchBalance returns the account's real, bonus, and advance balances.
func (s *Session) FetchBalance(ctx context.Context) (Balance, error) {
	var acct accountBalanceResponse
	path := fmt.Sprintf("/core/v1/accounts/%d/balance/", s.userID)
	if err := s.do(ctx, http.MethodGet, path, nil, nil, &acct); err != nil {
		return Balance{}, err
	}

	balance := Balance{Real: acct.Real, Bonus: acct.Bonus}

	// The advance balance lives behind a separate endpoint that reports
	// kopecks. Its absence is not fatal for the balance group.
	var cpa cpaBalanceResponse
	if err := s.do(ctx, http.MethodPost, "/cpa/v3/balanceInfo", nil, struct{}{}, &cpa); err == nil {
		balance.Advance = float64(cpa.Balance) / 100
	}

	return balance, nil
}

// ExpenseOperation is one billing transaction attributed to a category.
type ExpenseOperation struct {
	Category string
	Amount   float64
	ItemID   int64
}

type transactionsResponse struct {
	Result struct {
		Operations []struct {
			OperationType string  `json:"operationType"`
			Amount        float64 `json:"amountRub"`
			ItemID        int64   `json:"itemId"`
		} `json:"operations"`
	} `json:"result"`
}

// FetchExpenseOperations returns billing operations inside the window. The
// endpoint is unreliable for many tenants; callers must treat a failure as
// an empty breakdown, never as a reason to abort.
func (s *Session) FetchExpenseOperations(ctx context.Context, from, to time.Time) ([]ExpenseOperation, error) {
	req := map[string]string{
		"dateTimeFrom": from.UTC().Format(time.RFC3339),
		"dateTimeTo":   to.UTC().Format(time.RFC3339),
	}
	var resp transactionsResponse
	if err := s.do(ctx, http.MethodPost, "/core/v1/accounts/operations_history/", nil, req, &resp); err != nil {
		return nil, err
	}

	ops := make([]ExpenseOperation, 0, len(resp.Result.Operations))
	for _, op := range resp.Result.Operations {
		if op.Amount <= 0 {
			continue
		}
		ops = append(ops, ExpenseOperation{Category: op.OperationType, Amount: op.Amount, ItemID: op.ItemID})
	}
	return ops, nil
}

// UserID returns the marketplace-side user ID resolved at authentication.
func (s *Session) UserID() int64 {
	return s.userID
}

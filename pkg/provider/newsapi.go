package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/typefold/newsrag/internal/types"
)

type ClientConfig struct {
	APIKey    string
	BaseURL   string
	Language  string
	PageSize  int
	RateLimit float64 // requests per second
	Timeout   time.Duration
}

// Client fetches articles from NewsAPI. Responses are mapped to RawDocument
// at this boundary; nothing provider-shaped escapes the package.
type Client struct {
	config  ClientConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("provider API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://newsapi.org/v2"
	}
	if config.Language == "" {
		config.Language = "en"
	}
	if config.PageSize == 0 {
		config.PageSize = 20
	}
	if config.RateLimit == 0 {
		config.RateLimit = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

type apiArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

type apiResponse struct {
	Status   string       `json:"status"`
	Code     string       `json:"code"`
	Message  string       `json:"message"`
	Articles []apiArticle `json:"articles"`
}

// Fetch returns one page of documents. Articles with neither content nor
// description are dropped; missing optional fields map to empty strings.
func (c *Client) Fetch(ctx context.Context, req types.ProviderRequest) ([]types.RawDocument, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransient, Err: err}
	}

	endpoint := "/everything"
	if req.Headlines {
		endpoint = "/top-headlines"
	}

	params := url.Values{}
	if req.Query != "" {
		params.Set("q", req.Query)
	}
	if req.Sources != "" {
		params.Set("sources", req.Sources)
	}
	params.Set("language", c.config.Language)

	if req.Headlines {
		// sources cannot be combined with country or category
		if req.Sources == "" {
			if req.Category != "" {
				params.Set("category", req.Category)
			}
			if req.Country != "" {
				params.Set("country", req.Country)
			}
		}
	} else {
		if !req.From.IsZero() {
			params.Set("from", req.From.Format("2006-01-02"))
		}
		if !req.To.IsZero() {
			params.Set("to", req.To.Format("2006-01-02"))
		}
		if req.SortBy != "" {
			params.Set("sortBy", req.SortBy)
		}
	}

	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = c.config.PageSize
	}
	params.Set("pageSize", strconv.Itoa(pageSize))
	if req.Page > 1 {
		params.Set("page", strconv.Itoa(req.Page))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &Error{Kind: KindBadRequest, Err: err}
	}
	httpReq.Header.Set("X-Api-Key", c.config.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, classifyStatus(resp.StatusCode, "")
		}
		return nil, &Error{Kind: KindTransient, Message: "malformed provider response", Err: err}
	}

	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		return nil, classifyStatus(resp.StatusCode, body.Message)
	}

	docs := make([]types.RawDocument, 0, len(body.Articles))
	for _, a := range body.Articles {
		if a.Content == "" && a.Description == "" {
			continue
		}
		docs = append(docs, types.RawDocument{
			Title:       a.Title,
			Description: a.Description,
			Content:     a.Content,
			URL:         a.URL,
			Source:      a.Source.Name,
			Author:      a.Author,
			PublishedAt: a.PublishedAt,
			ImageURL:    a.URLToImage,
		})
	}
	return docs, nil
}

func classifyStatus(status int, message string) *Error {
	kind := KindTransient
	switch {
	case status == http.StatusUnauthorized:
		kind = KindUnauthorized
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status >= 400 && status < 500:
		kind = KindBadRequest
	}
	return &Error{Kind: kind, StatusCode: status, Message: message}
}

package searchhelper

import (
	"context"
	"fmt"
	"time"

	"media-fusion/app/config"
	"media-fusion/app/logger"

	"github.com/patrickmn/go-cache"
	"resty.dev/v3"
)

// SearchResult 一条搜索结果
type SearchResult struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Duration  string `json:"duration"`
	Thumbnail string `json:"thumbnail"`
}

// videoItem Invidious 兼容搜索接口返回的条目
type videoItem struct {
	Type            string `json:"type"`
	Title           string `json:"title"`
	VideoID         string `json:"videoId"`
	LengthSeconds   int    `json:"lengthSeconds"`
	VideoThumbnails []struct {
		URL string `json:"url"`
	} `json:"videoThumbnails"`
}

// Client 搜索客户端，把自由文本查询解析为具体的资源地址
type Client struct {
	cfg    *config.Config
	log    *logger.Logger
	client *resty.Client
	cache  *cache.Cache // 按查询词缓存结果，避免重复请求搜索接口
}

// New 创建搜索客户端
func New(cfg *config.Config, log *logger.Logger) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.Download.SearchAPIURL)
	client.SetTimeout(15 * time.Second)

	return &Client{
		cfg:    cfg,
		log:    log,
		client: client,
		cache:  cache.New(30*time.Minute, 10*time.Minute),
	}
}

// Resolve 把查询词解析为单个资源地址，没有结果时返回错误
func (c *Client) Resolve(ctx context.Context, query string) (string, error) {
	results, err := c.Search(ctx, query, 1)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		c.log.Warnf("搜索无结果: %s", query)
		return "", fmt.Errorf("no results found for %q", query)
	}
	return results[0].URL, nil
}

// Search 搜索并返回最多 limit 条结果
func (c *Client) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	cacheKey := fmt.Sprintf("search:%d:%s", limit, query)
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.([]SearchResult), nil
	}

	var items []videoItem
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		SetQueryParam("type", "video").
		SetResult(&items).
		Get("/api/v1/search")
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("search failed with status %d", resp.StatusCode())
	}

	results := make([]SearchResult, 0, limit)
	for _, item := range items {
		if item.Type != "" && item.Type != "video" {
			continue
		}
		if item.VideoID == "" {
			continue
		}

		result := SearchResult{
			Title:    item.Title,
			URL:      c.cfg.Download.WatchURLBase + item.VideoID,
			Duration: formatDuration(item.LengthSeconds),
		}
		if len(item.VideoThumbnails) > 0 {
			result.Thumbnail = item.VideoThumbnails[0].URL
		}

		results = append(results, result)
		if len(results) >= limit {
			break
		}
	}

	c.cache.Set(cacheKey, results, cache.DefaultExpiration)
	return results, nil
}

// formatDuration 把秒数格式化为 mm:ss 或 hh:mm:ss
func formatDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

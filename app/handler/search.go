package handler

import (
	"net/http"

	"media-fusion/app/utils/searchhelper"

	"github.com/gin-gonic/gin"
)

// SearchHandler 搜索处理器
type SearchHandler struct {
	search *searchhelper.Client
}

// NewSearchHandler 创建搜索处理器
func NewSearchHandler(search *searchhelper.Client) *SearchHandler {
	return &SearchHandler{search: search}
}

// Search 按关键词搜索，返回最多 5 条候选结果
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		success(c, []searchhelper.SearchResult{}, "success")
		return
	}

	results, err := h.search.Search(c.Request.Context(), query, 5)
	if err != nil {
		fail(c, http.StatusBadGateway, 502, "搜索失败: "+err.Error())
		return
	}
	success(c, results, "success")
}

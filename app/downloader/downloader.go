package downloader

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"media-fusion/app/config"
	"media-fusion/app/logger"
	"media-fusion/app/utils/namehelper"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	copyBufferSize   = 256 * 1024
)

// ProgressFunc 下载进度回调，返回非 nil 错误时中断下载
type ProgressFunc func(downloaded, total int64) error

// Downloader 通过 HTTP 获取媒体文件的下载器
type Downloader struct {
	cfg    *config.Config
	log    *logger.Logger
	client *http.Client
}

// New 创建下载器
func New(cfg *config.Config, log *logger.Logger) *Downloader {
	return &Downloader{
		cfg: cfg,
		log: log,
		client: &http.Client{
			Timeout: 30 * time.Minute,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// 允许最多 10 次重定向
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				req.Header.Set("User-Agent", defaultUserAgent)
				return nil
			},
		},
	}
}

// Fetch 下载资源到用户的下载目录，返回最终的文件名。
// progress 在每个数据块写入后调用，回调返回错误时删除临时文件并中断。
func (d *Downloader) Fetch(ctx context.Context, rawURL string, isAudio bool, quality, ownerID string, progress ProgressFunc) (string, error) {
	userDownloads := filepath.Join(d.cfg.Download.UsersDir, ownerID, "downloads")
	if err := os.MkdirAll(userDownloads, 0755); err != nil {
		return "", fmt.Errorf("create downloads dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "identity") // 禁用压缩，避免 Content-Length 不匹配

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
	}

	filename := d.outputName(resp, rawURL, isAudio, quality)
	finalPath := filepath.Join(userDownloads, filename)
	tempPath := finalPath + ".part"

	written, err := d.copyWithProgress(tempPath, resp.Body, resp.ContentLength, progress)
	if err != nil {
		os.Remove(tempPath)
		return "", err
	}

	// 服务器给出长度时校验完整性
	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(tempPath)
		return "", fmt.Errorf("incomplete download: expected %d bytes, got %d", resp.ContentLength, written)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename output: %w", err)
	}

	d.log.Infof("下载完成: user=%s, file=%s, size=%d", ownerID, filename, written)
	return filename, nil
}

// copyWithProgress 分块写入临时文件，每块之后上报进度
func (d *Downloader) copyWithProgress(tempPath string, body io.Reader, total int64, progress ProgressFunc) (int64, error) {
	file, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return written, fmt.Errorf("write output: %w", writeErr)
			}
			written += int64(n)

			if progress != nil {
				if cbErr := progress(written, total); cbErr != nil {
					return written, cbErr
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, fmt.Errorf("read body: %w", readErr)
		}
	}

	if err := file.Sync(); err != nil {
		return written, fmt.Errorf("sync output: %w", err)
	}
	return written, nil
}

// outputName 根据响应头或 URL 推导文件名，追加质量后缀并做规范化
func (d *Downloader) outputName(resp *http.Response, rawURL string, isAudio bool, quality string) string {
	name := ""

	// 优先使用 Content-Disposition 中的文件名
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			name = params["filename"]
		}
	}

	if name == "" {
		if u, err := url.Parse(rawURL); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "/" || name == "." {
		name = "download"
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" {
		if isAudio {
			ext = "." + d.cfg.Download.AudioFormat
		} else {
			ext = "." + d.cfg.Download.VideoFormat
		}
	}

	if quality != "" {
		base = base + "_" + quality
	}

	return namehelper.Sanitize(base + ext)
}

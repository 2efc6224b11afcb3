package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"media-fusion/app/utils/namehelper"
)

// FindExistingFile 在所有用户的下载目录中查找文件名包含指定资源地址的文件，
// 返回第一个匹配的完整路径，没有匹配时返回空字符串。
// 这是一次尽力而为的线性扫描：并发写入导致的漏判只会造成一次多余下载，不会损坏数据。
func FindExistingFile(usersDir, locator string) string {
	if locator == "" {
		return ""
	}
	// 最终文件名经过规范化，所以同时用原始形式和规范化形式匹配
	sanitized := namehelper.Sanitize(locator)

	users, err := os.ReadDir(usersDir)
	if err != nil {
		return ""
	}

	for _, user := range users {
		if !user.IsDir() {
			continue
		}

		downloads := filepath.Join(usersDir, user.Name(), "downloads")
		files, err := os.ReadDir(downloads)
		if err != nil {
			continue
		}

		for _, file := range files {
			if file.IsDir() {
				continue
			}
			name := file.Name()
			if strings.Contains(name, locator) || strings.Contains(name, sanitized) {
				return filepath.Join(downloads, name)
			}
		}
	}
	return ""
}

// CopyFileToUser 把已存在的文件复制到指定用户的下载目录，目标名经过规范化，返回目标文件名
func CopyFileToUser(usersDir, userID, sourcePath string) (string, error) {
	userDownloads := filepath.Join(usersDir, userID, "downloads")
	if err := os.MkdirAll(userDownloads, 0755); err != nil {
		return "", fmt.Errorf("create downloads dir: %w", err)
	}

	name := namehelper.Sanitize(filepath.Base(sourcePath))
	destPath := filepath.Join(userDownloads, name)

	src, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("open source file: %w", err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create destination file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("copy file: %w", err)
	}
	return name, nil
}

package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"media-fusion/app/config"
	"media-fusion/app/downloader"
	"media-fusion/app/logger"
	"media-fusion/app/model"
	"media-fusion/app/store"
)

// fetchFunc 额外带上调用序号，便于测试区分第一次和后续调用
type fetchFunc func(ctx context.Context, url string, isAudio bool, quality, ownerID string, progress downloader.ProgressFunc, call int) (string, error)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    fetchFunc
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, isAudio bool, quality, ownerID string, progress downloader.ProgressFunc) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(ctx, url, isAudio, quality, ownerID, progress, call)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResolver struct {
	fn func(query string) (string, error)
}

func (r *fakeResolver) Resolve(ctx context.Context, query string) (string, error) {
	return r.fn(query)
}

func testConfig(usersDir string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Workers: 1},
		Download: config.DownloadConfig{
			UsersDir:            usersDir,
			AudioQualities:      []string{"64k", "128k", "192k", "256k", "320k"},
			VideoQualities:      []string{"360p", "720p", "1080p"},
			DefaultAudioQuality: "192k",
			DefaultVideoQuality: "720p",
			AudioFormat:         "mp3",
			VideoFormat:         "mp4",
		},
	}
}

func newTestService(t *testing.T, fetcher Fetcher, resolver Resolver) (*QueueService, *store.FileStore) {
	t.Helper()
	log := logger.New(config.LogConfig{Level: "error", Format: "text", Output: "stdout"})
	usersDir := t.TempDir()
	st := store.NewFileStore(usersDir, log)
	svc := NewQueueService(testConfig(usersDir), log, st, fetcher, resolver)
	t.Cleanup(svc.Stop)
	return svc, st
}

// writeUserFile 在指定用户的下载目录中写入文件
func writeUserFile(t *testing.T, usersDir, userID, name, content string) {
	t.Helper()
	dir := filepath.Join(usersDir, userID, "downloads")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
}

// waitFor 轮询等待条件成立
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Expected condition to become true before timeout")
}

func writingFetcher(name string) *fakeFetcher {
	return &fakeFetcher{fn: func(ctx context.Context, url string, isAudio bool, quality, ownerID string, progress downloader.ProgressFunc, call int) (string, error) {
		return name, nil
	}}
}

func noResolver() *fakeResolver {
	return &fakeResolver{fn: func(query string) (string, error) {
		return "", nil
	}}
}

func TestEnqueue_Validation(t *testing.T) {
	svc, _ := newTestService(t, writingFetcher("x.mp3"), noResolver())

	if _, err := svc.Enqueue("1", "", "audio", ""); err == nil {
		t.Error("Expected error for empty input")
	}
	if _, err := svc.Enqueue("1", "   ", "audio", ""); err == nil {
		t.Error("Expected error for blank input")
	}
	if _, err := svc.Enqueue("", "https://example.com/v1", "audio", ""); err == nil {
		t.Error("Expected error for missing user id")
	}
}

func TestEnqueue_AssignsFreshTask(t *testing.T) {
	svc, st := newTestService(t, writingFetcher("x.mp3"), noResolver())

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		task, err := svc.Enqueue("1", "https://example.com/v1", "audio", "192k")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if task.Status != model.TaskStatusQueued {
			t.Errorf("Expected status queued, got %s", task.Status)
		}
		if task.Progress != 0 {
			t.Errorf("Expected progress 0, got %d", task.Progress)
		}
		if seen[task.ID] {
			t.Errorf("Expected unique task id, got duplicate '%s'", task.ID)
		}
		seen[task.ID] = true
	}

	if got := len(st.Load("1").Queue); got != 5 {
		t.Errorf("Expected 5 persisted queue entries, got %d", got)
	}
}

func TestWorker_DirectURLCompletes(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(ctx context.Context, url string, isAudio bool, quality, ownerID string, progress downloader.ProgressFunc, call int) (string, error) {
		if url != "https://example.com/v1" {
			t.Errorf("Expected fetch url 'https://example.com/v1', got '%s'", url)
		}
		if !isAudio {
			t.Error("Expected audio fetch")
		}
		if quality != "192k" {
			t.Errorf("Expected quality '192k', got '%s'", quality)
		}
		if err := progress(50, 100); err != nil {
			return "", err
		}
		return "Song_192k.mp3", nil
	}}

	svc, st := newTestService(t, fetcher, noResolver())
	svc.Start()

	if _, err := svc.Enqueue("1", "https://example.com/v1", "audio", "192k"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	waitFor(t, func() bool { return len(st.Load("1").History) == 1 })

	db := st.Load("1")
	if len(db.Queue) != 0 {
		t.Errorf("Expected empty queue, got %d entries", len(db.Queue))
	}

	record := db.History[0]
	if record.Status != model.TaskStatusCompleted {
		t.Errorf("Expected status completed, got %s", record.Status)
	}
	if record.File != "Song_192k.mp3" {
		t.Errorf("Expected file 'Song_192k.mp3', got '%s'", record.File)
	}
	if record.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", record.Progress)
	}
	if record.ResolvedURL != "https://example.com/v1" {
		t.Errorf("Expected resolved url to match input, got '%s'", record.ResolvedURL)
	}
	if record.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}
}

func TestWorker_ResolveFailure(t *testing.T) {
	resolver := &fakeResolver{fn: func(query string) (string, error) {
		return "", fmt.Errorf("no results found for %q", query)
	}}

	svc, st := newTestService(t, writingFetcher("x.mp3"), resolver)
	svc.Start()

	task, err := svc.Enqueue("1", "some rare song title", "audio", "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	waitFor(t, func() bool {
		db := st.Load("1")
		i := db.FindInQueue(task.ID)
		return i >= 0 && db.Queue[i].Status == model.TaskStatusFailed
	})

	db := st.Load("1")
	failed := db.Queue[db.FindInQueue(task.ID)]
	if !strings.Contains(failed.Error, "no results") {
		t.Errorf("Expected error to mention 'no results', got '%s'", failed.Error)
	}
	if len(db.History) != 0 {
		t.Error("Expected failed task to stay in queue, not move to history")
	}
}

func TestWorker_SearchResolvesToURL(t *testing.T) {
	var fetchedURL string
	var mu sync.Mutex

	fetcher := &fakeFetcher{fn: func(ctx context.Context, url string, isAudio bool, quality, ownerID string, progress downloader.ProgressFunc, call int) (string, error) {
		mu.Lock()
		fetchedURL = url
		mu.Unlock()
		return "Resolved.mp3", nil
	}}
	resolver := &fakeResolver{fn: func(query string) (string, error) {
		return "https://example.com/resolved", nil
	}}

	svc, st := newTestService(t, fetcher, resolver)
	svc.Start()

	if _, err := svc.Enqueue("1", "some song", "audio", ""); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	waitFor(t, func() bool { return len(st.Load("1").History) == 1 })

	mu.Lock()
	defer mu.Unlock()
	if fetchedURL != "https://example.com/resolved" {
		t.Errorf("Expected fetch of resolved url, got '%s'", fetchedURL)
	}
	if st.Load("1").History[0].ResolvedURL != "https://example.com/resolved" {
		t.Error("Expected resolved url to be persisted on the record")
	}
}

func TestWorker_DedupCopiesExistingFile(t *testing.T) {
	fetcher := writingFetcher("x.mp3")
	svc, st := newTestService(t, fetcher, noResolver())

	locator := "https://example.com/v9"
	existingName := "https___example.com_v9.mp3"
	writeUserFile(t, svc.cfg.Download.UsersDir, "1", existingName, "audio-bytes")

	svc.Start()

	if _, err := svc.Enqueue("2", locator, "audio", "192k"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	waitFor(t, func() bool { return len(st.Load("2").History) == 1 })

	if fetcher.callCount() != 0 {
		t.Errorf("Expected fetch to be skipped via dedup, got %d calls", fetcher.callCount())
	}

	record := st.Load("2").History[0]
	if record.Status != model.TaskStatusCompleted {
		t.Errorf("Expected status completed, got %s", record.Status)
	}
	if record.File != existingName {
		t.Errorf("Expected copied file '%s', got '%s'", existingName, record.File)
	}

	copied := filepath.Join(svc.cfg.Download.UsersDir, "2", "downloads", existingName)
	data, err := os.ReadFile(copied)
	if err != nil {
		t.Fatalf("Expected copied file to exist, got %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("Expected copied content 'audio-bytes', got '%s'", string(data))
	}
}

func TestPause_RequiresProcessing(t *testing.T) {
	svc, st := newTestService(t, writingFetcher("x.mp3"), noResolver())

	// 未启动工作协程，任务停留在 queued 状态
	task, err := svc.Enqueue("1", "https://example.com/v1", "audio", "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if svc.Pause("1", task.ID) {
		t.Error("Expected pausing a queued task to return false")
	}
	if svc.Pause("1", "task-missing") {
		t.Error("Expected pausing a missing task to return false")
	}

	db := st.Load("1")
	if db.Queue[0].Status != model.TaskStatusQueued {
		t.Errorf("Expected status to stay queued, got %s", db.Queue[0].Status)
	}
}

func TestPauseAndResumeDuringFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	fetcher := &fakeFetcher{fn: func(ctx context.Context, url string, isAudio bool, quality, ownerID string, progress downloader.ProgressFunc, call int) (string, error) {
		if call == 1 {
			close(started)
			<-release
			// 检查点发现暂停标记，中断下载
			if err := progress(50, 100); err != nil {
				return "", err
			}
			return "", nil
		}
		return "Song_192k.mp3", nil
	}}

	svc, st := newTestService(t, fetcher, noResolver())
	svc.Start()

	task, err := svc.Enqueue("1", "https://example.com/v1", "audio", "192k")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	<-started
	if !svc.Pause("1", task.ID) {
		t.Fatal("Expected pausing a processing task to return true")
	}
	close(release)

	// 给工作协程时间走完中断路径，任务必须保持暂停而不是完成
	time.Sleep(200 * time.Millisecond)
	db := st.Load("1")
	if len(db.History) != 0 {
		t.Fatal("Expected paused task not to be completed")
	}
	i := db.FindInQueue(task.ID)
	if i < 0 || db.Queue[i].Status != model.TaskStatusPaused {
		t.Fatalf("Expected task to stay paused, got %+v", db.Queue)
	}

	if svc.Resume("1", "task-missing") {
		t.Error("Expected resuming a missing task to return false")
	}
	if !svc.Resume("1", task.ID) {
		t.Fatal("Expected resuming a paused task to return true")
	}

	waitFor(t, func() bool { return len(st.Load("1").History) == 1 })
	if st.Load("1").History[0].Status != model.TaskStatusCompleted {
		t.Error("Expected resumed task to complete")
	}
}

func TestDeleteDuringFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	fetcher := &fakeFetcher{fn: func(ctx context.Context, url string, isAudio bool, quality, ownerID string, progress downloader.ProgressFunc, call int) (string, error) {
		close(started)
		<-release
		if err := progress(80, 100); err != nil {
			return "", err
		}
		return "Song_192k.mp3", nil
	}}

	svc, st := newTestService(t, fetcher, noResolver())
	svc.Start()

	task, err := svc.Enqueue("1", "https://example.com/v1", "audio", "192k")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	<-started
	if !svc.Delete("1", task.ID) {
		t.Fatal("Expected deleting a processing task to return true")
	}
	close(release)

	time.Sleep(200 * time.Millisecond)
	db := st.Load("1")
	if len(db.Queue) != 0 || len(db.History) != 0 {
		t.Errorf("Expected no record of deleted task, got queue=%d history=%d", len(db.Queue), len(db.History))
	}
}

func TestDelete_RemovesPartialFiles(t *testing.T) {
	svc, st := newTestService(t, writingFetcher("x.mp3"), noResolver())

	if err := st.Save("1", model.UserDatabase{
		Queue: []model.Task{{
			ID:     "task-1",
			Input:  "https://example.com/v1",
			Status: model.TaskStatusFailed,
			Error:  "network unreachable",
			File:   "Song_192k.mp3",
		}},
	}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	writeUserFile(t, svc.cfg.Download.UsersDir, "1", "Song_192k.mp3.part", "partial")
	writeUserFile(t, svc.cfg.Download.UsersDir, "1", "Other_Song.mp3", "keep")

	if !svc.Delete("1", "task-1") {
		t.Fatal("Expected delete to return true")
	}
	if svc.Delete("1", "task-1") {
		t.Error("Expected deleting twice to return false")
	}

	downloads := filepath.Join(svc.cfg.Download.UsersDir, "1", "downloads")
	if _, err := os.Stat(filepath.Join(downloads, "Song_192k.mp3.part")); !os.IsNotExist(err) {
		t.Error("Expected partial file to be removed")
	}
	if _, err := os.Stat(filepath.Join(downloads, "Other_Song.mp3")); err != nil {
		t.Error("Expected unrelated file to be kept")
	}
	if len(st.Load("1").Queue) != 0 {
		t.Error("Expected queue to be empty after delete")
	}
}

func TestRetry_FromHistory(t *testing.T) {
	svc, st := newTestService(t, writingFetcher("x.mp3"), noResolver())

	original := model.Task{
		ID:        "task-old",
		OwnerID:   "1",
		Input:     "https://example.com/v1",
		MediaType: model.MediaTypeAudio,
		Quality:   "192k",
		Status:    model.TaskStatusFailed,
		Progress:  40,
		Error:     "boom",
		File:      "Song_192k.mp3",
	}
	if err := st.Save("1", model.UserDatabase{History: []model.Task{original}}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	writeUserFile(t, svc.cfg.Download.UsersDir, "1", "Song_192k.mp3.part", "stale")

	retry, ok := svc.Retry("1", "task-old")
	if !ok {
		t.Fatal("Expected retry to succeed for history task")
	}
	if retry.ID == original.ID {
		t.Error("Expected retry to assign a fresh task id")
	}
	if retry.Status != model.TaskStatusQueued || retry.Progress != 0 || retry.Error != "" {
		t.Errorf("Expected clean queued task, got %+v", retry)
	}

	db := st.Load("1")
	if len(db.History) != 1 || db.History[0].Error != "boom" {
		t.Error("Expected original history record to be untouched")
	}
	if len(db.Queue) != 1 || db.Queue[0].ID != retry.ID {
		t.Error("Expected new task in queue")
	}

	stale := filepath.Join(svc.cfg.Download.UsersDir, "1", "downloads", "Song_192k.mp3.part")
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Expected stale partial file to be removed")
	}

	if _, ok := svc.Retry("1", "task-missing"); ok {
		t.Error("Expected retry of missing task to return false")
	}
}

func TestUpdateProgress(t *testing.T) {
	svc, st := newTestService(t, writingFetcher("x.mp3"), noResolver())

	if err := st.Save("1", model.UserDatabase{
		Queue: []model.Task{{ID: "task-1", Status: model.TaskStatusProcessing, Progress: 10}},
	}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	tests := []struct {
		percent  int
		expected int
	}{
		{50, 50},   // 正常推进
		{30, 50},   // 不回退
		{150, 100}, // 超界截断
		{-5, 100},  // 负值忽略
	}

	for _, test := range tests {
		svc.UpdateProgress("1", "task-1", test.percent)
		got := st.Load("1").Queue[0].Progress
		if got != test.expected {
			t.Errorf("UpdateProgress(%d): expected progress %d, got %d", test.percent, test.expected, got)
		}
	}

	// 任务不存在时是空操作
	svc.UpdateProgress("1", "task-missing", 70)
	if len(st.Load("1").Queue) != 1 {
		t.Error("Expected no new entries from progress update of missing task")
	}
}

func TestStart_Idempotent(t *testing.T) {
	fetcher := writingFetcher("Song_192k.mp3")
	svc, st := newTestService(t, fetcher, noResolver())

	svc.Start()
	svc.Start()

	if _, err := svc.Enqueue("1", "https://example.com/v1", "audio", ""); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	waitFor(t, func() bool { return len(st.Load("1").History) == 1 })
	if fetcher.callCount() != 1 {
		t.Errorf("Expected exactly one fetch, got %d", fetcher.callCount())
	}
}

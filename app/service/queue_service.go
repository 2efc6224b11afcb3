package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"media-fusion/app/config"
	"media-fusion/app/downloader"
	"media-fusion/app/logger"
	"media-fusion/app/model"
	"media-fusion/app/store"
	"media-fusion/app/utils/namehelper"
)

// Fetcher 实际执行媒体获取的协作方
type Fetcher interface {
	Fetch(ctx context.Context, url string, isAudio bool, quality, ownerID string, progress downloader.ProgressFunc) (string, error)
}

// Resolver 把自由文本查询解析为具体资源地址的协作方
type Resolver interface {
	Resolve(ctx context.Context, query string) (string, error)
}

// errTaskInterrupted 任务在检查点发现已被暂停或删除，放弃后续处理但不记录失败
var errTaskInterrupted = errors.New("task interrupted")

// submission 投递到工作协程的任务引用，任务本体以持久化文档为准
type submission struct {
	UserID string
	TaskID string
}

// submissionQueue 无界 FIFO 提交队列，入队永不阻塞
type submissionQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []submission
	closed bool
}

func newSubmissionQueue() *submissionQueue {
	q := &submissionQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push 入队，队列已关闭时丢弃
func (q *submissionQueue) Push(s submission) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.items = append(q.items, s)
	q.cond.Signal()
}

// Pop 出队，队列为空时阻塞，队列关闭后返回 false
func (q *submissionQueue) Pop() (submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return submission{}, false
	}

	s := q.items[0]
	q.items = q.items[1:]
	return s, true
}

// Close 关闭队列并唤醒所有等待的工作协程
func (q *submissionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// QueueService 下载任务队列服务：对外提供队列操作，内部维护固定数量的工作协程
type QueueService struct {
	cfg      *config.Config
	log      *logger.Logger
	store    store.UserStore
	fetcher  Fetcher
	resolver Resolver

	submissions *submissionQueue
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewQueueService 创建队列服务，依赖通过参数注入以便测试替换
func NewQueueService(cfg *config.Config, log *logger.Logger, st store.UserStore, fetcher Fetcher, resolver Resolver) *QueueService {
	ctx, cancel := context.WithCancel(context.Background())
	return &QueueService{
		cfg:         cfg,
		log:         log,
		store:       st,
		fetcher:     fetcher,
		resolver:    resolver,
		submissions: newSubmissionQueue(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start 启动工作协程池，重复调用无副作用
func (s *QueueService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	for i := 0; i < s.cfg.Server.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i + 1)
	}
	s.log.Infof("已启动 %d 个下载工作协程", s.cfg.Server.Workers)
}

// Stop 关闭提交队列并等待工作协程退出
func (s *QueueService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	s.cancel()
	s.submissions.Close()
	s.wg.Wait()
	s.log.Info("下载工作协程已全部退出")
}

// Enqueue 创建新任务并投递到工作队列，返回已分配 ID 的任务
func (s *QueueService) Enqueue(userID, input, mediaType, quality string) (model.Task, error) {
	if userID == "" {
		return model.Task{}, fmt.Errorf("missing user id")
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return model.Task{}, fmt.Errorf("input must not be empty")
	}
	if mediaType != model.MediaTypeVideo {
		mediaType = model.MediaTypeAudio
	}

	task := model.Task{
		ID:        model.NewTaskID(),
		OwnerID:   userID,
		Input:     input,
		MediaType: mediaType,
		Quality:   quality,
		Status:    model.TaskStatusQueued,
		Progress:  0,
		CreatedAt: time.Now(),
	}

	if err := s.store.Update(userID, func(db *model.UserDatabase) {
		db.Queue = append(db.Queue, task)
	}); err != nil {
		return model.Task{}, err
	}

	s.submissions.Push(submission{UserID: userID, TaskID: task.ID})
	s.log.Infof("任务已入队: user=%s, task=%s, input=%s", userID, task.ID, input)
	return task, nil
}

// Pause 暂停处理中的任务。不中断正在进行的下载，
// 工作协程会在下一个进度检查点发现暂停标记并放弃后续处理
func (s *QueueService) Pause(userID, taskID string) bool {
	paused := false
	s.store.Update(userID, func(db *model.UserDatabase) {
		if i := db.FindInQueue(taskID); i >= 0 && db.Queue[i].Status == model.TaskStatusProcessing {
			db.Queue[i].Status = model.TaskStatusPaused
			paused = true
		}
	})

	if paused {
		s.log.Infof("任务已暂停: user=%s, task=%s", userID, taskID)
	}
	return paused
}

// Resume 恢复已暂停的任务并重新投递，进度保持不变
func (s *QueueService) Resume(userID, taskID string) bool {
	resumed := false
	s.store.Update(userID, func(db *model.UserDatabase) {
		if i := db.FindInQueue(taskID); i >= 0 && db.Queue[i].Status == model.TaskStatusPaused {
			db.Queue[i].Status = model.TaskStatusQueued
			resumed = true
		}
	})

	if resumed {
		s.submissions.Push(submission{UserID: userID, TaskID: taskID})
		s.log.Infof("任务已恢复: user=%s, task=%s", userID, taskID)
	}
	return resumed
}

// Delete 从队列中删除任务并尽力清理残留文件。
// 已被工作协程认领的任务不会被强行终止，其完成写入在发现任务缺失后成为空操作
func (s *QueueService) Delete(userID, taskID string) bool {
	deleted := false
	s.store.Update(userID, func(db *model.UserDatabase) {
		if i := db.FindInQueue(taskID); i >= 0 {
			s.cleanupPartialFiles(userID, db.Queue[i].File)
			db.Queue = append(db.Queue[:i], db.Queue[i+1:]...)
			deleted = true
		}
	})

	if deleted {
		s.log.Infof("任务已删除: user=%s, task=%s", userID, taskID)
	}
	return deleted
}

// Retry 以历史记录为模板重新入队一个新任务，历史记录本身保持不变
func (s *QueueService) Retry(userID, taskID string) (model.Task, bool) {
	var retry model.Task
	found := false

	s.store.Update(userID, func(db *model.UserDatabase) {
		i := db.FindInHistory(taskID)
		if i < 0 || !db.History[i].Status.IsFinished() {
			return
		}

		record := db.History[i]
		s.cleanupPartialFiles(userID, record.File)

		retry = model.Task{
			ID:        model.NewTaskID(),
			OwnerID:   userID,
			Input:     record.Input,
			MediaType: record.MediaType,
			Quality:   record.Quality,
			Status:    model.TaskStatusQueued,
			Progress:  0,
			CreatedAt: time.Now(),
		}
		db.Queue = append(db.Queue, retry)
		found = true
	})

	if found {
		s.submissions.Push(submission{UserID: userID, TaskID: retry.ID})
		s.log.Infof("任务已重试: user=%s, history=%s, task=%s", userID, taskID, retry.ID)
	}
	return retry, found
}

// UpdateProgress 更新任务进度，限制在 [0,100] 且不回退；任务不在队列中时为空操作
func (s *QueueService) UpdateProgress(userID, taskID string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	s.store.Update(userID, func(db *model.UserDatabase) {
		if i := db.FindInQueue(taskID); i >= 0 && percent > db.Queue[i].Progress {
			db.Queue[i].Progress = percent
		}
	})
}

// Queue 返回用户当前队列
func (s *QueueService) Queue(userID string) []model.Task {
	return s.store.Load(userID).Queue
}

// History 返回用户历史记录
func (s *QueueService) History(userID string) []model.Task {
	return s.store.Load(userID).History
}

// cleanupPartialFiles 删除与任务输出同名前缀的残留文件，调用方已持有该用户的临界区
func (s *QueueService) cleanupPartialFiles(userID, file string) {
	if file == "" {
		return
	}

	stem := namehelper.FileStem(file)
	userDownloads := filepath.Join(s.cfg.Download.UsersDir, userID, "downloads")
	entries, err := os.ReadDir(userDownloads)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), stem) {
			continue
		}
		if err := os.Remove(filepath.Join(userDownloads, entry.Name())); err != nil {
			s.log.Errorf("删除残留文件失败: user=%s, file=%s, err=%v", userID, entry.Name(), err)
		} else {
			s.log.Infof("已删除残留文件: user=%s, file=%s", userID, entry.Name())
		}
	}
}

// worker 工作协程主循环，逐个消费提交队列中的任务
func (s *QueueService) worker(id int) {
	defer s.wg.Done()

	for {
		sub, ok := s.submissions.Pop()
		if !ok {
			return
		}
		s.process(id, sub)
	}
}

// process 处理单个提交。任何一步出错都只记录到任务状态，绝不让工作协程退出
func (s *QueueService) process(workerID int, sub submission) {
	// 重新读取持久化状态，防御投递和认领之间发生的暂停或删除
	task, ok := s.currentTask(sub)
	if !ok {
		s.log.Infof("任务已不在队列，跳过: user=%s, task=%s", sub.UserID, sub.TaskID)
		return
	}
	if task.Status == model.TaskStatusPaused {
		s.log.Infof("任务处于暂停状态，跳过: user=%s, task=%s", sub.UserID, sub.TaskID)
		return
	}

	// 标记处理中，同时清掉上一次的失败原因
	s.store.Update(sub.UserID, func(db *model.UserDatabase) {
		if i := db.FindInQueue(sub.TaskID); i >= 0 {
			db.Queue[i].Status = model.TaskStatusProcessing
			db.Queue[i].Error = ""
		}
	})

	s.log.Infof("工作协程 %d 开始处理任务: user=%s, task=%s, input=%s", workerID, sub.UserID, sub.TaskID, task.Input)

	err := s.run(sub, task)
	switch {
	case err == nil:
		// 完成记录已在 run 中写入
	case errors.Is(err, errTaskInterrupted):
		s.log.Infof("任务在检查点被中断: user=%s, task=%s", sub.UserID, sub.TaskID)
	default:
		s.markFailed(sub, err)
	}
}

// run 执行解析、去重、下载和收尾，返回 errTaskInterrupted 表示任务被暂停或删除
func (s *QueueService) run(sub submission, task model.Task) error {
	// 第一步：输入已是 URL 时直接使用，否则交给搜索解析。解析失败是终态失败而非可重试错误
	resolvedURL := task.Input
	if !strings.HasPrefix(task.Input, "http://") && !strings.HasPrefix(task.Input, "https://") {
		url, err := s.resolver.Resolve(s.ctx, task.Input)
		if err != nil {
			return err
		}
		resolvedURL = url
	}

	s.store.Update(sub.UserID, func(db *model.UserDatabase) {
		if i := db.FindInQueue(sub.TaskID); i >= 0 {
			db.Queue[i].ResolvedURL = resolvedURL
		}
	})

	quality := s.cfg.Download.NormalizeQuality(task.MediaType, task.Quality)

	// 第二步：其他用户已经下载过同一资源时直接复制，不再重复获取
	var filename string
	if existing := FindExistingFile(s.cfg.Download.UsersDir, resolvedURL); existing != "" {
		copied, err := CopyFileToUser(s.cfg.Download.UsersDir, sub.UserID, existing)
		if err != nil {
			return err
		}
		filename = copied
		s.UpdateProgress(sub.UserID, sub.TaskID, 100)
		s.log.Infof("命中已有文件，跳过下载: user=%s, task=%s, file=%s", sub.UserID, sub.TaskID, filename)
	} else {
		fetched, err := s.fetcher.Fetch(s.ctx, resolvedURL, task.IsAudio(), quality, sub.UserID, s.checkpoint(sub))
		if err != nil {
			return err
		}
		filename = s.sanitizeOutput(sub.UserID, fetched)
		s.UpdateProgress(sub.UserID, sub.TaskID, 100)
	}

	// 收尾：移入历史并从队列移除。任务在下载期间被删除时这里不留任何记录
	now := time.Now()
	s.store.Update(sub.UserID, func(db *model.UserDatabase) {
		i := db.FindInQueue(sub.TaskID)
		if i < 0 {
			return
		}
		// 下载结束和收尾之间被暂停的任务不能被标记完成
		if db.Queue[i].Status == model.TaskStatusPaused {
			return
		}

		record := db.Queue[i]
		record.Status = model.TaskStatusCompleted
		record.Progress = 100
		record.Error = ""
		record.ResolvedURL = resolvedURL
		record.File = filename
		record.CompletedAt = &now

		db.Queue = append(db.Queue[:i], db.Queue[i+1:]...)
		db.History = append(db.History, record)
	})

	s.log.Infof("任务完成: user=%s, task=%s, file=%s", sub.UserID, sub.TaskID, filename)
	return nil
}

// checkpoint 返回下载进度回调：上报进度，并检查任务是否已被暂停或删除
func (s *QueueService) checkpoint(sub submission) downloader.ProgressFunc {
	return func(downloaded, total int64) error {
		// 总大小未知时保持进度不变
		if total > 0 {
			s.UpdateProgress(sub.UserID, sub.TaskID, int(downloaded*100/total))
		}

		task, ok := s.currentTask(sub)
		if !ok || task.Status == model.TaskStatusPaused {
			return errTaskInterrupted
		}
		return nil
	}
}

// currentTask 读取任务的当前持久化状态
func (s *QueueService) currentTask(sub submission) (model.Task, bool) {
	db := s.store.Load(sub.UserID)
	if i := db.FindInQueue(sub.TaskID); i >= 0 {
		return db.Queue[i], true
	}
	return model.Task{}, false
}

// markFailed 记录失败原因，任务保留在队列中等待显式删除或重试
func (s *QueueService) markFailed(sub submission, cause error) {
	s.store.Update(sub.UserID, func(db *model.UserDatabase) {
		if i := db.FindInQueue(sub.TaskID); i >= 0 {
			db.Queue[i].Status = model.TaskStatusFailed
			db.Queue[i].Error = cause.Error()
		}
	})
	s.log.Errorf("任务失败: user=%s, task=%s, err=%v", sub.UserID, sub.TaskID, cause)
}

// sanitizeOutput 对下载器返回的文件名做一次规范化，名字有变化时重命名磁盘文件
func (s *QueueService) sanitizeOutput(userID, filename string) string {
	sanitized := namehelper.Sanitize(filename)
	if sanitized == filename {
		return filename
	}

	userDownloads := filepath.Join(s.cfg.Download.UsersDir, userID, "downloads")
	oldPath := filepath.Join(userDownloads, filename)
	newPath := filepath.Join(userDownloads, sanitized)
	if err := os.Rename(oldPath, newPath); err != nil {
		s.log.Errorf("重命名输出文件失败: user=%s, file=%s, err=%v", userID, filename, err)
		return filename
	}

	s.log.Infof("文件名已规范化: %s -> %s", filename, sanitized)
	return sanitized
}

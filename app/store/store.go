package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"media-fusion/app/logger"
	"media-fusion/app/model"
)

// UserStore 每用户队列/历史文档的读写接口
type UserStore interface {
	Load(userID string) model.UserDatabase
	Save(userID string, db model.UserDatabase) error
	// Update 在该用户的临界区内执行 load-修改-save
	Update(userID string, fn func(db *model.UserDatabase)) error
}

// FileStore 基于每用户一个 JSON 文件的存储实现
type FileStore struct {
	usersDir string
	log      *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // 按用户 ID 的互斥锁，用户文档互不相交
}

// NewFileStore 创建文件存储
func NewFileStore(usersDir string, log *logger.Logger) *FileStore {
	return &FileStore{
		usersDir: usersDir,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
	}
}

// userLock 获取指定用户的互斥锁，不存在时创建
func (s *FileStore) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

// dbFile 该用户文档的路径
func (s *FileStore) dbFile(userID string) string {
	return filepath.Join(s.usersDir, userID, "database.json")
}

// Load 读取用户文档，文件缺失、为空或损坏时返回空文档而不是报错
func (s *FileStore) Load(userID string) model.UserDatabase {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return s.loadLocked(userID)
}

func (s *FileStore) loadLocked(userID string) model.UserDatabase {
	empty := model.UserDatabase{Queue: []model.Task{}, History: []model.Task{}}

	data, err := os.ReadFile(s.dbFile(userID))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Errorf("读取用户数据库失败: user=%s, err=%v", userID, err)
		}
		return empty
	}
	if len(data) == 0 {
		return empty
	}

	// 先解析为原始数组，逐条解码，跳过非任务记录
	var raw struct {
		Queue   []json.RawMessage `json:"queue"`
		History []json.RawMessage `json:"history"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		s.log.Errorf("用户数据库格式错误: user=%s, err=%v", userID, err)
		return empty
	}

	db := model.UserDatabase{
		Queue:   s.decodeTasks(userID, "queue", raw.Queue),
		History: s.decodeTasks(userID, "history", raw.History),
	}
	return db
}

// decodeTasks 逐条解码任务记录，格式错误的记录只记日志不向上传播
func (s *FileStore) decodeTasks(userID, section string, raw []json.RawMessage) []model.Task {
	tasks := make([]model.Task, 0, len(raw))
	for _, item := range raw {
		var task model.Task
		if err := json.Unmarshal(item, &task); err != nil || task.ID == "" {
			s.log.Warnf("跳过无效任务记录: user=%s, section=%s, data=%s", userID, section, string(item))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// Save 写入用户文档
func (s *FileStore) Save(userID string, db model.UserDatabase) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return s.saveLocked(userID, db)
}

func (s *FileStore) saveLocked(userID string, db model.UserDatabase) error {
	if db.Queue == nil {
		db.Queue = []model.Task{}
	}
	if db.History == nil {
		db.History = []model.Task{}
	}

	file := s.dbFile(userID)
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		s.log.Errorf("创建用户数据目录失败: user=%s, err=%v", userID, err)
		return err
	}

	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		s.log.Errorf("序列化用户数据库失败: user=%s, err=%v", userID, err)
		return err
	}

	if err := os.WriteFile(file, data, 0644); err != nil {
		s.log.Errorf("保存用户数据库失败: user=%s, err=%v", userID, err)
		return err
	}
	return nil
}

// Update 在该用户的互斥锁内执行读取-修改-保存，避免工作协程与控制器互相覆盖
func (s *FileStore) Update(userID string, fn func(db *model.UserDatabase)) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	db := s.loadLocked(userID)
	fn(&db)
	return s.saveLocked(userID, db)
}

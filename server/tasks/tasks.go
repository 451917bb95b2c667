package tasks

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/labelstore/pkg/annotation"
	"github.com/cyclopcam/labelstore/pkg/annotzip"
	"github.com/cyclopcam/labelstore/server/exportcache"
	"github.com/cyclopcam/labelstore/server/model"
	"github.com/cyclopcam/labelstore/server/storage"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

var ErrTaskNotFound = errors.New("task not found")
var ErrProjectNotFound = errors.New("project not found")

// TaskServer hosts projects, tasks, their media frames, and their annotations.
// Annotations are stored as JSON in blob storage, and are imported and exported
// through the format registry.
type TaskServer struct {
	log           logs.Log
	db            *gorm.DB
	storage       storage.Storage
	cache         *exportcache.ExportCache
	registry      *annotzip.Registry
	maxUploadSize int64

	locksLock sync.Mutex
	locks     map[int64]*sync.Mutex // Per-task lock, held while annotations are modified
}

func NewTaskServer(log logs.Log, db *gorm.DB, storage storage.Storage, cache *exportcache.ExportCache, registry *annotzip.Registry, maxUploadSize int64) *TaskServer {
	return &TaskServer{
		log:           log,
		db:            db,
		storage:       storage,
		cache:         cache,
		registry:      registry,
		maxUploadSize: maxUploadSize,
		locks:         map[int64]*sync.Mutex{},
	}
}

func (s *TaskServer) Registry() *annotzip.Registry {
	return s.registry
}

func (s *TaskServer) lockTask(taskID int64) func() {
	s.locksLock.Lock()
	lock := s.locks[taskID]
	if lock == nil {
		lock = &sync.Mutex{}
		s.locks[taskID] = lock
	}
	s.locksLock.Unlock()
	lock.Lock()
	return lock.Unlock
}

// SYNC-LABELSTORE-CREATE-PROJECT
type CreateProjectRequest struct {
	Name   string             `json:"name"`
	Labels []annotation.Label `json:"labels"`
}

// SYNC-LABELSTORE-CREATE-TASK
type CreateTaskRequest struct {
	Name      string             `json:"name"`
	Mode      string             `json:"mode"` // annotation or interpolation. Default is annotation.
	Subset    string             `json:"subset"`
	Overlap   int                `json:"overlap"`
	FrameStep int                `json:"frameStep"`
	ProjectID int64              `json:"projectID"`
	Labels    []annotation.Label `json:"labels"` // Ignored when ProjectID is set
}

func validateLabels(labels []annotation.Label) error {
	seen := map[string]bool{}
	for _, l := range labels {
		if strings.TrimSpace(l.Name) == "" {
			return errors.New("label name cannot be empty")
		}
		if seen[l.Name] {
			return fmt.Errorf("duplicate label '%v'", l.Name)
		}
		seen[l.Name] = true
	}
	return nil
}

func (s *TaskServer) CreateProject(userID int64, req CreateProjectRequest) (*model.Project, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("project name cannot be empty")
	}
	if err := validateLabels(req.Labels); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p := model.Project{
		Name:      req.Name,
		Labels:    model.MakeLabels(req.Labels),
		CreatedBy: userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.Create(&p).Error; err != nil {
		return nil, err
	}
	s.log.Infof("Created project %v '%v'", p.ID, p.Name)
	return &p, nil
}

func (s *TaskServer) CreateTask(userID int64, req CreateTaskRequest) (*model.Task, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("task name cannot be empty")
	}
	if req.Mode == "" {
		req.Mode = annotation.ModeAnnotation
	}
	if req.Mode != annotation.ModeAnnotation && req.Mode != annotation.ModeInterpolation {
		return nil, fmt.Errorf("invalid task mode '%v'", req.Mode)
	}
	if req.FrameStep < 1 {
		req.FrameStep = 1
	}
	if req.ProjectID != 0 {
		if _, err := s.GetProject(req.ProjectID); err != nil {
			return nil, err
		}
		req.Labels = nil
	} else if err := validateLabels(req.Labels); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := model.Task{
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Mode:      req.Mode,
		Subset:    req.Subset,
		Overlap:   req.Overlap,
		FrameStep: req.FrameStep,
		Labels:    model.MakeLabels(req.Labels),
		CreatedBy: userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.Create(&t).Error; err != nil {
		return nil, err
	}
	s.log.Infof("Created task %v '%v' (%v)", t.ID, t.Name, t.Mode)
	return &t, nil
}

func (s *TaskServer) GetTask(taskID int64) (*model.Task, error) {
	t := model.Task{}
	if err := s.db.Where("id = ?", taskID).Find(&t).Error; err != nil {
		return nil, err
	}
	if t.ID == 0 {
		return nil, fmt.Errorf("%w: %v", ErrTaskNotFound, taskID)
	}
	return &t, nil
}

func (s *TaskServer) GetProject(projectID int64) (*model.Project, error) {
	p := model.Project{}
	if err := s.db.Where("id = ?", projectID).Find(&p).Error; err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, fmt.Errorf("%w: %v", ErrProjectNotFound, projectID)
	}
	return &p, nil
}

// FindTasks returns the tasks with the given name, or all tasks if name is empty.
// If createdBy is not zero, only tasks created by that user are returned.
func (s *TaskServer) FindTasks(name string, createdBy int64) ([]model.Task, error) {
	q := s.db.Order("id")
	if name != "" {
		q = q.Where("name = ?", name)
	}
	if createdBy != 0 {
		q = q.Where("created_by = ?", createdBy)
	}
	tasks := []model.Task{}
	return tasks, q.Find(&tasks).Error
}

func (s *TaskServer) projectTasks(projectID int64) ([]model.Task, error) {
	tasks := []model.Task{}
	return tasks, s.db.Where("project_id = ?", projectID).Order("id").Find(&tasks).Error
}

func (s *TaskServer) touchTask(t *model.Task) error {
	now := time.Now().UTC()
	if err := s.db.Model(&model.Task{}).Where("id = ?", t.ID).Update("updated_at", now).Error; err != nil {
		return err
	}
	t.UpdatedAt = now
	s.cache.Invalidate(taskCacheKey(t.ID))
	if t.ProjectID != 0 {
		s.cache.Invalidate(projectCacheKey(t.ProjectID))
	}
	return nil
}

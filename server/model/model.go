package model

import (
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/labelstore/pkg/annotation"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

type AuthUser struct {
	BaseModel
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

type AuthSession struct {
	Key        string `gorm:"primaryKey"`
	AuthUserID int64
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// SYNC-LABELSTORE-PROJECT
type Project struct {
	BaseModel
	Name      string                              `json:"name"`
	Labels    *dbh.JSONField[[]annotation.Label] `json:"labels"`
	CreatedBy int64                               `json:"createdBy"`
	CreatedAt time.Time                           `json:"createdAt"`
	UpdatedAt time.Time                           `json:"updatedAt"`
}

// SYNC-LABELSTORE-TASK
type Task struct {
	BaseModel
	ProjectID  int64                               `json:"projectID" gorm:"default:null"`
	Name       string                              `json:"name"`
	Mode       string                              `json:"mode"`
	Subset     string                              `json:"subset"`
	Overlap    int                                 `json:"overlap"`
	StartFrame int                                 `json:"startFrame"`
	StopFrame  int                                 `json:"stopFrame"`
	FrameStep  int                                 `json:"frameStep"`
	Labels     *dbh.JSONField[[]annotation.Label] `json:"labels"` // Ignored when the task belongs to a project
	CreatedBy  int64                               `json:"createdBy"`
	CreatedAt  time.Time                           `json:"createdAt"`
	UpdatedAt  time.Time                           `json:"updatedAt"`
}

// Frame is one media item of a task. The media bytes live in blob storage.
type Frame struct {
	TaskID int64  `gorm:"primaryKey;autoIncrement:false" json:"taskID"`
	Frame  int    `gorm:"primaryKey;autoIncrement:false" json:"frame"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func MakeLabels(labels []annotation.Label) *dbh.JSONField[[]annotation.Label] {
	f := dbh.JSONField[[]annotation.Label]{}
	f.Data = labels
	return &f
}

// LabelList returns the labels, or nil
func LabelList(f *dbh.JSONField[[]annotation.Label]) []annotation.Label {
	if f == nil {
		return nil
	}
	return f.Data
}

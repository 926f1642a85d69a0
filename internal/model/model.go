package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&SchemaInfo{},
	&Project{},
	&Performer{},
	&Keyframe{},
}

// SchemaVersion is written to SchemaInfo on setup.
const SchemaVersion = 1

////////////////////////
// SYSTEM MODELS
////////////////////////

// SchemaInfo records which application created the schema
type SchemaInfo struct {
	ID            uint      `gorm:"primaryKey"`
	Application   string    `json:"application" gorm:"size:63"`
	SchemaVersion int       `json:"schemaVersion"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (*SchemaInfo) TableName() string {
	return "schema_infos"
}

////////////////////////
// PROJECT MODELS
////////////////////////

// Project is one saved choreography. Name is the lookup key.
type Project struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	Name          string         `json:"name" gorm:"size:255;uniqueIndex:idx_project_name"`
	Version       int            `json:"version"`
	Duration      int64          `json:"duration"`
	AudioFileName sql.NullString `json:"audioFileName" gorm:"size:255"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`

	Performers []Performer `json:"performers" gorm:"foreignKey:ProjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Keyframes  []Keyframe  `json:"keyframes" gorm:"foreignKey:ProjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (*Project) TableName() string {
	return "projects"
}

// Performer is a cast member of a project. Ordinal keeps cast order.
type Performer struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	ProjectID   uint   `json:"projectId" gorm:"index:idx_performer_project_id"`
	PerformerID string `json:"performerId" gorm:"size:64"`
	Name        string `json:"name" gorm:"size:255"`
	Color       string `json:"color" gorm:"size:16"`
	Ordinal     int    `json:"ordinal"`
}

func (*Performer) TableName() string {
	return "performers"
}

// Keyframe is a timestamped formation. Positions holds the JSON object
// {performerId: {x, y}}.
type Keyframe struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	ProjectID  uint           `json:"projectId" gorm:"index:idx_keyframe_project_id"`
	KeyframeID string         `json:"keyframeId" gorm:"size:64"`
	Timestamp  int64          `json:"timestamp" gorm:"index:idx_keyframe_timestamp"`
	Positions  datatypes.JSON `json:"positions"`
}

func (*Keyframe) TableName() string {
	return "keyframes"
}

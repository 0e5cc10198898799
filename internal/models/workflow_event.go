package models

import "time"

// WorkflowEvent journals every status change. BesoinID groups the events of one dossier.
type WorkflowEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	Entity     string    `gorm:"size:30;not null;index:idx_wf_entity" json:"entity"` // besoin, demande_achat, ...
	EntityID   uint      `gorm:"not null;index:idx_wf_entity" json:"entity_id"`
	Numero     string    `gorm:"size:30" json:"numero,omitempty"`
	BesoinID   *uint     `gorm:"index" json:"besoin_id,omitempty"`
	Action     string    `gorm:"size:30;not null" json:"action"`
	FromStatus string    `gorm:"size:20" json:"from_status,omitempty"`
	ToStatus   string    `gorm:"size:20" json:"to_status,omitempty"`
	UserID     uint      `json:"user_id"`
	Note       string    `gorm:"size:500" json:"note,omitempty"`
}

// Attachment is a pièce justificative stored in the object bucket.
type Attachment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Entity      string    `gorm:"size:30;not null;index:idx_att_entity" json:"entity"`
	EntityID    uint      `gorm:"not null;index:idx_att_entity" json:"entity_id"`
	Key         string    `gorm:"uniqueIndex;size:255;not null" json:"key"`
	FileName    string    `gorm:"size:255;not null" json:"file_name"`
	ContentType string    `gorm:"size:100" json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	UploadedBy  uint      `gorm:"not null" json:"uploaded_by"`
}

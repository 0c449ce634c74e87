package models

import "time"

// CorpusDocument records a file uploaded into the retrieval corpus bucket.
type CorpusDocument struct {
	ID         string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UploadedBy string    `gorm:"column:uploaded_by;type:uuid;index" json:"uploaded_by"`
	FileName   string    `gorm:"column:file_name;type:text" json:"file_name"`
	FilePath   string    `gorm:"column:file_path;type:text" json:"file_path"`
	FileSize   int       `gorm:"column:file_size;type:integer" json:"file_size"`
	MimeType   string    `gorm:"column:mime_type;type:text" json:"mime_type"`
	UploadAt   time.Time `gorm:"column:upload_at;type:timestamptz" json:"upload_at"`
}

func (CorpusDocument) TableName() string { return "corpus_documents" }

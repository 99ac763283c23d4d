package models

import "time"

// FileMetadata информация о файле, сохраненном в сессии
type FileMetadata struct {
	SessionID     string    `json:"session_id"`
	FileName      string    `json:"file_name"`
	OriginalName  string    `json:"original_name"`
	Size          int64     `json:"size"`
	SHA256        string    `json:"sha256"`
	ContentType   string    `json:"content_type"`
	UploadedAt    time.Time `json:"uploaded_at"`
	DownloadCount int       `json:"download_cnt"`
	Deleted       bool      `json:"deleted"`
}

// StoredFile файл, перенесенный из временного каталога в каталог сессии
type StoredFile struct {
	Name         string
	OriginalName string
	Size         int64
	SHA256       string
	ContentType  string
}

// UploadedFile описание файла в ответе на загрузку
type UploadedFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// UploadResponse ответ на успешную загрузку
type UploadResponse struct {
	SessionID string         `json:"sessionId"`
	Files     []UploadedFile `json:"files"`
}

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// HealthResponse ответ на проверку состояния
type HealthResponse struct {
	Status string `json:"status"`
}

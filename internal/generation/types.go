package generation

import (
	"github.com/goccy/go-json"
)

const (
	TypeImage = "image"
	TypeVideo = "video"

	defaultAspectRatio   = "1:1"
	defaultStyle         = "default"
	defaultQuality       = 2
	defaultVideoDuration = 4
)

// CreateRequest тело запроса на генерацию изображения или видео
type CreateRequest struct {
	Prompt         string   `json:"prompt" validate:"required,max=4000"`
	NegativePrompt *string  `json:"negativePrompt"`
	AspectRatio    string   `json:"aspectRatio"`
	Style          string   `json:"style"`
	Quality        *float64 `json:"quality" validate:"omitempty,gt=0"`
	Remix          bool     `json:"remix"`
	Type           string   `json:"type"`
	Duration       *int     `json:"duration" validate:"omitempty,min=1,max=60"`
}

// CancelRequest тело запроса на отмену задачи
type CancelRequest struct {
	JobID string `json:"jobId"`
}

// jobPayload тело запроса к /imagine и /video
type jobPayload struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt *string `json:"negative_prompt"`
	AspectRatio    string  `json:"aspect_ratio"`
	Style          string  `json:"style"`
	Quality        float64 `json:"quality"`
	Remix          bool    `json:"remix"`
	Stealth        bool    `json:"stealth"`
	Mode           string  `json:"mode"`
	Duration       *int    `json:"duration,omitempty"`
}

func newJobPayload(req CreateRequest) jobPayload {
	p := jobPayload{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
		Style:          req.Style,
		Quality:        defaultQuality,
		Remix:          req.Remix,
		Stealth:        true,
		Mode:           "relax",
	}
	if p.AspectRatio == "" {
		p.AspectRatio = defaultAspectRatio
	}
	if p.Style == "" {
		p.Style = defaultStyle
	}
	if req.Quality != nil {
		p.Quality = *req.Quality
	}
	if req.Type == TypeVideo {
		d := defaultVideoDuration
		if req.Duration != nil {
			d = *req.Duration
		}
		p.Duration = &d
	}
	return p
}

// Response ответ внешнего API: статус и тело без изменений
type Response struct {
	Status int
	Body   json.RawMessage
}

// ErrorMessage достает сообщение об ошибке из полей error или message
func (r *Response) ErrorMessage(fallback string) string {
	var data map[string]interface{}
	if err := json.Unmarshal(r.Body, &data); err != nil {
		return fallback
	}
	for _, key := range []string{"error", "message"} {
		if msg, ok := data[key].(string); ok && msg != "" {
			return msg
		}
	}
	return fallback
}

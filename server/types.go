package server

import "github.com/born-ml/perceiver/internal/vit"

// EncodeRequest asks for image embeddings. Images are raw encoded files,
// base64 in JSON.
type EncodeRequest struct {
	Model  string   `json:"model"`
	Images [][]byte `json:"images"`
	// MaxImageLen caps the tokens per image; nil uses PERCEIVER_MAX_IMAGE_LEN
	// and a negative value removes the cap.
	MaxImageLen *int `json:"max_image_len,omitempty"`
	// Pool is "cls" (default), "mean" or "none".
	Pool string `json:"pool,omitempty"`
	// Letterbox keeps the aspect ratio and zero-pads instead of cropping.
	Letterbox bool `json:"letterbox,omitempty"`
}

// EncodeResponse holds one flattened embedding row and one mask row per
// image. Shape is the shape of the pooled features.
type EncodeResponse struct {
	ID         string      `json:"id"`
	Model      string      `json:"model"`
	Shape      []int       `json:"shape"`
	Embeddings [][]float32 `json:"embeddings"`
	Mask       [][]float32 `json:"mask"`
}

// ClassifyRequest asks for class scores.
type ClassifyRequest struct {
	Model     string   `json:"model"`
	Images    [][]byte `json:"images"`
	Letterbox bool     `json:"letterbox,omitempty"`
}

// Prediction is one class with its softmax probability.
type Prediction struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// ClassifyResponse holds the logits and the five best classes per image.
type ClassifyResponse struct {
	ID     string         `json:"id"`
	Model  string         `json:"model"`
	Logits [][]float32    `json:"logits"`
	Top5   [][]Prediction `json:"top5"`
}

// ModelInfo describes one registered variant.
type ModelInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      vit.Config     `json:"config"`
	DefaultCfg  vit.DefaultCfg `json:"default_cfg"`
}

// ListResponse lists the registered variants.
type ListResponse struct {
	Models []ModelInfo `json:"models"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

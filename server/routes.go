// Package server exposes Perceiver encoders over HTTP.
package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/born-ml/perceiver/envconfig"
	"github.com/born-ml/perceiver/internal/imageproc"
	"github.com/born-ml/perceiver/internal/registry"
	"github.com/born-ml/perceiver/internal/tensor"
	"github.com/born-ml/perceiver/internal/vit"
	"github.com/born-ml/perceiver/version"
)

var errBadRequest = errors.New("bad request")

// runner is a loaded model. loaded is closed once model and transform (or
// err) are set. A Model is not safe for concurrent use, so requests take
// mu around inference.
type runner struct {
	loaded chan struct{}
	err    error

	mu        sync.Mutex
	model     *vit.Model
	transform imageproc.Transform
}

// Server serves models from a registry, loading each on first use.
type Server struct {
	registry *registry.Registry
	opts     []registry.Option

	mu      sync.Mutex
	runners map[string]*runner
}

// New returns a server for reg. opts apply to every model it loads.
func New(reg *registry.Registry, opts ...registry.Option) *Server {
	return &Server{registry: reg, opts: opts, runners: make(map[string]*runner)}
}

// load returns the runner for name, building it on first use. Only
// requests for a model that is still loading wait for it; a failed load
// is forgotten so the next request retries.
func (s *Server) load(ctx context.Context, name string) (*runner, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: model is required", errBadRequest)
	}
	s.mu.Lock()
	r, ok := s.runners[name]
	if !ok {
		r = &runner{loaded: make(chan struct{})}
		s.runners[name] = r
	}
	s.mu.Unlock()

	if !ok {
		slog.Info("loading model", "model", name)
		m, err := s.registry.CreateContext(ctx, name, s.opts...)
		if err != nil {
			r.err = err
			s.mu.Lock()
			delete(s.runners, name)
			s.mu.Unlock()
		} else {
			r.model = m
			r.transform = imageproc.NewTransform(m.DefaultCfg())
		}
		close(r.loaded)
	}

	select {
	case <-r.loaded:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	return r, nil
}

// GenerateRoutes returns the HTTP handler.
func (s *Server) GenerateRoutes() (http.Handler, error) {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "User-Agent", "Accept", "X-Requested-With"}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(cors.New(corsConfig))

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "Perceiver is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "Perceiver is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	r.GET("/api/models", s.ListHandler)
	r.POST("/api/encode", s.EncodeHandler)
	r.POST("/api/classify", s.ClassifyHandler)

	return r, nil
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, vit.ErrInvalidInput),
		errors.Is(err, vit.ErrInvalidConfig),
		errors.Is(err, imageproc.ErrInvalidSize):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, id string, err error) {
	status := errStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "id", id, "path", c.FullPath(), "error", err)
	} else {
		slog.Debug("request rejected", "id", id, "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}

// ListHandler lists the registered variants with their configurations.
func (s *Server) ListHandler(c *gin.Context) {
	var resp ListResponse
	for _, name := range s.registry.List() {
		e, _ := s.registry.Get(name)
		cfg, dc, err := s.registry.Resolve(name)
		if err != nil {
			abort(c, "", err)
			return
		}
		resp.Models = append(resp.Models, ModelInfo{Name: name, Description: e.Description, Config: cfg, DefaultCfg: dc})
	}
	c.JSON(http.StatusOK, resp)
}

// prepare loads the model and turns the request images into a batch.
func (s *Server) prepare(ctx context.Context, name string, images [][]byte, letterbox bool) (*runner, *tensor.Tensor, error) {
	if len(images) == 0 {
		return nil, nil, fmt.Errorf("%w: images are required", errBadRequest)
	}
	r, err := s.load(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	imgs, err := imageproc.DecodeAll(ctx, images)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	x, err := r.transform.BatchImages(ctx, imgs, letterbox)
	if err != nil {
		return nil, nil, err
	}
	return r, x, nil
}

// EncodeHandler returns pooled encoder features for a batch of images.
func (s *Server) EncodeHandler(c *gin.Context) {
	id := uuid.NewString()
	var req EncodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, id, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	r, x, err := s.prepare(c.Request.Context(), req.Model, req.Images, req.Letterbox)
	if err != nil {
		abort(c, id, err)
		return
	}
	maxLen := envconfig.MaxImageLen()
	if req.MaxImageLen != nil {
		maxLen = *req.MaxImageLen
	}

	r.mu.Lock()
	feats, emb, err := r.model.Encode(x, maxLen, false)
	r.mu.Unlock()
	if err != nil {
		abort(c, id, err)
		return
	}
	pooled, err := vit.Pool(feats, emb.Mask, req.Pool)
	if err != nil {
		abort(c, id, err)
		return
	}
	slog.Debug("encoded", "id", id, "model", req.Model, "images", len(req.Images), "tokens", emb.NumTokens())
	c.JSON(http.StatusOK, EncodeResponse{
		ID:         id,
		Model:      req.Model,
		Shape:      pooled.Shape(),
		Embeddings: rows(pooled),
		Mask:       rows(emb.Mask),
	})
}

// ClassifyHandler returns logits and the top five classes per image.
func (s *Server) ClassifyHandler(c *gin.Context) {
	id := uuid.NewString()
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, id, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	r, x, err := s.prepare(c.Request.Context(), req.Model, req.Images, req.Letterbox)
	if err != nil {
		abort(c, id, err)
		return
	}

	r.mu.Lock()
	logits, err := classify(r.model, x)
	r.mu.Unlock()
	if err != nil {
		abort(c, id, err)
		return
	}
	c.JSON(http.StatusOK, ClassifyResponse{
		ID:     id,
		Model:  req.Model,
		Logits: rows(logits),
		Top5:   topK(tensor.Softmax(logits), 5),
	})
}

func classify(m *vit.Model, x *tensor.Tensor) (*tensor.Tensor, error) {
	if !m.HasHead() {
		return nil, fmt.Errorf("%w: model has no classification head", errBadRequest)
	}
	// Classification uses every patch, as the head was trained.
	feats, _, err := m.Encode(x, -1, false)
	if err != nil {
		return nil, err
	}
	return m.Classify(feats)
}

// rows splits t along its first axis into flattened rows.
func rows(t *tensor.Tensor) [][]float32 {
	n := t.Dim(0)
	data := t.Data()
	size := len(data) / n
	out := make([][]float32, n)
	for i := range out {
		out[i] = data[i*size : (i+1)*size]
	}
	return out
}

// topK returns the k highest scores of each row of probs [B, C].
func topK(probs *tensor.Tensor, k int) [][]Prediction {
	out := make([][]Prediction, probs.Dim(0))
	for i, row := range rows(probs) {
		preds := make([]Prediction, len(row))
		for j, p := range row {
			preds[j] = Prediction{Index: j, Score: p}
		}
		slices.SortStableFunc(preds, func(a, b Prediction) int { return cmp.Compare(b.Score, a.Score) })
		out[i] = preds[:min(k, len(preds))]
	}
	return out
}

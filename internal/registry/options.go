package registry

import "github.com/born-ml/perceiver/internal/checkpoint"

// Options adjust a variant before it is built. Unset fields keep the
// variant's defaults.
type Options struct {
	ImgSize    int
	NumClasses *int
	InChans    int
	UseVideo   bool
	MaxFrames  int

	DropRate     float64
	AttnDropRate float64
	DropPathRate float64

	Pretrained bool
	Checkpoint string
	Cache      *checkpoint.Cache

	Seed                     uint64
	AddNormBeforeTransformer bool
	NoPatchEmbedBias         bool
	RepresentationSize       *int
	QKScale                  float64
	NormEps                  float64
}

// Option configures Options.
type Option func(*Options)

// Apply runs opts in order.
func (o *Options) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// WithImgSize overrides the input resolution.
func WithImgSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.ImgSize = n
		}
	}
}

// WithNumClasses sets the classifier width. 0 builds a headless encoder.
func WithNumClasses(n int) Option {
	return func(o *Options) { o.NumClasses = &n }
}

// WithInChans sets the number of input channels.
func WithInChans(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.InChans = n
		}
	}
}

// WithUseVideo enables clip input of up to maxFrames frames.
func WithUseVideo(maxFrames int) Option {
	return func(o *Options) {
		o.UseVideo = true
		o.MaxFrames = maxFrames
	}
}

// WithMaxFrames sets the clip length bound without enabling video.
func WithMaxFrames(n int) Option {
	return func(o *Options) { o.MaxFrames = n }
}

// WithDropRates sets dropout, attention dropout and stochastic depth.
func WithDropRates(drop, attnDrop, dropPath float64) Option {
	return func(o *Options) {
		o.DropRate = drop
		o.AttnDropRate = attnDrop
		o.DropPathRate = dropPath
	}
}

// WithPretrained loads the variant's published weights.
func WithPretrained(v bool) Option {
	return func(o *Options) { o.Pretrained = v }
}

// WithCheckpoint loads weights from path instead of the published URL.
func WithCheckpoint(path string) Option {
	return func(o *Options) {
		o.Checkpoint = path
		o.Pretrained = path != "" || o.Pretrained
	}
}

// WithCache sets the download cache used for published weights.
func WithCache(c *checkpoint.Cache) Option {
	return func(o *Options) { o.Cache = c }
}

// WithSeed seeds initialization and token sampling.
func WithSeed(seed uint64) Option {
	return func(o *Options) { o.Seed = seed }
}

// WithAddNormBeforeTransformer adds a LayerNorm after the embedding.
func WithAddNormBeforeTransformer(v bool) Option {
	return func(o *Options) { o.AddNormBeforeTransformer = v }
}

// WithNoPatchEmbedBias drops the patch projection bias.
func WithNoPatchEmbedBias(v bool) Option {
	return func(o *Options) { o.NoPatchEmbedBias = v }
}

// WithRepresentationSize sets the pre-logits width. 0 removes the layer.
func WithRepresentationSize(n int) Option {
	return func(o *Options) { o.RepresentationSize = &n }
}

// WithQKScale overrides the attention scale.
func WithQKScale(s float64) Option {
	return func(o *Options) { o.QKScale = s }
}

// WithNormEps overrides the LayerNorm epsilon.
func WithNormEps(eps float64) Option {
	return func(o *Options) { o.NormEps = eps }
}

package registry

import (
	"context"
	"log/slog"

	"github.com/born-ml/perceiver/envconfig"
	"github.com/born-ml/perceiver/internal/checkpoint"
	"github.com/born-ml/perceiver/internal/vit"
)

// Resolve applies opts to the named variant and returns the configuration
// Create would build, without allocating the model.
func (r *Registry) Resolve(name string, opts ...Option) (vit.Config, vit.DefaultCfg, error) {
	e, ok := r.Get(name)
	if !ok {
		return vit.Config{}, vit.DefaultCfg{}, &Error{Op: "create", Name: name, Err: ErrUnknownModel}
	}
	var o Options
	o.Apply(opts...)
	cfg := resolve(name, e, &o)
	if err := cfg.Validate(); err != nil {
		return vit.Config{}, vit.DefaultCfg{}, &Error{Op: "create", Name: name, Err: err}
	}
	return cfg, e.DefaultCfg, nil
}

func resolve(name string, e Entry, o *Options) vit.Config {
	dc := e.DefaultCfg
	cfg := e.Constructor(o)

	cfg.NumClasses = dc.NumClasses
	if o.NumClasses != nil {
		cfg.NumClasses = *o.NumClasses
	}
	cfg.ImgSize = dc.InputSize[2]
	if o.ImgSize > 0 {
		cfg.ImgSize = o.ImgSize
	}
	if o.RepresentationSize != nil {
		cfg.RepresentationSize = *o.RepresentationSize
	}
	if cfg.RepresentationSize > 0 && cfg.NumClasses != dc.NumClasses {
		slog.Warn("removing representation layer for fine-tuning", "model", name, "num_classes", cfg.NumClasses, "representation_size", cfg.RepresentationSize)
		cfg.RepresentationSize = 0
	}

	if o.InChans > 0 {
		cfg.InChans = o.InChans
	}
	cfg.UseVideo = o.UseVideo
	if o.MaxFrames > 0 {
		cfg.MaxFrames = o.MaxFrames
	}
	cfg.DropRate = o.DropRate
	cfg.AttnDropRate = o.AttnDropRate
	cfg.DropPathRate = o.DropPathRate
	cfg.Seed = o.Seed
	cfg.AddNormBeforeTransformer = o.AddNormBeforeTransformer
	cfg.NoPatchEmbedBias = o.NoPatchEmbedBias
	if o.QKScale > 0 {
		cfg.QKScale = o.QKScale
	}
	if o.NormEps > 0 {
		cfg.NormEps = o.NormEps
	}
	return cfg
}

// Create builds the named variant.
func (r *Registry) Create(name string, opts ...Option) (*vit.Model, error) {
	return r.CreateContext(context.Background(), name, opts...)
}

// CreateContext builds the named variant. Pretrained weights come from the
// checkpoint path when one is given, otherwise from the variant's URL
// through the download cache. ctx bounds the download.
func (r *Registry) CreateContext(ctx context.Context, name string, opts ...Option) (*vit.Model, error) {
	e, ok := r.Get(name)
	if !ok {
		return nil, &Error{Op: "create", Name: name, Err: ErrUnknownModel}
	}
	var o Options
	o.Apply(opts...)

	m, err := vit.New(resolve(name, e, &o))
	if err != nil {
		return nil, &Error{Op: "create", Name: name, Err: err}
	}
	m.SetDefaultCfg(e.DefaultCfg)

	if !o.Pretrained {
		return m, nil
	}
	path := o.Checkpoint
	if path == "" {
		url := e.DefaultCfg.URL
		if url == "" {
			slog.Warn("no pretrained weights exist for this model, using random initialization", "model", name)
			return m, nil
		}
		cache := o.Cache
		if cache == nil {
			cache = checkpoint.NewCache(envconfig.CacheDir(), envconfig.Offline())
		}
		if path, err = cache.Fetch(ctx, url); err != nil {
			return nil, &Error{Op: "pretrained", Name: name, Err: err}
		}
	}
	if err := checkpoint.LoadFile(m, path); err != nil {
		return nil, &Error{Op: "pretrained", Name: name, Err: err}
	}
	return m, nil
}

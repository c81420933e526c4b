// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package models

import (
	"context"
	"image"

	"github.com/born-ml/perceiver/internal/imageproc"
	"github.com/born-ml/perceiver/internal/registry"
	"github.com/born-ml/perceiver/internal/tensor"
	"github.com/born-ml/perceiver/internal/vit"
)

// Model is a Perceiver vision transformer.
type Model = vit.Model

// Config holds the architecture hyperparameters of a Model.
type Config = vit.Config

// DefaultCfg describes a variant's pretrained weights and preprocessing.
type DefaultCfg = vit.DefaultCfg

// Embedded is the token sequence and metadata produced by Model.Encode.
type Embedded = vit.Embedded

// Labels holds masked patch prediction targets.
type Labels = vit.Labels

// Option configures Create.
type Option = registry.Option

// Pooling modes for Pool.
const (
	PoolCLS  = vit.PoolCLS
	PoolMean = vit.PoolMean
	PoolNone = vit.PoolNone
)

// Errors.
var (
	ErrUnknownModel  = registry.ErrUnknownModel
	ErrInvalidConfig = vit.ErrInvalidConfig
	ErrInvalidInput  = vit.ErrInvalidInput
)

// Options.
var (
	WithImgSize                  = registry.WithImgSize
	WithNumClasses               = registry.WithNumClasses
	WithInChans                  = registry.WithInChans
	WithUseVideo                 = registry.WithUseVideo
	WithMaxFrames                = registry.WithMaxFrames
	WithDropRates                = registry.WithDropRates
	WithPretrained               = registry.WithPretrained
	WithCheckpoint               = registry.WithCheckpoint
	WithSeed                     = registry.WithSeed
	WithAddNormBeforeTransformer = registry.WithAddNormBeforeTransformer
	WithNoPatchEmbedBias         = registry.WithNoPatchEmbedBias
	WithRepresentationSize       = registry.WithRepresentationSize
	WithQKScale                  = registry.WithQKScale
	WithNormEps                  = registry.WithNormEps
)

// New builds a model from an explicit configuration with random weights.
func New(cfg Config) (*Model, error) {
	return vit.New(cfg)
}

// DefaultConfig returns the ViT-B/16 configuration at 224.
func DefaultConfig() Config {
	return vit.DefaultConfig()
}

// Create builds the named variant.
func Create(name string, opts ...Option) (*Model, error) {
	return registry.Create(name, opts...)
}

// CreateContext builds the named variant, bounding any weight download
// by ctx.
func CreateContext(ctx context.Context, name string, opts ...Option) (*Model, error) {
	return registry.CreateContext(ctx, name, opts...)
}

// Resolve returns the configuration Create would build.
func Resolve(name string, opts ...Option) (Config, DefaultCfg, error) {
	return registry.Resolve(name, opts...)
}

// List returns the registered variant names, sorted.
func List() []string {
	return registry.List()
}

// Pool reduces features [B, N, D] to [B, D] with the given mode. mask
// [B, N] excludes padding from the mean.
func Pool(features, mask *tensor.Tensor, mode string) (*tensor.Tensor, error) {
	return vit.Pool(features, mask, mode)
}

// Preprocess resizes, crops and normalizes images the way m's pretrained
// weights expect and stacks them into [B, 3, H, W]. With letterbox set the
// aspect ratio is kept and the remainder zero-padded.
func Preprocess(ctx context.Context, m *Model, images []image.Image, letterbox bool) (*tensor.Tensor, error) {
	return imageproc.NewTransform(m.DefaultCfg()).BatchImages(ctx, images, letterbox)
}

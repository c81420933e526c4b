// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package models builds Perceiver vision transformers by name.
//
// # Overview
//
// Every timm ViT and DeiT variant is registered under its timm name,
// together with its pretrained weight URL and preprocessing settings.
// Models take images [B, C, H, W] or clips [B, T, C, H, W] of any size and
// return a fixed number of tokens per example: the class token plus up to
// MaxImageLen patches sampled from the unpadded region.
//
// # Basic Usage
//
//	import "github.com/born-ml/perceiver/models"
//
//	func main() {
//	    m, err := models.Create("vit_base_patch16_224", models.WithPretrained(true))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    x, err := models.Preprocess(ctx, m, images, false)
//	    feats, emb, err := m.Encode(x, 200, false)
//	    pooled, err := models.Pool(feats, emb.Mask, models.PoolMean)
//	}
//
// # Weights
//
// Pretrained checkpoints are downloaded once to PERCEIVER_CACHE_DIR. Local
// .pth and .safetensors files load with WithCheckpoint; position
// embeddings, the first convolution and the classifier are adapted to the
// requested configuration.
package models

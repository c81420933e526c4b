package cmd

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/born-ml/perceiver/internal/imageproc"
	"github.com/born-ml/perceiver/internal/registry"
	"github.com/born-ml/perceiver/internal/tensor"
	"github.com/born-ml/perceiver/internal/vit"
)

// Summary describes the encoder output for one invocation of encode.
type Summary struct {
	Model   string      `json:"model"`
	Shape   []int       `json:"shape"`
	GridH   int         `json:"grid_h"`
	GridW   int         `json:"grid_w"`
	Frames  int         `json:"frames,omitempty"`
	Valid   []int       `json:"valid_tokens"`
	CLSNorm []float64   `json:"cls_norm"`
	Masked  int         `json:"masked_patches,omitempty"`
	Pooled  [][]float32 `json:"pooled,omitempty"`
}

// EncodeHandler runs the encoder over image files.
func EncodeHandler(cmd *cobra.Command, args []string) error {
	name, paths := args[0], args[1:]
	flags := cmd.Flags()
	checkpointPath, _ := flags.GetString("checkpoint")
	pretrained, _ := flags.GetBool("pretrained")
	maxLen, _ := flags.GetInt("max-image-len")
	maskIt, _ := flags.GetBool("mask")
	seed, _ := flags.GetUint64("seed")
	video, _ := flags.GetBool("video")
	letterbox, _ := flags.GetBool("letterbox")
	asJSON, _ := flags.GetBool("json")

	opts := []registry.Option{registry.WithSeed(seed)}
	switch {
	case checkpointPath != "":
		opts = append(opts, registry.WithCheckpoint(checkpointPath))
	case pretrained:
		opts = append(opts, registry.WithPretrained(true))
	}
	if video {
		opts = append(opts, registry.WithUseVideo(max(8, len(paths))))
	}

	ctx := cmd.Context()
	m, err := registry.CreateContext(ctx, name, opts...)
	if err != nil {
		return err
	}

	imgs, err := imageproc.LoadAll(ctx, paths)
	if err != nil {
		return err
	}
	x, err := imageproc.NewTransform(m.DefaultCfg()).BatchImages(ctx, imgs, letterbox)
	if err != nil {
		return err
	}
	if video {
		x = x.Reshape(append([]int{1}, x.Shape()...)...)
	}

	feats, emb, err := m.Encode(x, maxLen, maskIt)
	if err != nil {
		return err
	}

	s := summarize(name, feats, emb)
	if asJSON {
		pooled, err := vit.Pool(feats, emb.Mask, vit.PoolCLS)
		if err != nil {
			return err
		}
		d := pooled.Dim(1)
		for i := range pooled.Dim(0) {
			s.Pooled = append(s.Pooled, pooled.Data()[i*d:(i+1)*d])
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "model:     %s\n", s.Model)
	fmt.Fprintf(out, "features:  %v\n", s.Shape)
	fmt.Fprintf(out, "grid:      %dx%d\n", s.GridH, s.GridW)
	if s.Frames > 0 {
		fmt.Fprintf(out, "frames:    %d\n", s.Frames)
	}
	for i := range s.Valid {
		fmt.Fprintf(out, "[%d] valid tokens %d, cls norm %.4f\n", i, s.Valid[i], s.CLSNorm[i])
	}
	if emb.Labels != nil {
		fmt.Fprintf(out, "masked patches: %d\n", s.Masked)
	}
	return nil
}

func summarize(name string, feats *tensor.Tensor, emb *vit.Embedded) Summary {
	s := Summary{
		Model:  name,
		Shape:  feats.Shape(),
		GridH:  emb.GridH,
		GridW:  emb.GridW,
		Frames: emb.Frames,
	}
	b, n, d := feats.Dim(0), feats.Dim(1), feats.Dim(2)
	data, mask := feats.Data(), emb.Mask.Data()
	for i := range b {
		valid := 0
		for _, v := range mask[i*n : (i+1)*n] {
			if v > 0 {
				valid++
			}
		}
		var sq float64
		for _, v := range data[i*n*d : i*n*d+d] {
			sq += float64(v) * float64(v)
		}
		s.Valid = append(s.Valid, valid)
		s.CLSNorm = append(s.CLSNorm, math.Sqrt(sq))
	}
	if emb.Labels != nil {
		s.Masked = emb.Labels.NumMasked()
	}
	return s
}

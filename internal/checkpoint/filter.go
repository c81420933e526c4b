package checkpoint

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/born-ml/perceiver/internal/vit"
)

// modelOwned reports whether a missing checkpoint entry may keep the model's
// freshly initialized value. These parameters are either not part of
// published ViT weights or are replaced when fine-tuning.
func modelOwned(name string) bool {
	switch name {
	case "mask_token", "temporal_embed":
		return true
	}
	for _, p := range []string{"pre_norm.", "head.", "head_dist.", "pre_logits."} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Filter adapts a pretrained state dict to m:
//
//   - a flattened patch projection is reshaped to [D, C, p, p];
//   - a position embedding for another grid size is resized;
//   - the first convolution is adapted to the model's input channels;
//   - classifier weights are dropped when the model has no head or a
//     different number of classes, and a representation layer the model
//     lacks is dropped;
//   - parameters the checkpoint cannot provide (mask token, temporal
//     embedding, pre-norm, replaced heads) keep the model's values.
//
// The input is not modified.
func Filter(sd *StateDict, m *vit.Model) (*StateDict, error) {
	own := FromModule(m)
	cfg := m.Config()
	out := NewStateDict()
	for name, t := range sd.All() {
		switch name {
		case "patch_embed.proj.weight":
			if t.Dims() < 4 && !cfg.Hybrid() {
				k := m.PatchEmbed().Kernel()
				if t.Len()%(t.Dim(0)*k*k) != 0 {
					return nil, fmt.Errorf("%w: %s %v cannot hold %dx%d patches", ErrShapeMismatch, name, t.Shape(), k, k)
				}
				t = t.Reshape(t.Dim(0), -1, k, k)
			}
		case "pos_embed":
			want, _ := own.Get(name)
			if !t.Shape().Equal(want.Shape()) {
				resized, err := ResizePosEmbed(t, want.Dim(1), m.NumPrefixTokens())
				if err != nil {
					return nil, fmt.Errorf("%s: %w", name, err)
				}
				t = resized
			}
		}
		out.Set(name, t)
	}

	first := "patch_embed." + m.PatchEmbed().FirstConv() + ".weight"
	if w, ok := out.Get(first); ok && w.Dims() == 4 && w.Dim(1) != cfg.InChans {
		adapted, err := AdaptInputConv(w, cfg.InChans)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", first, err)
		}
		slog.Info("adapted input convolution", "name", first, "from", w.Dim(1), "to", cfg.InChans)
		out.Set(first, adapted)
	}

	for _, name := range out.Keys() {
		if !modelOwned(name) {
			continue
		}
		t, _ := out.Get(name)
		want, ok := own.Get(name)
		if !ok || !t.Shape().Equal(want.Shape()) {
			slog.Info("dropping pretrained weights", "name", name, "shape", t.Shape())
			out.Delete(name)
		}
	}

	for name, t := range own.All() {
		if _, ok := out.Get(name); !ok && modelOwned(name) {
			slog.Debug("keeping initialized weights", "name", name)
			out.Set(name, t.Clone())
		}
	}
	return out, nil
}

// Load copies sd into m. With strict set, any key mismatch fails with an
// *nn.KeyError.
func Load(m *vit.Model, sd *StateDict, strict bool) error {
	missing, unexpected, err := m.LoadStateDict(sd, strict)
	if err != nil {
		return err
	}
	slog.Info("loaded checkpoint", "tensors", sd.Len(), "values", sd.NumElements(), "missing", len(missing), "unexpected", len(unexpected))
	return nil
}

// LoadFile reads, filters and strictly loads the checkpoint at path into m.
func LoadFile(m *vit.Model, path string) error {
	sd, err := Read(path)
	if err != nil {
		return err
	}
	sd, err = Filter(sd, m)
	if err != nil {
		return err
	}
	if err := Load(m, sd, true); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

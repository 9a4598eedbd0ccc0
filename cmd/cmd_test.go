package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoke-ai/invokeai/fs/safetensors"
	"github.com/invoke-ai/invokeai/ml"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cli := NewCLI()
	cli.SetOut(&out)
	cli.SetErr(&out)
	cli.SetArgs(args)
	err := cli.ExecuteContext(t.Context())
	return out.String(), err
}

func TestNameCommand(t *testing.T) {
	out, err := run(t, "name", "--prefix", "abc", "-n", "3")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	re := regexp.MustCompile(`^abc_[0-9a-f-]{36}\.png$`)
	for _, l := range lines {
		assert.Regexp(t, re, l)
	}

	if _, err := run(t, "name", "-n", "0"); err == nil {
		t.Error("expected error for -n 0")
	}
}

func TestImageDTOCommand(t *testing.T) {
	t.Setenv("INVOKEAI_API_BASE", "api/v2")

	path := filepath.Join(t.TempDir(), "record.json")
	record := `{"image_name":"x.png","image_origin":"internal","image_category":"general","width":8,"height":8,"created_at":"2024-03-01T12:00:00Z","updated_at":"2024-03-01T12:00:00Z","is_intermediate":false,"starred":false,"has_workflow":false}`
	require.NoError(t, os.WriteFile(path, []byte(record), 0o644))

	out, err := run(t, "image", "dto", path, "--board", "b1")
	require.NoError(t, err)

	var dto map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &dto))
	assert.Equal(t, "api/v2/images/i/x.png/full", dto["image_url"])
	assert.Equal(t, "api/v2/images/i/x.png/thumbnail", dto["thumbnail_url"])
	assert.Equal(t, "b1", dto["board_id"])
	assert.Equal(t, "x.png", dto["image_name"])

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"image_name":"x.png","image_origin":"cloud","image_category":"general"}`), 0o644))
	if _, err := run(t, "image", "dto", bad); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoraShowCommand(t *testing.T) {
	up, err := ml.NewTensor([]int{2, 1}, []float32{1, 2})
	require.NoError(t, err)
	down, err := ml.NewTensor([]int{1, 2}, []float32{3, 4})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "style.safetensors")
	require.NoError(t, safetensors.Write(path, map[string]*ml.Tensor{
		"lora_unet_proj.lora_up.weight":   up,
		"lora_unet_proj.lora_down.weight": down,
		"lora_unet_proj.alpha":            ml.Scalar(2),
	}, map[string]string{"ss_network_dim": "1"}))

	out, err := run(t, "lora", "show", path, "--precision", "float16")
	require.NoError(t, err)
	assert.Contains(t, out, "lora_unet_proj")
	assert.Contains(t, out, "ss_network_dim")
	assert.Contains(t, out, "float16")

	out, err = run(t, "lora", "delta", path, "lora_unet_proj")
	require.NoError(t, err)
	assert.Contains(t, out, "shape: [2 2]")
	assert.Contains(t, out, "scale: 2")

	if _, err := run(t, "lora", "delta", path, "missing"); err == nil {
		t.Error("expected error for unknown layer")
	}
}

func TestModelCommands(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"model_type":"clip_vision_model","architectures":["CLIPVisionModelWithProjection"]}`), 0o644))

	w, err := ml.NewTensor([]int{4}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, safetensors.Write(filepath.Join(dir, "model.safetensors"), map[string]*ml.Tensor{"w": w}, nil))

	out, err := run(t, "model", "resolve", dir)
	require.NoError(t, err)
	assert.Equal(t, "transformers.CLIPVisionModelWithProjection\n", out)

	out, err = run(t, "model", "load", dir, "--variant", "fp16", "--precision", "bf16")
	require.NoError(t, err)
	assert.Contains(t, out, "transformers.CLIPVisionModelWithProjection")
	assert.Contains(t, out, "bfloat16")
	assert.Contains(t, out, "8 B")
}

func TestModelShowCommand(t *testing.T) {
	dir := t.TempDir()
	index := `{"_class_name":"StableDiffusionPipeline","vae":["diffusers","AutoencoderKL"],"unet":["diffusers","UNet2DConditionModel"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_index.json"), []byte(index), 0o644))

	out, err := run(t, "model", "show", dir)
	require.NoError(t, err)

	vae, unet := strings.Index(out, "vae"), strings.Index(out, "unet")
	if vae < 0 || unet < 0 || vae > unet {
		t.Errorf("submodels not in file order:\n%s", out)
	}

	out, err = run(t, "model", "resolve", dir, "--submodel", "unet")
	require.NoError(t, err)
	assert.Equal(t, "diffusers.UNet2DConditionModel\n", out)
}

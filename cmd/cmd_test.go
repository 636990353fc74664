package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smazurov/hudrender/internal/codec"
	"github.com/smazurov/hudrender/internal/codec/raw"
	"github.com/smazurov/hudrender/internal/compositor"
	"github.com/smazurov/hudrender/internal/jobs"
	"github.com/smazurov/hudrender/internal/media"
	"github.com/smazurov/hudrender/internal/mp4"
	"github.com/spf13/cobra"
)

func writeInput(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.mp4")
	mux, err := mp4.NewMuxer(path, mp4.MuxerOptions{})
	if err != nil {
		t.Fatalf("NewMuxer: %v", err)
	}
	enc := codec.NewFrameEncoder(codec.NewRegistry(raw.NewBackend()), func(c media.EncodedOutputChunk, meta *media.OutputMetadata) error {
		if meta != nil {
			if err := mux.SetMetadata(*meta); err != nil {
				return err
			}
		}
		return mux.AddChunk(c)
	})
	if err := enc.Configure(codec.EncoderConfig{Codec: raw.Codec, Width: 16, Height: 8, FrameRate: 30}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	for k := 0; k < frames; k++ {
		if err := enc.Encode(media.NewCompositeFrame(16, 8, int64(k)*33333), false); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	enc.Close()
	if err := mux.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return path
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEffectsCommand(t *testing.T) {
	out, err := run(t, CreateEffectsCmd())
	if err != nil {
		t.Fatalf("effects: %v", err)
	}
	for _, e := range compositor.DescribeEffects() {
		if !strings.Contains(out, e.Name) {
			t.Errorf("output missing effect %q:\n%s", e.Name, out)
		}
	}

	out, err = run(t, CreateEffectsCmd(), "--json")
	if err != nil {
		t.Fatalf("effects --json: %v", err)
	}
	var listed []compositor.EffectInfo
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed) != len(compositor.DescribeEffects()) {
		t.Errorf("listed %d effects, want %d", len(listed), len(compositor.DescribeEffects()))
	}
}

func TestCodecsCommandListsRawBackend(t *testing.T) {
	out, err := run(t, CreateCodecsCmd())
	if err != nil {
		t.Fatalf("codecs: %v", err)
	}
	if !strings.HasPrefix(out, "BACKEND") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, raw.Codec) {
		t.Errorf("raw backend not listed:\n%s", out)
	}
}

func TestProbeCommand(t *testing.T) {
	input := writeInput(t, 3)

	out, err := run(t, CreateProbeCmd(), input)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	for _, want := range []string{"raw 16x8", "samples", "decodable"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, CreateProbeCmd(), "--json", input)
	if err != nil {
		t.Fatalf("probe --json: %v", err)
	}
	var got struct {
		Decodable bool `json:"decodable"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Decodable {
		t.Error("raw input should be decodable")
	}
}

func TestProbeCommandErrors(t *testing.T) {
	if _, err := run(t, CreateProbeCmd(), filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("missing file should fail")
	}

	junk := filepath.Join(t.TempDir(), "junk.mp4")
	if err := os.WriteFile(junk, []byte("not an mp4"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, CreateProbeCmd(), junk); err == nil {
		t.Error("junk file should fail")
	}
}

func TestRenderCommand(t *testing.T) {
	input := writeInput(t, 2)
	output := filepath.Join(t.TempDir(), "out.mp4")

	out, err := run(t, CreateRenderCmd(),
		"--input", input,
		"--out", output,
		"--duration-ms", "100",
		"--codec", raw.Codec,
		"--compositor", "software",
		"--defaults", filepath.Join(t.TempDir(), "none.toml"),
		"--log-level", "error",
		"--json",
	)
	if err != nil {
		t.Fatalf("render: %v\n%s", err, out)
	}

	var final jobs.Info
	if err := json.Unmarshal([]byte(out), &final); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if final.State != jobs.StateComplete || final.Output != output {
		t.Errorf("final = %+v", final)
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestRenderCommandFailure(t *testing.T) {
	junk := filepath.Join(t.TempDir(), "junk.mp4")
	if err := os.WriteFile(junk, []byte("not an mp4"), 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(t.TempDir(), "out.mp4")

	_, err := run(t, CreateRenderCmd(),
		"--input", junk,
		"--out", output,
		"--width", "16",
		"--height", "8",
		"--duration-ms", "100",
		"--codec", raw.Codec,
		"--compositor", "software",
		"--defaults", filepath.Join(t.TempDir(), "none.toml"),
		"--log-level", "error",
	)
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("error = %v, want *RenderError", err)
	}
	if renderErr.Code == "" {
		t.Error("RenderError has no code")
	}
	if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
		t.Errorf("failed render left output behind: %v", statErr)
	}
}

func TestRenderCommandRejectsInvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no input", nil},
		{"unreadable input", []string{"--input", filepath.Join(t.TempDir(), "missing.mp4"), "--duration-ms", "100"}},
		{"unknown effect", []string{"--input", "x.mp4", "--width", "16", "--height", "8", "--duration-ms", "100", "--effects", "sparkle"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--defaults", filepath.Join(t.TempDir(), "none.toml"), "--log-level", "error"}, tt.args...)
			_, err := run(t, CreateRenderCmd(), args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			var renderErr *RenderError
			if errors.As(err, &renderErr) {
				t.Errorf("request errors are returned before rendering, got %v", err)
			}
		})
	}
}

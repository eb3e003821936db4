package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/menta2k/gui-annotator/pkg/client"
	"github.com/menta2k/gui-annotator/pkg/extract"
	"github.com/menta2k/gui-annotator/pkg/processing"
	"github.com/menta2k/gui-annotator/pkg/types"
)

type fakeClient struct {
	mu      sync.Mutex
	byImage map[string]client.Response
	prompts []string
}

func (f *fakeClient) Query(_ context.Context, images []string, prompt string) client.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if resp, ok := f.byImage[filepath.Base(images[0])]; ok {
		return resp
	}
	return client.Failed(http500, "no scripted reply")
}

const http500 = 500

type fakeProbe map[string][2]int

func (p fakeProbe) Dimensions(path string) (int, int, error) {
	d, ok := p[filepath.Base(path)]
	if !ok {
		return 0, 0, errors.New("unknown image")
	}
	return d[0], d[1], nil
}

func reply(text string) client.Response {
	return client.Succeeded(`{"output":{"choices":[{"message":{"role":"assistant","content":[{"text":"` + text + `"}]}}]}}`)
}

func newRunner(t *testing.T, c Querier, probe extract.DimensionProbe, opts Options) *Runner {
	t.Helper()
	opts.Client = c
	opts.Probe = probe
	if opts.Extractor == nil {
		opts.Extractor = extract.New(probe, nil, nil)
	}
	r, err := New(opts)
	require.NoError(t, err)
	return r
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestProcessRecordGroundingReturnsNativeTuple(t *testing.T) {
	fc := &fakeClient{byImage: map[string]client.Response{"a.png": reply("[96,96,192,192]")}}
	r := newRunner(t, fc, fakeProbe{"a.png": {1000, 500}}, Options{})

	rec := types.Record{Question: "the gear icon", QuestionID: "1"}
	answer, err := r.ProcessRecord(context.Background(), types.Grounding, "img/a.png", rec)
	require.NoError(t, err)
	assert.Equal(t, "[100,50,200,100]", answer)

	require.Len(t, fc.prompts, 1)
	assert.Contains(t, fc.prompts[0], `The question is: "the gear icon".`)
	assert.Contains(t, fc.prompts[0], "960x960")
}

func TestProcessRecordReferringScalesQuestionIntoModelFrame(t *testing.T) {
	fc := &fakeClient{byImage: map[string]client.Response{"a.png": reply("Opens settings")}}
	r := newRunner(t, fc, fakeProbe{"a.png": {1000, 500}}, Options{})

	rec := types.Record{Question: "What does [100,50,200,100] do?", QuestionID: "1"}
	answer, err := r.ProcessRecord(context.Background(), types.Referring, "a.png", rec)
	require.NoError(t, err)
	assert.Equal(t, "Opens settings", answer)
	assert.Contains(t, fc.prompts[0], "What does [96,96,192,192] do?")
}

func TestProcessRecordReferringWithoutDimensionsSendsQuestionAsIs(t *testing.T) {
	fc := &fakeClient{byImage: map[string]client.Response{"a.png": reply("x")}}
	r := newRunner(t, fc, fakeProbe{}, Options{})

	_, err := r.ProcessRecord(context.Background(), types.Referring, "a.png", types.Record{Question: "What is [10,10]?"})
	require.NoError(t, err)
	assert.Contains(t, fc.prompts[0], "What is [10,10]?")
}

func TestProcessRecordVQA(t *testing.T) {
	fc := &fakeClient{byImage: map[string]client.Response{"a.png": reply("Tap Wi-Fi [480,480,960,960]")}}
	r := newRunner(t, fc, fakeProbe{"a.png": {1080, 2400}}, Options{})

	answer, err := r.ProcessRecord(context.Background(), types.VQA, "a.png", types.Record{Question: "How?"})
	require.NoError(t, err)
	assert.Equal(t, "Tap Wi-Fi [540,1200,1080,2400]", answer)
}

func TestProcessRecordFailureIsClassified(t *testing.T) {
	fc := &fakeClient{byImage: map[string]client.Response{"a.png": client.Failed(401, "denied")}}
	r := newRunner(t, fc, fakeProbe{}, Options{})

	answer, err := r.ProcessRecord(context.Background(), types.Grounding, "a.png", types.Record{})
	assert.Equal(t, "", answer)
	assert.ErrorIs(t, err, ErrInferenceFailed)
	assert.Contains(t, err.Error(), "401")
}

func writeDataset(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestProcessDatasetPatchesAnswers(t *testing.T) {
	dir := t.TempDir()
	lines := []string{
		`{"image":"a.png","question":"gear","question_id":"1","type":"gui_grounding","answer":""}`,
		`{"image":"b.png","question":"back","question_id":"2","type":"gui_grounding","answer":"","note":"keep me"}`,
		`{"image":"c.png","question":"menu","question_id":3,"type":"gui_grounding","answer":""}`,
	}
	writeDataset(t, dir, "GUI_Grounding.json", lines...)

	fc := &fakeClient{byImage: map[string]client.Response{
		"a.png": reply("[96,96,192,192]"),
		"c.png": reply("I could not find it"),
	}}
	core, logs := observer.New(zapcore.DebugLevel)
	r := newRunner(t, fc, fakeProbe{"a.png": {1000, 500}}, Options{Logger: zap.New(core)})

	ds := Dataset{Kind: types.Grounding, BaseDir: dir, Manifest: "GUI_Grounding.json", Output: filepath.Join(dir, "out", "grounding.json")}
	stats, err := r.ProcessDataset(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Empty)

	data, err := os.ReadFile(ds.Output)
	require.NoError(t, err)
	got := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, got, 3)
	assert.Equal(t, `{"image":"a.png","question":"gear","question_id":"1","type":"gui_grounding","answer":"[100,50,200,100]"}`, got[0])
	assert.Equal(t, lines[1], got[1], "an empty answer leaves the line byte-identical")
	assert.Equal(t, lines[2], got[2])

	assert.Equal(t, 1, logs.FilterMessage("record failed").Len())
	finished := logs.FilterMessage("dataset finished").All()
	require.Len(t, finished, 1)
	assert.NotEmpty(t, finished[0].ContextMap()["run_id"])
}

func TestProcessDatasetImagePaths(t *testing.T) {
	ds := Dataset{BaseDir: "data", Manifest: "m.json"}
	assert.Equal(t, filepath.Join("data", "m.json"), ds.ManifestPath())
	assert.Equal(t, filepath.Join("data", "image", "1.png"), ds.ImagePath(types.Record{Image: "1.png"}))

	ds.ImageDir = "shots"
	assert.Equal(t, filepath.Join("data", "shots", "1.png"), ds.ImagePath(types.Record{Image: "1.png"}))
}

func TestProcessDatasetMissingManifest(t *testing.T) {
	r := newRunner(t, &fakeClient{}, fakeProbe{}, Options{})
	_, err := r.ProcessDataset(context.Background(), Dataset{BaseDir: t.TempDir(), Manifest: "missing.json", Output: "x"})
	assert.Error(t, err)
}

func TestProcessDatasetCancelledSavesPartial(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "vqa.json",
		`{"image":"a.png","question":"q","question_id":"1","type":"advanced_vqa","answer":""}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newRunner(t, &fakeClient{}, fakeProbe{}, Options{})
	ds := Dataset{Kind: types.VQA, BaseDir: dir, Manifest: "vqa.json", Output: filepath.Join(dir, "out.json")}
	stats, err := r.ProcessDataset(ctx, ds)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stats.Total)

	_, statErr := os.Stat(ds.Output)
	assert.NoError(t, statErr, "output is still written")
}

func TestProcessAllIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "ref.json",
		`{"image":"a.png","question":"what is [0,0,10,10]","question_id":"1","type":"gui_referring","answer":""}`)

	fc := &fakeClient{byImage: map[string]client.Response{"a.png": reply("Logo")}}
	r := newRunner(t, fc, fakeProbe{"a.png": {960, 960}}, Options{Parallel: 2})

	datasets := []Dataset{
		{Kind: types.Grounding, BaseDir: dir, Manifest: "missing.json", Output: filepath.Join(dir, "g.json")},
		{Kind: types.Referring, BaseDir: dir, Manifest: "ref.json", Output: filepath.Join(dir, "r.json")},
	}
	results := r.ProcessAll(context.Background(), datasets)
	require.Len(t, results, 2)

	assert.Error(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, 1, results[1].Stats.Succeeded)

	data, err := os.ReadFile(filepath.Join(dir, "r.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"answer":"Logo"`)
}

func TestGroundingDebugOverlay(t *testing.T) {
	dir := t.TempDir()
	imgDir := filepath.Join(dir, "image")
	require.NoError(t, os.MkdirAll(imgDir, 0o755))

	img := image.NewRGBA(image.Rect(0, 0, 96, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 96; x++ {
			img.Set(x, y, color.RGBA{200, 200, 200, 255})
		}
	}
	f, err := os.Create(filepath.Join(imgDir, "home.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	writeDataset(t, dir, "g.json",
		`{"image":"home.png","question":"search","question_id":"q/1","type":"gui_grounding","answer":""}`)

	proc := processing.NewProcessor()
	fc := &fakeClient{byImage: map[string]client.Response{"home.png": reply("[100,200,300,400]")}}
	debugDir := filepath.Join(dir, "debug")
	r := newRunner(t, fc, proc, Options{Overlay: proc, DebugDir: debugDir})

	stats, err := r.ProcessDataset(context.Background(), Dataset{
		Kind: types.Grounding, BaseDir: dir, Manifest: "g.json", Output: filepath.Join(dir, "out.json"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)

	_, err = os.Stat(filepath.Join(debugDir, "q_1_home_debug.png"))
	assert.NoError(t, err)
}

func TestStats(t *testing.T) {
	var s Stats
	assert.Equal(t, float64(0), s.SuccessRate())
	assert.Equal(t, time.Duration(0), s.AverageLatency())

	s.Add("[1,2]", nil, 100*time.Millisecond)
	s.Add("", nil, 200*time.Millisecond)
	s.Add("", ErrInferenceFailed, 300*time.Millisecond)
	s.Add("ok", nil, 400*time.Millisecond)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Empty)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 50.0, s.SuccessRate(), 0.001)
	assert.Equal(t, 250*time.Millisecond, s.AverageLatency())
	assert.Equal(t, "4 total, 2 ok, 1 failed, 1 empty (50%), avg 250ms", s.String())
}

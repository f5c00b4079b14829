package batch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/cutout/cutout"
	"github.com/chaos-io/cutout/errs"
	"github.com/chaos-io/cutout/util"
)

var (
	blue = color.NRGBA{R: 30, G: 60, B: 200, A: 255}
	red  = color.NRGBA{R: 220, G: 40, B: 40, A: 255}
)

func writeSquare(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			if x >= 12 && x < 28 && y >= 12 && y < 28 {
				img.SetNRGBA(x, y, red)
			} else {
				img.SetNRGBA(x, y, blue)
			}
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// stubRemover 原样返回图片，可配置为返回错误或阻塞到 ctx 结束
type stubRemover struct {
	calls atomic.Int64
	err   error
	block bool
}

func (s *stubRemover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return img, nil
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return util.NewLogger("debug", "text", buf)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.PNG", "c.txt", "d.tiff", "e.gif", "f.jpeg", "g.bmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub.png"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub.png", "h.png"), nil, 0o644))

	files, err := Discover(dir)
	require.NoError(t, err)
	want := []string{"a.PNG", "b.jpg", "d.tiff", "f.jpeg", "g.bmp"}
	for i := range want {
		want[i] = filepath.Join(dir, want[i])
	}
	assert.Equal(t, want, files)

	_, err = Discover(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, errs.ErrUnreadableFile)
}

func TestCheckFormat(t *testing.T) {
	assert.NoError(t, CheckFormat("a/b.JPEG"))
	assert.NoError(t, CheckFormat("b.tiff"))
	assert.ErrorIs(t, CheckFormat("b.tif"), errs.ErrUnsupportedFormat)
	assert.ErrorIs(t, CheckFormat("b.gif"), errs.ErrUnsupportedFormat)
	assert.ErrorIs(t, CheckFormat("noext"), errs.ErrUnsupportedFormat)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "cat.png"), OutputPath("out", filepath.Join("images", "cat.jpg")))
	assert.Equal(t, filepath.Join("out", "cat.photo.png"), OutputPath("out", "cat.photo.JPEG"))
	assert.Equal(t, filepath.Join("out", "cat_preview.png"), PreviewPath("out", "cat.bmp"))
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "images/a.jpg", outputName("images/a.jpg"))
	assert.Equal(t, "dog.jpg", outputName("https://example.com/pets/dog.jpg?x=1"))
	assert.Equal(t, "download", outputName("https://example.com/"))
}

func TestWorkerPool(t *testing.T) {
	pool := NewWorkerPool(4)
	pool.Start()
	defer pool.Close()

	var n atomic.Int64
	for i := 0; i < 100; i++ {
		pool.Submit(func() {
			time.Sleep(time.Millisecond)
			n.Add(1)
		})
	}
	pool.Wait()
	assert.Equal(t, int64(100), n.Load())
}

func TestProcess_KeepsOrder(t *testing.T) {
	loadErr := errors.New("boom")
	var sources []Source
	for i := 0; i < 20; i++ {
		size := i + 1
		src := Source{ID: string(rune('a' + i))}
		if i == 7 {
			src.Load = func() (image.Image, error) { return nil, loadErr }
		} else {
			src.Load = func() (image.Image, error) { return image.NewNRGBA(image.Rect(0, 0, size, 1)), nil }
		}
		sources = append(sources, src)
	}

	outcomes := Process(context.Background(), &stubRemover{}, sources, 3)
	require.Len(t, outcomes, 20)
	for i, o := range outcomes {
		assert.Equal(t, sources[i].ID, o.ID)
		if i == 7 {
			assert.ErrorIs(t, o.Err, loadErr)
			continue
		}
		require.NoError(t, o.Err)
		assert.Equal(t, i+1, o.Image.Bounds().Dx())
	}
}

func TestProcess_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	remover := &stubRemover{}
	sources := []Source{{ID: "a", Load: func() (image.Image, error) { return image.NewGray(image.Rect(0, 0, 1, 1)), nil }}}

	outcomes := Process(ctx, remover, sources, 1)
	assert.ErrorIs(t, outcomes[0].Err, context.Canceled)
	assert.Equal(t, int64(0), remover.calls.Load())
}

func TestPipeline_RunDir(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	writeSquare(t, filepath.Join(src, "one.png"))
	writeSquare(t, filepath.Join(src, "two.png"))
	require.NoError(t, os.WriteFile(filepath.Join(src, "three.jpg"), []byte("corrupt"), 0o644))

	var buf bytes.Buffer
	p := &Pipeline{
		Remover:   cutout.NewGrabCutRemover(),
		Workers:   2,
		OutputDir: dst,
		Logger:    testLogger(&buf),
	}
	report, err := p.RunDir(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "2/3 images processed successfully", report.Summary())
	assert.NotEmpty(t, report.RunID)

	failure := report.Failures[filepath.Join(src, "three.jpg")]
	assert.Equal(t, errs.KindUnreadableFile, errs.KindOf(failure))

	for _, name := range []string{"one.png", "two.png"} {
		img, err := util.OpenImage(filepath.Join(dst, name))
		require.NoError(t, err)
		_, _, _, a := img.At(20, 20).RGBA()
		assert.Equal(t, uint32(0xffff), a, name)
		_, _, _, a = img.At(0, 0).RGBA()
		assert.Equal(t, uint32(0), a, name)
	}
	assert.NoFileExists(t, filepath.Join(dst, "three.png"))

	logs := buf.String()
	assert.Contains(t, logs, "msg=trace")
	assert.Contains(t, logs, "total=3")
	assert.Contains(t, logs, "2/3 images processed successfully")
}

func TestPipeline_RunDir_SameStem(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeSquare(t, filepath.Join(src, "a.jpg"))
	writeSquare(t, filepath.Join(src, "a.png"))
	writeSquare(t, filepath.Join(src, "b.png"))

	remover := &stubRemover{}
	p := &Pipeline{Remover: remover, Workers: 3, OutputDir: dst}
	report, err := p.RunDir(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, "2/3 images processed successfully", report.Summary())

	// 排序靠后的 a.png 与 a.jpg 冲突
	failure := report.Failures[filepath.Join(src, "a.png")]
	require.Error(t, failure)
	assert.Equal(t, errs.KindUnreadableFile, errs.KindOf(failure))
	assert.Contains(t, failure.Error(), filepath.Join(src, "a.jpg"))
	assert.Equal(t, int64(2), remover.calls.Load())
	assert.FileExists(t, filepath.Join(dst, "a.png"))
	assert.FileExists(t, filepath.Join(dst, "b.png"))
}

func TestPipeline_RunDir_Empty(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("x"), 0o644))

	var buf bytes.Buffer
	p := &Pipeline{Remover: &stubRemover{}, OutputDir: filepath.Join(t.TempDir(), "out"), Logger: testLogger(&buf)}
	report, err := p.RunDir(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
	assert.Contains(t, buf.String(), "no image files found")
	assert.DirExists(t, p.OutputDir)
}

func TestPipeline_RunDir_MissingInput(t *testing.T) {
	p := &Pipeline{Remover: &stubRemover{}, OutputDir: t.TempDir()}
	_, err := p.RunDir(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, errs.ErrUnreadableFile)
}

func TestPipeline_RunFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeSquare(t, filepath.Join(src, "cat.png"))
	require.NoError(t, os.WriteFile(filepath.Join(src, "anim.gif"), []byte("GIF89a"), 0o644))

	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	p := &Pipeline{Remover: cutout.NewGrabCutRemover(), OutputDir: dst, Preview: &white}

	report, err := p.RunFile(context.Background(), filepath.Join(src, "cat.png"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.FileExists(t, filepath.Join(dst, "cat.png"))

	preview, err := util.OpenImage(filepath.Join(dst, "cat_preview.png"))
	require.NoError(t, err)
	r, g, b, _ := preview.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff}, []uint32{r, g, b})

	report, err = p.RunFile(context.Background(), filepath.Join(src, "anim.gif"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, errs.KindUnsupportedFormat, errs.KindOf(report.Failures[filepath.Join(src, "anim.gif")]))
}

func TestPipeline_Timeout(t *testing.T) {
	src := t.TempDir()
	writeSquare(t, filepath.Join(src, "slow.png"))

	p := &Pipeline{Remover: &stubRemover{block: true}, OutputDir: t.TempDir(), Timeout: 20 * time.Millisecond}
	report, err := p.RunDir(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.ErrorIs(t, report.Failures[filepath.Join(src, "slow.png")], context.DeadlineExceeded)
}

func TestSchedule(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ran := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- Schedule(ctx, "@every 1s", func(context.Context) {
			select {
			case ran <- struct{}{}:
			default:
			}
		})
	}()

	select {
	case <-ran:
	case <-ctx.Done():
		t.Fatal("job never ran")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestSchedule_BadExpression(t *testing.T) {
	err := Schedule(context.Background(), "every minute", func(context.Context) {})
	assert.ErrorIs(t, err, errs.ErrInvalidConfiguration)
}

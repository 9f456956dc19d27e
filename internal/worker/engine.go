package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png" // 参照画像のデコード用
	"log"
	"os"
	"path/filepath"
	"time"

	_ "golang.org/x/image/webp" // 参照画像のデコード用

	"github.com/yourusername/image-forge/internal/config"
	"github.com/yourusername/image-forge/internal/jobs"
	"github.com/yourusername/image-forge/internal/storage"
)

// Engine は生成タスクの実行エンジンです。jobs.TaskRunner を実装します。
// バックエンドが解決できればそれを呼び出し、できなければ代替生成に切り替えます。
type Engine struct {
	resolver *Resolver
	client   *Client
	outputs  *storage.Local
	logger   *log.Logger
}

// NewEngine は設定から Engine を構築します。
func NewEngine(cfg *config.Config, outputs *storage.Local, logger *log.Logger) *Engine {
	return &Engine{
		resolver: NewResolver(cfg.GPUServerURL, cfg.AutoGPUServer, cfg.GPUServerCandidates, cfg.GPUServerAPIKey),
		client: NewClient(
			cfg.GPUServerAPIKey,
			time.Duration(cfg.GPUTimeoutSeconds)*time.Second,
			cfg.GPUMaxAttempts,
			cfg.GPUTransientStatus,
		),
		outputs: outputs,
		logger:  logger,
	}
}

type reference struct {
	filename string
	raw      []byte
	decoded  image.Image
}

// Run は1件の生成タスクを実行します。各段階で report を通じて進捗を報告します。
func (e *Engine) Run(ctx context.Context, task *jobs.GenerateTask, report jobs.ProgressFunc) (*jobs.ResultPayload, error) {
	if task == nil {
		return nil, fmt.Errorf("task is nil")
	}
	progress := func(percent int, message string) {
		if report != nil {
			report(percent, message)
		}
	}

	progress(5, "loading references")
	refs, err := loadReferences(task.ReferencePaths)
	if err != nil {
		return nil, err
	}

	degradedDetail := ""
	resolution := e.resolver.Resolve(ctx)
	switch {
	case resolution.URL != "" && resolution.Healthy:
		progress(25, fmt.Sprintf("checking GPU server: %s/health", resolution.URL))
	case resolution.URL != "" && !resolution.Healthy:
		// 上書きURLが不達の場合は失敗ではなく代替生成に切り替える
		degradedDetail = resolution.Detail
		if degradedDetail == "" {
			degradedDetail = "unreachable"
		}
		progress(30, fmt.Sprintf("GPU server unavailable (%s); using mock", degradedDetail))
		resolution.URL = ""
	case resolution.Reason == ReasonNoHealthyCandidate:
		degradedDetail = "no healthy candidates"
	}

	if resolution.URL != "" {
		progress(35, "calling GPU server")
		resp, err := e.client.Generate(ctx, resolution.URL, task.Prompt, uploads(refs), func(message string) {
			progress(40, message)
		})
		if err != nil {
			return nil, err
		}

		progress(80, "saving output")
		outputURL, err := e.outputs.SaveOutput(resp.Data, resp.ContentType)
		if err != nil {
			return nil, err
		}

		progress(100, "done")
		return &jobs.ResultPayload{
			JobID:          task.JobID,
			OutputURL:      outputURL,
			ReferenceCount: len(task.ReferencePaths),
		}, nil
	}

	// 代替生成（バックエンドなし、またはヘルスチェック不達）
	progress(35, "assembling preview (mock)")
	images := make([]image.Image, len(refs))
	for i, ref := range refs {
		images[i] = ref.decoded
	}

	progress(70, "rendering output (mock)")
	headline := "Mock output"
	if degradedDetail != "" {
		headline = fmt.Sprintf("Mock output (GPU server unavailable: %s)", degradedDetail)
	}
	data, err := renderPlaceholder(images, task.Prompt, headline)
	if err != nil {
		return nil, fmt.Errorf("render placeholder: %w", err)
	}

	outputURL, err := e.outputs.SaveOutput(data, "image/jpeg")
	if err != nil {
		return nil, err
	}

	progress(100, "done")
	return &jobs.ResultPayload{
		JobID:          task.JobID,
		OutputURL:      outputURL,
		ReferenceCount: len(task.ReferencePaths),
	}, nil
}

// loadReferences は参照画像を読み込みます。1枚でも読めない場合はジョブ失敗です。
func loadReferences(paths []string) ([]reference, error) {
	refs := make([]reference, 0, len(paths))
	for i, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read reference image: %s (%w)", path, err)
		}
		decoded, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode reference image: %s (%w)", path, err)
		}
		filename := filepath.Base(path)
		if filename == "" || filename == "." {
			filename = fmt.Sprintf("image%d.jpg", i+1)
		}
		refs = append(refs, reference{filename: filename, raw: raw, decoded: decoded})
	}
	return refs, nil
}

func uploads(refs []reference) []ReferenceImage {
	out := make([]ReferenceImage, len(refs))
	for i, ref := range refs {
		out[i] = ReferenceImage{Filename: ref.filename, Data: ref.raw}
	}
	return out
}

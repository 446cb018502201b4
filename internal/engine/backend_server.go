package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ServerOptions configures the llama.cpp server backend. When BaseURL is set
// the backend attaches to an already running server instead of spawning one.
type ServerOptions struct {
	Bin          string
	Host         string
	BaseURL      string
	ExtraArgs    []string
	ReadyTimeout time.Duration
	Logger       *zerolog.Logger
}

// serverBackend runs one llama-server process per loaded model and talks to
// its native HTTP API.
type serverBackend struct {
	opts       ServerOptions
	embeddings bool
	http       *http.Client
	log        zerolog.Logger

	guard handleGuard

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  <-chan error
	baseURL string
}

// NewServerGenerationBackend returns a generation backend backed by llama-server.
func NewServerGenerationBackend(opts ServerOptions) GenerationBackend {
	return newServerBackend(opts, false)
}

// NewServerEmbeddingBackend returns an embedding backend backed by llama-server --embedding.
func NewServerEmbeddingBackend(opts ServerOptions) EmbeddingBackend {
	return newServerBackend(opts, true)
}

func newServerBackend(opts ServerOptions, embeddings bool) *serverBackend {
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Bin == "" {
		opts.Bin = "llama-server"
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 60 * time.Second
	}
	b := &serverBackend{
		opts:       opts,
		embeddings: embeddings,
		// Timeout=0: every request carries a context deadline instead.
		http: &http.Client{Timeout: 0},
		log:  zerolog.Nop(),
	}
	if opts.Logger != nil {
		b.log = opts.Logger.With().Str("component", "llama-server").Bool("embedding", embeddings).Logger()
	}
	return b
}

func (b *serverBackend) Load(ctx context.Context, req LoadRequest) error {
	_ = b.Unload()

	if b.opts.BaseURL != "" {
		base := strings.TrimRight(b.opts.BaseURL, "/")
		if err := b.waitHealthy(ctx, base, nil); err != nil {
			return err
		}
		b.mu.Lock()
		b.baseURL = base
		b.mu.Unlock()
		b.guard.open()
		return nil
	}

	if strings.TrimSpace(req.Path) == "" {
		return errors.New("model path is empty")
	}
	port, err := pickFreePort(b.opts.Host)
	if err != nil {
		return err
	}
	base := fmt.Sprintf("http://%s:%d", b.opts.Host, port)
	args := []string{"-m", req.Path, "--host", b.opts.Host, "--port", strconv.Itoa(port)}
	if req.ContextLength > 0 {
		args = append(args, "-c", strconv.Itoa(req.ContextLength))
	}
	if req.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(req.Threads))
	}
	if b.embeddings {
		args = append(args, "--embedding")
	}
	args = append(args, b.opts.ExtraArgs...)

	cmd := exec.Command(b.opts.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return ErrDependencyUnavailable("llama-server binary not found: " + b.opts.Bin)
		}
		return fmt.Errorf("start llama-server: %w", err)
	}
	b.log.Info().Str("model", req.ModelID).Int("pid", cmd.Process.Pid).Int("port", port).Msg("spawned")

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if err := b.waitHealthy(ctx, base, exited); err != nil {
		_ = cmd.Process.Kill()
		tail := stderr.String()
		if len(tail) > 2048 {
			tail = tail[len(tail)-2048:]
		}
		if tail != "" {
			return fmt.Errorf("%w; stderr tail: %s", err, strings.TrimSpace(tail))
		}
		return err
	}
	b.mu.Lock()
	b.cmd = cmd
	b.exited = exited
	b.baseURL = base
	b.mu.Unlock()
	b.guard.open()
	return nil
}

// waitHealthy polls GET /health until 200, the deadline, ctx cancellation or
// an early process exit.
func (b *serverBackend) waitHealthy(ctx context.Context, base string, exited <-chan error) error {
	deadline := time.Now().Add(b.opts.ReadyTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case werr := <-exited:
			if werr == nil {
				werr = errors.New("exit status 0")
			}
			return fmt.Errorf("llama-server exited before ready: %v", werr)
		default:
		}
		hctx, cancel := context.WithTimeout(ctx, time.Second)
		req, _ := http.NewRequestWithContext(hctx, http.MethodGet, base+"/health", nil)
		resp, err := b.http.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				cancel()
				return nil
			}
		}
		cancel()
		if time.Now().After(deadline) {
			return fmt.Errorf("llama-server not ready in time: %s", base)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (b *serverBackend) Unload() error {
	b.guard.close()
	b.mu.Lock()
	cmd, exited := b.cmd, b.exited
	b.cmd, b.exited = nil, nil
	b.baseURL = ""
	b.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	// Try to terminate gracefully first, then fall back to kill.
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		<-exited
	}
	b.log.Info().Int("pid", cmd.Process.Pid).Msg("stopped")
	return nil
}

func (b *serverBackend) base() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.baseURL
}

type completionRequest struct {
	Prompt        string   `json:"prompt"`
	NPredict      int      `json:"n_predict,omitempty"`
	Temperature   float32  `json:"temperature,omitempty"`
	TopP          float32  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int      `json:"seed,omitempty"`
	RepeatPenalty float32  `json:"repeat_penalty,omitempty"`
	Stream        bool     `json:"stream"`
}

type completionChunk struct {
	Content         string `json:"content"`
	Stop            bool   `json:"stop"`
	StoppedEOS      bool   `json:"stopped_eos"`
	StoppedLimit    bool   `json:"stopped_limit"`
	StoppedWord     bool   `json:"stopped_word"`
	TokensPredicted int    `json:"tokens_predicted"`
	TokensEvaluated int    `json:"tokens_evaluated"`
}

func (c completionChunk) finishReason() string {
	if c.StoppedLimit {
		return "length"
	}
	return "stop"
}

func (b *serverBackend) Generate(ctx context.Context, prompt string, params GenerateParams, onToken func(string) error) (GenerateResult, error) {
	cctx, unloaded, release, ok := b.guard.acquire(ctx)
	if !ok {
		return GenerateResult{}, ErrGenerationFailed(noInferenceModel)
	}
	defer release()

	body, _ := json.Marshal(completionRequest{
		Prompt:        prompt,
		NPredict:      params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		TopK:          params.TopK,
		Stop:          params.Stop,
		Seed:          params.Seed,
		RepeatPenalty: params.RepeatPenalty,
		Stream:        true,
	})
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, b.base()+"/completion", bytes.NewReader(body))
	if err != nil {
		return GenerateResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.http.Do(req)
	if err != nil {
		return GenerateResult{}, b.callErr(ctx, unloaded, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return GenerateResult{}, fmt.Errorf("llama-server http error: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var (
		final GenerateResult
		sb    strings.Builder
	)
	r := bufio.NewReader(resp.Body)
	for {
		line, rerr := r.ReadString('\n')
		if l := strings.TrimSpace(line); strings.HasPrefix(l, "data:") {
			var chunk completionChunk
			if json.Unmarshal([]byte(strings.TrimSpace(l[len("data:"):])), &chunk) == nil {
				if chunk.Content != "" {
					sb.WriteString(chunk.Content)
					if err := onToken(chunk.Content); err != nil {
						return final, err
					}
				}
				if chunk.Stop {
					final.FinishReason = chunk.finishReason()
					final.Usage = Usage{
						PromptTokens:     chunk.TokensEvaluated,
						CompletionTokens: chunk.TokensPredicted,
						TotalTokens:      chunk.TokensEvaluated + chunk.TokensPredicted,
					}
					break
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return final, b.callErr(ctx, unloaded, rerr)
		}
	}
	final.Content = sb.String()
	return final, nil
}

// callErr maps transport errors: caller cancellation wins, then unload.
func (b *serverBackend) callErr(ctx context.Context, unloaded func() bool, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if unloaded() {
		if b.embeddings {
			return ErrEmbeddingFailed("model unloaded")
		}
		return ErrGenerationFailed("model unloaded")
	}
	return err
}

func (b *serverBackend) CountTokens(text string) (int, error) {
	cctx, unloaded, release, ok := b.guard.acquire(context.Background())
	if !ok {
		return 0, ErrGenerationFailed(noInferenceModel)
	}
	defer release()
	cctx, cancel := context.WithTimeout(cctx, 5*time.Second)
	defer cancel()
	var out struct {
		Tokens []int `json:"tokens"`
	}
	if err := b.postJSON(cctx, "/tokenize", map[string]any{"content": text}, &out); err != nil {
		return 0, b.callErr(context.Background(), unloaded, err)
	}
	return len(out.Tokens), nil
}

func (b *serverBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	cctx, unloaded, release, ok := b.guard.acquire(ctx)
	if !ok {
		return nil, ErrEmbeddingFailed(noEmbeddingModel)
	}
	defer release()
	var raw json.RawMessage
	if err := b.postJSON(cctx, "/embedding", map[string]any{"content": text}, &raw); err != nil {
		return nil, b.callErr(ctx, unloaded, err)
	}
	return decodeEmbedding(raw)
}

func (b *serverBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := b.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (b *serverBackend) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.base()+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("llama-server %s: %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeEmbedding accepts both the legacy {"embedding":[...]} shape and the
// newer [{"index":0,"embedding":[[...]]}] shape.
func decodeEmbedding(raw json.RawMessage) ([]float32, error) {
	var single struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && len(single.Embedding) > 0 {
		return single.Embedding, nil
	}
	var list []struct {
		Embedding json.RawMessage `json:"embedding"`
	}
	if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
		return nil, ErrEmbeddingFailed("unexpected embedding response")
	}
	var flat []float32
	if err := json.Unmarshal(list[0].Embedding, &flat); err == nil {
		return flat, nil
	}
	var nested [][]float32
	if err := json.Unmarshal(list[0].Embedding, &nested); err == nil && len(nested) > 0 {
		return nested[0], nil
	}
	return nil, ErrEmbeddingFailed("unexpected embedding response")
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

//go:build onnx

// Package onnx provides a local embedder running a MiniLM-family sentence
// transformer through ONNX Runtime. It needs a model file, its
// tokenizer.json, and the onnxruntime shared library on disk; build with the
// onnx tag to enable it.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file. Required.
	ModelPath string

	// TokenizerPath is the path to the HuggingFace tokenizer.json.
	// Required.
	TokenizerPath string

	// LibraryPath locates libonnxruntime. Falls back to the
	// ONNXRUNTIME_SHARED_LIBRARY_PATH environment variable.
	LibraryPath string

	// Dimensions is the output embedding size. Default 384
	// (all-MiniLM-L6-v2).
	Dimensions int

	// MaxSequenceLength caps tokenized input. Default 128.
	MaxSequenceLength int
}

// Embedder runs sentence-transformer inference locally.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	vocab      map[string]int
	dimensions int
	maxSeq     int
}

// Special token IDs of the BERT vocabulary.
const (
	unkToken = 100
	clsToken = 101
	sepToken = 102
)

// New creates an ONNX embedder from the given model and tokenizer files.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("ModelPath and TokenizerPath are required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxSequenceLength == 0 {
		cfg.MaxSequenceLength = 128
	}

	lib := cfg.LibraryPath
	if lib == "" {
		lib = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	if lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	vocab, err := loadVocab(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &Embedder{
		session:    session,
		vocab:      vocab,
		dimensions: cfg.Dimensions,
		maxSeq:     cfg.MaxSequenceLength,
	}, nil
}

// Embed tokenizes the text, runs the model, and mean-pools the token states
// into a unit vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	inputIDs, attention := e.encode(text)
	seq := int64(len(inputIDs))
	tokenTypes := make([]int64, seq)

	shape := ort.NewShape(1, seq)
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typesTensor, err := ort.NewTensor(shape, tokenTypes)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer typesTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsTensor, maskTensor, typesTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	return e.pool(hidden, attention)
}

// pool mean-pools the attended token states and normalizes the result.
func (e *Embedder) pool(hidden *ort.Tensor[float32], attention []int64) ([]float32, error) {
	data := hidden.GetData()
	shape := hidden.GetShape()

	embedding := make([]float32, e.dimensions)

	switch len(shape) {
	case 2:
		// Model pools internally; take the vector as-is.
		if len(data) < e.dimensions {
			return nil, fmt.Errorf("output dimension mismatch: got %d, want %d", len(data), e.dimensions)
		}
		copy(embedding, data[:e.dimensions])
	case 3:
		seqLen, hiddenSize := int(shape[1]), int(shape[2])
		if hiddenSize != e.dimensions {
			return nil, fmt.Errorf("hidden size mismatch: got %d, want %d", hiddenSize, e.dimensions)
		}
		attended := 0
		for i := 0; i < seqLen && i < len(attention); i++ {
			if attention[i] == 0 {
				continue
			}
			attended++
			for j := 0; j < hiddenSize; j++ {
				embedding[j] += data[i*hiddenSize+j]
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("no attended tokens")
		}
		for j := range embedding {
			embedding[j] /= float32(attended)
		}
	default:
		return nil, fmt.Errorf("unexpected output shape: %v", shape)
	}

	var norm float32
	for _, v := range embedding {
		norm += v * v
	}
	if norm > 0 {
		norm = float32(math.Sqrt(float64(norm)))
		for i := range embedding {
			embedding[i] /= norm
		}
	}
	return embedding, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases the ONNX session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// encode lowercases, WordPiece-tokenizes, and frames the text with [CLS] and
// [SEP], truncating to the configured sequence length.
func (e *Embedder) encode(text string) (inputIDs, attention []int64) {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		tokens = append(tokens, e.wordPiece(word)...)
	}
	if len(tokens) > e.maxSeq-2 {
		tokens = tokens[:e.maxSeq-2]
	}

	inputIDs = make([]int64, 0, len(tokens)+2)
	inputIDs = append(inputIDs, clsToken)
	inputIDs = append(inputIDs, tokens...)
	inputIDs = append(inputIDs, sepToken)

	attention = make([]int64, len(inputIDs))
	for i := range attention {
		attention[i] = 1
	}
	return inputIDs, attention
}

// wordPiece splits a word into the longest matching vocabulary pieces,
// prefixing continuations with "##" as BERT does.
func (e *Embedder) wordPiece(word string) []int64 {
	if id, ok := e.vocab[word]; ok {
		return []int64{int64(id)}
	}

	var pieces []int64
	start := 0
	for start < len(word) {
		end := len(word)
		matched := false
		for end > start {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := e.vocab[piece]; ok {
				pieces = append(pieces, int64(id))
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			pieces = append(pieces, unkToken)
			start++
		}
	}
	return pieces
}

func loadVocab(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tokenizer struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizer); err != nil {
		return nil, err
	}
	if len(tokenizer.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer vocab is empty")
	}
	return tokenizer.Model.Vocab, nil
}

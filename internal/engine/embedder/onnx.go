package embedder

import (
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// The ONNX Runtime environment is process-wide and can be initialised once.
var (
	ortOnce sync.Once
	ortErr  error
)

func initORT(libPath string) error {
	ortOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// defaultLibPath resolves the runtime library shipped alongside the model.
func defaultLibPath(modelPath string) string {
	return filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
}

// Graph input names, in the order the session binds them.
const (
	inputIDs      = "input_ids"
	attentionMask = "attention_mask"
	tokenTypeIDs  = "token_type_ids"
)

// onnxSession runs a BERT or RoBERTa style encoder graph whose first output
// is last_hidden_state [batch, seq, dim].
type onnxSession struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	embedDim   int64
}

func newONNXSession(libPath string, model []byte, threads int) (*onnxSession, error) {
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}
	names, err := graphInputs(inputs)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model has no outputs")
	}
	out := outputs[0]
	if len(out.Dimensions) != 3 || out.Dimensions[2] <= 0 {
		return nil, fmt.Errorf("onnx: output %q must be [batch, seq, dim] with a static dim, got %v", out.Name, out.Dimensions)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(model, names, []string{out.Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}
	return &onnxSession{
		session:    session,
		inputNames: names,
		outputName: out.Name,
		embedDim:   out.Dimensions[2],
	}, nil
}

// graphInputs requires input_ids and attention_mask and adds token_type_ids
// when the graph declares it. RoBERTa exports usually do not.
func graphInputs(inputs []ort.InputOutputInfo) ([]string, error) {
	declared := make([]string, len(inputs))
	for i, in := range inputs {
		declared[i] = in.Name
	}
	names := []string{inputIDs, attentionMask}
	for _, name := range names {
		if !slices.Contains(declared, name) {
			return nil, fmt.Errorf("onnx: model missing required input %q", name)
		}
	}
	if slices.Contains(declared, tokenTypeIDs) {
		names = append(names, tokenTypeIDs)
	}
	return names, nil
}

// infer runs the graph on a padded batch and returns a copy of the hidden
// states, flat [batchSize * seqLen * embedDim].
func (s *onnxSession) infer(b tokenized) ([]float32, error) {
	shape := ort.NewShape(b.batchSize, b.seqLen)
	feeds := map[string][]int64{
		inputIDs:      b.inputIDs,
		attentionMask: b.attentionMask,
		tokenTypeIDs:  b.tokenTypeIDs,
	}

	in := make([]ort.Value, 0, len(s.inputNames))
	defer func() {
		for _, v := range in {
			v.Destroy()
		}
	}()
	for _, name := range s.inputNames {
		t, err := ort.NewTensor(shape, feeds[name])
		if err != nil {
			return nil, fmt.Errorf("onnx: failed to create %s tensor: %w", name, err)
		}
		in = append(in, t)
	}

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(b.batchSize, b.seqLen, s.embedDim))
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := s.session.Run(in, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}
	return slices.Clone(out.GetData()), nil
}

func (s *onnxSession) close() error {
	return s.session.Destroy()
}

package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactVersion is written into every saved model envelope.
const ArtifactVersion = "1"

type artifact struct {
	Type    string          `json:"type"`
	Version string          `json:"version"`
	Model   json.RawMessage `json:"model"`
}

func newModel(modelType string) (MLModel, error) {
	switch modelType {
	case TypeDecisionTree:
		return &DecisionTree{}, nil
	case TypeRandomForest:
		return &RandomForest{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, modelType)
	}
}

// SaveModel writes the model inside a typed JSON envelope, creating parent directories.
func SaveModel(path string, model MLModel) error {
	payload, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("encode %s: %w", model.Type(), err)
	}
	envelope, err := json.Marshal(artifact{Type: model.Type(), Version: ArtifactVersion, Model: payload})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, envelope, 0o644)
}

// LoadModel reads any supported model family from path.
func LoadModel(path string) (MLModel, error) {
	return LoadModelType("", path)
}

// LoadModelType reads the artifact at path and rejects it when its family differs
// from modelType. An empty modelType accepts any supported family.
func LoadModelType(modelType, path string) (MLModel, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var envelope artifact
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if modelType != "" && envelope.Type != modelType {
		return nil, fmt.Errorf("%w: artifact is %q, configured %q", ErrUnsupportedModel, envelope.Type, modelType)
	}
	model, err := newModel(envelope.Type)
	if err != nil {
		return nil, err
	}
	if len(envelope.Model) == 0 {
		return nil, fmt.Errorf("artifact %s: %w", path, ErrNotTrained)
	}
	if err := json.Unmarshal(envelope.Model, model); err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	return model, nil
}

package conversation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a message history from a JSON or YAML file, selected by
// extension. Messages without an id or timestamp get fresh ones.
func LoadFromFile(filename string) ([]Message, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", filename)
	}

	var msgs []Message
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		err = json.Unmarshal(b, &msgs)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &msgs)
	default:
		return nil, errors.Errorf("unsupported history format %q", filepath.Ext(filename))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s", filename)
	}

	now := time.Now()
	for i := range msgs {
		if msgs[i].ID == uuid.Nil {
			msgs[i].ID = uuid.New()
		}
		if msgs[i].Time.IsZero() {
			msgs[i].Time = now
		}
		if msgs[i].Role == "" {
			return nil, errors.Errorf("message %d in %s has no role", i, filename)
		}
	}
	return msgs, nil
}

// SaveToFile writes msgs as JSON or YAML, selected by extension.
func SaveToFile(filename string, msgs []Message) error {
	var b []byte
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		b, err = json.MarshalIndent(msgs, "", "  ")
	case ".yaml", ".yml":
		b, err = yaml.Marshal(msgs)
	default:
		return errors.Errorf("unsupported history format %q", filepath.Ext(filename))
	}
	if err != nil {
		return errors.Wrap(err, "could not encode history")
	}
	return os.WriteFile(filename, b, 0o644)
}

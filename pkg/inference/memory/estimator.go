package memory

import (
	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// TokenEstimator approximates the prompt cost of text.
type TokenEstimator interface {
	EstimateText(text string) int
	EstimateMessages(msgs []conversation.Message) int
}

// CharEstimator assumes four characters per token, rounded up.
type CharEstimator struct{}

var _ TokenEstimator = CharEstimator{}

func (CharEstimator) EstimateText(text string) int {
	return charsToTokens(len(text))
}

func (CharEstimator) EstimateMessages(msgs []conversation.Message) int {
	n := 0
	for _, m := range msgs {
		n += m.CharCount()
	}
	return charsToTokens(n)
}

func charsToTokens(chars int) int {
	return (chars + 3) / 4
}

// TiktokenEstimator counts tokens with a BPE codec. It falls back to the
// character heuristic for text the codec rejects.
type TiktokenEstimator struct {
	codec tokenizer.Codec
}

var _ TokenEstimator = (*TiktokenEstimator)(nil)

// NewTiktokenEstimator uses the codec registered for model, or cl100k_base
// when model is empty.
func NewTiktokenEstimator(model string) (*TiktokenEstimator, error) {
	var codec tokenizer.Codec
	var err error
	if model != "" {
		codec, err = tokenizer.ForModel(tokenizer.Model(model))
	} else {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not load tokenizer for %q", model)
	}
	return &TiktokenEstimator{codec: codec}, nil
}

func (t *TiktokenEstimator) EstimateText(text string) int {
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return charsToTokens(len(text))
	}
	return len(ids)
}

func (t *TiktokenEstimator) EstimateMessages(msgs []conversation.Message) int {
	n := 0
	for _, m := range msgs {
		n += t.EstimateText(m.String())
	}
	return n
}

// NewEstimator returns the estimator named by kind: "chars" (default) or
// "tiktoken".
func NewEstimator(kind string, model string) (TokenEstimator, error) {
	switch kind {
	case "", EstimatorChars:
		return CharEstimator{}, nil
	case EstimatorTiktoken:
		return NewTiktokenEstimator(model)
	default:
		return nil, errors.Errorf("unknown token estimator %q", kind)
	}
}

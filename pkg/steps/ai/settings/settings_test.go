package settings

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s := NewSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, 15, s.Agent.Orchestrator.MaxIterations)
	assert.Equal(t, 30, s.Agent.Orchestrator.MaxToolCalls)
	assert.Equal(t, 3, s.Agent.Orchestrator.RetryBudget)
	assert.Equal(t, 60*time.Second, s.Agent.Safety.ExecutionTimeout)
	assert.Equal(t, 20000, s.Agent.Safety.MaxOutputChars)
	assert.Equal(t, 40000, s.Agent.Memory.Threshold)
	assert.Equal(t, 5, s.Agent.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, s.Agent.Breaker.Cooldown)
}

func TestNewSettingsFromYAML(t *testing.T) {
	s, err := NewSettingsFromYAML(strings.NewReader(`
agent:
  provider: claude
  orchestrator:
    max_iterations: 8
  safety:
    execution_timeout: 10s
client:
  timeout: 5
claude:
  model: claude-3-5-haiku-latest
`))
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, s.Agent.NormalizedProvider())
	assert.Equal(t, 8, s.Agent.Orchestrator.MaxIterations)
	assert.Equal(t, 30, s.Agent.Orchestrator.MaxToolCalls, "unset keys keep their default")
	assert.Equal(t, 10*time.Second, s.Agent.Safety.ExecutionTimeout)
	assert.Equal(t, 5*time.Second, s.Client.Timeout)
	assert.Equal(t, "claude-3-5-haiku-latest", s.Model())
}

func TestNewSettingsFromYAMLRejectsUnknownProvider(t *testing.T) {
	_, err := NewSettingsFromYAML(strings.NewReader("agent:\n  provider: gemini\n"))
	assert.Error(t, err)
}

func TestLoadFromViper(t *testing.T) {
	v := viper.New()
	v.Set("agent.provider", "openai")
	v.Set("agent.orchestrator.max_tool_calls", 12)
	v.Set("agent.memory.estimator", "tiktoken")
	v.Set("openai.model", "gpt-4o-mini")
	v.Set("openai_api_key", "sk-test")
	v.Set("client.timeout", "15s")

	s, err := LoadFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 12, s.Agent.Orchestrator.MaxToolCalls)
	assert.Equal(t, 15, s.Agent.Orchestrator.MaxIterations)
	assert.Equal(t, "tiktoken", s.Agent.Memory.Estimator)
	assert.Equal(t, "gpt-4o-mini", s.Model())
	assert.Equal(t, "sk-test", s.OpenAI.APIKey)
	assert.Equal(t, 15*time.Second, s.Client.Timeout)

	md := s.GetMetadata()
	assert.Equal(t, "gpt-4o-mini", md["model"])
	assert.Equal(t, "*******", md["api-key"])
}

func TestCloneIsDeep(t *testing.T) {
	s := NewSettings()
	c := s.Clone()
	c.Agent.Orchestrator.MaxIterations = 1
	c.OpenAI.Model = "other"
	assert.Equal(t, 15, s.Agent.Orchestrator.MaxIterations)
	assert.NotEqual(t, "other", s.OpenAI.Model)
}

func TestClientSetsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	cs := NewClientSettings()
	cs.UserAgent = "lifeguard-test"
	resp, err := cs.Client().Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "lifeguard-test", got)
}

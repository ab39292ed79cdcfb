package settings

import (
	"net/http"
	"time"

	"github.com/huandu/go-clone"
	"gopkg.in/yaml.v3"
)

const DefaultUserAgent = "lifeguard"

type ClientSettings struct {
	// Timeout bounds connecting and waiting for response headers. Streams
	// themselves may run longer.
	Timeout   time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
	UserAgent string        `yaml:"user_agent,omitempty" mapstructure:"user_agent"`
	// HTTPClient overrides the client built from the settings above.
	HTTPClient *http.Client `yaml:"-" json:"-" mapstructure:"-"`
}

func NewClientSettings() *ClientSettings {
	return &ClientSettings{
		Timeout:   60 * time.Second,
		UserAgent: DefaultUserAgent,
	}
}

// UnmarshalYAML accepts the timeout as a number of seconds or a duration string.
func (cs *ClientSettings) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		Timeout   *yaml.Node `yaml:"timeout,omitempty"`
		UserAgent *string    `yaml:"user_agent,omitempty"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	if aux.UserAgent != nil {
		cs.UserAgent = *aux.UserAgent
	}
	if aux.Timeout == nil {
		return nil
	}
	var seconds int
	if err := aux.Timeout.Decode(&seconds); err == nil {
		cs.Timeout = time.Duration(seconds) * time.Second
		return nil
	}
	var d time.Duration
	if err := aux.Timeout.Decode(&d); err != nil {
		return err
	}
	cs.Timeout = d
	return nil
}

func (cs *ClientSettings) Clone() *ClientSettings {
	ret := clone.Clone(cs).(*ClientSettings)
	// share the client rather than copying its transport state
	ret.HTTPClient = cs.HTTPClient
	return ret
}

// Client returns the HTTP client providers should use.
func (cs *ClientSettings) Client() *http.Client {
	if cs.HTTPClient != nil {
		return cs.HTTPClient
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cs.Timeout > 0 {
		transport.ResponseHeaderTimeout = cs.Timeout
		transport.TLSHandshakeTimeout = cs.Timeout
	}
	var rt http.RoundTripper = transport
	if cs.UserAgent != "" {
		rt = &userAgentTransport{base: transport, userAgent: cs.UserAgent}
	}
	return &http.Client{Transport: rt}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

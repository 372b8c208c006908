package config

const (
	defaultServerAddr = ":8080"
)

type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	// DevIssuer serves a local key set and mint endpoint.
	DevIssuer bool `yaml:"devIssuer" json:"devIssuer"`
}

func (s *ServerConfig) applyDefaults() {
	if s.Addr == "" {
		s.Addr = defaultServerAddr
	}
}

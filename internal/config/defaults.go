package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/afin/data/afin.db"
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = "/usr/local/var/afin/data/index"
	}
	if cfg.Index.WatchDebounceMS == 0 {
		cfg.Index.WatchDebounceMS = 2000
	}
	if cfg.Encoder.Kind == "" {
		cfg.Encoder.Kind = "remote"
	}
	if cfg.Encoder.BaseURL == "" {
		cfg.Encoder.BaseURL = "http://localhost:11434"
	}
	if cfg.Encoder.Model == "" {
		cfg.Encoder.Model = "all-minilm"
	}
	if cfg.Encoder.Dimensions == 0 {
		cfg.Encoder.Dimensions = 384
	}
	if cfg.Encoder.TimeoutSeconds == 0 {
		cfg.Encoder.TimeoutSeconds = 60
	}
	if cfg.Encoder.RateLimit == 0 {
		cfg.Encoder.RateLimit = 10
	}
	if cfg.Encoder.CacheSize == 0 {
		cfg.Encoder.CacheSize = 10000
	}
	if cfg.Encoder.MaxTokens == 0 {
		cfg.Encoder.MaxTokens = 256
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 10
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Topics.MinClusterSize == 0 {
		cfg.Topics.MinClusterSize = 5
	}
	if cfg.Topics.MinSamples == 0 {
		cfg.Topics.MinSamples = 3
	}
	if cfg.Topics.Epsilon == 0 {
		cfg.Topics.Epsilon = 0.25
	}
	if cfg.Topics.LabelTerms == 0 {
		cfg.Topics.LabelTerms = 3
	}
	if cfg.Indexer.BatchSize == 0 {
		cfg.Indexer.BatchSize = 64
	}
}

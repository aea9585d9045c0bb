package config

// Default returns the canonical configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:                "localhost",
			Port:                27713,
			Workers:             2,
			StartTimeoutSeconds: 30,
		},
		Request: RequestConfig{
			TimeoutMS: 2500,
			Retries:   3,
		},
		Audio: AudioConfig{Output: "default"},
		Log:   LogConfig{Level: "info"},
	}
}

package main

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"time"
)

type cliConfig struct {
	source        string
	filePath      string
	fileFormat    string
	osr           int
	blockSize     int
	carrierHz     float64
	mockOffsetHz  float64
	mockNoise     float64
	mockBSIC      int
	mockSeed      int64
	tuner         string
	sshHost       string
	sshUser       string
	sshPassword   string
	sshKeyPath    string
	sshPort       int
	loDevice      string
	mdnsTimeout   time.Duration
	fcchHits      int
	maxFreqOffset float64
	maxSCHErrors  int
	maxBlocks     int
	toneCheck     bool
	historyLimit  int
	webAddr       string
	recordPath    string
	logLevel      string
	logFormat     string
	discover      bool
}

type persistentConfig struct {
	Source        string  `json:"source"`
	FilePath      string  `json:"file_path"`
	FileFormat    string  `json:"file_format"`
	OSR           int     `json:"osr"`
	BlockSize     int     `json:"block_size"`
	CarrierHz     float64 `json:"carrier_hz"`
	MockOffsetHz  float64 `json:"mock_offset_hz"`
	MockNoise     float64 `json:"mock_noise"`
	MockBSIC      int     `json:"mock_bsic"`
	Tuner         string  `json:"tuner"`
	SSHHost       string  `json:"ssh_host"`
	SSHUser       string  `json:"ssh_user"`
	SSHKeyPath    string  `json:"ssh_key_path"`
	SSHPort       int     `json:"ssh_port"`
	LODevice      string  `json:"lo_device"`
	FCCHHits      int     `json:"fcch_hits"`
	MaxFreqOffset float64 `json:"max_freq_offset_hz"`
	MaxSCHErrors  int     `json:"max_sch_errors"`
	ToneCheck     bool    `json:"tone_check"`
	HistoryLimit  int     `json:"history_limit"`
	WebAddr       string  `json:"web_addr"`
	RecordPath    string  `json:"record_path"`
	LogLevel      string  `json:"log_level"`
	LogFormat     string  `json:"log_format"`
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	cfg := cliConfig{}
	fs := flag.NewFlagSet("gsmsync", flag.ContinueOnError)
	fs.StringVar(&cfg.source, "source", envString(lookup, "GSM_SOURCE", defaults.Source), "Sample source (mock|file)")
	fs.StringVar(&cfg.filePath, "file", envString(lookup, "GSM_FILE", defaults.FilePath), "IQ recording to replay, - for stdin")
	fs.StringVar(&cfg.fileFormat, "file-format", envString(lookup, "GSM_FILE_FORMAT", defaults.FileFormat), "Recording sample format (cf32|cs16)")
	fs.IntVar(&cfg.osr, "osr", envInt(lookup, "GSM_OSR", defaults.OSR), "Samples per GSM symbol")
	fs.IntVar(&cfg.blockSize, "block-size", envInt(lookup, "GSM_BLOCK_SIZE", defaults.BlockSize), "Samples per source read")
	fs.Float64Var(&cfg.carrierHz, "carrier", envFloat(lookup, "GSM_CARRIER_HZ", defaults.CarrierHz), "Nominal downlink carrier in Hz")
	fs.Float64Var(&cfg.mockOffsetHz, "mock-offset", envFloat(lookup, "GSM_MOCK_OFFSET_HZ", defaults.MockOffsetHz), "Mock carrier error in Hz")
	fs.Float64Var(&cfg.mockNoise, "mock-noise", envFloat(lookup, "GSM_MOCK_NOISE", defaults.MockNoise), "Mock noise standard deviation")
	fs.IntVar(&cfg.mockBSIC, "mock-bsic", envInt(lookup, "GSM_MOCK_BSIC", defaults.MockBSIC), "Mock base station identity code")
	fs.Int64Var(&cfg.mockSeed, "mock-seed", int64(envInt(lookup, "GSM_MOCK_SEED", 0)), "Mock random seed, 0 for time based")
	fs.StringVar(&cfg.tuner, "tuner", envString(lookup, "GSM_TUNER", defaults.Tuner), "Frequency tuner (auto|mock|sysfs|none)")
	fs.StringVar(&cfg.sshHost, "ssh-host", envString(lookup, "GSM_SSH_HOST", defaults.SSHHost), "Radio SSH host, empty to discover over mDNS")
	fs.StringVar(&cfg.sshUser, "ssh-user", envString(lookup, "GSM_SSH_USER", defaults.SSHUser), "Radio SSH user")
	fs.StringVar(&cfg.sshPassword, "ssh-password", envString(lookup, "GSM_SSH_PASSWORD", ""), "Radio SSH password (not persisted)")
	fs.StringVar(&cfg.sshKeyPath, "ssh-key", envString(lookup, "GSM_SSH_KEY", defaults.SSHKeyPath), "Radio SSH private key")
	fs.IntVar(&cfg.sshPort, "ssh-port", envInt(lookup, "GSM_SSH_PORT", defaults.SSHPort), "Radio SSH port")
	fs.StringVar(&cfg.loDevice, "lo-device", envString(lookup, "GSM_LO_DEVICE", defaults.LODevice), "IIO device holding the RX LO")
	fs.DurationVar(&cfg.mdnsTimeout, "mdns-timeout", envDuration(lookup, "GSM_MDNS_TIMEOUT", 3*time.Second), "mDNS discovery timeout")
	fs.IntVar(&cfg.fcchHits, "fcch-hits", envInt(lookup, "GSM_FCCH_HITS", defaults.FCCHHits), "Positive phase steps (symbols) needed for an FCCH")
	fs.Float64Var(&cfg.maxFreqOffset, "max-freq-offset", envFloat(lookup, "GSM_MAX_FREQ_OFFSET_HZ", defaults.MaxFreqOffset), "Offset above which a refined estimate is reapplied")
	fs.IntVar(&cfg.maxSCHErrors, "max-sch-errors", envInt(lookup, "GSM_MAX_SCH_ERRORS", defaults.MaxSCHErrors), "Coded bit errors tolerated in an SCH, negative for none")
	fs.IntVar(&cfg.maxBlocks, "max-blocks", envInt(lookup, "GSM_MAX_BLOCKS", 0), "Stop after this many blocks, 0 to run until EOF")
	fs.BoolVar(&cfg.toneCheck, "tone-check", envBool(lookup, "GSM_TONE_CHECK", defaults.ToneCheck), "Cross-check FCCH estimates with an FFT")
	fs.IntVar(&cfg.historyLimit, "history-limit", envInt(lookup, "GSM_HISTORY_LIMIT", defaults.HistoryLimit), "Events kept in telemetry history")
	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "GSM_WEB_ADDR", defaults.WebAddr), "Web telemetry listen address, empty to log events")
	fs.StringVar(&cfg.recordPath, "record", envString(lookup, "GSM_RECORD", defaults.RecordPath), "Parquet file receiving every acquisition event")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "GSM_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logFormat, "log-format", envString(lookup, "GSM_LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")
	fs.BoolVar(&cfg.discover, "discover", false, "List radios found over mDNS and exit")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return persistentConfig{
		Source:        cfg.source,
		FilePath:      cfg.filePath,
		FileFormat:    cfg.fileFormat,
		OSR:           cfg.osr,
		BlockSize:     cfg.blockSize,
		CarrierHz:     cfg.carrierHz,
		MockOffsetHz:  cfg.mockOffsetHz,
		MockNoise:     cfg.mockNoise,
		MockBSIC:      cfg.mockBSIC,
		Tuner:         cfg.tuner,
		SSHHost:       cfg.sshHost,
		SSHUser:       cfg.sshUser,
		SSHKeyPath:    cfg.sshKeyPath,
		SSHPort:       cfg.sshPort,
		LODevice:      cfg.loDevice,
		FCCHHits:      cfg.fcchHits,
		MaxFreqOffset: cfg.maxFreqOffset,
		MaxSCHErrors:  cfg.maxSCHErrors,
		ToneCheck:     cfg.toneCheck,
		HistoryLimit:  cfg.historyLimit,
		WebAddr:       cfg.webAddr,
		RecordPath:    cfg.recordPath,
		LogLevel:      cfg.logLevel,
		LogFormat:     cfg.logFormat,
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}
	defer f.Close()

	cfg := defaultPersistentConfig()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return persistentConfig{}, err
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func defaultPersistentConfig() persistentConfig {
	return persistentConfig{
		Source:        "mock",
		FileFormat:    "cs16",
		OSR:           4,
		BlockSize:     1 << 12,
		CarrierHz:     935.2e6,
		MockOffsetHz:  1500,
		MockNoise:     0.05,
		MockBSIC:      21,
		Tuner:         "auto",
		SSHUser:       "root",
		SSHPort:       22,
		FCCHHits:      142,
		MaxFreqOffset: 100,
		ToneCheck:     true,
		HistoryLimit:  500,
		WebAddr:       ":8080",
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(lookup func(string) (string, bool), key string, def time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

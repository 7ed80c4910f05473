package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rjboer/GoGSM/internal/app"
	"github.com/rjboer/GoGSM/internal/gsm"
	"github.com/rjboer/GoGSM/internal/logging"
	"github.com/rjboer/GoGSM/internal/mdns"
	"github.com/rjboer/GoGSM/internal/sdr"
	"github.com/rjboer/GoGSM/internal/telemetry"
)

func main() {
	configPath := envString(os.LookupEnv, "GSM_CONFIG", "gsmsync.json")

	persistentCfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, persistentCfg)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	if err := saveConfig(configPath, persistentFromCLI(cfg)); err != nil {
		log.Fatalf("save config: %v", err)
	}

	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	logging.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.discover {
		if err := listRadios(ctx, cfg, logger); err != nil {
			log.Fatalf("discover: %v", err)
		}
		return
	}
	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("receiver stopped", logging.Field{Key: "error", Value: err})
		os.Exit(1)
	}
}

func newLogger(cfg cliConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.logFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, out), nil
}

func run(ctx context.Context, cfg cliConfig, logger logging.Logger) error {
	src, mock, err := selectSource(cfg)
	if err != nil {
		return fmt.Errorf("select source: %w", err)
	}
	defer src.Close()

	tuner, closer, err := selectTuner(ctx, cfg, mock, mdns.Discover, logger)
	if err != nil {
		return fmt.Errorf("select tuner: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	var reporter telemetry.Reporter
	if cfg.webAddr != "" {
		hub := telemetry.NewHub(cfg.historyLimit, logger)
		reporter = hub
		go func() {
			if err := telemetry.NewWebServer(cfg.webAddr, hub, logger).Start(ctx); err != nil {
				logger.Error("web telemetry failed", logging.Field{Key: "error", Value: err})
			}
		}()
	} else {
		reporter = telemetry.NewStdoutReporter(logger)
	}
	if cfg.recordPath != "" {
		rec, err := telemetry.CreateParquetRecorder(cfg.recordPath, persistentFromCLI(cfg), logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("close recording", logging.Field{Key: "error", Value: err})
			}
		}()
		reporter = telemetry.MultiReporter{reporter, rec}
	}

	acq, err := app.NewAcquirer(src, tuner, reporter, logger, app.Config{
		Receiver:     receiverConfig(cfg),
		MaxBlocks:    cfg.maxBlocks,
		ToneCheck:    cfg.toneCheck,
		MaxSCHErrors: cfg.maxSCHErrors,
	})
	if err != nil {
		return err
	}

	logger.Info("starting acquisition",
		logging.Field{Key: "source", Value: cfg.source},
		logging.Field{Key: "tuner", Value: cfg.tuner},
		logging.Field{Key: "osr", Value: cfg.osr})
	err = acq.Run(ctx)
	c := acq.Counters()
	tunerErrs, syncErrs := acq.Receiver().Errors()
	stats := acq.Receiver().Stats()
	logger.Info("acquisition finished",
		logging.Field{Key: "samples", Value: c.Samples},
		logging.Field{Key: "fcch", Value: c.FCCH},
		logging.Field{Key: "sch", Value: c.SCH},
		logging.Field{Key: "sch_errors", Value: syncErrs},
		logging.Field{Key: "tuner_errors", Value: tunerErrs},
		logging.Field{Key: "mean_estimate_hz", Value: stats.Mean()},
		logging.Field{Key: "stddev_estimate_hz", Value: stats.StdDev()},
		logging.Field{Key: "freq_offset_hz", Value: acq.Receiver().FreqOffset()})
	return err
}

func receiverConfig(cfg cliConfig) gsm.Config {
	rc := gsm.DefaultConfig()
	rc.OSR = cfg.osr
	if cfg.fcchHits > 0 {
		rc.FCCHHitsNeeded = cfg.fcchHits
	}
	if cfg.maxFreqOffset > 0 {
		rc.MaxFreqOffset = cfg.maxFreqOffset
	}
	return rc
}

func sourceConfig(cfg cliConfig) sdr.Config {
	seed := cfg.mockSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return sdr.Config{
		OSR:        cfg.osr,
		BlockSize:  cfg.blockSize,
		CarrierHz:  cfg.carrierHz,
		OffsetHz:   cfg.mockOffsetHz,
		NoiseStd:   cfg.mockNoise,
		BSIC:       cfg.mockBSIC,
		Seed:       seed,
		Path:       cfg.filePath,
		FileFormat: cfg.fileFormat,
	}
}

// selectSource returns the configured source and, for the mock, the mock
// itself so it can double as the tuner.
func selectSource(cfg cliConfig) (sdr.Source, *sdr.MockGSM, error) {
	switch cfg.source {
	case "mock":
		m, err := sdr.NewMockGSM(sourceConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		return m, m, nil
	case "file":
		if cfg.filePath == "" {
			return nil, nil, fmt.Errorf("file source needs -file")
		}
		f, err := sdr.OpenFile(sourceConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		return f, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q", cfg.source)
	}
}

type discoverFunc func(ctx context.Context, service string, timeout time.Duration) ([]mdns.Host, error)

func selectTuner(ctx context.Context, cfg cliConfig, mock *sdr.MockGSM, discover discoverFunc, logger logging.Logger) (gsm.Tuner, io.Closer, error) {
	kind := cfg.tuner
	if kind == "auto" || kind == "" {
		kind = "none"
		if mock != nil {
			kind = "mock"
		}
	}
	switch kind {
	case "mock":
		if mock == nil {
			return nil, nil, fmt.Errorf("mock tuner needs the mock source")
		}
		return mock, nil, nil
	case "none":
		return &sdr.NullTuner{}, nil, nil
	case "sysfs":
		host, err := resolveHost(ctx, cfg, discover, logger)
		if err != nil {
			return nil, nil, err
		}
		writer, err := sdr.NewSSHAttributeWriter(sdr.SSHConfig{
			Host:     host,
			User:     cfg.sshUser,
			Password: cfg.sshPassword,
			KeyPath:  cfg.sshKeyPath,
			Port:     cfg.sshPort,
		})
		if err != nil {
			return nil, nil, err
		}
		tuner, err := sdr.NewSysfsTuner(ctx, writer, cfg.loDevice, cfg.carrierHz)
		if err != nil {
			writer.Close()
			return nil, nil, err
		}
		return tuner, writer, nil
	default:
		return nil, nil, fmt.Errorf("unknown tuner %q", cfg.tuner)
	}
}

func resolveHost(ctx context.Context, cfg cliConfig, discover discoverFunc, logger logging.Logger) (string, error) {
	if cfg.sshHost != "" {
		return cfg.sshHost, nil
	}
	hosts, err := discover(ctx, mdns.DefaultService, cfg.mdnsTimeout)
	if err != nil {
		return "", fmt.Errorf("discover radio: %w", err)
	}
	h, ok := mdns.Select(hosts, "")
	if !ok {
		return "", fmt.Errorf("no radio found over mdns within %s", cfg.mdnsTimeout)
	}
	logger.Info("radio discovered",
		logging.Field{Key: "instance", Value: h.Instance},
		logging.Field{Key: "address", Value: h.Address()})
	return h.Address(), nil
}

func listRadios(ctx context.Context, cfg cliConfig, logger logging.Logger) error {
	start := time.Now()
	hosts, err := mdns.Discover(ctx, mdns.DefaultService, cfg.mdnsTimeout)
	if err != nil {
		return err
	}
	logger.Info("discovery finished",
		logging.Field{Key: "count", Value: len(hosts)},
		logging.Field{Key: "elapsed", Value: time.Since(start).Truncate(time.Millisecond).String()})
	for _, h := range hosts {
		logger.Info("radio",
			logging.Field{Key: "instance", Value: h.Instance},
			logging.Field{Key: "hostname", Value: h.Hostname},
			logging.Field{Key: "address", Value: h.Address()},
			logging.Field{Key: "port", Value: h.Port})
	}
	return nil
}

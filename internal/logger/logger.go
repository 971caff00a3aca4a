package logger

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"betengine/internal/config"
)

func New(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	if cfg.Filename == "" {
		zc := zap.Config{
			Level:             zap.NewAtomicLevelAt(level),
			Development:       cfg.Development,
			Encoding:          cfg.Encoding,
			DisableCaller:     cfg.DisableCaller,
			DisableStacktrace: cfg.DisableStacktrace,
			Sampling:          nil,
			EncoderConfig:     zap.NewProductionEncoderConfig(),
			OutputPaths:       []string{"stdout"},
			ErrorOutputPaths:  []string{"stderr"},
		}

		if cfg.Encoding == "console" {
			zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		}

		if cfg.Sampling {
			zc.Sampling = &zap.SamplingConfig{
				Initial:    100,
				Thereafter: 100,
			}
		}

		return zc.Build()
	}

	// File sink configured: tee stdout with a rotating file.
	encCfg := zap.NewProductionEncoderConfig()
	var enc zapcore.Encoder
	if cfg.Encoding == "console" {
		encCfg = zap.NewDevelopmentEncoderConfig()
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	fileSink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
	sink := zapcore.NewMultiWriteSyncer(zapcore.Lock(os.Stdout), fileSink)

	var core zapcore.Core = zapcore.NewCore(enc, sink, level)
	if cfg.Sampling {
		core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 100)
	}
	opts := make([]zap.Option, 0, 3)
	if !cfg.DisableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if !cfg.DisableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...), nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sushant-115/pagestore/config"
	"github.com/sushant-115/pagestore/core/write_engine/memtable"
	internaltelemetry "github.com/sushant-115/pagestore/internal/telemetry"
	"github.com/sushant-115/pagestore/pkg/logger"
	"github.com/sushant-115/pagestore/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	dbPath := flag.String("db", "", "data file path (overrides storage.db_file_path)")
	flag.Parse()

	if err := run(*configPath, *dbPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "pagestore: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dbPath string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Storage.DBFilePath = dbPath
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer closeLog()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	if addr := tel.MetricsAddr(); addr != "" {
		log.Info("Serving metrics", zap.String("addr", addr))
	}

	metrics, err := internaltelemetry.NewStorageMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("failed to create storage metrics: %w", err)
	}

	bpm, err := memtable.NewBufferPoolManager(cfg.Storage, log,
		memtable.WithMetrics(metrics),
		memtable.WithTracer(tel.Tracer))
	if err != nil {
		return fmt.Errorf("failed to open buffer pool: %w", err)
	}

	sh := newShell(bpm, os.Stdout)
	if len(args) > 0 {
		err = sh.run(args)
		if errors.Is(err, errExit) {
			err = nil
		}
	} else {
		err = interactive(sh, cfg.Storage.DBFilePath)
	}

	if releaseErr := sh.releaseAll(); releaseErr != nil {
		log.Warn("Failed to release pinned pages", zap.Error(releaseErr))
	}
	if closeErr := bpm.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

func interactive(sh *shell, dbPath string) error {
	completer := make([]readline.PrefixCompleterInterface, 0, len(commandNames))
	for _, name := range commandNames {
		completer = append(completer, readline.PcItem(name))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pagestore> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".pagestore_history"),
		AutoComplete:    readline.NewPrefixCompleter(completer...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(rl.Stdout(), "pagestore shell on %s. Type 'help' for commands, 'exit' to leave.\n", dbPath)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := sh.run(fields); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintf(rl.Stderr(), "Error: %v\n", err)
		}
	}
}

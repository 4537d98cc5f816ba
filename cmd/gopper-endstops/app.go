package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"gopper-endstops/config"
	"gopper-endstops/endstops"
	"gopper-endstops/gcode"
	"gopper-endstops/host/mcu"
	"gopper-endstops/host/serial"
	"gopper-endstops/logging"
	"gopper-endstops/simulator"
	"gopper-endstops/status"
	"gopper-endstops/toolhead"
)

// app is a connected MCU with the endstop registry and its commands wired up
type app struct {
	cfg *config.Config
	log *slog.Logger

	mcu      *mcu.MCU
	toolhead *toolhead.Toolhead
	gcode    *gcode.Dispatcher
	endstops *endstops.Registry
	status   *status.Aggregator
	metrics  *prometheus.Registry
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

// newApp connects to the MCU (or the simulator) and registers every
// configured endstop. Command responses go to out.
func newApp(ctx context.Context, cmd *cobra.Command, out io.Writer) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(level)

	a := &app{
		cfg:     cfg,
		log:     logger,
		mcu:     mcu.NewMCU(logger),
		status:  status.NewAggregator(),
		metrics: prometheus.NewRegistry(),
	}
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	simulate, _ := cmd.Flags().GetBool("simulate")
	if err := a.connect(ctx, simulate); err != nil {
		_ = a.mcu.Close()
		return nil, err
	}

	var thOpts []toolhead.Option
	if bts := cfg.Toolhead.BufferTimeStart; bts != nil {
		thOpts = append(thOpts, toolhead.WithBufferTimeStart(*bts))
	}
	a.toolhead = toolhead.New(a.mcu, thOpts...)
	a.mcu.OnShutdown(a.toolhead.Shutdown)
	a.gcode = gcode.NewDispatcher(out, logger)
	a.endstops = endstops.NewRegistry(a.toolhead, a.gcode,
		endstops.WithLogger(logger),
		endstops.WithMetrics(endstops.NewMetrics(a.metrics)),
	)

	for _, ec := range cfg.Endstops {
		es := mcu.NewEndstop(a.mcu, ec.OID, ec.Invert)
		if ec.Pin != nil {
			if err := es.Configure(ctx, *ec.Pin, ec.PullUp); err != nil {
				_ = a.mcu.Close()
				return nil, err
			}
		}
		a.endstops.RegisterEndstop(es, ec.Name)
	}

	if err := a.toolhead.RegisterCommands(a.gcode); err != nil {
		_ = a.mcu.Close()
		return nil, err
	}
	if err := endstops.RegisterCommands(a.gcode, a.endstops); err != nil {
		_ = a.mcu.Close()
		return nil, err
	}
	a.status.Add("query_endstops", a.endstops)

	logger.Info("endstops registered", "names", a.endstops.Names())
	return a, nil
}

func (a *app) connect(ctx context.Context, simulate bool) error {
	if simulate {
		sim := simulator.New(a.log)
		for _, ec := range a.cfg.Endstops {
			if ec.Pin == nil {
				sim.AddEndstop(ec.OID, 0)
			}
		}
		a.mcu.ConnectPort(sim.Pipe())
		a.log.Info("using simulated MCU")
	} else {
		err := a.mcu.ConnectWithConfig(&serial.Config{
			Device:      a.cfg.MCU.Serial,
			Baud:        a.cfg.MCU.Baud,
			ReadTimeout: a.cfg.MCU.ReadTimeout(),
		})
		if err != nil {
			return err
		}
	}

	if a.cfg.MCU.ClockFreq > 0 {
		a.mcu.SetClockFreq(a.cfg.MCU.ClockFreq)
	}
	if err := a.mcu.RetrieveDictionary(ctx); err != nil {
		return fmt.Errorf("retrieve dictionary: %w", err)
	}
	if err := a.mcu.SyncClock(ctx); err != nil {
		return fmt.Errorf("sync clock: %w", err)
	}
	return nil
}

func (a *app) Close() error {
	return a.mcu.Close()
}

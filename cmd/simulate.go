package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/smazurov/camss/internal/capture"
	"github.com/smazurov/camss/internal/hw"
	"github.com/smazurov/camss/internal/logging"
	"github.com/smazurov/camss/internal/metrics"
	"github.com/smazurov/camss/internal/telemetry"
	"github.com/smazurov/camss/internal/vin"
	"github.com/spf13/cobra"
)

// SimulateOptions configures a simulated capture run.
type SimulateOptions struct {
	Pipeline       string
	Explicit       bool
	Line           string
	Frames         uint64
	Buffers        int
	Hold           time.Duration
	FPS            int
	FieldsPerFrame int
	Timeout        time.Duration
}

// SimulateResult is what a simulated run produced.
type SimulateResult struct {
	Stats    capture.Stats
	Counters *metrics.LineCounters
	Leaked   int // bytes still allocated on the simulated pool after shutdown
}

// CreateSimulateCmd creates the simulate command.
func CreateSimulateCmd() *cobra.Command {
	var opts SimulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Capture frames from the simulated engine",
		Long:  `Builds the pipeline on the simulated capture engine, runs a capture session on one line until the requested number of frames arrived, and prints the session statistics.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Explicit = cmd.Flags().Changed("pipeline")
			res, err := RunSimulation(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			st := res.Stats
			fmt.Fprintf(out, "line %s session %s\n", st.Line, st.Session)
			fmt.Fprintf(out, "  buffers    %d\n", st.Buffers)
			fmt.Fprintf(out, "  delivered  %d (last sequence %d)\n", st.Delivered, st.LastSequence)
			fmt.Fprintf(out, "  errored    %d\n", st.Errored)
			fmt.Fprintf(out, "  requeued   %d\n", st.Requeued)
			fmt.Fprintf(out, "  gaps       %d\n", st.Gaps)
			fmt.Fprintf(out, "  elapsed    %s\n", st.Stopped.Sub(st.Started).Round(time.Millisecond))
			if c := res.Counters; c != nil {
				for fault, n := range c.Faults {
					fmt.Fprintf(out, "  fault      %s x%d\n", fault, n)
				}
			}
			if res.Leaked != 0 {
				return fmt.Errorf("%d bytes of DMA memory leaked", res.Leaked)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "pipeline.toml", "Pipeline file; the built-in pipeline is used if it does not exist")
	cmd.Flags().StringVar(&opts.Line, "line", "wr", "Line to capture from")
	cmd.Flags().Uint64Var(&opts.Frames, "frames", 300, "Frames to capture")
	cmd.Flags().IntVar(&opts.Buffers, "buffers", capture.DefaultBuffers, "DMA buffers to cycle")
	cmd.Flags().DurationVar(&opts.Hold, "hold", 0, "Delay before a completed buffer is requeued")
	cmd.Flags().IntVar(&opts.FPS, "fps", 30, "Simulated frame rate")
	cmd.Flags().IntVar(&opts.FieldsPerFrame, "fields", 1, "Fields per frame; 2 for interlaced capture")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "Give up after this long")
	return cmd
}

// RunSimulation captures opts.Frames frames from the simulated engine.
func RunSimulation(ctx context.Context, opts SimulateOptions) (SimulateResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.GetLogger("simulate")

	p, builtin, err := loadPipeline(opts.Pipeline, opts.Explicit)
	if err != nil {
		return SimulateResult{}, err
	}
	if builtin {
		logger.Info("Pipeline file not found, using built-in pipeline", "path", opts.Pipeline)
	}
	topo, err := p.Topology()
	if err != nil {
		return SimulateResult{}, err
	}
	formats := p.Formats()

	sim := hw.NewSim(hw.SimConfig{
		FPS:            opts.FPS,
		FieldsPerFrame: opts.FieldsPerFrame,
		Logger:         logging.GetLogger("hw"),
	})
	dev, err := vin.NewDevice(topo, vin.Options{
		Registers: sim,
		Allocator: sim,
		Clock:     sim,
		Formats:   formats,
		Hooks:     telemetry.Hooks(nil, telemetry.Options{}),
		Logger:    logging.GetLogger("vin"),
	})
	if err != nil {
		return SimulateResult{}, err
	}
	sim.SetHandler(dev)
	metrics.DeleteLineMetrics(opts.Line)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	sess, err := capture.Start(ctx, dev, sim, formats, opts.Line, capture.Options{
		Buffers: opts.Buffers,
		Hold:    opts.Hold,
		Logger:  logging.GetLogger("capture"),
	})
	if err != nil {
		return SimulateResult{}, err
	}

	simCtx, stopSim := context.WithCancel(ctx)
	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		sim.Run(simCtx)
	}()

	waitErr := sess.WaitFrames(ctx, opts.Frames)
	stopErr := sess.Stop()
	stopSim()
	<-simDone

	res := SimulateResult{
		Stats:    sess.Stats(),
		Counters: metrics.GetLineCounters(opts.Line),
	}
	_, res.Leaked = sim.Outstanding()

	if waitErr != nil {
		return res, fmt.Errorf("waiting for %d frames: %w", opts.Frames, waitErr)
	}
	return res, stopErr
}

package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/sparsify/internal/encoder"
	"github.com/samcharles93/sparsify/internal/logger"
	"github.com/samcharles93/sparsify/internal/safetensors"
	"github.com/samcharles93/sparsify/internal/tensor"
)

func benchCmd() *cli.Command {
	var (
		rows       int64
		inputDim   int64
		latents    int64
		k          int64
		activation string
		quantize   bool
		levels     int64
		warmupRuns int64
		benchRuns  int64
		weightsCLI string
		jsonOut    bool
		seed       int64
	)

	flags := []cli.Flag{
		&cli.Int64Flag{Name: "rows", Aliases: []string{"n"}, Usage: "batch rows", Value: 256, Destination: &rows},
		&cli.Int64Flag{Name: "input-dim", Aliases: []string{"d"}, Usage: "input feature dimension", Value: 512, Destination: &inputDim},
		&cli.Int64Flag{Name: "latents", Aliases: []string{"m"}, Usage: "latent dimension", Value: 4096, Destination: &latents},
		&cli.Int64Flag{Name: "k", Usage: "active latents per row", Value: 32, Destination: &k},
		&cli.StringFlag{Name: "activation", Aliases: []string{"a"}, Usage: "selection policy (topk, groupmax)", Value: "topk", Destination: &activation},
		&cli.BoolFlag{Name: "quantize", Aliases: []string{"q"}, Usage: "enable stochastic quantization", Destination: &quantize},
		&cli.Int64Flag{Name: "levels", Usage: "quantization levels", Value: 16, Destination: &levels},
		&cli.Int64Flag{Name: "warmup", Usage: "number of warmup runs", Value: 1, Destination: &warmupRuns},
		&cli.Int64Flag{Name: "runs", Usage: "number of benchmark runs", Value: 5, Destination: &benchRuns},
		&cli.StringFlag{Name: "weights", Aliases: []string{"w"}, Usage: "optional .safetensors file with encoder.weight / encoder.bias", Destination: &weightsCLI},
		&cli.BoolFlag{Name: "json", Usage: "emit results as JSON", Destination: &jsonOut},
		&cli.Int64Flag{Name: "seed", Usage: "seed for synthetic data", Value: 42, Destination: &seed},
	}

	return &cli.Command{
		Name:  "bench",
		Usage: "Run forward/backward benchmarks for the fused encoder",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyGlobalConfig(cmd, cfg)
			applyBenchConfig(cmd, cfg, &k, &activation, &levels)
			log := newLogger()
			ctx = logger.WithContext(ctx, log)

			weight, bias, err := benchWeights(log, weightsCLI, int(latents), int(inputDim), seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load weights: %v", err), 1)
			}

			input := tensor.NewMat(int(rows), weight.C)
			tensor.FillRand(&input, seed+1)

			opts := encoder.Options{
				K:          int(k),
				Activation: encoder.Activation(activation),
				Quantize:   quantize,
				MinVal:     0,
				MaxVal:     6,
				Levels:     int(levels),
				Rand:       rand.New(rand.NewSource(seed + 2)),
			}

			gradValues := tensor.NewMat(input.R, int(k))
			tensor.FillRand(&gradValues, seed+3)

			runOnce := func() (time.Duration, time.Duration, error) {
				fwdStart := time.Now()
				_, ectx, err := encoder.Encode(&input, weight, bias, opts)
				if err != nil {
					return 0, 0, err
				}
				fwd := time.Since(fwdStart)

				bwdStart := time.Now()
				if _, err := ectx.Backward(&gradValues, encoder.GradRequest{Input: true, Weight: true, Bias: true}); err != nil {
					return 0, 0, err
				}
				return fwd, time.Since(bwdStart), nil
			}

			for i := range int(warmupRuns) {
				log.Info("warmup run", "run", i+1)
				if _, _, err := runOnce(); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			type runResult struct {
				Forward  time.Duration `json:"forward_ns"`
				Backward time.Duration `json:"backward_ns"`
				RowsPerS float64       `json:"rows_per_sec"`
			}
			results := make([]runResult, 0, benchRuns)

			for i := range int(benchRuns) {
				log.Info("benchmark run", "run", i+1)
				fwd, bwd, err := runOnce()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				results = append(results, runResult{
					Forward:  fwd,
					Backward: bwd,
					RowsPerS: float64(input.R) / (fwd + bwd).Seconds(),
				})
			}

			if jsonOut {
				report := struct {
					N          int         `json:"n"`
					D          int         `json:"d"`
					M          int         `json:"m"`
					K          int         `json:"k"`
					Activation string      `json:"activation"`
					Quantize   bool        `json:"quantize"`
					GoMaxProcs int         `json:"gomaxprocs"`
					Runs       []runResult `json:"runs"`
				}{
					N:          input.R,
					D:          input.C,
					M:          weight.R,
					K:          int(k),
					Activation: activation,
					Quantize:   quantize,
					GoMaxProcs: runtime.GOMAXPROCS(0),
					Runs:       results,
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Println("=== Sparsify Benchmark ===")
			fmt.Printf("Shape:      N=%d D=%d M=%d k=%d\n", input.R, input.C, weight.R, k)
			fmt.Printf("Activation: %s (quantize=%v)\n", activation, quantize)
			fmt.Printf("CPUs:       %d (GOMAXPROCS %d)\n", runtime.NumCPU(), runtime.GOMAXPROCS(0))
			fmt.Println()
			fmt.Printf("%-6s %12s %12s %12s\n", "Run", "Forward", "Backward", "rows/s")

			var sumFwd, sumBwd, sumRows float64
			for i, r := range results {
				fmt.Printf("%-6d %12s %12s %12.1f\n",
					i+1, r.Forward.Round(time.Microsecond), r.Backward.Round(time.Microsecond), r.RowsPerS)
				sumFwd += r.Forward.Seconds()
				sumBwd += r.Backward.Seconds()
				sumRows += r.RowsPerS
			}
			n := float64(len(results))
			fmt.Printf("\n%-6s %12s %12s %12.1f\n", "Avg",
				time.Duration(sumFwd/n*float64(time.Second)).Round(time.Microsecond),
				time.Duration(sumBwd/n*float64(time.Second)).Round(time.Microsecond),
				sumRows/n)

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))
			return nil
		},
	}
}

// benchWeights loads encoder.weight / encoder.bias from a safetensors file,
// or synthesizes a random dictionary when no path is given.
func benchWeights(log logger.Logger, path string, m, d int, seed int64) (*tensor.Mat, []float32, error) {
	if path == "" {
		w := tensor.NewMat(m, d)
		tensor.FillRand(&w, seed)
		bias := make([]float32, m)
		return &w, bias, nil
	}

	log.Info("loading weights", "path", path)
	st, err := safetensors.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = st.Close() }()

	w, err := tensor.LoadMat(st, "encoder.weight")
	if err != nil {
		return nil, nil, err
	}
	bias, err := tensor.LoadVec(st, "encoder.bias")
	if err != nil {
		// Bias is optional in checkpoints.
		log.Warn("no encoder.bias in checkpoint, proceeding without bias", "error", err)
		bias = nil
	}
	return w, bias, nil
}

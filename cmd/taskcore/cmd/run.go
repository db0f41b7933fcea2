package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/theerud/taskcore/internal/control"
	"github.com/theerud/taskcore/internal/core"
)

var runCmd = &cobra.Command{
	Use:   "run [batch-file]",
	Short: "Run one task batch to completion",
	Long: `Read a task batch from a JSON or YAML file (or stdin, with "-") and
run it to completion, printing the resulting summary and per-task
outcomes.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatchFile,
}

var (
	runAsync bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runAsync, "async", false, "dispatch in async mode instead of blocking")
}

func runBatchFile(_ *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "received interrupt, cancelling batch...")
		cancel()
	}()

	batch, err := readBatchFile(args[0])
	if err != nil {
		return err
	}

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	token := control.NewToken()
	go func() {
		<-ctx.Done()
		token.Cancel()
	}()

	result := d.scheduler.Execute(ctx, *batch, runAsync, token, nil)
	return printBatchResult(result)
}

func readBatchFile(path string) (*core.TaskBatch, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}

	var batch core.TaskBatch
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("parsing batch yaml: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("parsing batch json: %w", err)
		}
	}
	return &batch, nil
}

func printBatchResult(result core.BatchResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if !result.Applied && result.MergeSummary != "" {
		return fmt.Errorf("merge did not complete: %s", result.MergeSummary)
	}
	return nil
}

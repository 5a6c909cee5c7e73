package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/USA-RedDragon/rtz-link/internal/link"
	"github.com/USA-RedDragon/rtz-link/internal/protocol"
	"github.com/USA-RedDragon/rtz-link/internal/rpcerror"
	"github.com/go-errors/errors"
	"github.com/spf13/cobra"
	"github.com/ztrue/shutdown"
)

var (
	ErrInvalidInput = errors.New("input must be valid JSON")
	ErrUseSubscribe = errors.New("use the subscribe command for subscriptions")
)

func newCallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "call <query|mutation> <path> [input]",
		Short: "Run one query or mutation and print its result",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runCall,
	}
}

func newSubscribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe <path> [input]",
		Short: "Print subscription results as JSON lines",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runSubscribe,
	}
	cmd.Flags().Int("count", 0, "Stop after this many results (0 runs until interrupted)")
	return cmd
}

func parseInput(args []string) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	var input any
	if err := json.Unmarshal([]byte(args[0]), &input); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return input, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func runCall(cmd *cobra.Command, args []string) error {
	typ, err := protocol.ParseOperationType(args[0])
	if err != nil {
		return err
	}
	if typ == protocol.OperationSubscription {
		return ErrUseSubscribe
	}
	input, err := parseInput(args[2:])
	if err != nil {
		return err
	}

	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	m, _ := newMetrics(config)

	client, l, err := dialLink(cmd.Context(), config, m)
	if err != nil {
		return err
	}
	defer client.Close()
	defer l.Close()

	data, err := l.Call(cmd.Context(), typ, args[1], input)
	if err != nil {
		return describe(err)
	}
	return printJSON(cmd.OutOrStdout(), data)
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	input, err := parseInput(args[1:])
	if err != nil {
		return err
	}
	count, err := cmd.Flags().GetInt("count")
	if err != nil {
		return fmt.Errorf("failed to get count: %w", err)
	}

	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	m, _ := newMetrics(config)

	ctx, cancel := context.WithCancelCause(cmd.Context())
	defer cancel(nil)

	client, l, err := dialLink(ctx, config, m)
	if err != nil {
		return err
	}
	defer client.Close()
	defer l.Close()

	if !isTesting(cmd) {
		shutdown.AddWithParam(func(_ os.Signal) {
			cancel(nil)
		})
		go shutdown.Listen(syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	}

	out := cmd.OutOrStdout()
	var (
		mu       sync.Mutex
		received atomic.Int64
	)
	req, err := l.Subscribe(ctx, args[0], input, link.Observer{
		OnNext: func(data any) {
			mu.Lock()
			defer mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			if err := printJSON(out, data); err != nil {
				cancel(err)
				return
			}
			if n := received.Add(1); count > 0 && n >= int64(count) {
				cancel(nil)
			}
		},
		OnError: func(err *rpcerror.Error) {
			cancel(describe(err))
		},
	})
	if err != nil {
		return describe(err)
	}
	defer req.Destroy()

	<-ctx.Done()
	// No output after this point.
	mu.Lock()
	defer mu.Unlock()
	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Debug("Subscription finished", "path", args[0], "results", received.Load())
	return nil
}

// describe adds the peer's error code to the message.
func describe(err error) error {
	var rpcErr *rpcerror.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	if code, ok := rpcErr.Code(); ok {
		return fmt.Errorf("%s (%d %s): %w", rpcErr.Message, code, protocol.CodeName(code), rpcErr)
	}
	return rpcErr
}

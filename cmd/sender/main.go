package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/andy6609/wifi-ingress/internal/sender"
)

func main() {
	host := flag.String("host", "127.0.0.1", "ingress server host")
	port := flag.Int("port", 5050, "ingress server port")
	retry := flag.Duration("retry", sender.DefaultRetryInterval, "delay between reconnect attempts")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	c, err := sender.New(*host, *port, sender.Options{RetryInterval: *retry}, logger)
	if err != nil {
		logger.Error("invalid target", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Each stdin line becomes one message.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := c.Send(ctx, line); err != nil {
			logger.Error("send failed", "addr", c.Addr(), "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("read stdin", "error", err)
	}
}

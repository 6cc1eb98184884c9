package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"audio-forensics/metrics"
	"audio-forensics/models"
	"audio-forensics/service"
	"audio-forensics/utils"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
)

const usage = "Expected 'analyze' or 'serve' subcommand"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	_ = godotenv.Load()
	metrics.EnableMetrics(utils.GetEnvBool("METRICS_ENABLED", true))

	switch os.Args[1] {
	case "analyze":
		analyzeCmd := flag.NewFlagSet("analyze", flag.ExitOnError)
		analyzeCmd.Parse(os.Args[2:])
		os.Exit(runAnalyze(os.Stdin, os.Stdout))
	case "serve":
		serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
		protocol := serveCmd.String("proto", "http", "Protocol to use (http or https)")
		port := serveCmd.String("p", "5000", "Port to use")
		serveCmd.Parse(os.Args[2:])
		serve(*protocol, *port)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
}

// runAnalyze reads one JSON request from in and writes one JSON response to out.
// Logs go to stderr so out carries nothing but the payload.
func runAnalyze(in io.Reader, out io.Writer) int {
	logger := utils.GetLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(service.ConfigFromEnv(), logger)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start analysis service", slog.Any("error", xerrors.New(err)))
		writeResult(out, models.ErrorResponse{Error: err.Error(), Code: "error", Message: "service unavailable"})
		return 1
	}
	defer svc.Close()

	return analyzeStream(ctx, svc, in, out)
}

func analyzeStream(ctx context.Context, svc *service.Service, in io.Reader, out io.Writer) int {
	logger := utils.GetLogger()

	var req models.AnalysisRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		logger.ErrorContext(ctx, "failed to parse request", slog.Any("error", xerrors.New(err)))
		writeResult(out, models.ErrorResponse{
			Error:   fmt.Sprintf("invalid request payload: %v", err),
			Code:    "invalid_request",
			Message: "invalid request payload",
		})
		return 1
	}

	resp, err := svc.Analyze(ctx, "stdin", req)
	if err != nil {
		writeResult(out, service.NewErrorResponse(err))
		return 1
	}
	writeResult(out, resp)
	return 0
}

func writeResult(out io.Writer, payload any) {
	if err := json.NewEncoder(out).Encode(payload); err != nil {
		utils.GetLogger().Error("failed to write response", slog.Any("error", xerrors.New(err)))
	}
}

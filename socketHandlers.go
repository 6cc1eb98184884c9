package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"

	"audio-forensics/models"
	"audio-forensics/service"
	"audio-forensics/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"
)

// emitter is the part of socketio.Conn the handlers use.
type emitter interface {
	ID() string
	Emit(eventName string, v ...interface{})
}

type socketController struct {
	svc *service.Service
}

func newSocketController(svc *service.Service) *socketController {
	return &socketController{svc: svc}
}

func (c *socketController) register(server *socketio.Server) {
	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		connURL := socket.URL()
		log.Printf("CONNECTED: %s, transport: %s, remote addr: %s\n", socket.ID(), connURL.String(), socket.RemoteAddr())
		c.emitPipelineInfo(socket)
		return nil
	})

	server.OnEvent("/", "requestPipelineInfo", func(socket socketio.Conn) {
		c.emitPipelineInfo(socket)
	})

	server.OnEvent("/", "analyzeRecording", func(socket socketio.Conn, msg string) {
		log.Printf("analyzeRecording event received from %s, data length: %d\n", socket.ID(), len(msg))
		// Run handler in goroutine to prevent blocking, with panic recovery
		go c.safeAnalyze(socket, msg)
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})
}

func (c *socketController) emitPipelineInfo(socket emitter) {
	socket.Emit("pipelineInfo", c.svc.Info())
}

func (c *socketController) safeAnalyze(socket emitter, msg string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic in handleAnalyzeRecording for socket %s: %v\n", socket.ID(), r)
			socket.Emit("analysisError", models.ErrorResponse{
				Error:   "internal server error during processing",
				Code:    "error",
				Message: "internal server error during processing",
			})
		}
	}()
	c.handleAnalyzeRecording(socket, msg)
}

func (c *socketController) handleAnalyzeRecording(socket emitter, payload string) {
	logger := utils.GetLogger()
	ctx := context.Background()

	if payload == "" {
		logger.ErrorContext(ctx, "no data received in analyzeRecording event", slog.String("socketID", socket.ID()))
		socket.Emit("analysisError", models.ErrorResponse{
			Error:   "no audio data received",
			Code:    "empty_input",
			Message: "no audio data received",
		})
		return
	}

	var req models.AnalysisRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		logger.ErrorContext(ctx, "failed to parse recording payload",
			slog.String("socketID", socket.ID()),
			slog.Any("error", xerrors.New(err)))
		socket.Emit("analysisError", models.ErrorResponse{
			Error:   err.Error(),
			Code:    "invalid_request",
			Message: "invalid audio payload",
		})
		return
	}

	resp, err := c.svc.Analyze(ctx, "socket", req)
	if err != nil {
		socket.Emit("analysisError", service.NewErrorResponse(err))
		return
	}

	logger.InfoContext(ctx, "emitting analysis result",
		slog.String("socketID", socket.ID()),
		slog.String("requestId", resp.RequestID),
		slog.Int("detectedSounds", resp.DetectedSounds))
	socket.Emit("analysisResult", resp)
}

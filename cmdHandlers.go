package main

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"audio-forensics/metrics"
	"audio-forensics/models"
	"audio-forensics/service"
	"audio-forensics/sonar"
	"audio-forensics/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"
)

const maxUploadBytes = 256 << 20

type apiError struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status       string `json:"status"`
	Classifier   string `json:"classifier"`
	ModelService string `json:"modelService,omitempty"`
	CacheEnabled bool   `json:"cacheEnabled"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

func writeAnalysisError(w http.ResponseWriter, err error) {
	writeJSON(w, service.StatusFor(err), service.NewErrorResponse(err))
}

// withCORS answers preflight requests and rejects methods other than method.
func withCORS(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", method+", OPTIONS")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != method {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
	}
}

// newAnalyzeHandler serves POST /api/analyze with a JSON AnalysisRequest body.
func newAnalyzeHandler(svc *service.Service) http.HandlerFunc {
	logger := utils.GetLogger()
	return withCORS(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req models.AnalysisRequest
		body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			logger.WarnContext(ctx, "failed to parse request body", slog.Any("error", err))
			metrics.RecordRequest("http", "invalid_request")
			writeJSONError(w, http.StatusBadRequest, "invalid request payload")
			return
		}

		resp, err := svc.Analyze(ctx, "http", req)
		if err != nil {
			writeAnalysisError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// newUploadHandler serves POST /analyze with a multipart "file" field holding a WAV file.
// Analysis options may be passed as form fields named like the JSON config keys.
func newUploadHandler(svc *service.Service) http.HandlerFunc {
	logger := utils.GetLogger()
	return withCORS(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			logger.WarnContext(ctx, "failed to parse multipart form", slog.Any("error", err))
			metrics.RecordRequest("http", "invalid_request")
			writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			metrics.RecordRequest("http", "invalid_request")
			writeJSONError(w, http.StatusBadRequest, "no audio file provided")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			logger.ErrorContext(ctx, "failed to read upload", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusBadRequest, "unable to read upload")
			return
		}

		overrides, err := overridesFromForm(r)
		if err != nil {
			metrics.RecordRequest("http", "invalid_config")
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		resp, err := svc.Analyze(ctx, "http", models.AnalysisRequest{
			AudioData: base64.StdEncoding.EncodeToString(data),
			Filename:  header.Filename,
			Config:    overrides,
		})
		if err != nil {
			writeAnalysisError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func overridesFromForm(r *http.Request) (*sonar.Overrides, error) {
	var o sonar.Overrides
	set := false

	parseInt := func(key string, dst **int) error {
		value := strings.TrimSpace(r.FormValue(key))
		if value == "" {
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", key, value)
		}
		*dst = &n
		set = true
		return nil
	}
	parseFloat := func(key string, dst **float64) error {
		value := strings.TrimSpace(r.FormValue(key))
		if value == "" {
			return nil
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", key, value)
		}
		*dst = &f
		set = true
		return nil
	}

	err := errors.Join(
		parseInt("frameSize", &o.FrameSize),
		parseInt("hopSize", &o.HopSize),
		parseFloat("sensitivityFactor", &o.SensitivityFactor),
		parseFloat("minHoldTimeMs", &o.MinHoldTimeMs),
		parseFloat("referenceDb", &o.ReferenceDb),
		parseInt("maxSpectrumPoints", &o.MaxSpectrumPoints),
	)
	if err != nil {
		return nil, err
	}
	if !set {
		return nil, nil
	}
	return &o, nil
}

func newHealthHandler(svc *service.Service) http.HandlerFunc {
	return withCORS(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:       "ok",
			Classifier:   svc.Config().ClassifierMode,
			CacheEnabled: svc.Info().CacheEnabled,
		}
		if client := svc.ModelClient(); client != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := client.HealthCheck(ctx); err != nil {
				// the fallback classifier keeps analysis available
				resp.Status = "degraded"
				resp.ModelService = err.Error()
			} else {
				resp.ModelService = "ok"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func newPipelineInfoHandler(svc *service.Service) http.HandlerFunc {
	return withCORS(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Info())
	})
}

// newCacheHandler serves GET /api/cache with the cached analyses, newest first.
func newCacheHandler(svc *service.Service) http.HandlerFunc {
	logger := utils.GetLogger()
	return withCORS(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.CacheEntries()
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list cache entries", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusInternalServerError, "unable to read analysis cache")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})
}

func newMux(svc *service.Service, socketServer *socketio.Server) *http.ServeMux {
	mux := http.NewServeMux()
	if socketServer != nil {
		mux.Handle("/socket.io/", socketServer)
	}
	mux.HandleFunc("/api/analyze", newAnalyzeHandler(svc))
	mux.HandleFunc("/analyze", newUploadHandler(svc))
	mux.HandleFunc("/api/health", newHealthHandler(svc))
	mux.HandleFunc("/api/pipeline", newPipelineInfoHandler(svc))
	mux.HandleFunc("/api/cache", newCacheHandler(svc))
	metrics.RegisterHandler(mux)
	return mux
}

func serve(protocol, port string) {
	protocol = strings.ToLower(protocol)
	logger := utils.GetLogger()
	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}

	svc, err := service.New(service.ConfigFromEnv(), logger)
	if err != nil {
		log.Fatalf("failed to start analysis service: %v", err)
	}
	defer svc.Close()

	if client := svc.ModelClient(); client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.HealthCheck(ctx); err != nil {
			log.Printf("WARNING: %v\n", err)
			log.Println("The server will start but events will be classified by the fallback rules until the model service is up.")
		} else {
			log.Printf("Model service is available at %s\n", client.URL())
		}
		cancel()
	}

	controller := newSocketController(svc)

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})
	controller.register(server)

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	serveHTTPS := protocol == "https"
	serveHTTP(server, serveHTTPS, port, newMux(svc, server))
}

func serveHTTP(socketServer *socketio.Server, serveHTTPS bool, port string, handler http.Handler) {
	if handler == nil {
		handler = socketServer
	}
	if serveHTTPS {
		httpsAddr := ":" + port
		httpsServer := &http.Server{
			Addr: httpsAddr,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		certKey := utils.GetEnv("CERT_KEY", "")
		certFile := utils.GetEnv("CERT_FILE", "")
		if certKey == "" || certFile == "" {
			log.Fatal("Missing cert: set CERT_FILE and CERT_KEY")
		}

		log.Printf("Starting HTTPS server on %s\n", httpsAddr)
		if err := httpsServer.ListenAndServeTLS(certFile, certKey); err != nil {
			log.Fatalf("HTTPS server ListenAndServeTLS: %v", err)
		}
		return
	}

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("Starting HTTP server on port %v", port)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("HTTP server ListenAndServe: %v", err)
	}
}

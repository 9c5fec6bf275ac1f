package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"

	"findmyway/config"
	"findmyway/db"
	"findmyway/locator"
	"findmyway/models"
	"findmyway/mqtt"
	"findmyway/scheduler"
	"findmyway/survey"
	"findmyway/training"
	"findmyway/utils"
)

const (
	defaultFixLimit = 50
	maxMapUpload    = 32 << 20
)

var validate = validator.New()

type apiError struct {
	Message string `json:"message"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type surveyRecordInput struct {
	BSSID    string   `json:"bssid" validate:"required"`
	Signal   *float64 `json:"signal" validate:"required"`
	Location string   `json:"location" validate:"required"`
	ScanID   string   `json:"scanId,omitempty"`
}

type surveyRequest struct {
	Records []surveyRecordInput `json:"records" validate:"required,min=1,dive"`
}

type surveyResponse struct {
	Added        int                 `json:"added"`
	Stats        *locator.ModelStats `json:"stats,omitempty"`
	RetrainError string              `json:"retrainError,omitempty"`
}

type locationsResponse struct {
	Success   bool                    `json:"success"`
	Locations []models.LocationMarker `json:"locations"`
}

type fixRecorder interface {
	StoreFix(ctx context.Context, fix *models.Fix) error
}

// Retrainer rebuilds and publishes the model.
type Retrainer interface {
	Retrain(ctx context.Context) (*locator.Model, error)
}

// api holds the collaborators shared by the HTTP handlers.
type api struct {
	store      db.Store
	classifier *locator.Classifier
	trainer    Retrainer
	testCSV    string
	logger     *slog.Logger
}

func newAPI(store db.Store, classifier *locator.Classifier, trainer Retrainer, testCSV string) *api {
	return &api{
		store:      store,
		classifier: classifier,
		trainer:    trainer,
		testCSV:    testCSV,
		logger:     utils.GetLogger(),
	}
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

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newRouter(a *api, socketServer http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/locate", a.handleLocate)
		r.Get("/model", a.handleModelStats)
		r.Post("/model/retrain", a.handleRetrain)
		r.Post("/survey", a.handleSurvey)
		r.Get("/fixes", a.handleFixes)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/testdata", a.handleTestData)
		r.Post("/upload_map/{floor}", a.handleUploadMap)
		r.Get("/map_image/{floor}", a.handleMapImage)
		r.Get("/locations/{floor}", a.handleListLocations)
		r.Post("/locations/{floor}", a.handleSaveLocations)
		r.Put("/location/{id}", a.handleUpdateLocation)
		r.Delete("/location/{id}", a.handleDeleteLocation)
	})

	if socketServer != nil {
		r.Handle("/socket.io/*", socketServer)
	}
	r.Handle("/*", http.FileServer(http.Dir("static")))

	return r
}

// locate predicts req and records the fix. A failure to record is logged only.
func locate(ctx context.Context, classifier *locator.Classifier, fixes fixRecorder, source string, req models.ScanRequest) (locator.Prediction, error) {
	started := time.Now()

	prediction, err := classifier.PredictDetailed(locator.Scan(req.Readings))
	if err != nil {
		return locator.Prediction{}, err
	}

	fix := models.NewFix(source, req.Device, len(req.Readings), prediction, time.Since(started))
	if err := fixes.StoreFix(ctx, &fix); err != nil {
		utils.GetLogger().WarnContext(ctx, "failed to store fix", slog.Any("error", xerrors.New(err)))
	}
	return prediction, nil
}

func (a *api) handleLocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	prediction, err := locate(ctx, a.classifier, a.store, "http", req)
	if errors.Is(err, locator.ErrModelNotTrained) {
		writeJSONError(w, http.StatusServiceUnavailable, "model not trained")
		return
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to locate scan", slog.Any("error", xerrors.New(err)))
		writeJSONError(w, http.StatusInternalServerError, "classifier error")
		return
	}

	writeJSON(w, http.StatusOK, prediction)
}

func (a *api) handleModelStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.classifier.Stats()
	if errors.Is(err, locator.ErrModelNotTrained) {
		writeJSONError(w, http.StatusServiceUnavailable, "model not trained")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) handleRetrain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	model, err := a.trainer.Retrain(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "retrain failed", slog.Any("error", xerrors.New(err)))
		status, message := retrainErrorStatus(err)
		writeJSONError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, model.Stats())
}

func retrainErrorStatus(err error) (int, string) {
	var malformed *locator.MalformedRecordError
	switch {
	case errors.Is(err, locator.ErrEmptyTrainingSet):
		return http.StatusConflict, "no survey records to train on"
	case errors.As(err, &malformed):
		return http.StatusUnprocessableEntity, malformed.Error()
	case errors.Is(err, training.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store unavailable"
	default:
		return http.StatusInternalServerError, "retrain failed"
	}
}

func (a *api) handleSurvey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req surveyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	records := make([]locator.SurveyRecord, len(req.Records))
	for i, in := range req.Records {
		records[i] = locator.SurveyRecord{
			Row:      i + 1,
			ScanID:   strings.TrimSpace(in.ScanID),
			APID:     locator.NormalizeID(in.BSSID),
			Signal:   *in.Signal,
			Location: locator.NormalizeID(in.Location),
		}
	}

	if err := a.store.AppendSurveyRecords(ctx, records); err != nil {
		a.logger.ErrorContext(ctx, "failed to store survey records", slog.Any("error", xerrors.New(err)))
		writeJSONError(w, http.StatusInternalServerError, "failed to store survey records")
		return
	}

	resp := surveyResponse{Added: len(records)}
	if retrain, _ := strconv.ParseBool(r.URL.Query().Get("retrain")); retrain {
		model, err := a.trainer.Retrain(ctx)
		if err != nil {
			_, resp.RetrainError = retrainErrorStatus(err)
		} else {
			stats := model.Stats()
			resp.Stats = &stats
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *api) handleFixes(w http.ResponseWriter, r *http.Request) {
	limit := defaultFixLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	fixes, err := a.store.ListFixes(r.Context(), limit)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "failed to load fixes", slog.Any("error", xerrors.New(err)))
		writeJSONError(w, http.StatusInternalServerError, "failed to load fixes")
		return
	}
	writeJSON(w, http.StatusOK, fixes)
}

func (a *api) handleTestData(w http.ResponseWriter, r *http.Request) {
	rows, err := survey.ReadFile(a.testCSV)
	if errors.Is(err, os.ErrNotExist) {
		writeJSONError(w, http.StatusNotFound, "test data not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *api) handleUploadMap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	floor := chi.URLParam(r, "floor")

	if err := r.ParseMultipartForm(maxMapUpload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "no file part")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeJSONError(w, http.StatusBadRequest, "no selected file")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unable to read upload")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	if err := a.store.SaveMapImage(ctx, floor, contentType, data); err != nil {
		a.logger.ErrorContext(ctx, "failed to store map image", slog.Any("error", xerrors.New(err)))
		writeJSONError(w, http.StatusInternalServerError, "failed to store map image")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (a *api) handleMapImage(w http.ResponseWriter, r *http.Request) {
	m, err := a.store.LoadMapImage(r.Context(), chi.URLParam(r, "floor"))
	if errors.Is(err, db.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "map not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load map image")
		return
	}

	w.Header().Set("Content-Type", m.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(m.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(m.Data)
}

func (a *api) handleListLocations(w http.ResponseWriter, r *http.Request) {
	markers, err := a.store.ListLocations(r.Context(), chi.URLParam(r, "floor"))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load locations")
		return
	}
	writeJSON(w, http.StatusOK, markers)
}

func (a *api) handleSaveLocations(w http.ResponseWriter, r *http.Request) {
	var markers []models.LocationMarker
	if err := json.NewDecoder(r.Body).Decode(&markers); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := validate.Var(markers, "dive"); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := a.store.ReplaceLocations(r.Context(), chi.URLParam(r, "floor"), markers)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "failed to save locations", slog.Any("error", xerrors.New(err)))
		writeJSONError(w, http.StatusInternalServerError, "failed to save locations")
		return
	}
	writeJSON(w, http.StatusOK, locationsResponse{Success: true, Locations: stored})
}

func (a *api) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var marker models.LocationMarker
	if err := json.NewDecoder(r.Body).Decode(&marker); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := validate.Struct(marker); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	marker.ID = chi.URLParam(r, "id")

	err := a.store.UpdateLocation(r.Context(), marker)
	if errors.Is(err, db.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "location not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to update location")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (a *api) handleDeleteLocation(w http.ResponseWriter, r *http.Request) {
	err := a.store.DeleteLocation(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "location not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to delete location")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func serve(protocol, port string) {
	protocol = strings.ToLower(protocol)
	logger := utils.GetLogger()
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if port == "" {
		port = cfg.Port
	}

	store, err := db.NewStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Store.Type, err)
	}
	defer store.Close()

	classifier, err := locator.NewClassifier(cfg.K)
	if err != nil {
		log.Fatalf("invalid MODEL_K: %v", err)
	}
	trainer, err := training.NewTrainer(store, classifier, cfg.Policy)
	if err != nil {
		log.Fatalf("failed to create trainer: %v", err)
	}

	if err := trainer.Bootstrap(ctx, cfg.SurveyCSV); err != nil {
		logger.WarnContext(ctx, "no model available, predictions disabled until a retrain succeeds",
			slog.Any("error", xerrors.New(err)))
	}

	sched := scheduler.New(cfg.RetrainEvery, trainer)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	if cfg.MQTTBroker != "" {
		client, err := mqtt.NewClient(mqtt.ClientConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		})
		if err != nil {
			logger.ErrorContext(ctx, "mqtt disabled", slog.Any("error", xerrors.New(err)))
		} else {
			bridge := mqtt.NewBridge(client, mqtt.BridgeConfig{
				ScanTopic:     cfg.MQTTScanTopic,
				LocationTopic: cfg.MQTTLocationTopic,
			}, classifier, store)
			if err := bridge.Start(); err != nil {
				log.Fatalf("failed to start mqtt bridge: %v", err)
			}
			defer bridge.Close()
		}
	}

	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}

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
	registerSocketHandlers(server, newSocketController(classifier, store))

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	router := newRouter(newAPI(store, classifier, trainer, cfg.TestCSV), server)
	serveHTTP(protocol == "https", port, router)
}

func serveHTTP(serveHTTPS bool, port string, handler http.Handler) {
	if serveHTTPS {
		httpsAddr := ":" + port
		httpsServer := &http.Server{
			Addr: httpsAddr,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Handler: handler,
		}

		certKey := utils.GetEnv("CERT_KEY")
		certFile := utils.GetEnv("CERT_FILE")
		if certKey == "" || certFile == "" {
			log.Fatal("Missing cert")
		}

		log.Printf("Starting HTTPS server on %s\n", httpsAddr)
		if err := httpsServer.ListenAndServeTLS(certFile, certKey); err != nil {
			log.Fatalf("HTTPS server ListenAndServeTLS: %v", err)
		}
		return
	}

	log.Printf("Starting HTTP server on port %v", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("HTTP server ListenAndServe: %v", err)
	}
}

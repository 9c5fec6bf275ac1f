package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"

	"findmyway/locator"
	"findmyway/models"
	"findmyway/utils"
)

// emitter is the part of a socket.io connection the controller talks to.
type emitter interface {
	ID() string
	Emit(eventName string, v ...interface{})
}

type modelInfo struct {
	Trained bool                `json:"trained"`
	Stats   *locator.ModelStats `json:"stats,omitempty"`
}

type socketController struct {
	classifier *locator.Classifier
	fixes      fixRecorder
	logger     *slog.Logger
}

func newSocketController(classifier *locator.Classifier, fixes fixRecorder) *socketController {
	return &socketController{classifier: classifier, fixes: fixes, logger: utils.GetLogger()}
}

func (c *socketController) emitModelInfo(socket emitter) {
	stats, err := c.classifier.Stats()
	if err != nil {
		socket.Emit("modelInfo", modelInfo{Trained: false})
		return
	}
	socket.Emit("modelInfo", modelInfo{Trained: true, Stats: &stats})
}

func (c *socketController) handleRequestModelInfo(socket emitter) {
	c.emitModelInfo(socket)
}

func (c *socketController) handleScan(socket emitter, msg string) {
	ctx := context.Background()

	if msg == "" {
		socket.Emit("locateError", apiError{Message: "no scan data received"})
		return
	}

	var req models.ScanRequest
	if err := json.Unmarshal([]byte(msg), &req); err != nil {
		c.logger.WarnContext(ctx, "failed to parse scan payload",
			slog.String("socketID", socket.ID()),
			slog.Any("error", xerrors.New(err)),
		)
		socket.Emit("locateError", apiError{Message: "invalid scan payload"})
		return
	}
	if err := validate.Struct(req); err != nil {
		socket.Emit("locateError", apiError{Message: err.Error()})
		return
	}
	if req.Device == "" {
		req.Device = socket.ID()
	}

	prediction, err := locate(ctx, c.classifier, c.fixes, "socket", req)
	if errors.Is(err, locator.ErrModelNotTrained) {
		socket.Emit("locateError", apiError{Message: "model not trained"})
		return
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to locate scan", slog.Any("error", xerrors.New(err)))
		socket.Emit("locateError", apiError{Message: "classifier error"})
		return
	}

	socket.Emit("location", prediction)
}

func registerSocketHandlers(server *socketio.Server, controller *socketController) {
	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		connURL := socket.URL()
		log.Printf("CONNECTED: %s, transport: %s, remote addr: %s\n", socket.ID(), connURL.String(), socket.RemoteAddr())
		controller.emitModelInfo(socket)
		return nil
	})

	server.OnEvent("/", "requestModelInfo", func(socket socketio.Conn) {
		controller.handleRequestModelInfo(socket)
	})

	server.OnEvent("/", "scan", func(socket socketio.Conn, msg string) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("panic in handleScan for socket %s: %v\n", socket.ID(), r)
					socket.Emit("locateError", apiError{Message: "internal server error during processing"})
				}
			}()
			controller.handleScan(socket, msg)
		}()
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"hallmidi/calibration"
	"hallmidi/control"
	"hallmidi/device"
	"hallmidi/settings"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server is the calibration and settings surface of the daemon:
//   - hallmidi-ctl (calibrate, set, reset, status)
//   - scripting and automation on the instrument's host
//
// Protocol: line-delimited JSON, see package control.
// Every request runs on the device loop between two scan passes.
// ============================================================================

// Controller is the part of *device.Device the IPC server drives.
type Controller interface {
	StartCalibration(ctx context.Context) error
	FinishCalibration(ctx context.Context) (calibration.Report, error)
	AbortCalibration(ctx context.Context) error
	UpdateSettings(ctx context.Context, mutate func(*settings.Settings) error) (settings.Settings, error)
	ResetSettings(ctx context.Context) (settings.Settings, error)
	Snapshot(ctx context.Context) (device.Snapshot, error)
}

// runIPCServer serves socketPath until ctx is canceled, then closes the
// listener and removes the socket file.
func runIPCServer(ctx context.Context, socketPath string, ctrl Controller, channels int, logger *slog.Logger) error {
	// Remove a stale socket left by a previous run.
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	h := &ipcHandler{ctrl: ctrl, channels: channels, logger: logger}
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go h.serve(ctx, conn)
	}
}

type ipcHandler struct {
	ctrl     Controller
	channels int
	logger   *slog.Logger
}

// serve processes request lines until the client hangs up.
func (h *ipcHandler) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	h.logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		h.logger.Debug("IPC received", "line", line)

		var resp control.Response
		ev, err := control.UnmarshalEvent([]byte(line))
		if err != nil {
			resp = errorResponse(fmt.Errorf("parse event: %w", err))
		} else {
			reqCtx, cancel := context.WithTimeout(ctx, ipcRequestTimeout)
			resp = h.handle(reqCtx, ev)
			cancel()
		}

		if encErr := encoder.Encode(resp); encErr != nil {
			h.logger.Error("IPC failed to send response", "error", encErr)
			return
		}
	}

	h.logger.Debug("IPC connection closed")
}

// handle executes one event against the controller.
func (h *ipcHandler) handle(ctx context.Context, ev control.Event) control.Response {
	var (
		data any
		err  error
	)

	switch e := ev.(type) {
	case control.CalibrationStart:
		err = h.ctrl.StartCalibration(ctx)

	case control.CalibrationFinish:
		var rep calibration.Report
		rep, err = h.ctrl.FinishCalibration(ctx)
		data = rep

	case control.CalibrationAbort:
		err = h.ctrl.AbortCalibration(ctx)

	case control.SettingsUpdate:
		if e.Empty() {
			return errorResponse(errors.New("settings_update has no fields set"))
		}
		var s settings.Settings
		s, err = h.ctrl.UpdateSettings(ctx, e.Apply)
		data = control.NewSettingsView(s, h.channels)

	case control.SettingsReset:
		var s settings.Settings
		s, err = h.ctrl.ResetSettings(ctx)
		data = control.NewSettingsView(s, h.channels)

	case control.StatusRequest:
		var snap device.Snapshot
		snap, err = h.ctrl.Snapshot(ctx)
		data = control.NewStatus(snap)

	default:
		err = fmt.Errorf("unhandled event %T", ev)
	}

	if err != nil {
		h.logger.Info("IPC request failed", "event", fmt.Sprintf("%T", ev), "error", err)
		return errorResponse(err)
	}

	resp := control.Response{Status: "ok"}
	if data != nil {
		raw, mErr := json.Marshal(data)
		if mErr != nil {
			return errorResponse(fmt.Errorf("marshal response: %w", mErr))
		}
		resp.Data = raw
	}
	return resp
}

func errorResponse(err error) control.Response {
	return control.Response{Status: "error", Error: err.Error()}
}

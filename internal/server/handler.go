// Package server provides the WebSocket command surface for the capture service.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
)

// DecodeAndValidate decodes the command payload into data and validates it.
// It reports false after replying with the failure. An absent payload
// decodes as an empty object.
func DecodeAndValidate[T any](cmd WSCommand, send chan<- any, data *T) bool {
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, data); err != nil {
			SendError(send, cmd, fmt.Errorf("invalid JSON: %w", err))
			return false
		}
	}
	if err := util.ValidateStruct(data); err != nil {
		SendError(send, cmd, err)
		return false
	}
	return true
}

// HandleCommand decodes the payload into T, runs process, and replies with its result.
func HandleCommand[T any](cmd WSCommand, send chan<- any, process func(*T) (any, error)) {
	var data T
	if !DecodeAndValidate(cmd, send, &data) {
		return
	}
	result, err := process(&data)
	reply(send, cmd, result, err)
}

// HandleActionAsync runs action on its own goroutine and replies when it returns.
func HandleActionAsync(cmd WSCommand, send chan<- any, action func() (any, error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in async handler", "command", cmd.Type, "panic", r)
				SendError(send, cmd, errors.New("internal error"))
			}
		}()
		result, err := action()
		reply(send, cmd, result, err)
	}()
}

// SendSuccess replies to cmd with an optional payload.
func SendSuccess(send chan<- any, cmd WSCommand, data any) {
	reply(send, cmd, data, nil)
}

// SendError replies to cmd with a failure. Validation failures keep their
// per-field detail, anything else is reported as its message.
func SendError(send chan<- any, cmd WSCommand, err error) {
	reply(send, cmd, nil, err)
}

func reply(send chan<- any, cmd WSCommand, data any, err error) {
	res := types.WSCommandResult{
		Type:    cmd.Type + "_result",
		ID:      cmd.ID,
		Success: err == nil,
		Data:    data,
	}
	if err != nil {
		res.Data = nil
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			res.Error = verr
		} else {
			res.Error = err.Error()
		}
	}
	trySend(send, cmd.Type, res)
}

// SendData pushes an unsolicited message to the client.
func SendData(send chan<- any, data any) {
	trySend(send, "data", data)
}

// trySend delivers msg without blocking and drops it when the client lags.
func trySend(send chan<- any, kind string, msg any) {
	select {
	case send <- msg:
	default:
		slog.Warn("dropped WebSocket message: client send buffer full", "type", kind)
	}
}

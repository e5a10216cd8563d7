package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/canvas-studio/engine/internal/api/types"
	"github.com/canvas-studio/engine/internal/api/validators"
	"github.com/canvas-studio/engine/internal/hub"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"github.com/canvas-studio/engine/pkg/logger"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies; a full graph is the largest payload.
const maxBodyBytes = 8 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.APIResponse{Success: true, Data: data})
}

// writeError picks the status from the error's code.
func writeError(w http.ResponseWriter, err error) {
	status := types.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, types.APIResponse{Success: false, Error: types.FromAppError(err)})
}

func writeErrorStr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.APIResponse{Success: false, Error: &types.APIError{Code: string(appErr.CodeInvalid), Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return appErr.New(appErr.CodeInvalid, "request body is empty")
		}
		return appErr.Wrap(err, appErr.CodeInvalid, "invalid json")
	}
	return nil
}

// decode reads a JSON body into dst and runs struct validation on it.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil {
		return err
	}
	if err := validators.New().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return appErr.Wrap(err, appErr.CodeInvalid, "validation failed").WithMeta("fields", fields)
		}
		return appErr.Wrap(err, appErr.CodeInvalid, err.Error())
	}
	return nil
}

// actingUser is the user a plain API request acts for, if the caller said.
func actingUser(r *http.Request) string {
	return r.Header.Get(types.UserIDHeader)
}

// publish fans a server-side change out to the workspace, leaving out the
// user who made it.
func publish(h *hub.Hub, typ hub.MessageType, workspaceID, userID string, payload any) {
	if h == nil {
		return
	}
	msg, err := hub.NewMessage(typ, workspaceID, userID, payload)
	if err != nil {
		logger.L().Error("encode hub message failed", zap.String("workspace_id", workspaceID), zap.Error(err))
		return
	}
	h.Publish(msg, userID)
}

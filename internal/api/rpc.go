package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxInputBytes = 1 << 20

type procedureKind int

const (
	kindQuery procedureKind = iota
	kindMutation
)

type procedureFunc func(w http.ResponseWriter, r *http.Request, raw []byte) (any, error)

type procedure struct {
	kind procedureKind
	call procedureFunc
}

// query procedures are read with GET and take their input from ?input=.
func query(fn procedureFunc) procedure { return procedure{kind: kindQuery, call: fn} }

// mutation procedures are called with POST and a JSON body.
func mutation(fn procedureFunc) procedure { return procedure{kind: kindMutation, call: fn} }

// bind decodes a procedure input. An absent input decodes to the zero value.
func bind[T any](raw []byte) (T, error) {
	var in T
	if len(bytes.TrimSpace(raw)) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, ErrBadRequest.WithDetails("input must be a JSON object")
	}
	return in, nil
}

// HandleProcedure dispatches /api/trpc/{procedure} calls.
func (h *APIHandler) HandleProcedure(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "procedure")
	proc, ok := h.procedures[name]
	if !ok {
		rpcCallsTotal.WithLabelValues("unknown", ErrNotFound.Code).Inc()
		writeRPCError(w, ErrNotFound.WithMessage("No procedure found on path \""+name+"\""))
		return
	}

	var raw []byte
	switch {
	case proc.kind == kindQuery && r.Method == http.MethodGet:
		raw = []byte(r.URL.Query().Get("input"))
	case proc.kind == kindMutation && r.Method == http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInputBytes))
		if err != nil {
			h.finish(w, name, ErrBadRequest.WithDetails("request body too large or unreadable"))
			return
		}
		raw = body
	default:
		h.finish(w, name, ErrMethodNotAllowed)
		return
	}

	data, err := proc.call(w, r, raw)
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr == ErrInternal {
			h.log.Error("procedure failed",
				zap.String("procedure", name),
				zap.String("user_id", UserIDFromContext(r.Context())),
				zap.Error(err))
		}
		h.finish(w, name, rpcErr)
		return
	}

	rpcCallsTotal.WithLabelValues(name, "OK").Inc()
	writeResult(w, data)
}

func (h *APIHandler) finish(w http.ResponseWriter, name string, err *RPCError) {
	rpcCallsTotal.WithLabelValues(name, err.Code).Inc()
	writeRPCError(w, err)
}

// decodeBody reads a JSON request body for the plain REST endpoints.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxInputBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

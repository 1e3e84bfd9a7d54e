package handlers

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pricesync/pricesync/internal/pricesync"
	"github.com/pricesync/pricesync/internal/server/events"
	"github.com/pricesync/pricesync/internal/server/response"
	"github.com/pricesync/pricesync/pkg/constants"
	"github.com/pricesync/pricesync/pkg/errors"
	"github.com/pricesync/pricesync/pkg/feed"
	"github.com/pricesync/pricesync/pkg/logging"
)

// Multipart form fields of the sync and preview endpoints.
const (
	fieldFile           = "file"
	fieldOnlyIncrease   = "only_increase_cost"
	fieldFuzzy          = "fuzzy_match"
	fieldFuzzyThreshold = "fuzzy_threshold"
	fieldMarkup         = "markup_percent"
)

// HandleSync handles POST /api/sync.
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	h.handleRun(w, r, "sync")
}

// HandlePreview handles POST /api/preview.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	h.handleRun(w, r, "preview")
}

func (h *Handlers) handleRun(w http.ResponseWriter, r *http.Request, op string) {
	cred, ok := h.connected(r)
	if !ok {
		response.Forbidden(w, pricesync.MessageNotConnected, "")
		return
	}

	rows, opts, err := h.readUpload(w, r)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}

	ctx := logging.WithOperation(r.Context(), op)
	if op == "preview" {
		res := h.engine.RunPreview(ctx, cred.AccountID, rows, opts...)
		h.events.Publish(events.PreviewFinished, cred.AccountID, res)
		response.OK(w, res)
		return
	}
	res := h.engine.RunSync(ctx, cred.AccountID, rows, opts...)
	h.events.Publish(events.SyncFinished, cred.AccountID, res)
	response.OK(w, res)
}

// readUpload parses the multipart feed upload and the run options.
func (h *Handlers) readUpload(w http.ResponseWriter, r *http.Request) ([]feed.Row, []pricesync.Option, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return nil, nil, errors.NewValidationError(fieldFile, nil, "invalid multipart upload: "+err.Error())
	}

	file, header, err := r.FormFile(fieldFile)
	if err != nil {
		return nil, nil, errors.NewValidationError(fieldFile, nil, "a CSV file is required")
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		return nil, nil, errors.NewValidationError(fieldFile, header.Filename, "File must be a CSV")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, errors.WrapIO("read", header.Filename, err)
	}

	rows, err := feed.Parse(data)
	if err != nil {
		return nil, nil, err
	}

	opts, err := runOptions(r)
	if err != nil {
		return nil, nil, err
	}
	return rows, opts, nil
}

func runOptions(r *http.Request) ([]pricesync.Option, error) {
	onlyIncrease, err := formBool(r, fieldOnlyIncrease)
	if err != nil {
		return nil, err
	}
	fuzzy, err := formBool(r, fieldFuzzy)
	if err != nil {
		return nil, err
	}
	threshold, err := formFloat(r, fieldFuzzyThreshold, constants.DefaultFuzzyThreshold)
	if err != nil {
		return nil, err
	}
	markup, err := formFloat(r, fieldMarkup, 0)
	if err != nil {
		return nil, err
	}

	opts := []pricesync.Option{
		pricesync.WithOnlyIncrease(onlyIncrease),
		pricesync.WithMarkup(markup),
	}
	if fuzzy {
		opts = append(opts, pricesync.WithFuzzy(threshold))
	}
	return opts, nil
}

// formBool accepts the strconv boolean spellings plus HTML checkbox "on".
func formBool(r *http.Request, field string) (bool, error) {
	v := strings.TrimSpace(r.FormValue(field))
	switch strings.ToLower(v) {
	case "":
		return false, nil
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.NewValidationError(field, v, "must be a boolean")
	}
	return b, nil
}

func formFloat(r *http.Request, field string, def float64) (float64, error) {
	v := strings.TrimSpace(r.FormValue(field))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.NewValidationError(field, v, "must be a number")
	}
	return f, nil
}

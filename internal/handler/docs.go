package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// DocsHandler serves the OpenAPI description of the API.
type DocsHandler struct {
	yaml []byte
	json []byte
}

// NewDocsHandler parses and validates spec, an OpenAPI 3 document in YAML,
// and prepares its JSON rendering.
func NewDocsHandler(spec []byte) (*DocsHandler, error) {
	doc, err := openapi3.NewLoader().LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}

	rendered, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("render openapi document: %w", err)
	}

	return &DocsHandler{yaml: spec, json: rendered}, nil
}

// YAML serves the document as written.
// GET /docs
func (h *DocsHandler) YAML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.yaml)
}

// JSON serves the document rendered as JSON.
// GET /docs/openapi.json
func (h *DocsHandler) JSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.json)
}

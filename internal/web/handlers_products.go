package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalog-import/internal/core"
)

// maxProductBody caps a single-product JSON body.
const maxProductBody = 64 << 10

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.Product(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCreateProduct inserts one product. A SKU already in the catalog,
// in any casing, is a 409.
func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	in, err := decodeProduct(w, r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	rec, err := s.service.CreateProduct(WithRequestMetadata(r.Context(), r), in)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	w.Header().Set("Location", "/api/products/"+url.PathEscape(rec.SKU))
	writeJSON(w, http.StatusCreated, rec)
}

// handleUpdateProduct overwrites the product named in the path.
func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	in, err := decodeProduct(w, r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	rec, err := s.service.UpdateProduct(WithRequestMetadata(r.Context(), r), chi.URLParam(r, "sku"), in)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteProduct removes a product and returns the deleted record.
func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := WithRequestMetadata(r.Context(), r)
	rec, err := s.service.DeleteProduct(ctx, chi.URLParam(r, "sku"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func decodeProduct(w http.ResponseWriter, r *http.Request) (core.ProductInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxProductBody)

	var in core.ProductInput
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		// Wrapped with %w so an oversized body still maps to 413.
		return in, fmt.Errorf("%w: %w", core.ErrInvalidBody, err)
	}
	return in, nil
}

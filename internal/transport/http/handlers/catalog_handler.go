package handlers

import (
	"errors"
	"net/http"

	"github.com/missionhub/backend/internal/domain/money"
	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
	authsvc "github.com/missionhub/backend/internal/services/auth"
	catalogsvc "github.com/missionhub/backend/internal/services/catalog"
	"github.com/missionhub/backend/internal/transport/http/dto"
	httperrors "github.com/missionhub/backend/internal/transport/http/errors"
)

type CatalogHandler struct {
	catalog *catalogsvc.Service
}

func NewCatalogHandler(catalog *catalogsvc.Service) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

func (h *CatalogHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	var req dto.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	rec, err := h.catalog.CreateProduct(r.Context(), identity.UserID, req.Name, req.Description, req.Price)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrValidation) {
			writeBadRequest(w, "VALIDATION_ERROR", "name and a positive decimal price are required")
		} else {
			writeInternal(w, "INTERNAL_ERROR", "failed to create product")
		}
		return
	}

	httperrors.Write(w, http.StatusCreated, productResponse(rec))
}

func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid product id")
		return
	}
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	rec, err := h.catalog.Product(r.Context(), productID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrProductNotFound) {
			writeNotFound(w, "PRODUCT_NOT_FOUND", "product not found or unavailable")
		} else {
			writeInternal(w, "INTERNAL_ERROR", "failed to load product")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, productResponse(rec))
}

// Delete removes one of the caller's own listings. Products with
// purchase history cannot be removed, only delisted.
func (h *CatalogHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}
	productID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid product id")
		return
	}

	if err := h.catalog.DeleteProduct(r.Context(), productID, identity.UserID); err != nil {
		switch {
		case errors.Is(err, catalogsvc.ErrProductNotFound):
			writeNotFound(w, "PRODUCT_NOT_FOUND", "product not found")
		case errors.Is(err, catalogsvc.ErrProductInUse):
			writeConflict(w, "PRODUCT_IN_USE", "product has purchase history and cannot be deleted")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to delete product")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.OKResponse{OK: true})
}

func productResponse(rec pgrepo.ProductRecord) dto.ProductResponse {
	return dto.ProductResponse{
		ID:          rec.ID,
		SellerID:    rec.SellerID,
		Name:        rec.Name,
		Description: rec.Description,
		Price:       money.Format(rec.Price),
		Available:   rec.Available,
		CreatedAt:   rec.CreatedAt,
	}
}

package catalog

import (
	"net/http"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/response"
	"github.com/finanspro/dbo/internal/store"
	"github.com/finanspro/dbo/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type CatalogHandler struct {
	Service *CatalogService
}

func NewCatalogHandler(service *CatalogService) *CatalogHandler {
	return &CatalogHandler{
		Service: service,
	}
}

// ListServices handles GET /services?category=&price=&q=&sort=
func (ch *CatalogHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	services, err := ch.Service.List(r.Context(), sess, ListInput{
		Category:  q.Get("category"),
		PriceBand: store.PriceBand(q.Get("price")),
		Search:    q.Get("q"),
		Sort:      store.CatalogSort(q.Get("sort")),
	})
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, types.NewListResponse(services))
}

func (ch *CatalogHandler) GetService(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, apperror.Validation("invalid service id"))
		return
	}

	service, err := ch.Service.Get(r.Context(), sess, id)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, service)
}

func (ch *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	sess, ok := response.Session(w, r)
	if !ok {
		return
	}

	categories, err := ch.Service.Categories(r.Context(), sess)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	middleware.GetLogger(r.Context()).Debug().Int("count", len(categories)).Msg("Categories listed")
	response.JSON(w, http.StatusOK, types.NewListResponse(categories))
}

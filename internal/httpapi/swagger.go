//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// apiDoc is served until `swag init` output replaces it.
const apiDoc = `{
  "swagger": "2.0",
  "info": {"title": "meshd API", "description": "HTTP API for mesh adaptation.", "version": "1.0"},
  "basePath": "/",
  "paths": {}
}`

type staticDoc struct{}

func (staticDoc) ReadDoc() string { return apiDoc }

func init() {
	if _, err := swag.ReadDoc(); err != nil {
		swag.Register(swag.Name, staticDoc{})
	}
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.WrapHandler)
}

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

// docInstance is the swag instance name the swagger UI reads.
const docInstance = "conduit"

const referencePage = `<!doctype html>
<html>
<head>
  <title>Conduit API Reference</title>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
</head>
<body>
  <script id="api-reference" data-url="/swagger.json"></script>
  <script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>
`

// mountDocs adds the documentation endpoints every router carries.
func (c *Channel) mountDocs(r chi.Router) {
	r.Get("/swagger.json", func(w http.ResponseWriter, _ *http.Request) {
		writeRaw(w, http.StatusOK, c.doc.Bytes())
	})
	r.Get("/swagger", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/swagger/index.html", http.StatusMovedPermanently)
	})
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
		httpSwagger.InstanceName(docInstance),
	))
	r.Get("/reference", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(referencePage))
	})
}

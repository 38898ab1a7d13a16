package api

import (
	_ "embed"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

//go:embed openapi.yaml
var openapiSpec string

// SpecHandler serves the OpenAPI YAML spec with any runtime placeholders
// replaced. The embedded file contains {oktaIssuer} so clients don't have to
// know the actual tenant or issuer URL; we substitute it here before returning.
func SpecHandler(oktaIssuer string) echo.HandlerFunc {
	spec := []byte(strings.ReplaceAll(openapiSpec, "{oktaIssuer}", oktaIssuer))
	return func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/yaml", spec)
	}
}

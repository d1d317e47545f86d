// SPDX-License-Identifier: MIT

// Package openapi embeds the API documents and serves the docs endpoints.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed gateway.json
var gatewaySpec []byte

//go:embed radio.json
var radioSpec []byte

// ValidateGateway parses and validates the embedded gateway document.
// Called at startup so a broken document fails the boot, not a request.
func ValidateGateway(ctx context.Context) error {
	return validate(ctx, gatewaySpec)
}

// ValidateRadio parses and validates the embedded radio document.
func ValidateRadio(ctx context.Context) error {
	return validate(ctx, radioSpec)
}

func validate(ctx context.Context, data []byte) error {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("validate openapi document: %w", err)
	}
	return nil
}

// ServeGatewayJSON serves the raw gateway document.
func ServeGatewayJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(gatewaySpec)
}

// ServeRadioJSON serves the raw radio document.
func ServeRadioJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(radioSpec)
}

const docsHTML = `<!DOCTYPE html>
<html>
<head>
  <title>wavegate API</title>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
  window.onload = () => {
    SwaggerUIBundle({
      url: "/api/docs/json",
      dom_id: "#swagger-ui",
    });
  };
</script>
</body>
</html>`

// ServeDocs serves a minimal Swagger UI shell pointed at the JSON endpoint.
func ServeDocs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(docsHTML))
}

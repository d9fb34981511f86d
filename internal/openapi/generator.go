// Package openapi builds the service's OpenAPI document with kin-openapi
// and serves it at /openapi.json.
package openapi

import (
	"encoding/json"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// GenerateSpec builds the OpenAPI 3.1 document for the key issuance and
// verification API.
func GenerateSpec(baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Keygate API",
			Description: "API key issuance and verification for MCP clients.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "opaque API key",
		},
	}
	doc.Components.SecuritySchemes["session"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}
	doc.Components.Schemas["VerifySuccess"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"valid": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
				"user": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"id":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "uuid"}},
							"email": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "email"}},
							"plan":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						},
					},
				},
				"licenses": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: &openapi3.SchemaRef{Ref: "#/components/schemas/License"},
					},
				},
				"themes": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"free":     stringArraySchema(),
							"licensed": stringArraySchema(),
						},
					},
				},
			},
		},
	}
	doc.Components.Schemas["VerifyFailure"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"valid":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
				"error":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"message":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"retryAfter": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}},
			},
		},
	}
	doc.Components.Schemas["License"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"themeId":   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"tier":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []interface{}{"single", "bundle", "trial"}}},
				"isActive":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
				"expiresAt": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string", "null"}, Format: "date-time"}},
			},
		},
	}
	doc.Components.Schemas["APIKeySummary"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":         &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "uuid"}},
				"prefix":     &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"label":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"createdAt":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}},
				"lastUsedAt": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string", "null"}, Format: "date-time"}},
				"expiresAt":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string", "null"}, Format: "date-time"}},
				"revokedAt":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string", "null"}, Format: "date-time"}},
			},
		},
	}

	doc.Paths = openapi3.NewPaths()
	addVerifyPath(doc)
	addSessionPaths(doc)
	addKeyPaths(doc)

	return doc
}

func addVerifyPath(doc *openapi3.T) {
	op := openapi3.NewOperation()
	op.OperationID = "verifyAPIKey"
	op.Summary = "Verify an API key"
	op.Description = "Validates the bearer API key and returns the holder's identity and theme entitlements."
	op.Tags = []string{"mcp"}
	op.Security = &openapi3.SecurityRequirements{{"apiKey": {}}}
	op.Responses = openapi3.NewResponses()
	op.Responses.Set("200", jsonResponse("Credential is valid", "#/components/schemas/VerifySuccess"))
	op.Responses.Set("401", jsonResponse("Credential rejected", "#/components/schemas/VerifyFailure"))
	op.Responses.Set("429", jsonResponse("Rate limit exceeded", "#/components/schemas/VerifyFailure"))
	op.Responses.Set("500", jsonResponse("Verification backend unavailable", "#/components/schemas/VerifyFailure"))

	pi := &openapi3.PathItem{Get: op}
	doc.Paths.Set("/api/mcp/verify", pi)
}

func addSessionPaths(doc *openapi3.T) {
	login := openapi3.NewOperation()
	login.OperationID = "login"
	login.Summary = "Create a session"
	login.Tags = []string{"session"}
	login.RequestBody = &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().WithJSONSchema(&openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"email", "password"},
			Properties: openapi3.Schemas{
				"email":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "email"}},
				"password": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "password"}},
			},
		}),
	}
	login.Responses = openapi3.NewResponses()
	login.Responses.Set("200", plainResponse("Session token issued"))
	login.Responses.Set("401", jsonResponse("Invalid credentials", "#/components/schemas/ErrorResponse"))

	logout := openapi3.NewOperation()
	logout.OperationID = "logout"
	logout.Summary = "End the session"
	logout.Tags = []string{"session"}
	logout.Responses = openapi3.NewResponses()
	logout.Responses.Set("200", plainResponse("Session cookie cleared"))

	doc.Paths.Set("/api/user/session", &openapi3.PathItem{Post: login, Delete: logout})
}

func addKeyPaths(doc *openapi3.T) {
	list := openapi3.NewOperation()
	list.OperationID = "listAPIKeys"
	list.Summary = "List API keys"
	list.Tags = []string{"keys"}
	list.Security = &openapi3.SecurityRequirements{{"session": {}}}
	list.Responses = openapi3.NewResponses()
	list.Responses.Set("200", plainResponse("The caller's keys, hashes excluded"))
	list.Responses.Set("401", jsonResponse("Session required", "#/components/schemas/ErrorResponse"))

	create := openapi3.NewOperation()
	create.OperationID = "createAPIKey"
	create.Summary = "Create an API key"
	create.Description = "Mints a new key. The plaintext appears in this response only."
	create.Tags = []string{"keys"}
	create.Security = &openapi3.SecurityRequirements{{"session": {}}}
	create.RequestBody = &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().WithJSONSchema(&openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"label"},
			Properties: openapi3.Schemas{
				"label":     &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, MaxLength: uint64Ptr(100)}},
				"expiresAt": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string", "null"}, Format: "date-time"}},
			},
		}),
	}
	create.Responses = openapi3.NewResponses()
	create.Responses.Set("201", plainResponse("Key created; plaintext returned once"))
	create.Responses.Set("400", jsonResponse("Invalid request", "#/components/schemas/ErrorResponse"))
	create.Responses.Set("409", jsonResponse("Key quota reached", "#/components/schemas/ErrorResponse"))

	doc.Paths.Set("/api/user/api-keys", &openapi3.PathItem{Get: list, Post: create})

	revoke := openapi3.NewOperation()
	revoke.OperationID = "revokeAPIKey"
	revoke.Summary = "Revoke an API key"
	revoke.Description = "Revocation is immediate and permanent."
	revoke.Tags = []string{"keys"}
	revoke.Security = &openapi3.SecurityRequirements{{"session": {}}}
	revoke.AddParameter(&openapi3.Parameter{
		Name:     "keyID",
		In:       "path",
		Required: true,
		Schema:   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "uuid"}},
	})
	revoke.Responses = openapi3.NewResponses()
	revoke.Responses.Set("200", plainResponse("Key revoked"))
	revoke.Responses.Set("404", jsonResponse("Key not found", "#/components/schemas/ErrorResponse"))

	doc.Paths.Set("/api/user/api-keys/{keyID}", &openapi3.PathItem{Delete: revoke})
}

func jsonResponse(description, ref string) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription(description).
			WithContent(openapi3.NewContentWithJSONSchemaRef(&openapi3.SchemaRef{Ref: ref})),
	}
}

func plainResponse(description string) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription(description),
	}
}

func stringArraySchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
		},
	}
}

func uint64Ptr(v uint64) *uint64 { return &v }

// Handler serves the generated document. The spec is static, so it is
// built once at route setup.
func Handler() http.HandlerFunc {
	doc := GenerateSpec("/")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(doc)
	}
}

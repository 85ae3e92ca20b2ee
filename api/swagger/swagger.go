package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Request Portal API",
        "description": "University request portal: request lifecycle, timeline ledger and permissions",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Auth", "description": "Login and token rotation"},
        {"name": "Requests", "description": "Request lifecycle operations"},
        {"name": "Timeline", "description": "Append-only request history"},
        {"name": "Attachments", "description": "File uploads and signed downloads"},
        {"name": "Directory", "description": "Units, categories and the status catalog"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Exchange credentials for a token pair",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token pair", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Rotate a refresh token",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/RefreshTokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token pair", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Refresh token revoked or expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Auth"],
                "summary": "Revoke a refresh token",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/RefreshTokenRequest"}}
                ],
                "responses": {
                    "204": {"description": "Revoked"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Current user with unit memberships",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "User", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/catalog": {
            "get": {
                "tags": ["Directory"],
                "summary": "Status and priority catalog with its version",
                "responses": {
                    "200": {"description": "Catalog", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/units": {
            "get": {
                "tags": ["Directory"],
                "summary": "List units",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "Units", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/categories": {
            "get": {
                "tags": ["Directory"],
                "summary": "List categories",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "query", "name": "unitId", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Categories", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests": {
            "get": {
                "tags": ["Requests"],
                "summary": "List requests visible to the caller",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "query", "name": "scope", "type": "string", "enum": ["mine", "assigned", "unit", "all"]},
                    {"in": "query", "name": "status", "type": "array", "items": {"type": "integer"}, "collectionFormat": "multi"},
                    {"in": "query", "name": "unitId", "type": "string"},
                    {"in": "query", "name": "search", "type": "string"},
                    {"in": "query", "name": "page", "type": "integer"},
                    {"in": "query", "name": "page_size", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Requests", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Requests"],
                "summary": "Raise a request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/CreateRequestInput"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Only students may raise requests", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}": {
            "get": {
                "tags": ["Requests"],
                "summary": "Request detail with allowed actions",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/timeline": {
            "get": {
                "tags": ["Timeline"],
                "summary": "Ordered timeline entries",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Entries", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/timeline/export": {
            "get": {
                "tags": ["Timeline"],
                "summary": "Download the timeline transcript",
                "security": [{"BearerAuth": []}],
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "query", "name": "format", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Transcript file"}
                }
            }
        },
        "/requests/{id}/responses": {
            "post": {
                "tags": ["Requests"],
                "summary": "Add a comment with an optional status change",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/AddResponseInput"}}
                ],
                "responses": {
                    "201": {"description": "Entry appended", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request is closed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Request busy, retry", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/take-ownership": {
            "post": {
                "tags": ["Requests"],
                "summary": "Officer takes an unassigned request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/assign": {
            "post": {
                "tags": ["Requests"],
                "summary": "Admin assigns a request to an officer",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/AssignInput"}}
                ],
                "responses": {
                    "200": {"description": "Transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/transfer": {
            "post": {
                "tags": ["Requests"],
                "summary": "Hand a request to another officer of the unit",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/TransferInput"}}
                ],
                "responses": {
                    "200": {"description": "Transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/priority": {
            "put": {
                "tags": ["Requests"],
                "summary": "Change the priority",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/PriorityInput"}}
                ],
                "responses": {
                    "200": {"description": "Transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/cancel": {
            "post": {
                "tags": ["Requests"],
                "summary": "Requester cancels an open request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "schema": {"$ref": "#/definitions/CancelInput"}}
                ],
                "responses": {
                    "200": {"description": "Transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/reconcile": {
            "get": {
                "tags": ["Timeline"],
                "summary": "Compare stored status with a timeline replay",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attachments": {
            "post": {
                "tags": ["Attachments"],
                "summary": "Upload a file for a later request or response",
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"in": "formData", "name": "file", "required": true, "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Attachment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attachments/{id}/download": {
            "get": {
                "tags": ["Attachments"],
                "summary": "Issue a signed download link",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "query", "name": "redirect", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "Signed link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "302": {"description": "Redirect to the signed link"}
                }
            }
        },
        "/files/{token}": {
            "get": {
                "tags": ["Attachments"],
                "summary": "Stream a file through a signed token",
                "parameters": [
                    {"in": "path", "name": "token", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File body"},
                    "403": {"description": "Link invalid or expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "RefreshTokenRequest": {
            "type": "object",
            "required": ["refresh_token"],
            "properties": {
                "refresh_token": {"type": "string"}
            }
        },
        "CreateRequestInput": {
            "type": "object",
            "required": ["title", "description", "categoryId", "unitId"],
            "properties": {
                "title": {"type": "string", "maxLength": 200},
                "description": {"type": "string"},
                "categoryId": {"type": "string"},
                "unitId": {"type": "string"},
                "attachmentIds": {"type": "array", "items": {"type": "string"}}
            }
        },
        "AddResponseInput": {
            "type": "object",
            "properties": {
                "comment": {"type": "string"},
                "newStatusId": {"type": "integer"},
                "attachmentIds": {"type": "array", "items": {"type": "string"}}
            }
        },
        "AssignInput": {
            "type": "object",
            "required": ["officerId"],
            "properties": {
                "officerId": {"type": "string"}
            }
        },
        "TransferInput": {
            "type": "object",
            "required": ["targetOfficerId"],
            "properties": {
                "targetOfficerId": {"type": "string"},
                "comment": {"type": "string"}
            }
        },
        "PriorityInput": {
            "type": "object",
            "required": ["priorityId"],
            "properties": {
                "priorityId": {"type": "integer"}
            }
        },
        "CancelInput": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "retryable": {"type": "boolean"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

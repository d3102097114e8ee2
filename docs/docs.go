// Package docs registers the OpenAPI document served at /swagger/*any.
// Regenerate with `swag init -g cmd/server/main.go` after changing handler
// annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/payments/mpesa/stk-push": {
            "post": {
                "description": "Supports idempotency via the Idempotency-Key header (same key → same transaction, no second prompt).",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Payments"],
                "summary": "Initiate an STK push",
                "operationId": "stkPush",
                "parameters": [
                    {"type": "string", "description": "Business id", "name": "X-Business-ID", "in": "header"},
                    {"type": "string", "description": "Idempotency key for safe retries", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Payment request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.STKPushRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.STKPushResponse"}, "headers": {"Idempotency-Replayed": {"type": "string", "description": "true when served from a previous request"}}},
                    "400": {"description": "Validation or provider failure", "schema": {"$ref": "#/definitions/handlers.STKPushResponse"}},
                    "429": {"description": "Too many requests", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/payments/mpesa/query-status": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Payments"],
                "summary": "Query the provider for a transaction's status",
                "operationId": "queryStatus",
                "parameters": [
                    {"type": "string", "description": "Business id", "name": "X-Business-ID", "in": "header"},
                    {"description": "Lookup", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.QueryStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.QueryStatusResponse"}},
                    "400": {"description": "Missing lookup", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Transaction not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/payments/mpesa/expire": {
            "post": {
                "description": "Meant to be called by an external scheduler.",
                "produces": ["application/json"],
                "tags": ["Payments"],
                "summary": "Expire overdue transactions",
                "operationId": "expireStale",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ExpireResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/payment-requests": {
            "get": {
                "description": "Newest first, scoped to the calling business.",
                "produces": ["application/json"],
                "tags": ["PaymentRequests"],
                "summary": "List payment requests",
                "operationId": "listPaymentRequests",
                "parameters": [
                    {"type": "string", "description": "Business id", "name": "X-Business-ID", "in": "header"},
                    {"type": "integer", "default": 1, "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "maximum": 100, "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListPaymentRequestsResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/payment-requests/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["PaymentRequests"],
                "summary": "Get a payment request",
                "operationId": "getPaymentRequest",
                "parameters": [
                    {"type": "string", "description": "Business id", "name": "X-Business-ID", "in": "header"},
                    {"type": "string", "format": "uuid", "description": "Payment request ID (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.PaymentRequest"}},
                    "404": {"description": "Payment request not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/transactions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Transactions"],
                "summary": "List transactions",
                "operationId": "listTransactions",
                "parameters": [
                    {"type": "string", "description": "Business id", "name": "X-Business-ID", "in": "header"},
                    {"type": "string", "description": "ETag from a previous response", "name": "If-None-Match", "in": "header"},
                    {"type": "string", "description": "Status filter", "name": "status", "in": "query"},
                    {"type": "string", "format": "date", "description": "First UTC day (YYYY-MM-DD)", "name": "start_date", "in": "query"},
                    {"type": "string", "format": "date", "description": "Last UTC day, inclusive (YYYY-MM-DD)", "name": "end_date", "in": "query"},
                    {"type": "integer", "default": 1, "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "maximum": 100, "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListTransactionsResponse"}},
                    "304": {"description": "Not Modified"},
                    "400": {"description": "Invalid filter", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/transactions/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Transactions"],
                "summary": "Get a transaction",
                "operationId": "getTransaction",
                "parameters": [
                    {"type": "string", "description": "Business id", "name": "X-Business-ID", "in": "header"},
                    {"type": "string", "format": "uuid", "description": "Transaction ID (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Transaction"}},
                    "404": {"description": "Transaction not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/transactions/{id}/status": {
            "get": {
                "description": "Returns the stored transaction; while it is still open the provider is queried first.",
                "produces": ["application/json"],
                "tags": ["Transactions"],
                "summary": "Current status of a transaction",
                "operationId": "transactionStatus",
                "parameters": [
                    {"type": "string", "description": "Business id", "name": "X-Business-ID", "in": "header"},
                    {"type": "string", "format": "uuid", "description": "Transaction ID (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.QueryStatusResponse"}},
                    "404": {"description": "Transaction not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.PaymentRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "owner": {"type": "string"},
                "conversation_id": {"type": "string"},
                "transaction_id": {"type": "string"},
                "reason": {"type": "string"},
                "created_at": {"type": "string"},
                "transaction": {"$ref": "#/definitions/domain.Transaction"}
            }
        },
        "domain.Transaction": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "owner": {"type": "string"},
                "amount": {"type": "number"},
                "currency": {"type": "string"},
                "reference": {"type": "string"},
                "description": {"type": "string"},
                "checkout_request_id": {"type": "string"},
                "merchant_request_id": {"type": "string"},
                "phone_number": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "processing", "success", "failed", "cancelled", "timeout"]},
                "mpesa_receipt_number": {"type": "string"},
                "error_message": {"type": "string"},
                "transaction_date": {"type": "string", "format": "date-time"},
                "expires_at": {"type": "string", "format": "date-time"},
                "conversation_id": {"type": "string"},
                "product_id": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "handlers.NotifyTarget": {
            "type": "object",
            "required": ["platform", "recipient"],
            "properties": {
                "platform": {"type": "string", "example": "whatsapp"},
                "recipient": {"type": "string", "example": "254712345678"}
            }
        },
        "handlers.STKPushRequest": {
            "type": "object",
            "required": ["phone_number"],
            "properties": {
                "phone_number": {"type": "string", "example": "0712345678"},
                "amount": {"type": "number", "example": 150},
                "account_reference": {"type": "string", "example": "ORDER-1042"},
                "description": {"type": "string", "example": "Blue sneakers"},
                "conversation_id": {"type": "string"},
                "product_id": {"type": "string"},
                "notify": {"$ref": "#/definitions/handlers.NotifyTarget"}
            }
        },
        "handlers.STKPushResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "transaction": {"$ref": "#/definitions/domain.Transaction"},
                "checkout_request_id": {"type": "string"},
                "customer_message": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "handlers.QueryStatusRequest": {
            "type": "object",
            "properties": {
                "checkout_request_id": {"type": "string"},
                "transaction_id": {"type": "string"}
            }
        },
        "handlers.QueryStatusResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "transaction": {"$ref": "#/definitions/domain.Transaction"},
                "provider_response": {"type": "object"},
                "provider_error": {"type": "string"}
            }
        },
        "handlers.ExpireResponse": {
            "type": "object",
            "properties": {
                "expired": {"type": "integer"}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"},
                "has_next": {"type": "boolean"}
            }
        },
        "handlers.ListPaymentRequestsResponse": {
            "type": "object",
            "properties": {
                "payment_requests": {"type": "array", "items": {"$ref": "#/definitions/domain.PaymentRequest"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.ListTransactionsResponse": {
            "type": "object",
            "properties": {
                "transactions": {"type": "array", "items": {"$ref": "#/definitions/domain.Transaction"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Payments Backend API",
	Description:      "M-Pesa STK push initiation, callback reconciliation and transaction reads.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

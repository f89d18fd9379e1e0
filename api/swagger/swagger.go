package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Instructor Dispatch API",
        "description": "Matches instructors to training slots and tracks the assignment lifecycle.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Assignments", "description": "Matcher, change sets and assignment lifecycle"},
        {"name": "Candidates", "description": "Open slots with eligible instructors"},
        {"name": "Distances", "description": "Cached travel distances and quota-limited backfill"}
    ],
    "paths": {
        "/assignments": {
            "get": {
                "tags": ["Assignments"],
                "summary": "List assignments in a date range",
                "parameters": [
                    {"name": "start", "in": "query", "required": true, "type": "string", "format": "date"},
                    {"name": "end", "in": "query", "required": true, "type": "string", "format": "date"},
                    {"name": "unitId", "in": "query", "type": "string"},
                    {"name": "instructorId", "in": "query", "type": "string"},
                    {"name": "state", "in": "query", "type": "array", "items": {"type": "string", "enum": ["PENDING", "ACCEPTED", "REJECTED", "CANCELED"]}, "collectionFormat": "multi"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid range", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/export": {
            "get": {
                "tags": ["Assignments"],
                "summary": "Export the assignment roster",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "start", "in": "query", "required": true, "type": "string", "format": "date"},
                    {"name": "end", "in": "query", "required": true, "type": "string", "format": "date"},
                    {"name": "unitId", "in": "query", "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Roster file", "schema": {"type": "file"}}
                }
            }
        },
        "/assignments/propose": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Run the auto-assignment matcher",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DateRange"}}
                ],
                "responses": {
                    "200": {"description": "Run summary", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid range", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Concurrent change, resubmit", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/changeset": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Apply a batch of manual edits",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ChangeSet"}}
                ],
                "responses": {
                    "200": {"description": "Per-category tallies", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "207": {"description": "Some categories failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Referenced slot, unit or assignment missing", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflicting state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Message not yet sent", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/respond": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Record an instructor response",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RespondRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated assignment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Unrecognized response", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Assignment not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflicting state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/cancel": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Cancel a pending or accepted assignment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignmentKey"}}
                ],
                "responses": {
                    "200": {"description": "Canceled assignment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflicting state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/confirm": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Confirm an accepted temporary assignment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignmentKey"}}
                ],
                "responses": {
                    "200": {"description": "Confirmed assignment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflicting state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/message-sent": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Report notification delivery",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MessageSentRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated assignment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/candidates": {
            "get": {
                "tags": ["Candidates"],
                "summary": "List open slots with eligible candidates",
                "parameters": [
                    {"name": "start", "in": "query", "required": true, "type": "string", "format": "date"},
                    {"name": "end", "in": "query", "required": true, "type": "string", "format": "date"}
                ],
                "responses": {
                    "200": {"description": "Slots and instructors", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid range", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/distances": {
            "get": {
                "tags": ["Distances"],
                "summary": "Get the cached distance of a pair",
                "parameters": [
                    {"name": "instructorId", "in": "query", "required": true, "type": "string"},
                    {"name": "unitId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Distance record", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not cached", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/distances/usage": {
            "get": {
                "tags": ["Distances"],
                "summary": "Report today's routing quota usage",
                "responses": {
                    "200": {"description": "Usage", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/distances/instructors/{id}/units": {
            "get": {
                "tags": ["Distances"],
                "summary": "List units within a distance range of an instructor",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "minKm", "in": "query", "type": "number"},
                    {"name": "maxKm", "in": "query", "required": true, "type": "number"}
                ],
                "responses": {
                    "200": {"description": "Unit IDs", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid range", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/distances/units/{id}/instructors": {
            "get": {
                "tags": ["Distances"],
                "summary": "List instructors within a distance range of a unit",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "minKm", "in": "query", "type": "number"},
                    {"name": "maxKm", "in": "query", "required": true, "type": "number"}
                ],
                "responses": {
                    "200": {"description": "Instructor IDs", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid range", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/distances/backfill": {
            "post": {
                "tags": ["Distances"],
                "summary": "Compute missing distances through the routing provider",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BackfillRequest"}}
                ],
                "responses": {
                    "200": {"description": "Backfill result, meta.quotaExhausted and meta.warning (QUOTA_EXHAUSTED) mark a partial run", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "207": {"description": "Stopped on a quota counter failure", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "DateRange": {
            "type": "object",
            "required": ["start", "end"],
            "properties": {
                "start": {"type": "string", "format": "date"},
                "end": {"type": "string", "format": "date"}
            }
        },
        "AssignmentKey": {
            "type": "object",
            "required": ["slotId", "instructorId"],
            "properties": {
                "slotId": {"type": "string"},
                "instructorId": {"type": "string"}
            }
        },
        "RespondRequest": {
            "type": "object",
            "required": ["slotId", "instructorId", "response"],
            "properties": {
                "slotId": {"type": "string"},
                "instructorId": {"type": "string"},
                "response": {"type": "string", "enum": ["ACCEPT", "REJECT"]}
            }
        },
        "MessageSentRequest": {
            "type": "object",
            "required": ["slotId", "instructorId"],
            "properties": {
                "slotId": {"type": "string"},
                "instructorId": {"type": "string"},
                "sent": {"type": "boolean"}
            }
        },
        "ChangeSet": {
            "type": "object",
            "properties": {
                "atomic": {"type": "boolean"},
                "add": {"type": "array", "items": {
                    "type": "object",
                    "properties": {
                        "slotId": {"type": "string"},
                        "instructorId": {"type": "string"},
                        "role": {"type": "string", "enum": ["HEAD", "SUPERVISOR"]},
                        "override": {"type": "boolean"}
                    }
                }},
                "remove": {"type": "array", "items": {"$ref": "#/definitions/AssignmentKey"}},
                "roleChanges": {"type": "array", "items": {
                    "type": "object",
                    "properties": {
                        "slotId": {"type": "string"},
                        "instructorId": {"type": "string"},
                        "role": {"type": "string", "enum": ["HEAD", "SUPERVISOR"]}
                    }
                }},
                "staffLockChanges": {"type": "array", "items": {
                    "type": "object",
                    "properties": {
                        "unitId": {"type": "string"},
                        "locked": {"type": "boolean"}
                    }
                }},
                "stateChanges": {"type": "array", "items": {
                    "type": "object",
                    "properties": {
                        "slotId": {"type": "string"},
                        "instructorId": {"type": "string"},
                        "state": {"type": "string", "enum": ["ACCEPTED"]}
                    }
                }}
            }
        },
        "BackfillRequest": {
            "type": "object",
            "properties": {
                "pairs": {"type": "array", "items": {
                    "type": "object",
                    "properties": {
                        "instructorId": {"type": "string"},
                        "unitId": {"type": "string"}
                    }
                }},
                "start": {"type": "string", "format": "date"},
                "end": {"type": "string", "format": "date"},
                "limit": {"type": "integer"}
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
                "status": {"type": "integer"}
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

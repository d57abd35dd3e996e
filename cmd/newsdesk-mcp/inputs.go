package main

// Input types for MCP tools. The SDK infers JSON Schema from these structs.
// Pointer types are optional; value types are required.

type newsSearchInput struct {
	Search   *string `json:"search,omitempty"    jsonschema:"Search terms matched against headline, summary, company name and ticker. Company and ticker also match approximately."`
	Page     *int    `json:"page,omitempty"      jsonschema:"Page number starting at 1 (default 1)"`
	PageSize *int    `json:"page_size,omitempty" jsonschema:"Records per page, at most 100 (default 20)"`
}

type limitInput struct {
	Limit *int `json:"limit,omitempty" jsonschema:"Maximum number of records to return (default 20)"`
}

type syncSetInput struct {
	Enabled bool `json:"enabled" jsonschema:"true to run scheduled queue sync, false to pause it"`
}

type emptyInput struct{}

// Package api contains tests that run against a real evidence-ingest server.
//
// These tests require the server to be running before execution.
//
// Usage:
//
//	# Start the server first
//	go run ./cmd/evidence-ingest serve
//
//	# Then run the API tests
//	go test -tags=api ./tests/api/... -v
//
// Environment Variables:
//
//	API_BASE_URL     - Base URL of the API server (default: http://localhost:8080)
//	API_KEY          - API key for authentication (default: test-api-key-for-development-only-32chars)
//	API_ARCHIVE_PATH - Archive path readable by the server; enables the ingestion test
package api

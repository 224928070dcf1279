package main

// General API documentation for swaggo. Run `swag init -g cmd/llmbridge/docs.go` to regenerate docs.
//
// @title           llmbridge API
// @version         1.0
// @description     HTTP and WebSocket bridge for on-device LLM inference.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http

// Package config provides centralized configuration management for keygate.
// It loads configuration from multiple sources, validates it, and exposes a
// type-safe struct to the server, the agent and the admin CLI.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//  1. Environment variables (highest priority)
//  2. YAML configuration file (KEYGATE_CONFIG or keygate.yaml)
//  3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern KEYGATE_<SECTION>_<FIELD>:
//
//	KEYGATE_SERVER_PORT=8080
//	KEYGATE_STORE_BACKEND=redis
//	KEYGATE_STORE_URL=redis://localhost:6379/0
//	KEYGATE_SECURITY_ADMIN_TOKEN=...
//	KEYGATE_SECURITY_SIGN_SECRET=...
//	KEYGATE_CLIENT_SERVER_URL=https://licenses.example.com
//
// Secrets have no defaults. ValidateServer and ValidateClient report the ones
// each binary needs.
package config

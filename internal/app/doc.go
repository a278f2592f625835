// Package app wires the keygate server together: configuration, logging,
// telemetry, the key store, the license service and the HTTP router.
//
// # Initialization Flow
//
//  1. Load configuration from defaults, an optional YAML file and the environment
//  2. Initialize logging and OpenTelemetry
//  3. Open the key store (memory or Redis)
//  4. Build the license service and HTTP handlers
//  5. Assemble the middleware chain and the http.Server
//
// # Usage
//
//	application, err := app.NewApplication(ctx)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// Run returns when ctx is cancelled and the server has drained. The package
// never calls os.Exit; the caller owns the exit code.
package app

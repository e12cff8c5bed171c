// Command sitecrawl crawls a running web application, interacts with every
// control it finds and fails when the application answers with a 5xx.
//
// Usage:
//
//	sitecrawl run http://localhost:3000
//	sitecrawl routes http://localhost:3000
//
// See --help for all available options.
package main

import "github.com/joho/godotenv"

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	Execute()
}

// Command schema-generator writes the JSON Schema of config.json for editors
// and the admin page.
package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/grovetools/slidesync/config"
	"github.com/grovetools/slidesync/logging"
)

func main() {
	out := flag.String("out", "schema/definitions/config.schema.json", "output path")
	flag.Parse()

	logger := logging.NewLogger("schema-generator")

	schemaBytes, err := config.GenerateSchema()
	if err != nil {
		logger.WithError(err).Fatal("Error generating schema")
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		logger.WithError(err).Fatal("Error creating schema directory")
	}
	if err := os.WriteFile(*out, append(schemaBytes, '\n'), 0o644); err != nil {
		logger.WithError(err).Fatal("Error writing schema file")
	}

	logger.WithField("path", *out).Info("Generated config schema")
}
